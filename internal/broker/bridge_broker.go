package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mt5-grid-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	bridgeCallTimeout = 10 * time.Second
	bridgeDialTimeout = 5 * time.Second
)

// Bridge talks to an MT5 terminal bridge over a websocket. The bridge side
// owns the terminal connection; this client only exchanges JSON frames:
// {"id":N,"method":"...","params":{...}} in,
// {"id":N,"result":...} or {"id":N,"error":{"code":...,"message":"..."}} out.
// Calls are serialized, one frame in flight at a time.
type Bridge struct {
	url    string
	logger *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int64
}

type bridgeRequest struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type bridgeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type bridgeResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *bridgeError    `json:"error,omitempty"`
}

// tradeResult is the wire form of an order_send/order_cancel/position_close
// answer.
type tradeResult struct {
	Retcode int     `json:"retcode"`
	Ticket  int64   `json:"ticket,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Comment string  `json:"comment,omitempty"`
}

// NewBridge dials the bridge and returns the gateway.
func NewBridge(url string, logger *zap.SugaredLogger) (*Bridge, error) {
	b := &Bridge{url: url, logger: logger}
	if err := b.Reconnect(); err != nil {
		return nil, err
	}
	return b, nil
}

// Reconnect drops the current connection, if any, and dials anew.
func (b *Bridge) Reconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = bridgeDialTimeout
	conn, _, err := dialer.Dial(b.url, nil)
	if err != nil {
		return fmt.Errorf("bridge dial %s: %w", b.url, err)
	}
	b.conn = conn
	b.logger.Infow("connected to MT5 bridge", "url", b.url)
	return nil
}

// Connected pings the bridge; a failed round trip counts as disconnected.
func (b *Bridge) Connected() bool {
	var pong struct {
		Connected bool `json:"connected"`
	}
	if err := b.call("ping", nil, &pong); err != nil {
		return false
	}
	return pong.Connected
}

func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		b.logger.Debugw("bridge close frame failed", "err", err)
	}
	err = b.conn.Close()
	b.conn = nil
	return err
}

// call performs one synchronous request/response exchange.
func (b *Bridge) call(method string, params interface{}, out interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return &Error{Retcode: RetConnection, Message: "bridge not connected"}
	}

	b.nextID++
	req := bridgeRequest{ID: b.nextID, Method: method, Params: params}

	deadline := time.Now().Add(bridgeCallTimeout)
	b.conn.SetWriteDeadline(deadline)
	if err := b.conn.WriteJSON(req); err != nil {
		b.dropLocked()
		return fmt.Errorf("bridge %s: write: %w", method, err)
	}

	b.conn.SetReadDeadline(deadline)
	for {
		var resp bridgeResponse
		if err := b.conn.ReadJSON(&resp); err != nil {
			b.dropLocked()
			return fmt.Errorf("bridge %s: read: %w", method, err)
		}
		if resp.ID != req.ID {
			// Stale answer from a timed-out call; skip it.
			continue
		}
		if resp.Error != nil {
			return &Error{Retcode: Retcode(resp.Error.Code), Message: resp.Error.Message}
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	}
}

// dropLocked invalidates the connection after a transport fault so the next
// cycle reconnects. Caller holds b.mu.
func (b *Bridge) dropLocked() {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// --- Gateway implementation ---

func (b *Bridge) Account() (*models.Account, error) {
	var acc models.Account
	if err := b.call("account_info", nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (b *Bridge) SymbolInfo(symbol string) (*models.SymbolInfo, error) {
	var info models.SymbolInfo
	params := map[string]string{"symbol": symbol}
	if err := b.call("symbol_info", params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (b *Bridge) Tick(symbol string) (*models.Tick, error) {
	var tick models.Tick
	params := map[string]string{"symbol": symbol}
	if err := b.call("symbol_tick", params, &tick); err != nil {
		return nil, err
	}
	return &tick, nil
}

func (b *Bridge) Orders(symbol string, magic int64) ([]models.OrderView, error) {
	var orders []models.OrderView
	params := map[string]interface{}{"symbol": symbol, "magic": magic}
	if err := b.call("orders_get", params, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (b *Bridge) Positions(symbol string, magic int64) ([]models.PositionView, error) {
	var positions []models.PositionView
	params := map[string]interface{}{"symbol": symbol, "magic": magic}
	if err := b.call("positions_get", params, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (b *Bridge) SendOrder(req *OrderRequest) (*OrderResult, error) {
	params := map[string]interface{}{
		"symbol":    req.Symbol,
		"type":      req.Type,
		"volume":    req.Volume,
		"price":     req.Price,
		"magic":     req.Magic,
		"comment":   req.Comment,
		"deviation": req.Deviation,
	}
	if req.Filling != "" {
		params["filling"] = req.Filling
	}
	var res tradeResult
	if err := b.call("order_send", params, &res); err != nil {
		return nil, err
	}
	return res.toOrderResult(), nil
}

func (b *Bridge) CancelOrder(ticket int64) (*OrderResult, error) {
	var res tradeResult
	params := map[string]interface{}{"ticket": ticket}
	if err := b.call("order_cancel", params, &res); err != nil {
		return nil, err
	}
	return res.toOrderResult(), nil
}

func (b *Bridge) ClosePosition(pos *models.PositionView, deviation int) (*OrderResult, error) {
	params := map[string]interface{}{
		"ticket":    pos.Ticket,
		"symbol":    pos.Symbol,
		"side":      pos.Side,
		"volume":    pos.Volume,
		"deviation": deviation,
	}
	var res tradeResult
	if err := b.call("position_close", params, &res); err != nil {
		return nil, err
	}
	return res.toOrderResult(), nil
}

func (r *tradeResult) toOrderResult() *OrderResult {
	return &OrderResult{
		Retcode: Retcode(r.Retcode),
		Ticket:  r.Ticket,
		Price:   r.Price,
		Comment: r.Comment,
	}
}
