package broker

import (
	"fmt"
	"sync"

	"mt5-grid-bot-go/internal/models"
)

// Sim is a deterministic in-memory gateway. It backs the paper mode and the
// engine/loop tests: ticks, account equity and trade-server retcodes are set
// by the caller, and triggered stop orders are converted to positions on
// demand.
type Sim struct {
	mu         sync.Mutex
	account    models.Account
	symbols    map[string]*models.SymbolInfo
	ticks      map[string]*models.Tick
	orders     map[int64]*models.OrderView
	positions  map[int64]*models.PositionView
	nextTicket int64

	connected    bool
	reconnectErr error

	sendScript   []Retcode
	cancelScript []Retcode
	closeScript  []Retcode

	SendCalls   int
	CancelCalls int
	CloseCalls  int
}

// NewSim returns a connected simulator with an empty book.
func NewSim() *Sim {
	return &Sim{
		symbols:    make(map[string]*models.SymbolInfo),
		ticks:      make(map[string]*models.Tick),
		orders:     make(map[int64]*models.OrderView),
		positions:  make(map[int64]*models.PositionView),
		nextTicket: 1000,
		connected:  true,
	}
}

// --- scripting surface (tests, paper mode setup) ---

// SetAccount sets the simulated balance and equity.
func (s *Sim) SetAccount(balance, equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = models.Account{Balance: balance, Equity: equity, Currency: "USD"}
}

// SetEquity moves only the equity, leaving the balance untouched.
func (s *Sim) SetEquity(equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account.Equity = equity
}

// AddSymbol registers a symbol's trading rules.
func (s *Sim) AddSymbol(info *models.SymbolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols[info.Name] = info
}

// SetTick sets the current bid/ask for a symbol.
func (s *Sim) SetTick(symbol string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[symbol] = &models.Tick{Bid: bid, Ask: ask}
}

// ScriptSend queues retcodes answered by the next SendOrder calls; once the
// queue drains, orders succeed with RetDone.
func (s *Sim) ScriptSend(retcodes ...Retcode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendScript = append(s.sendScript, retcodes...)
}

// ScriptCancel queues retcodes for CancelOrder.
func (s *Sim) ScriptCancel(retcodes ...Retcode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelScript = append(s.cancelScript, retcodes...)
}

// ScriptClose queues retcodes for ClosePosition.
func (s *Sim) ScriptClose(retcodes ...Retcode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeScript = append(s.closeScript, retcodes...)
}

// SetConnected toggles the simulated terminal connection.
func (s *Sim) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// FailReconnect makes Reconnect return err until cleared with nil.
func (s *Sim) FailReconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectErr = err
}

// Trigger converts a pending stop order into an open position at the order
// price, as the trade server would on a breakout.
func (s *Sim) Trigger(ticket int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[ticket]
	if !ok {
		return fmt.Errorf("sim: no pending order %d", ticket)
	}
	delete(s.orders, ticket)
	s.nextTicket++
	pos := &models.PositionView{
		Ticket:    s.nextTicket,
		Symbol:    order.Symbol,
		Side:      order.Type.Side(),
		OpenPrice: order.Price,
		Volume:    order.Volume,
		Magic:     order.Magic,
	}
	s.positions[pos.Ticket] = pos
	return nil
}

// RemoveOrder deletes a pending order without opening a position, as a
// manual cancellation in the terminal would.
func (s *Sim) RemoveOrder(ticket int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, ticket)
}

// --- Gateway implementation ---

func (s *Sim) Account() (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, &Error{Retcode: RetConnection, Message: "sim disconnected"}
	}
	acc := s.account
	return &acc, nil
}

func (s *Sim) SymbolInfo(symbol string) (*models.SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("sim: unknown symbol %s", symbol)
	}
	cp := *info
	return &cp, nil
}

func (s *Sim) Tick(symbol string) (*models.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tick, ok := s.ticks[symbol]
	if !ok {
		return nil, fmt.Errorf("sim: no tick for %s", symbol)
	}
	cp := *tick
	return &cp, nil
}

func (s *Sim) Orders(symbol string, magic int64) ([]models.OrderView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OrderView
	for _, o := range s.orders {
		if o.Symbol == symbol && o.Magic == magic {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *Sim) Positions(symbol string, magic int64) ([]models.PositionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PositionView
	for _, p := range s.positions {
		if p.Symbol == symbol && p.Magic == magic {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Sim) SendOrder(req *OrderRequest) (*OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendCalls++
	if !s.connected {
		return nil, &Error{Retcode: RetConnection, Message: "sim disconnected"}
	}
	if rc, ok := s.popLocked(&s.sendScript); ok && !rc.OK() {
		return &OrderResult{Retcode: rc, Comment: rc.String()}, nil
	}
	s.nextTicket++
	order := &models.OrderView{
		Ticket:  s.nextTicket,
		Symbol:  req.Symbol,
		Type:    req.Type,
		Price:   req.Price,
		Volume:  req.Volume,
		Magic:   req.Magic,
		Comment: req.Comment,
	}
	s.orders[order.Ticket] = order
	return &OrderResult{Retcode: RetDone, Ticket: order.Ticket, Price: order.Price}, nil
}

func (s *Sim) CancelOrder(ticket int64) (*OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelCalls++
	if rc, ok := s.popLocked(&s.cancelScript); ok && !rc.OK() {
		return &OrderResult{Retcode: rc, Comment: rc.String()}, nil
	}
	if _, ok := s.orders[ticket]; !ok {
		return &OrderResult{Retcode: RetInvalid, Comment: "order not found"}, nil
	}
	delete(s.orders, ticket)
	return &OrderResult{Retcode: RetDone, Ticket: ticket}, nil
}

func (s *Sim) ClosePosition(pos *models.PositionView, deviation int) (*OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	if rc, ok := s.popLocked(&s.closeScript); ok && !rc.OK() {
		return &OrderResult{Retcode: rc, Comment: rc.String()}, nil
	}
	if _, ok := s.positions[pos.Ticket]; !ok {
		return &OrderResult{Retcode: RetPositionClosed, Comment: "position not found"}, nil
	}
	delete(s.positions, pos.Ticket)
	return &OrderResult{Retcode: RetDone, Ticket: pos.Ticket}, nil
}

func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectErr != nil {
		return s.reconnectErr
	}
	s.connected = true
	return nil
}

func (s *Sim) Close() error { return nil }

func (s *Sim) popLocked(script *[]Retcode) (Retcode, bool) {
	if len(*script) == 0 {
		return 0, false
	}
	rc := (*script)[0]
	*script = (*script)[1:]
	return rc, true
}
