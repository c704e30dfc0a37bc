package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"mt5-grid-bot-go/internal/models"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

const binanceCallTimeout = 10 * time.Second

// Binance maps the gateway onto USDⓈ-M futures. Stop legs become
// STOP_MARKET orders; the magic number travels in the client order id
// because the venue has no per-order magic field. Positions carry no tag at
// all on Binance (one-way mode nets them per symbol), so position queries
// attribute the whole symbol position to the requesting magic.
type Binance struct {
	client *futures.Client
	logger *zap.SugaredLogger

	mu          sync.Mutex
	rules       map[string]*symbolRules
	orderSymbol map[int64]string // ticket -> symbol, needed for cancels
	fallback    string           // configured symbol, for cancels of unseen tickets
}

type symbolRules struct {
	pricePrecision int
	qtyPrecision   int
}

// NewBinance builds the futures adapter. symbol is the instrument the bot
// trades; it is the fallback for ticket-only operations.
func NewBinance(apiKey, secretKey string, testnet bool, symbol string, logger *zap.SugaredLogger) *Binance {
	futures.UseTestnet = testnet
	return &Binance{
		client:      futures.NewClient(apiKey, secretKey),
		logger:      logger,
		rules:       make(map[string]*symbolRules),
		orderSymbol: make(map[int64]string),
		fallback:    symbol,
	}
}

func (b *Binance) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), binanceCallTimeout)
}

func (b *Binance) Account() (*models.Account, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	acc, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, mapBinanceErr(err)
	}
	balance, _ := strconv.ParseFloat(acc.TotalWalletBalance, 64)
	equity, _ := strconv.ParseFloat(acc.TotalMarginBalance, 64)
	return &models.Account{Balance: balance, Equity: equity, Currency: "USDT"}, nil
}

func (b *Binance) SymbolInfo(symbol string) (*models.SymbolInfo, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, mapBinanceErr(err)
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		lot := s.LotSizeFilter()
		price := s.PriceFilter()
		if lot == nil || price == nil {
			return nil, fmt.Errorf("binance: %s has no lot/price filter", symbol)
		}
		tickSize, _ := strconv.ParseFloat(price.TickSize, 64)
		volMin, _ := strconv.ParseFloat(lot.MinQuantity, 64)
		volMax, _ := strconv.ParseFloat(lot.MaxQuantity, 64)
		volStep, _ := strconv.ParseFloat(lot.StepSize, 64)
		digits := decimalPlaces(price.TickSize)

		b.mu.Lock()
		b.rules[symbol] = &symbolRules{pricePrecision: digits, qtyPrecision: decimalPlaces(lot.StepSize)}
		b.mu.Unlock()

		return &models.SymbolInfo{
			Name:         symbol,
			Digits:       digits,
			Point:        tickSize,
			TradeAllowed: s.Status == "TRADING",
			VolumeMin:    volMin,
			VolumeMax:    volMax,
			VolumeStep:   volStep,
			// Binance imposes no minimum stop distance; the engine's
			// configured distance is the only floor.
			StopsLevel: 0,
		}, nil
	}
	return nil, fmt.Errorf("binance: symbol %s not found", symbol)
}

func (b *Binance) Tick(symbol string) (*models.Tick, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	tickers, err := b.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, mapBinanceErr(err)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("binance: no book ticker for %s", symbol)
	}
	bid, _ := strconv.ParseFloat(tickers[0].BidPrice, 64)
	ask, _ := strconv.ParseFloat(tickers[0].AskPrice, 64)
	return &models.Tick{Bid: bid, Ask: ask}, nil
}

func (b *Binance) Orders(symbol string, magic int64) ([]models.OrderView, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	open, err := b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, mapBinanceErr(err)
	}
	tag := Tag(magic)
	var out []models.OrderView
	for _, o := range open {
		if !strings.HasPrefix(o.ClientOrderID, tag+"-") {
			continue
		}
		orderType, ok := stopOrderType(o.Type, o.Side)
		if !ok {
			continue
		}
		price, _ := strconv.ParseFloat(o.StopPrice, 64)
		volume, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		b.rememberOrder(o.OrderID, symbol)
		out = append(out, models.OrderView{
			Ticket:  o.OrderID,
			Symbol:  symbol,
			Type:    orderType,
			Price:   price,
			Volume:  volume,
			Magic:   magic,
			Comment: o.ClientOrderID,
		})
	}
	return out, nil
}

func (b *Binance) Positions(symbol string, magic int64) ([]models.PositionView, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	risks, err := b.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, mapBinanceErr(err)
	}
	var out []models.PositionView
	for _, r := range risks {
		amount, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amount == 0 {
			continue
		}
		side := models.Buy
		if amount < 0 {
			side = models.Sell
			amount = -amount
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		profit, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		out = append(out, models.PositionView{
			// Netted per symbol, no ticket on this venue.
			Ticket:    0,
			Symbol:    symbol,
			Side:      side,
			OpenPrice: entry,
			Volume:    amount,
			Profit:    profit,
			Magic:     magic,
		})
	}
	return out, nil
}

func (b *Binance) SendOrder(req *OrderRequest) (*OrderResult, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	rules := b.rulesFor(req.Symbol)

	side := futures.SideTypeBuy
	if req.Type == models.SellStop {
		side = futures.SideTypeSell
	}
	clientID := fmt.Sprintf("%s-%s", Tag(req.Magic), base62.FormatInt(time.Now().UnixNano()))

	res, err := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeStopMarket).
		StopPrice(strconv.FormatFloat(req.Price, 'f', rules.pricePrecision, 64)).
		Quantity(strconv.FormatFloat(req.Volume, 'f', rules.qtyPrecision, 64)).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		if rc, ok := binanceRetcode(err); ok {
			b.logger.Warnw("binance rejected order", "symbol", req.Symbol, "retcode", rc.String(), "err", err)
			return &OrderResult{Retcode: rc, Comment: err.Error()}, nil
		}
		return nil, err
	}
	b.rememberOrder(res.OrderID, req.Symbol)
	b.logger.Debugw("binance order placed", "symbol", req.Symbol, "ticket", res.OrderID, "clientID", clientID)
	return &OrderResult{Retcode: RetDone, Ticket: res.OrderID, Price: req.Price}, nil
}

func (b *Binance) CancelOrder(ticket int64) (*OrderResult, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	symbol := b.symbolFor(ticket)
	_, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(ticket).Do(ctx)
	if err != nil {
		if rc, ok := binanceRetcode(err); ok {
			return &OrderResult{Retcode: rc, Comment: err.Error()}, nil
		}
		return nil, err
	}
	return &OrderResult{Retcode: RetDone, Ticket: ticket}, nil
}

func (b *Binance) ClosePosition(pos *models.PositionView, deviation int) (*OrderResult, error) {
	ctx, cancel := b.ctx()
	defer cancel()
	rules := b.rulesFor(pos.Symbol)

	side := futures.SideTypeSell
	if pos.Side == models.Sell {
		side = futures.SideTypeBuy
	}
	res, err := b.client.NewCreateOrderService().
		Symbol(pos.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(pos.Volume, 'f', rules.qtyPrecision, 64)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		if rc, ok := binanceRetcode(err); ok {
			return &OrderResult{Retcode: rc, Comment: err.Error()}, nil
		}
		return nil, err
	}
	return &OrderResult{Retcode: RetDone, Ticket: res.OrderID}, nil
}

func (b *Binance) Connected() bool {
	ctx, cancel := b.ctx()
	defer cancel()
	return b.client.NewPingService().Do(ctx) == nil
}

// Reconnect is a no-op beyond a reachability probe; the REST transport is
// stateless.
func (b *Binance) Reconnect() error {
	ctx, cancel := b.ctx()
	defer cancel()
	return mapBinanceErr(b.client.NewPingService().Do(ctx))
}

func (b *Binance) Close() error { return nil }

func (b *Binance) rememberOrder(ticket int64, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderSymbol[ticket] = symbol
}

func (b *Binance) symbolFor(ticket int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.orderSymbol[ticket]; ok {
		return s
	}
	return b.fallback
}

func (b *Binance) rulesFor(symbol string) *symbolRules {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rules[symbol]; ok {
		return r
	}
	// SymbolInfo has not been queried yet; conservative defaults.
	return &symbolRules{pricePrecision: 2, qtyPrecision: 3}
}

// stopOrderType maps a Binance order back to the strategy's stop types.
func stopOrderType(t futures.OrderType, side futures.SideType) (models.OrderType, bool) {
	if t != futures.OrderTypeStopMarket && t != futures.OrderTypeStop {
		return "", false
	}
	if side == futures.SideTypeBuy {
		return models.BuyStop, true
	}
	return models.SellStop, true
}

// binanceRetcode translates a venue API error into a trade retcode; false
// means the error was transport-level and should surface as a plain error.
func binanceRetcode(err error) (Retcode, bool) {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	switch apiErr.Code {
	case -2019: // margin is insufficient
		return RetNoMoney, true
	case -1111, -4003, -4004, -4005: // precision / quantity bounds
		return RetInvalidVolume, true
	case -4016, -2021: // price bounds / would trigger immediately
		return RetInvalidPrice, true
	case -1021: // timestamp outside recvWindow
		return RetTimeout, true
	case -1003: // rate limit
		return RetTooManyRequests, true
	case -1001: // internal error, retryable
		return RetConnection, true
	case -2011: // cancel rejected (unknown order)
		return RetInvalid, true
	default:
		return RetError, true
	}
}

func mapBinanceErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &Error{Retcode: RetError, Message: apiErr.Message}
	}
	return err
}

func decimalPlaces(step string) int {
	if i := strings.IndexByte(step, '.'); i >= 0 {
		return len(strings.TrimRight(step[i+1:], "0"))
	}
	return 0
}
