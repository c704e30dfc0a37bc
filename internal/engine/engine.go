// Package engine implements the grid strategy state machine: it decides
// which stop orders must exist for the current GridState, reconciles that
// against observed broker state and issues corrective actions through the
// execution adapter. State mutations are committed only after the broker
// confirmed the corresponding action.
package engine

import (
	"context"
	"fmt"
	"math"

	"mt5-grid-bot-go/internal/broker"
	"mt5-grid-bot-go/internal/executor"
	"mt5-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// volumeEps is the tolerance for matching a position's volume against a
// stored lot. Lots are step-quantized, so anything below the smallest step
// in use is safe.
const volumeEps = 1e-6

type Engine struct {
	gw     broker.Gateway
	exec   *executor.Executor
	cfg    *models.Config
	logger *zap.SugaredLogger
}

func New(gw broker.Gateway, exec *executor.Executor, cfg *models.Config, logger *zap.SugaredLogger) *Engine {
	return &Engine{gw: gw, exec: exec, cfg: cfg, logger: logger}
}

// InitResult reports what Initialize did, leg by leg, so callers can build
// operator-facing messages from it.
type InitResult struct {
	Skipped  bool
	Lot      float64
	Distance float64 // price units
	Buy      *executor.Outcome
	Sell     *executor.Outcome
	Changed  bool
}

// Initialize places the initial stop pair around the current price. It is
// idempotent: when any order or position already exists for the state's
// symbol and magic the grid is treated as already running and nothing is
// sent. Partial success is accepted; a grid with one live leg is
// initialized and left to ManageGrid to reconcile.
func (e *Engine) Initialize(ctx context.Context, st *models.GridState) (*InitResult, error) {
	orders, err := e.gw.Orders(st.Symbol, st.Magic)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	positions, err := e.gw.Positions(st.Symbol, st.Magic)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	if len(orders) > 0 || len(positions) > 0 {
		e.logger.Infow("grid already running, initialization skipped",
			"symbol", st.Symbol, "magic", st.Magic, "orders", len(orders), "positions", len(positions))
		return &InitResult{Skipped: true}, nil
	}

	info, err := e.gw.SymbolInfo(st.Symbol)
	if err != nil {
		return nil, fmt.Errorf("querying symbol info: %w", err)
	}
	if !info.TradeAllowed {
		return nil, fmt.Errorf("trading is disabled for %s", st.Symbol)
	}
	acc, err := e.gw.Account()
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	tick, err := e.gw.Tick(st.Symbol)
	if err != nil {
		return nil, fmt.Errorf("querying tick: %w", err)
	}

	lot := e.initialLot(info, acc.Balance)
	distance := e.stopDistance(info)
	buyPrice := info.RoundPrice(tick.Ask + distance)
	sellPrice := info.RoundPrice(tick.Bid - distance)

	e.logger.Infow("initializing grid",
		"symbol", st.Symbol, "magic", st.Magic, "lot", lot,
		"buy_stop", buyPrice, "sell_stop", sellPrice)

	res := &InitResult{Lot: lot, Distance: distance}

	buy := e.placeLeg(ctx, st, models.BuyStop, buyPrice, lot)
	res.Buy = &buy
	if buy.Success() {
		st.BuyLevel = buyPrice
		st.LastBuyLot = buy.Volume
		st.NextBuyLot = buy.Volume * e.cfg.LotMultiplier
	}

	sell := e.placeLeg(ctx, st, models.SellStop, sellPrice, lot)
	res.Sell = &sell
	if sell.Success() {
		st.SellLevel = sellPrice
		st.LastSellLot = sell.Volume
		st.NextSellLot = sell.Volume * e.cfg.LotMultiplier
	}

	if buy.Success() || sell.Success() {
		if !st.Initialized {
			// Fixed once per grid lifecycle; the drawdown basis.
			st.InitialDeposit = acc.Equity
		}
		st.Initialized = true
		res.Changed = true
	}
	return res, nil
}

// ManageGrid detects triggered legs and replaces the opposite side. A side
// counts as triggered when its expected pending order is gone AND a
// position matching the side's direction and last lot exists. That pair of
// signals is the only detection available here: an order cancelled by hand
// next to an unrelated position of equal volume is indistinguishable from a
// genuine stop fill.
func (e *Engine) ManageGrid(ctx context.Context, st *models.GridState) (bool, error) {
	orders, err := e.gw.Orders(st.Symbol, st.Magic)
	if err != nil {
		return false, fmt.Errorf("querying orders: %w", err)
	}
	positions, err := e.gw.Positions(st.Symbol, st.Magic)
	if err != nil {
		return false, fmt.Errorf("querying positions: %w", err)
	}

	changed := false
	// Sides are handled one after another: the opposite-leg cancel must be
	// attempted before the replacement goes live.
	for _, side := range []models.Side{models.Buy, models.Sell} {
		if e.sideTriggered(st, side, orders, positions) {
			if e.replaceLeg(ctx, st, side, orders) {
				changed = true
			}
		}
	}
	return changed, nil
}

// sideTriggered applies the detection heuristic for one side.
func (e *Engine) sideTriggered(st *models.GridState, side models.Side, orders []models.OrderView, positions []models.PositionView) bool {
	level, lastLot := st.BuyLevel, st.LastBuyLot
	orderType := models.BuyStop
	if side == models.Sell {
		level, lastLot = st.SellLevel, st.LastSellLot
		orderType = models.SellStop
	}
	if level == 0 {
		return false // nothing pending on this side
	}
	if findOrder(orders, orderType) != nil {
		return false // still pending
	}
	for i := range positions {
		if positions[i].Side == side && math.Abs(positions[i].Volume-lastLot) < volumeEps {
			return true
		}
	}
	return false
}

// replaceLeg handles a trigger of the given side: best-effort cancel of the
// opposite pending order, then a replacement order on the opposite side at
// its stored level. State is mutated only when the replacement was
// confirmed; otherwise the same transition is retried next cycle.
func (e *Engine) replaceLeg(ctx context.Context, st *models.GridState, triggered models.Side, orders []models.OrderView) bool {
	opposite := triggered.Opposite()
	oppType := models.SellStop
	oppLevel := st.SellLevel
	oppNextLot := st.NextSellLot
	if opposite == models.Buy {
		oppType = models.BuyStop
		oppLevel = st.BuyLevel
		oppNextLot = st.NextBuyLot
	}

	e.logger.Infow("stop leg triggered", "symbol", st.Symbol, "side", triggered,
		"level", st.Level(triggered), "last_lot", st.LastLot(triggered))

	if pending := findOrder(orders, oppType); pending != nil {
		if out := e.exec.Cancel(ctx, pending.Ticket); !out.Success() {
			// Best effort; the replacement below still proceeds.
			e.logger.Warnw("failed to cancel opposite leg", "ticket", pending.Ticket, "reason", out.Reason)
		}
	}

	if oppLevel == 0 {
		// One-sided grid (partial initialization): there is no stored
		// level to replace at. Release the triggered side so the trigger
		// does not re-fire every cycle.
		e.logger.Warnw("triggered leg has no opposite level, grid is one-sided",
			"symbol", st.Symbol, "triggered", triggered)
		st.SetLevel(triggered, 0)
		return true
	}

	out := e.placeLeg(ctx, st, oppType, oppLevel, oppNextLot)
	if !out.Success() {
		e.logger.Warnw("replacement order not placed, transition will retry",
			"symbol", st.Symbol, "side", opposite, "reason", out.Reason)
		return false
	}

	// Commit: the broker confirmed the replacement.
	st.SetLastLot(opposite, out.Volume)
	st.SetNextLot(triggered, st.LastLot(triggered)*e.cfg.LotMultiplier)
	st.SetLevel(triggered, 0)
	e.logger.Infow("replacement order placed", "symbol", st.Symbol, "side", opposite,
		"level", oppLevel, "volume", out.Volume, "ticket", out.Ticket)
	return true
}

// CheckDrawdown enforces the kill-switch. When the drawdown from the
// recorded initial deposit reaches the configured limit it closes every
// position, cancels every order and resets the grid. The reset happens
// regardless of partial close/cancel failures: a half-closed grid flagged
// active is worse than forcing re-initialization.
func (e *Engine) CheckDrawdown(ctx context.Context, st *models.GridState) (stopped, changed bool, err error) {
	if !st.Initialized || st.InitialDeposit <= 0 {
		return false, false, nil
	}
	acc, err := e.gw.Account()
	if err != nil {
		return false, false, fmt.Errorf("querying account: %w", err)
	}
	drawdownPct := (st.InitialDeposit - acc.Equity) / st.InitialDeposit * 100
	if drawdownPct < e.cfg.MaxDrawdownPct {
		return false, false, nil
	}

	e.logger.Errorw("max drawdown reached, closing grid",
		"symbol", st.Symbol, "initial_deposit", st.InitialDeposit,
		"equity", acc.Equity, "drawdown_pct", drawdownPct, "limit_pct", e.cfg.MaxDrawdownPct)

	ok, report := e.CloseAll(ctx, st.Symbol, st.Magic)
	for _, line := range report {
		e.logger.Infow(line)
	}
	if !ok {
		e.logger.Warnw("stop-out left some legs open, state reset anyway", "symbol", st.Symbol)
	}
	st.Reset()
	return true, true, nil
}

// CloseAll closes every open position and cancels every pending order for
// the symbol and magic, best effort. It returns whether everything
// succeeded plus a per-item log for operator reporting.
func (e *Engine) CloseAll(ctx context.Context, symbol string, magic int64) (bool, []string) {
	ok := true
	var report []string

	positions, err := e.gw.Positions(symbol, magic)
	if err != nil {
		return false, []string{fmt.Sprintf("failed to query positions: %v", err)}
	}
	for i := range positions {
		pos := positions[i]
		if out := e.exec.ClosePosition(ctx, &pos, e.cfg.Deviation); out.Success() {
			report = append(report, fmt.Sprintf("closed position %d (%s %.2f %s)", pos.Ticket, pos.Side, pos.Volume, symbol))
		} else {
			ok = false
			report = append(report, fmt.Sprintf("failed to close position %d: %s", pos.Ticket, out.Reason))
		}
	}

	orders, err := e.gw.Orders(symbol, magic)
	if err != nil {
		return false, append(report, fmt.Sprintf("failed to query orders: %v", err))
	}
	for i := range orders {
		order := orders[i]
		if out := e.exec.Cancel(ctx, order.Ticket); out.Success() {
			report = append(report, fmt.Sprintf("cancelled order %d (%s @ %g)", order.Ticket, order.Type, order.Price))
		} else {
			ok = false
			report = append(report, fmt.Sprintf("failed to cancel order %d: %s", order.Ticket, out.Reason))
		}
	}
	return ok, report
}

// placeLeg submits one stop order through the execution adapter.
func (e *Engine) placeLeg(ctx context.Context, st *models.GridState, orderType models.OrderType, price, volume float64) executor.Outcome {
	comment := fmt.Sprintf("BuyStop Grid %d", st.Magic)
	if orderType == models.SellStop {
		comment = fmt.Sprintf("SellStop Grid %d", st.Magic)
	}
	return e.exec.Submit(ctx, &broker.OrderRequest{
		Symbol:    st.Symbol,
		Type:      orderType,
		Volume:    volume,
		Price:     price,
		Magic:     st.Magic,
		Comment:   comment,
		Deviation: e.cfg.Deviation,
	})
}

// initialLot computes the first leg's volume: the fixed configured lot, or
// balance × riskPercent / marginPerLot, floored to the volume step and
// never below the symbol minimum.
func (e *Engine) initialLot(info *models.SymbolInfo, balance float64) float64 {
	lot := e.cfg.InitialLot
	if lot <= 0 {
		lot = balance * e.cfg.RiskPercent / 100 / e.cfg.MarginPerLot
	}
	return info.ClampVolume(lot)
}

// stopDistance converts the configured pip distance into price units and
// applies the broker's minimum stop distance, which always wins to avoid
// an invalid-stops rejection.
func (e *Engine) stopDistance(info *models.SymbolInfo) float64 {
	distance := float64(e.cfg.DistancePips) * info.PipFactor() * info.Point
	if minStop := float64(info.StopsLevel) * info.Point; minStop > distance {
		distance = minStop
	}
	return distance
}

func findOrder(orders []models.OrderView, orderType models.OrderType) *models.OrderView {
	for i := range orders {
		if orders[i].Type == orderType {
			return &orders[i]
		}
	}
	return nil
}
