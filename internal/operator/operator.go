// Package operator exposes the manual grid commands: start a grid, report
// its status and close everything out. It is the human-facing layer on top
// of the engine and returns ready-to-print messages.
package operator

import (
	"context"
	"fmt"
	"strings"

	"mt5-grid-bot-go/internal/broker"
	"mt5-grid-bot-go/internal/engine"
	"mt5-grid-bot-go/internal/executor"
	"mt5-grid-bot-go/internal/models"
	"mt5-grid-bot-go/internal/persistence"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

type Service struct {
	gw     broker.Gateway
	repo   persistence.StateRepository
	cfg    *models.Config
	logger *zap.SugaredLogger
}

func New(gw broker.Gateway, repo persistence.StateRepository, cfg *models.Config, logger *zap.SugaredLogger) *Service {
	return &Service{gw: gw, repo: repo, cfg: cfg, logger: logger}
}

// StartGrid initializes a grid with optional per-call overrides. A zero
// value for any override falls back to the configured default. The returned
// message reports each leg's fate individually.
func (s *Service) StartGrid(ctx context.Context, symbol string, distancePips int, lot float64, magic int64) (string, error) {
	cfg := *s.cfg
	if symbol != "" {
		cfg.Symbol = symbol
	}
	if distancePips > 0 {
		cfg.DistancePips = distancePips
	}
	if lot > 0 {
		cfg.InitialLot = lot
	}
	if magic > 0 {
		cfg.Magic = magic
	}

	info, err := s.gw.SymbolInfo(cfg.Symbol)
	if err != nil {
		return "", fmt.Errorf("querying symbol info: %w", err)
	}
	if !info.TradeAllowed {
		return "", fmt.Errorf("trading is disabled for %s", cfg.Symbol)
	}

	st := s.loadState(cfg.Symbol, cfg.Magic)
	eng := engine.New(s.gw, executor.New(s.gw, &cfg, s.logger), &cfg, s.logger)
	res, err := eng.Initialize(ctx, st)
	if err != nil {
		return "", err
	}
	if res.Skipped {
		return fmt.Sprintf("grid for %s (magic %d) is already running, nothing placed", cfg.Symbol, cfg.Magic), nil
	}
	if res.Changed {
		if err := s.repo.SaveState(st); err != nil {
			s.logger.Errorw("failed to persist grid state", "error", err)
		}
	}

	var lines []string
	lines = append(lines, legLine("BuyStop", st.BuyLevel, res.Buy))
	lines = append(lines, legLine("SellStop", st.SellLevel, res.Sell))
	if !res.Changed {
		lines = append(lines, "grid not started: no leg was accepted")
	}
	return strings.Join(lines, "\n"), nil
}

func legLine(name string, level float64, out *executor.Outcome) string {
	if out == nil {
		return fmt.Sprintf("%s: not attempted", name)
	}
	if out.Success() {
		return fmt.Sprintf("%s %.2f @ %g placed, ticket %d", name, out.Volume, level, out.Ticket)
	}
	return fmt.Sprintf("%s failed: %s", name, out.Reason)
}

// Status renders the account summary plus the live orders and positions for
// the configured symbol and magic as printable tables.
func (s *Service) Status(ctx context.Context) (string, error) {
	acc, err := s.gw.Account()
	if err != nil {
		return "", fmt.Errorf("querying account: %w", err)
	}
	orders, err := s.gw.Orders(s.cfg.Symbol, s.cfg.Magic)
	if err != nil {
		return "", fmt.Errorf("querying orders: %w", err)
	}
	positions, err := s.gw.Positions(s.cfg.Symbol, s.cfg.Magic)
	if err != nil {
		return "", fmt.Errorf("querying positions: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "account: balance %.2f %s, equity %.2f %s\n",
		acc.Balance, acc.Currency, acc.Equity, acc.Currency)

	ot := table.NewWriter()
	ot.SetTitle("Pending Orders")
	ot.AppendHeader(table.Row{"Ticket", "Type", "Price", "Volume", "Comment"})
	for _, o := range orders {
		ot.AppendRow(table.Row{o.Ticket, o.Type, o.Price, o.Volume, o.Comment})
	}
	b.WriteString(ot.Render())
	b.WriteString("\n")

	pt := table.NewWriter()
	pt.SetTitle("Open Positions")
	pt.AppendHeader(table.Row{"Ticket", "Side", "Open Price", "Volume", "Profit"})
	total := 0.0
	for _, p := range positions {
		pt.AppendRow(table.Row{p.Ticket, p.Side, p.OpenPrice, p.Volume, fmt.Sprintf("%.2f", p.Profit)})
		total += p.Profit
	}
	pt.AppendFooter(table.Row{"", "", "", "Total", fmt.Sprintf("%.2f", total)})
	b.WriteString(pt.Render())
	return b.String(), nil
}

// CloseAll closes every position and cancels every order of the configured
// grid, then resets and persists its state. The per-item detail is returned
// alongside the summary message.
func (s *Service) CloseAll(ctx context.Context) (string, []string, error) {
	eng := engine.New(s.gw, executor.New(s.gw, s.cfg, s.logger), s.cfg, s.logger)
	ok, report := eng.CloseAll(ctx, s.cfg.Symbol, s.cfg.Magic)

	st := s.loadState(s.cfg.Symbol, s.cfg.Magic)
	st.Reset()
	if err := s.repo.SaveState(st); err != nil {
		s.logger.Errorw("failed to persist grid state", "error", err)
	}

	msg := fmt.Sprintf("grid for %s (magic %d) closed", s.cfg.Symbol, s.cfg.Magic)
	if !ok {
		msg = fmt.Sprintf("grid for %s (magic %d) partially closed, see details", s.cfg.Symbol, s.cfg.Magic)
	}
	return msg, report, nil
}

// loadState fetches the persisted state, falling back to a fresh one when
// nothing is stored or the stored record cannot be read. A corrupt record
// must never stop the service.
func (s *Service) loadState(symbol string, magic int64) *models.GridState {
	st, err := s.repo.LoadState(symbol, magic)
	if err != nil {
		s.logger.Warnw("stored grid state unreadable, starting fresh", "symbol", symbol, "magic", magic, "error", err)
		return models.NewGridState(symbol, magic)
	}
	if st == nil {
		return models.NewGridState(symbol, magic)
	}
	return st
}
