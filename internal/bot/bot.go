// Package bot runs the periodic control loop: connectivity checks, the
// drawdown kill-switch, grid initialization and trigger management, and
// state persistence. One Bot owns one GridState; nothing else mutates it
// while the loop runs.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mt5-grid-bot-go/internal/broker"
	"mt5-grid-bot-go/internal/engine"
	"mt5-grid-bot-go/internal/models"
	"mt5-grid-bot-go/internal/persistence"

	"go.uber.org/zap"
)

type Bot struct {
	gw     broker.Gateway
	eng    *engine.Engine
	repo   persistence.StateRepository
	cfg    *models.Config
	logger *zap.SugaredLogger

	mutex       sync.Mutex
	state       *models.GridState
	isRunning   bool
	stopChannel chan struct{}

	reconnectFails int
	haltedOut      bool
}

// New loads the persisted grid state (falling back to a fresh one when the
// store holds nothing or the record is unreadable) and returns a bot ready
// to Run.
func New(gw broker.Gateway, eng *engine.Engine, repo persistence.StateRepository, cfg *models.Config, logger *zap.SugaredLogger) *Bot {
	b := &Bot{
		gw:          gw,
		eng:         eng,
		repo:        repo,
		cfg:         cfg,
		logger:      logger,
		stopChannel: make(chan struct{}),
	}
	b.state = b.loadState()
	return b
}

func (b *Bot) loadState() *models.GridState {
	st, err := b.repo.LoadState(b.cfg.Symbol, b.cfg.Magic)
	if err != nil {
		b.logger.Warnw("stored grid state unreadable, starting fresh",
			"symbol", b.cfg.Symbol, "magic", b.cfg.Magic, "error", err)
		return models.NewGridState(b.cfg.Symbol, b.cfg.Magic)
	}
	if st == nil {
		return models.NewGridState(b.cfg.Symbol, b.cfg.Magic)
	}
	b.logger.Infow("grid state restored", "symbol", st.Symbol, "magic", st.Magic,
		"initialized", st.Initialized, "buy_level", st.BuyLevel, "sell_level", st.SellLevel)
	return st
}

// State returns a copy of the current grid state.
func (b *Bot) State() models.GridState {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return *b.state
}

// Halted reports whether the drawdown kill-switch has fired. A halted bot
// keeps its loop alive but performs no trading until Resume is called.
func (b *Bot) Halted() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.haltedOut
}

// Resume re-arms a bot halted by the drawdown kill-switch. The next cycle
// re-initializes the grid from scratch.
func (b *Bot) Resume() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.haltedOut {
		b.haltedOut = false
		b.logger.Infow("trading resumed after stop-out", "symbol", b.cfg.Symbol)
	}
}

// Run executes the control loop until Stop is called, the context is
// cancelled, or a fatal condition is hit. The only fatal condition is a
// second consecutive reconnect failure; everything else is logged and
// retried next cycle.
func (b *Bot) Run(ctx context.Context) error {
	b.mutex.Lock()
	if b.isRunning {
		b.mutex.Unlock()
		return fmt.Errorf("bot is already running")
	}
	b.isRunning = true
	b.stopChannel = make(chan struct{})
	b.mutex.Unlock()

	defer b.flushState()

	interval := time.Duration(b.cfg.LoopIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Infow("control loop started", "symbol", b.cfg.Symbol, "magic", b.cfg.Magic, "interval", interval)

	for {
		if err := b.runCycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			b.logger.Infow("control loop stopped", "reason", "context cancelled")
			return nil
		case <-b.stopChannel:
			b.logger.Infow("control loop stopped", "reason", "stop requested")
			return nil
		case <-ticker.C:
		}
	}
}

// Stop asks the loop to exit after the current cycle.
func (b *Bot) Stop() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.isRunning {
		return
	}
	b.isRunning = false
	close(b.stopChannel)
}

// runCycle performs one pass of the loop. A panic inside any step is
// recovered here and the state snapshot taken at entry is restored, so a
// crashed cycle changes nothing. The returned error is fatal to the loop.
func (b *Bot) runCycle(ctx context.Context) (fatal error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	snapshot := *b.state
	defer func() {
		if r := recover(); r != nil {
			*b.state = snapshot
			b.logger.Errorw("panic in control cycle, no state change this cycle", "panic", r)
		}
	}()

	if !b.ensureConnected() {
		if b.reconnectFails >= 2 {
			return fmt.Errorf("broker unreachable after %d consecutive reconnect attempts", b.reconnectFails)
		}
		return nil // skip this cycle, retry next tick
	}

	if b.haltedOut {
		return nil // stop-out gate, waiting for Resume
	}

	if stopped := b.checkDrawdown(ctx); stopped {
		b.haltedOut = true
		b.logger.Errorw("trading halted by drawdown kill-switch, call Resume to re-arm", "symbol", b.cfg.Symbol)
		return nil
	}

	changed := false
	var err error
	if !b.state.Initialized {
		var res *engine.InitResult
		res, err = b.eng.Initialize(ctx, b.state)
		if res != nil {
			changed = res.Changed
		}
	} else {
		changed, err = b.eng.ManageGrid(ctx, b.state)
	}
	if err != nil {
		b.logger.Warnw("cycle step failed, retrying next cycle", "error", err)
	}
	if changed {
		b.persist()
	}
	return nil
}

// ensureConnected verifies broker connectivity and reconnects when needed.
// It returns false when this cycle cannot proceed. The failure counter only
// tracks consecutive failures; any success resets it.
func (b *Bot) ensureConnected() bool {
	if b.gw.Connected() {
		b.reconnectFails = 0
		return true
	}
	b.logger.Warnw("broker connection lost, reconnecting", "symbol", b.cfg.Symbol)
	if err := b.gw.Reconnect(); err != nil {
		b.reconnectFails++
		b.logger.Errorw("reconnect failed", "attempt", b.reconnectFails, "error", err)
		return false
	}
	b.reconnectFails = 0
	b.logger.Infow("broker connection restored")
	return true
}

// checkDrawdown runs the kill-switch step. Query errors are transient and
// leave the gate untouched.
func (b *Bot) checkDrawdown(ctx context.Context) bool {
	stopped, changed, err := b.eng.CheckDrawdown(ctx, b.state)
	if err != nil {
		b.logger.Warnw("drawdown check failed, retrying next cycle", "error", err)
		return false
	}
	if changed {
		b.persist()
	}
	return stopped
}

func (b *Bot) persist() {
	b.state.UpdatedAt = time.Now().UTC()
	if err := b.repo.SaveState(b.state); err != nil {
		// The in-memory state stays authoritative; persistence catches up
		// on the next successful save.
		b.logger.Errorw("failed to persist grid state", "error", err)
	}
}

// flushState writes the final state on loop exit.
func (b *Bot) flushState() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.persist()
	b.logger.Infow("grid state flushed", "symbol", b.state.Symbol, "magic", b.state.Magic)
}
