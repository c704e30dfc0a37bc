// Package executor wraps the gateway's trade primitives with filling-mode
// resolution, volume normalization and bounded retries, and reports a
// uniform outcome the engine can commit state against.
package executor

import (
	"context"
	"time"

	"mt5-grid-bot-go/internal/broker"
	"mt5-grid-bot-go/internal/models"

	"go.uber.org/zap"
)

// Status classifies the result of a trade action.
type Status int

const (
	StatusSuccess Status = iota
	// StatusRejected is a hard rejection (bad parameters, no funds,
	// trading disabled); retries would not help.
	StatusRejected
	// StatusTransient is a retryable failure that survived every attempt;
	// the action may be retried on a later cycle.
	StatusTransient
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRejected:
		return "rejected"
	default:
		return "transient"
	}
}

// Outcome is the adapter's answer to a submit, cancel or close.
type Outcome struct {
	Status Status
	Ticket int64
	Price  float64
	Volume float64 // normalized volume actually sent, submits only
	Reason string
}

// Success reports whether the action was confirmed applied.
func (o Outcome) Success() bool { return o.Status == StatusSuccess }

// Executor is the order execution adapter. It owns no state beyond its
// configuration; persistence stays with the caller.
type Executor struct {
	gw       broker.Gateway
	attempts int
	delay    time.Duration
	logger   *zap.SugaredLogger
}

// New builds an executor with the configured retry bound and delay.
func New(gw broker.Gateway, cfg *models.Config, logger *zap.SugaredLogger) *Executor {
	return &Executor{
		gw:       gw,
		attempts: cfg.RetryCount,
		delay:    time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		logger:   logger,
	}
}

// Submit places a pending order. The request's filling mode is resolved
// from symbol metadata when unset and its volume is clamped to the symbol
// constraints and floored to the volume step before sending.
func (e *Executor) Submit(ctx context.Context, req *broker.OrderRequest) Outcome {
	info, err := e.gw.SymbolInfo(req.Symbol)
	if err != nil {
		e.logger.Warnw("symbol metadata unavailable, using defaults", "symbol", req.Symbol, "err", err)
		info = nil
	}
	if req.Filling == "" {
		req.Filling = resolveFilling(info)
	}
	if info != nil {
		req.Volume = info.ClampVolume(req.Volume)
		req.Price = info.RoundPrice(req.Price)
	}

	out := e.do(ctx, "send", func() (*broker.OrderResult, error) {
		return e.gw.SendOrder(req)
	})
	out.Volume = req.Volume
	return out
}

// Cancel removes a pending order by ticket, under the same retry contract
// as placement.
func (e *Executor) Cancel(ctx context.Context, ticket int64) Outcome {
	return e.do(ctx, "cancel", func() (*broker.OrderResult, error) {
		return e.gw.CancelOrder(ticket)
	})
}

// ClosePosition closes a position at the best available counter-price with
// the given slippage tolerance.
func (e *Executor) ClosePosition(ctx context.Context, pos *models.PositionView, deviation int) Outcome {
	return e.do(ctx, "close", func() (*broker.OrderResult, error) {
		return e.gw.ClosePosition(pos, deviation)
	})
}

// do runs one trade action with up to e.attempts tries. Only missing
// results, transport faults and retryable retcodes consume extra attempts;
// a hard rejection returns at once.
func (e *Executor) do(ctx context.Context, op string, call func() (*broker.OrderResult, error)) Outcome {
	var last Outcome
	for attempt := 1; attempt <= e.attempts; attempt++ {
		res, err := call()
		switch {
		case err != nil:
			last = Outcome{Status: StatusTransient, Reason: err.Error()}
		case res == nil:
			last = Outcome{Status: StatusTransient, Reason: "no result from trade server"}
		case res.Retcode.OK():
			return Outcome{Status: StatusSuccess, Ticket: res.Ticket, Price: res.Price}
		case res.Retcode.Retryable():
			last = Outcome{Status: StatusTransient, Reason: res.Retcode.String()}
		default:
			e.logger.Warnw("trade action rejected", "op", op, "retcode", res.Retcode.String(), "comment", res.Comment)
			return Outcome{Status: StatusRejected, Reason: res.Retcode.String()}
		}

		if attempt < e.attempts {
			e.logger.Warnw("trade action failed, retrying", "op", op, "attempt", attempt, "reason", last.Reason)
			select {
			case <-ctx.Done():
				return Outcome{Status: StatusTransient, Reason: ctx.Err().Error()}
			case <-time.After(e.delay):
			}
		}
	}
	e.logger.Errorw("trade action failed after all attempts", "op", op, "attempts", e.attempts, "reason", last.Reason)
	return last
}

// resolveFilling picks the order filling mode from symbol metadata:
// fill-or-kill when supported, then immediate-or-cancel, then return.
// Without metadata the broker-safe default is immediate-or-cancel.
func resolveFilling(info *models.SymbolInfo) models.FillingMode {
	if info == nil || len(info.FillingModes) == 0 {
		return models.FillingIOC
	}
	for _, preferred := range []models.FillingMode{models.FillingFOK, models.FillingIOC, models.FillingReturn} {
		for _, m := range info.FillingModes {
			if m == preferred {
				return preferred
			}
		}
	}
	return models.FillingIOC
}
