package models

import (
	"fmt"
	"math"
	"strconv"
)

// Side is the direction of a position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is the kind of pending order the strategy works with.
type OrderType string

const (
	BuyStop  OrderType = "BUY_STOP"
	SellStop OrderType = "SELL_STOP"
)

// Side returns the position direction a triggered order of this type opens.
func (t OrderType) Side() Side {
	if t == BuyStop {
		return Buy
	}
	return Sell
}

// FillingMode mirrors the broker's order filling policies.
type FillingMode string

const (
	FillingFOK    FillingMode = "FOK"    // fill or kill
	FillingIOC    FillingMode = "IOC"    // immediate or cancel
	FillingReturn FillingMode = "RETURN" // partial fills stay working
)

// Account is a snapshot of the trading account.
type Account struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency"`
}

// Tick is the current best bid/ask for a symbol.
type Tick struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

// SymbolInfo carries the trading rules of a symbol.
type SymbolInfo struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Digits       int           `json:"digits"`
	Point        float64       `json:"point"`
	TradeAllowed bool          `json:"trade_allowed"`
	VolumeMin    float64       `json:"volume_min"`
	VolumeMax    float64       `json:"volume_max"`
	VolumeStep   float64       `json:"volume_step"`
	StopsLevel   int           `json:"stops_level"` // broker minimum stop distance, in points
	Spread       int           `json:"spread,omitempty"`
	FillingModes []FillingMode `json:"filling_modes,omitempty"`
}

// PipFactor returns the point-to-pip multiplier: 10 for 3- and 5-digit
// symbols, 1 otherwise.
func (s *SymbolInfo) PipFactor() float64 {
	if s.Digits == 3 || s.Digits == 5 {
		return 10
	}
	return 1
}

// RoundPrice rounds a price to the symbol's digit count.
func (s *SymbolInfo) RoundPrice(price float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(price, 'f', s.Digits, 64), 64)
	return v
}

// ClampVolume clamps a volume to [VolumeMin, VolumeMax] and floors it to
// VolumeStep. A non-positive result falls back to the symbol minimum.
func (s *SymbolInfo) ClampVolume(volume float64) float64 {
	v := volume
	if v > s.VolumeMax && s.VolumeMax > 0 {
		v = s.VolumeMax
	}
	if v < s.VolumeMin {
		v = s.VolumeMin
	}
	if s.VolumeStep > 0 {
		v = math.Floor(v/s.VolumeStep+1e-9) * s.VolumeStep
		// Kill the float noise left by the division.
		v, _ = strconv.ParseFloat(fmt.Sprintf("%.8f", v), 64)
	}
	if v <= 0 {
		v = s.VolumeMin
	}
	return v
}

// OrderView is a read-only projection of a pending order at the broker.
// Used transiently within a cycle, never cached across cycles.
type OrderView struct {
	Ticket  int64     `json:"ticket"`
	Symbol  string    `json:"symbol"`
	Type    OrderType `json:"type"`
	Price   float64   `json:"price"`
	Volume  float64   `json:"volume"`
	Magic   int64     `json:"magic"`
	Comment string    `json:"comment,omitempty"`
}

// PositionView is a read-only projection of an open position at the broker.
type PositionView struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	OpenPrice float64 `json:"open_price"`
	Volume    float64 `json:"volume"`
	Profit    float64 `json:"profit"`
	Magic     int64   `json:"magic"`
}

// Config holds the full static configuration of the bot.
type Config struct {
	Broker         string  `json:"broker"`           // "bridge", "binance" or "sim"
	BridgeURL      string  `json:"bridge_url"`       // websocket URL of the MT5 terminal bridge
	BinanceTestnet bool    `json:"binance_testnet"`  // use the binance futures testnet
	DBPath         string  `json:"db_path"`          // BadgerDB directory for the state store
	Symbol         string  `json:"symbol"`           // e.g. "EURUSD"
	Magic          int64   `json:"magic"`            // strategy tag / magic number
	InitialLot     float64 `json:"initial_lot"`      // fixed initial lot; 0 means risk-based sizing
	RiskPercent    float64 `json:"risk_percent"`     // % of balance risked when InitialLot is 0
	MarginPerLot   float64 `json:"margin_per_lot"`   // margin required per 1.0 lot, account currency
	LotMultiplier  float64 `json:"lot_multiplier"`   // geometric scale factor for replacement legs
	DistancePips   int     `json:"distance_pips"`    // stop order distance from the market, in pips
	MaxDrawdownPct float64 `json:"max_drawdown_pct"` // equity drawdown that triggers the stop-out
	Deviation      int     `json:"deviation"`        // slippage tolerance for market closes, in points
	RetryCount     int     `json:"retry_count"`      // total attempts for a retryable trade action
	RetryDelayMs   int     `json:"retry_delay_ms"`   // delay between attempts
	LoopIntervalMs int     `json:"loop_interval_ms"` // control loop cadence

	Log LogConfig `json:"log"`
}

// LogConfig configures the zap/lumberjack logger.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // MB per file
	MaxBackups int    `json:"max_backups"` // rotated files to keep
	MaxAge     int    `json:"max_age"`     // days to keep rotated files
	Compress   bool   `json:"compress"`
}
