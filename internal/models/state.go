package models

import "time"

// GridState is the single persisted record of the strategy. It is owned
// exclusively by the engine/control-loop pair and is the sole source of
// truth across restarts. Mutations are committed to the store only after
// the corresponding broker action has been confirmed.
type GridState struct {
	Symbol string `json:"symbol"`
	Magic  int64  `json:"magic"`

	// Initialized reports whether an active grid exists for Symbol+Magic.
	Initialized bool `json:"initialized"`

	// InitialDeposit is the account equity recorded on the first successful
	// initialization. It is the fixed basis for the drawdown percentage and
	// is cleared only on a full reset.
	InitialDeposit float64 `json:"initial_deposit,omitempty"`

	// Trigger prices of the two stop legs. A level is present only while
	// its leg is pending; it is cleared once the leg has triggered and the
	// opposite replacement was confirmed.
	BuyLevel  float64 `json:"buy_level,omitempty"`
	SellLevel float64 `json:"sell_level,omitempty"`

	// Volume of the most recently placed leg per side; identifies the
	// position a triggered leg produced.
	LastBuyLot  float64 `json:"last_buy_lot,omitempty"`
	LastSellLot float64 `json:"last_sell_lot,omitempty"`

	// Precomputed volume for the next replacement order per side.
	NextBuyLot  float64 `json:"next_buy_lot,omitempty"`
	NextSellLot float64 `json:"next_sell_lot,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewGridState returns an empty state for a symbol and magic number.
func NewGridState(symbol string, magic int64) *GridState {
	return &GridState{Symbol: symbol, Magic: magic}
}

// Level returns the stored trigger price for a side.
func (s *GridState) Level(side Side) float64 {
	if side == Buy {
		return s.BuyLevel
	}
	return s.SellLevel
}

// SetLevel stores the trigger price for a side; zero clears it.
func (s *GridState) SetLevel(side Side, price float64) {
	if side == Buy {
		s.BuyLevel = price
	} else {
		s.SellLevel = price
	}
}

// LastLot returns the volume of the most recent order on a side.
func (s *GridState) LastLot(side Side) float64 {
	if side == Buy {
		return s.LastBuyLot
	}
	return s.LastSellLot
}

// SetLastLot records the volume of a confirmed order on a side.
func (s *GridState) SetLastLot(side Side, volume float64) {
	if side == Buy {
		s.LastBuyLot = volume
	} else {
		s.LastSellLot = volume
	}
}

// NextLot returns the precomputed replacement volume for a side.
func (s *GridState) NextLot(side Side) float64 {
	if side == Buy {
		return s.NextBuyLot
	}
	return s.NextSellLot
}

// SetNextLot stores the replacement volume for a side.
func (s *GridState) SetNextLot(side Side, volume float64) {
	if side == Buy {
		s.NextBuyLot = volume
	} else {
		s.NextSellLot = volume
	}
}

// Reset clears the grid back to the uninitialized state. InitialDeposit is
// retained for audit; a subsequent initialization overwrites it.
func (s *GridState) Reset() {
	s.Initialized = false
	s.BuyLevel = 0
	s.SellLevel = 0
	s.LastBuyLot = 0
	s.LastSellLot = 0
	s.NextBuyLot = 0
	s.NextSellLot = 0
}
