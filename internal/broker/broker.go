// Package broker defines the gateway surface the strategy consumes and the
// concrete gateways that implement it: the MT5 terminal bridge, a Binance
// USDⓈ-M futures adapter and an in-memory simulator.
package broker

import (
	"fmt"

	"mt5-grid-bot-go/internal/models"
)

// Retcode is the broker's trade server return code. Values mirror the MT5
// trade retcodes; the other gateways map their own errors onto them.
type Retcode int

const (
	RetRequote         Retcode = 10004
	RetReject          Retcode = 10006
	RetCancel          Retcode = 10007
	RetPlaced          Retcode = 10008
	RetDone            Retcode = 10009
	RetDonePartial     Retcode = 10010
	RetError           Retcode = 10011
	RetTimeout         Retcode = 10012
	RetInvalid         Retcode = 10013
	RetInvalidVolume   Retcode = 10014
	RetInvalidPrice    Retcode = 10015
	RetInvalidStops    Retcode = 10016
	RetTradeDisabled   Retcode = 10017
	RetMarketClosed    Retcode = 10018
	RetNoMoney         Retcode = 10019
	RetPriceChanged    Retcode = 10020
	RetPriceOff        Retcode = 10021
	RetTooManyRequests Retcode = 10024
	RetConnection      Retcode = 10031
	RetLimitOrders     Retcode = 10033
	RetPositionClosed  Retcode = 10036
)

// OK reports whether the retcode means the request was applied.
func (r Retcode) OK() bool {
	return r == RetDone || r == RetPlaced || r == RetDonePartial
}

// Retryable reports whether a retcode is worth retrying: requotes, price
// slips, connection loss and timeouts. Hard rejections are not.
func (r Retcode) Retryable() bool {
	switch r {
	case RetRequote, RetPriceChanged, RetPriceOff, RetConnection, RetTimeout, RetTooManyRequests:
		return true
	}
	return false
}

func (r Retcode) String() string {
	switch r {
	case RetRequote:
		return "requote"
	case RetReject:
		return "rejected"
	case RetCancel:
		return "canceled"
	case RetPlaced:
		return "placed"
	case RetDone:
		return "done"
	case RetDonePartial:
		return "done partially"
	case RetError:
		return "common error"
	case RetTimeout:
		return "timeout"
	case RetInvalid:
		return "invalid request"
	case RetInvalidVolume:
		return "invalid volume"
	case RetInvalidPrice:
		return "invalid price"
	case RetInvalidStops:
		return "invalid stops"
	case RetTradeDisabled:
		return "trade disabled"
	case RetMarketClosed:
		return "market closed"
	case RetNoMoney:
		return "insufficient funds"
	case RetPriceChanged:
		return "price changed"
	case RetPriceOff:
		return "off quotes"
	case RetConnection:
		return "no connection"
	case RetTooManyRequests:
		return "too many requests"
	case RetPositionClosed:
		return "position already closed"
	case RetLimitOrders:
		return "pending order limit reached"
	}
	return fmt.Sprintf("retcode %d", int(r))
}

// Error is a typed broker failure carrying the trade server retcode, so the
// executor can classify it without string matching.
type Error struct {
	Retcode Retcode
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("broker: %s (%s)", e.Message, e.Retcode)
	}
	return fmt.Sprintf("broker: %s", e.Retcode)
}

// OrderRequest describes a pending stop order to be placed.
type OrderRequest struct {
	Symbol    string
	Type      models.OrderType
	Volume    float64
	Price     float64
	Magic     int64
	Comment   string
	Deviation int                // points
	Filling   models.FillingMode // empty lets the executor resolve it
}

// OrderResult is the trade server's answer to a send, cancel or close.
type OrderResult struct {
	Retcode Retcode
	Ticket  int64
	Price   float64 // execution/registration price when reported
	Comment string
}

// Gateway is the broker surface the engine and executor consume. Queries
// are filtered by symbol and magic so unrelated account activity stays
// invisible to the strategy.
type Gateway interface {
	Account() (*models.Account, error)
	SymbolInfo(symbol string) (*models.SymbolInfo, error)
	Tick(symbol string) (*models.Tick, error)
	Orders(symbol string, magic int64) ([]models.OrderView, error)
	Positions(symbol string, magic int64) ([]models.PositionView, error)

	// SendOrder places a pending order. A nil result with a nil error does
	// not happen; transport faults come back as errors, trade rejections as
	// results with a non-OK retcode.
	SendOrder(req *OrderRequest) (*OrderResult, error)
	CancelOrder(ticket int64) (*OrderResult, error)
	// ClosePosition closes an open position with a market order in the
	// opposite direction, same volume, bounded by deviation points.
	ClosePosition(pos *models.PositionView, deviation int) (*OrderResult, error)

	Connected() bool
	Reconnect() error
	Close() error
}
