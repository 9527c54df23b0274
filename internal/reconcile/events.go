// Package reconcile maps raw exchange messages onto typed order
// domain events, keyed by client and exchange order identifiers, and
// owns the watch-list of in-flight orders.
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model"
)

// Event is one reconciled order event. The stream is multiplexed
// across every order of the connection; consumers filter by client
// order id.
type Event interface {
	Client() model.ClientOrderID
}

// Acknowledged reports that the exchange accepted an order and
// assigned it an exchange order id.
type Acknowledged struct {
	Time            time.Time
	ClientOrderID   model.ClientOrderID
	ExchangeOrderID model.ExchangeOrderID
	Instrument      model.Instrument
	OrderType       model.OrderType
	Side            model.Side
	Price           decimal.Decimal
	HasPrice        bool
	Size            decimal.Decimal
}

// Rejected reports that a placement failed, either via the placement
// call's error payload or asynchronously on the stream.
type Rejected struct {
	Time          time.Time
	ClientOrderID model.ClientOrderID
	Instrument    model.Instrument
	OrderType     model.OrderType
	Side          model.Side
	Price         decimal.Decimal
	HasPrice      bool
	Size          decimal.Decimal
	Reason        string
}

// Filled reports one execution against a watched order. WorkingSize is
// what remains open after the fill.
type Filled struct {
	Time          time.Time
	ClientOrderID model.ClientOrderID
	Instrument    model.Instrument
	OrderType     model.OrderType
	Side          model.Side
	Price         decimal.Decimal
	WorkingSize   decimal.Decimal
	FilledSize    decimal.Decimal
}

// Cancelled reports that a watched order left the book by
// cancellation.
type Cancelled struct {
	Time          time.Time
	ClientOrderID model.ClientOrderID
	Instrument    model.Instrument
	OrderType     model.OrderType
	Side          model.Side
	Price         decimal.Decimal
	HasPrice      bool
	RemainingSize decimal.Decimal
}

// SizeChanged reports an in-place resize of a watched order. The
// exchange's change message updates working size without a terminal
// transition; it is surfaced as its own event so consumers can observe
// it.
type SizeChanged struct {
	Time          time.Time
	ClientOrderID model.ClientOrderID
	Instrument    model.Instrument
	NewSize       decimal.Decimal
}

func (e Acknowledged) Client() model.ClientOrderID { return e.ClientOrderID }
func (e Rejected) Client() model.ClientOrderID     { return e.ClientOrderID }
func (e Filled) Client() model.ClientOrderID       { return e.ClientOrderID }
func (e Cancelled) Client() model.ClientOrderID    { return e.ClientOrderID }
func (e SizeChanged) Client() model.ClientOrderID  { return e.ClientOrderID }
