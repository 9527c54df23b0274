// Package feed defines the parsed exchange message variants and the
// collaborator interfaces the reconciliation core consumes. Raw wire
// payloads are decoded exactly once, at this boundary, into one typed
// struct per message kind so that kind dispatch is a type switch.
package feed

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model"
)

// Header carries the fields common to every sequenced feed message.
type Header struct {
	Instrument model.Instrument
	Sequence   int64
	Time       time.Time
}

func (h Header) Head() Header { return h }

// Message is one parsed exchange feed message.
type Message interface {
	Head() Header
}

// Received acknowledges that the exchange accepted an order. The order
// is not resting yet; the book treats it as informational.
type Received struct {
	Header
	OrderID       model.ExchangeOrderID
	ClientOrderID model.ClientOrderID
	Price         decimal.Decimal
	HasPrice      bool
	Size          decimal.Decimal
	Funds         decimal.Decimal
	HasFunds      bool
}

// Open places a resting order onto the book.
type Open struct {
	Header
	OrderID model.ExchangeOrderID
	Side    model.Side
	Price   decimal.Decimal
	Size    decimal.Decimal
	HasSize bool
}

// Match reports a trade between a resting maker and an incoming taker.
type Match struct {
	Header
	MakerOrderID model.ExchangeOrderID
	TakerOrderID model.ExchangeOrderID
	Side         model.Side
	Price        decimal.Decimal
	Size         decimal.Decimal
}

// Change adjusts the remaining size of a resting order in place.
type Change struct {
	Header
	OrderID    model.ExchangeOrderID
	Side       model.Side
	Price      decimal.Decimal
	NewSize    decimal.Decimal
	HasNewSize bool
}

// Done removes an order from the book, whether canceled or filled.
type Done struct {
	Header
	OrderID       model.ExchangeOrderID
	Reason        string
	Price         decimal.Decimal
	HasPrice      bool
	RemainingSize decimal.Decimal
}

// DoneReasonCanceled is the only done reason that produces a Cancelled
// domain event; every other reason is covered by match reporting.
const DoneReasonCanceled = "canceled"

// StreamError is an error payload from the exchange. Logged, never
// mutating, never fatal.
type StreamError struct {
	Header
	Text string
}
