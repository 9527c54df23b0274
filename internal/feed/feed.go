package feed

import (
	"context"

	"github.com/shopspring/decimal"

	"main/internal/model"
)

// Stream is the live feed collaborator. Implementations deliver parsed
// messages in arrival order per instrument and notify on reconnect.
// Handler registration must happen before the stream starts.
type Stream interface {
	Subscribe(ctx context.Context, instrument model.Instrument) error
	OnMessage(handler func(Message))
	OnReconnect(handler func())
}

// SnapshotEntry is one resting order inside a depth snapshot.
type SnapshotEntry struct {
	OrderID model.ExchangeOrderID
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// Snapshot is a point-in-time full-depth book image tagged with the
// sequence number it was taken at.
type Snapshot struct {
	Sequence int64
	Bids     []SnapshotEntry
	Asks     []SnapshotEntry
}

// SnapshotSource fetches depth snapshots, typically over REST.
type SnapshotSource interface {
	FetchDepthSnapshot(ctx context.Context, instrument model.Instrument) (Snapshot, error)
}

// NewOrder is a single new-order request.
type NewOrder struct {
	ClientOrderID model.ClientOrderID
	Instrument    model.Instrument
	Side          model.Side
	Type          model.OrderType
	Price         decimal.Decimal
	HasPrice      bool
	Size          decimal.Decimal
	PostOnly      bool
}

// PlaceResult is the synchronous outcome of a placement call. An empty
// RejectReason means the exchange accepted the request; asynchronous
// acknowledgment still follows on the stream.
type PlaceResult struct {
	RejectReason string
}

func (r PlaceResult) Rejected() bool { return r.RejectReason != "" }

// OrderEntry is the order-management collaborator.
type OrderEntry interface {
	PlaceOrder(ctx context.Context, order NewOrder) (PlaceResult, error)
	CancelOrder(ctx context.Context, id model.ExchangeOrderID) error
}
