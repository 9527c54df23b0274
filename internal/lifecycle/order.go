// Package lifecycle drives one order from placement to a terminal
// state. Each Order runs a private goroutine that consumes the
// reconciled event stream filtered down to its own client order id,
// and publishes progress reports to its owner.
package lifecycle

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/feed"
	"main/internal/model"
	"main/internal/reconcile"
	"main/pkg/exception"
)

// Manager is the order-management surface the lifecycle depends on.
// *reconcile.Reconciler satisfies it.
type Manager interface {
	Submit(ctx context.Context, nos feed.NewOrder) error
	Cancel(ctx context.Context, id model.ExchangeOrderID) error
	Subscribe() (<-chan reconcile.Event, func())
}

// Request describes the order to place. The client order id is
// generated internally.
type Request struct {
	Side     model.Side
	Type     model.OrderType
	Price    decimal.Decimal
	HasPrice bool
	Size     decimal.Decimal
	PostOnly bool
}

// ReportKind discriminates lifecycle reports.
type ReportKind uint8

const (
	ReportAcknowledged ReportKind = iota + 1
	ReportRejected
	ReportFilled
	ReportCancelled
	ReportResized
)

func (k ReportKind) String() string {
	switch k {
	case ReportAcknowledged:
		return "acknowledged"
	case ReportRejected:
		return "rejected"
	case ReportFilled:
		return "filled"
	case ReportCancelled:
		return "cancelled"
	case ReportResized:
		return "resized"
	default:
		return "unknown"
	}
}

// Report is one lifecycle progress notification. Final marks the
// terminal report; the report channel closes after it.
type Report struct {
	Kind          ReportKind
	Price         decimal.Decimal
	WorkingSize   decimal.Decimal
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
	Reason        string
	Final         bool
}

type state uint8

const (
	stateNotInMarket state = iota
	statePendingNew
	statePendingFill
	stateTerminal
)

// Order is a single-use order handle. Place may be called once; the
// order then progresses through acknowledgment to fills or a cancel
// and ends in a terminal state.
type Order struct {
	manager    Manager
	instrument model.Instrument

	mu              sync.Mutex
	st              state
	clientOrderID   model.ClientOrderID
	exchangeOrderID model.ExchangeOrderID
	originalSize    decimal.Decimal

	reports   chan Report
	cancelReq chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func NewOrder(manager Manager, instrument model.Instrument) *Order {
	return &Order{
		manager:    manager,
		instrument: instrument,
		reports:    make(chan Report, 16),
		cancelReq:  make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
}

// Reports returns the progress channel. It closes after the terminal
// report, or after Close.
func (o *Order) Reports() <-chan Report { return o.reports }

// ClientOrderID returns the generated id, empty before Place.
func (o *Order) ClientOrderID() model.ClientOrderID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clientOrderID
}

// Place submits the order. The event subscription is attached before
// the submission call so no acknowledgment can slip past. Calling
// Place on an order that already left the not-in-market state returns
// an error without side effects.
func (o *Order) Place(ctx context.Context, req Request) error {
	o.mu.Lock()
	if o.st != stateNotInMarket {
		o.mu.Unlock()
		return exception.ErrOrderAlreadyPlaced
	}
	o.st = statePendingNew
	o.clientOrderID = model.NewClientOrderID()
	o.originalSize = req.Size
	cid := o.clientOrderID
	o.mu.Unlock()

	events, unsub := o.manager.Subscribe()

	err := o.manager.Submit(ctx, feed.NewOrder{
		ClientOrderID: cid,
		Instrument:    o.instrument,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		HasPrice:      req.HasPrice,
		Size:          req.Size,
		PostOnly:      req.PostOnly,
	})
	if err != nil {
		unsub()
		o.mu.Lock()
		o.st = stateTerminal
		o.mu.Unlock()
		o.Close()
		close(o.reports)
		return err
	}

	go o.run(ctx, events, unsub)
	return nil
}

// Cancel requests cancellation. It never blocks; the request is acted
// on once the order is resting in the market and dropped otherwise.
func (o *Order) Cancel() {
	select {
	case o.cancelReq <- struct{}{}:
	default:
	}
}

// Close detaches the order without waiting for a terminal event.
func (o *Order) Close() {
	o.closeOnce.Do(func() { close(o.closed) })
}

func (o *Order) run(ctx context.Context, events <-chan reconcile.Event, unsub func()) {
	defer close(o.reports)
	defer unsub()

	for {
		select {
		case <-o.closed:
			return
		case <-ctx.Done():
			return
		case <-o.cancelReq:
			o.forwardCancel(ctx)
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Client() != o.clientOrderID {
				continue
			}
			if o.handle(ev) {
				o.mu.Lock()
				o.st = stateTerminal
				o.mu.Unlock()
				return
			}
		}
	}
}

// forwardCancel issues the cancel only while the order rests in the
// market. A request raised before acknowledgment is dropped: there is
// no exchange order id to cancel yet.
func (o *Order) forwardCancel(ctx context.Context) {
	o.mu.Lock()
	st, eid := o.st, o.exchangeOrderID
	o.mu.Unlock()
	if st != statePendingFill || eid == "" {
		return
	}
	if err := o.manager.Cancel(ctx, eid); err != nil {
		logs.Warnf("lifecycle: cancel %s: %v", eid, err)
	}
}

// handle applies one event and reports it. It returns true when the
// order reached a terminal state.
func (o *Order) handle(ev reconcile.Event) bool {
	switch e := ev.(type) {
	case reconcile.Acknowledged:
		o.mu.Lock()
		o.st = statePendingFill
		o.exchangeOrderID = e.ExchangeOrderID
		o.mu.Unlock()
		o.report(Report{
			Kind:        ReportAcknowledged,
			Price:       e.Price,
			WorkingSize: e.Size,
		})
		return false

	case reconcile.Rejected:
		o.report(Report{
			Kind:   ReportRejected,
			Reason: e.Reason,
			Final:  true,
		})
		return true

	case reconcile.Filled:
		final := e.WorkingSize.IsZero()
		o.report(Report{
			Kind:        ReportFilled,
			Price:       e.Price,
			WorkingSize: e.WorkingSize,
			FilledSize:  e.FilledSize,
			Final:       final,
		})
		return final

	case reconcile.Cancelled:
		o.mu.Lock()
		filled := o.originalSize.Sub(e.RemainingSize)
		o.mu.Unlock()
		o.report(Report{
			Kind:          ReportCancelled,
			Price:         e.Price,
			RemainingSize: e.RemainingSize,
			FilledSize:    filled,
			Final:         true,
		})
		return true

	case reconcile.SizeChanged:
		o.report(Report{
			Kind:        ReportResized,
			WorkingSize: e.NewSize,
		})
		return false

	default:
		return false
	}
}

func (o *Order) report(rep Report) {
	select {
	case o.reports <- rep:
	case <-o.closed:
	}
}
