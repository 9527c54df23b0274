package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/feed"
	"main/internal/model"
	"main/pkg/exception"
)

const defaultSubscriberBuffer = 64

// watchedOrder is one in-flight order the reconciler tracks. It lives
// in the client-id index from submission and additionally in the
// exchange-id index once acknowledged; any done message removes it
// from both.
type watchedOrder struct {
	clientOrderID   model.ClientOrderID
	exchangeOrderID model.ExchangeOrderID
	instrument      model.Instrument
	orderType       model.OrderType
	side            model.Side
	workingSize     decimal.Decimal
	price           decimal.Decimal
	hasPrice        bool
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
}

// Reconciler owns the watch-list and the domain-event fan-out. The
// raw-message path runs on the transport's delivery goroutine while
// submissions and cancels arrive from lifecycle goroutines, so the
// watch-list is guarded by a mutex.
type Reconciler struct {
	entry feed.OrderEntry

	mu         sync.Mutex
	byClient   map[model.ClientOrderID]*watchedOrder
	byExchange map[model.ExchangeOrderID]*watchedOrder

	subMu   sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
}

func New(entry feed.OrderEntry) *Reconciler {
	return &Reconciler{
		entry:      entry,
		byClient:   make(map[model.ClientOrderID]*watchedOrder),
		byExchange: make(map[model.ExchangeOrderID]*watchedOrder),
		subs:       make(map[uint64]*subscriber),
	}
}

// Subscribe attaches a consumer to the multiplexed event stream. The
// returned cancel function detaches it deterministically; events
// published afterwards are no longer delivered.
func (r *Reconciler) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{
		ch:   make(chan Event, defaultSubscriberBuffer),
		done: make(chan struct{}),
	}
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = sub
	r.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(sub.done)
		})
	}
	return sub.ch, cancel
}

func (r *Reconciler) emit(ev Event) {
	r.subMu.Lock()
	targets := make([]*subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		targets = append(targets, sub)
	}
	r.subMu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// Submit registers the order on the watch-list and then issues the
// placement call. Registration happens first: the stream may report
// the acknowledgment before the synchronous call returns. A rejection
// carried in the call's response is synthesized into a Rejected event,
// since the stream will not produce one in that case.
func (r *Reconciler) Submit(ctx context.Context, nos feed.NewOrder) error {
	if nos.ClientOrderID == "" {
		return exception.ErrOrderMissingClientID
	}
	if nos.Size.IsZero() {
		return exception.ErrOrderMissingSize
	}

	w := &watchedOrder{
		clientOrderID: nos.ClientOrderID,
		instrument:    nos.Instrument,
		orderType:     nos.Type,
		side:          nos.Side,
		workingSize:   nos.Size,
		price:         nos.Price,
		hasPrice:      nos.HasPrice,
	}

	r.mu.Lock()
	if _, exists := r.byClient[nos.ClientOrderID]; exists {
		r.mu.Unlock()
		return exception.ErrOrderDuplicateWatch
	}
	r.byClient[nos.ClientOrderID] = w
	r.mu.Unlock()

	result, err := r.entry.PlaceOrder(ctx, nos)
	if err != nil {
		// Transport failure: no exchange order exists, nothing will
		// arrive on the stream for this id.
		r.removeWatch(w)
		return err
	}
	if result.Rejected() {
		r.removeWatch(w)
		r.emit(Rejected{
			Time:          time.Now().UTC(),
			ClientOrderID: nos.ClientOrderID,
			Instrument:    nos.Instrument,
			OrderType:     nos.Type,
			Side:          nos.Side,
			Price:         nos.Price,
			HasPrice:      nos.HasPrice,
			Size:          nos.Size,
			Reason:        result.RejectReason,
		})
	}
	return nil
}

// Cancel forwards a cancel request for an acknowledged order.
func (r *Reconciler) Cancel(ctx context.Context, id model.ExchangeOrderID) error {
	return r.entry.CancelOrder(ctx, id)
}

// OnMessage is the transport's delivery callback for order-relevant
// messages. Kinds without reconciliation meaning are ignored here; the
// book consumes them separately.
func (r *Reconciler) OnMessage(msg feed.Message) {
	switch m := msg.(type) {
	case feed.Received:
		r.onReceived(m)
	case feed.Done:
		r.onDone(m)
	case feed.Match:
		r.onMatch(m)
	case feed.Change:
		r.onChange(m)
	}
}

func (r *Reconciler) onReceived(m feed.Received) {
	if m.ClientOrderID == "" {
		return
	}

	r.mu.Lock()
	w, ok := r.byClient[m.ClientOrderID]
	if !ok {
		r.mu.Unlock()
		return
	}
	w.exchangeOrderID = m.OrderID
	r.byExchange[m.OrderID] = w

	price := m.Price
	hasPrice := m.HasPrice
	// Market-by-notional orders carry funds instead of a price.
	if m.HasFunds && !m.Size.IsZero() {
		price = m.Funds.Div(m.Size)
		hasPrice = true
	}
	w.price = price
	w.hasPrice = hasPrice
	ev := Acknowledged{
		Time:            m.Time,
		ClientOrderID:   w.clientOrderID,
		ExchangeOrderID: m.OrderID,
		Instrument:      w.instrument,
		OrderType:       w.orderType,
		Side:            w.side,
		Price:           price,
		HasPrice:        hasPrice,
		Size:            m.Size,
	}
	r.mu.Unlock()

	r.emit(ev)
}

func (r *Reconciler) onDone(m feed.Done) {
	r.mu.Lock()
	w, ok := r.byExchange[m.OrderID]
	if !ok {
		r.mu.Unlock()
		return
	}
	// Cleanup is unconditional, whatever the reason: this is what
	// bounds watch-list growth.
	delete(r.byExchange, w.exchangeOrderID)
	delete(r.byClient, w.clientOrderID)
	r.mu.Unlock()

	if m.Reason == feed.DoneReasonCanceled {
		r.emit(Cancelled{
			Time:          m.Time,
			ClientOrderID: w.clientOrderID,
			Instrument:    w.instrument,
			OrderType:     w.orderType,
			Side:          w.side,
			Price:         m.Price,
			HasPrice:      m.HasPrice,
			RemainingSize: m.RemainingSize,
		})
	}
	// Fill completion is already reported through match messages.
}

func (r *Reconciler) onMatch(m feed.Match) {
	r.mu.Lock()
	w, ok := r.byExchange[m.MakerOrderID]
	if !ok {
		w, ok = r.byExchange[m.TakerOrderID]
	}
	if !ok {
		r.mu.Unlock()
		return
	}
	w.workingSize = w.workingSize.Sub(m.Size)
	ev := Filled{
		Time:          m.Time,
		ClientOrderID: w.clientOrderID,
		Instrument:    w.instrument,
		OrderType:     w.orderType,
		Side:          w.side,
		Price:         m.Price,
		WorkingSize:   w.workingSize,
		FilledSize:    m.Size,
	}
	r.mu.Unlock()

	r.emit(ev)
}

func (r *Reconciler) onChange(m feed.Change) {
	if !m.HasNewSize {
		return
	}

	r.mu.Lock()
	w, ok := r.byExchange[m.OrderID]
	if !ok {
		r.mu.Unlock()
		return
	}
	w.workingSize = m.NewSize
	ev := SizeChanged{
		Time:          m.Time,
		ClientOrderID: w.clientOrderID,
		Instrument:    w.instrument,
		NewSize:       m.NewSize,
	}
	r.mu.Unlock()

	logs.Infof("reconcile: order %s resized to %s", ev.ClientOrderID, ev.NewSize)
	r.emit(ev)
}

func (r *Reconciler) removeWatch(w *watchedOrder) {
	r.mu.Lock()
	delete(r.byClient, w.clientOrderID)
	if w.exchangeOrderID != "" {
		delete(r.byExchange, w.exchangeOrderID)
	}
	r.mu.Unlock()
}

// WatchedByClient reports whether a client order id is on the
// watch-list.
func (r *Reconciler) WatchedByClient(id model.ClientOrderID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byClient[id]
	return ok
}

// WatchedByExchange reports whether an exchange order id is on the
// watch-list.
func (r *Reconciler) WatchedByExchange(id model.ExchangeOrderID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byExchange[id]
	return ok
}
