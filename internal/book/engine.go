package book

import (
	"context"
	"sort"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/feed"
	"main/internal/model"
	"main/pkg/exception"
)

const (
	defaultInboxSize    = 4096
	defaultRetryBackoff = time.Second
)

// command is the single unit the engine goroutine consumes: exactly
// one of the fields is set.
type command struct {
	msg     feed.Message
	rebuild bool
	snap    *snapshotResult
}

type snapshotResult struct {
	gen  uint64
	snap feed.Snapshot
	err  error
}

// Engine owns the live book of one instrument. All state below the
// inbox is touched only by the Run goroutine; rebuilds and live
// updates therefore can never interleave. Concurrent arrivals during a
// rebuild's snapshot round-trip park in the pending queue.
type Engine struct {
	instrument model.Instrument
	snapshots  feed.SnapshotSource
	publish    func(model.InsideMarketChange)

	inbox chan command

	bids    *ladder
	asks    *ladder
	orders  map[model.ExchangeOrderID]*restingOrder
	lastSeq int64
	inside  model.InsideMarket

	rebuilding bool
	buildGen   uint64
	pending    []feed.Message

	retryBackoff time.Duration
}

func NewEngine(instrument model.Instrument, snapshots feed.SnapshotSource, publish func(model.InsideMarketChange)) *Engine {
	return &Engine{
		instrument:   instrument,
		snapshots:    snapshots,
		publish:      publish,
		inbox:        make(chan command, defaultInboxSize),
		bids:         newLadder(model.SideBuy),
		asks:         newLadder(model.SideSell),
		orders:       make(map[model.ExchangeOrderID]*restingOrder),
		retryBackoff: defaultRetryBackoff,
	}
}

// Post delivers one raw feed message to the engine. Blocks if the
// inbox is full rather than dropping: queued messages are the only way
// sequence continuity survives a rebuild.
func (e *Engine) Post(msg feed.Message) {
	e.inbox <- command{msg: msg}
}

// RequestRebuild schedules a full snapshot rebuild. Reconnects are
// reported through here; a detected gap takes the same path
// internally.
func (e *Engine) RequestRebuild() {
	e.inbox <- command{rebuild: true}
}

// Run drives the engine until the context ends. It builds the book
// once on entry and then serves the inbox.
func (e *Engine) Run(ctx context.Context) {
	e.beginRebuild(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.inbox:
			e.handle(ctx, cmd)
		}
	}
}

func (e *Engine) handle(ctx context.Context, cmd command) {
	switch {
	case cmd.rebuild:
		e.beginRebuild(ctx)
	case cmd.snap != nil:
		e.finishRebuild(ctx, cmd.snap)
	case cmd.msg != nil:
		e.onRaw(ctx, cmd.msg)
	}
}

// beginRebuild clears the book, marks the rebuild in progress and
// fetches a snapshot off the engine goroutine. Safe to call while a
// previous rebuild is still in flight: the generation counter makes
// the superseded snapshot a no-op. The pending queue is deliberately
// preserved; the eventual drain discards what the snapshot covers.
func (e *Engine) beginRebuild(ctx context.Context) {
	e.rebuilding = true
	e.bids.clear()
	e.asks.clear()
	e.orders = make(map[model.ExchangeOrderID]*restingOrder)
	e.buildGen++

	gen := e.buildGen
	go func() {
		snap, err := e.snapshots.FetchDepthSnapshot(ctx, e.instrument)
		select {
		case e.inbox <- command{snap: &snapshotResult{gen: gen, snap: snap, err: err}}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) finishRebuild(ctx context.Context, res *snapshotResult) {
	if res.gen != e.buildGen {
		return
	}
	if res.err != nil {
		logs.Errorf("book %s: depth snapshot: %v", e.instrument, res.err)
		time.AfterFunc(e.retryBackoff, e.RequestRebuild)
		return
	}

	for _, entry := range res.snap.Bids {
		e.addResting(&restingOrder{id: entry.OrderID, side: model.SideBuy, price: entry.Price, size: entry.Size})
	}
	for _, entry := range res.snap.Asks {
		e.addResting(&restingOrder{id: entry.OrderID, side: model.SideSell, price: entry.Price, size: entry.Size})
	}
	e.lastSeq = res.snap.Sequence

	queued := e.pending
	e.pending = nil
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].Head().Sequence < queued[j].Head().Sequence
	})

	for i, msg := range queued {
		seq := msg.Head().Sequence
		if seq <= res.snap.Sequence {
			continue
		}
		if seq != e.lastSeq+1 {
			logs.Warnf("book %s: gap while draining, have %d got %d", e.instrument, e.lastSeq, seq)
			e.pending = append([]feed.Message(nil), queued[i:]...)
			e.beginRebuild(ctx)
			return
		}
		e.lastSeq = seq
		if err := e.apply(msg); err != nil {
			logs.Errorf("book %s: desync while draining: %v", e.instrument, err)
			e.beginRebuild(ctx)
			return
		}
		e.publishInside()
	}

	e.rebuilding = false
	e.publishInside()
	logs.Infof("book %s: rebuilt at sequence %d (%d bid / %d ask levels)",
		e.instrument, e.lastSeq, e.bids.depth(), e.asks.depth())
}

func (e *Engine) onRaw(ctx context.Context, msg feed.Message) {
	if se, ok := msg.(feed.StreamError); ok {
		logs.Warnf("book %s: feed error: %s", e.instrument, se.Text)
		return
	}
	if ins := msg.Head().Instrument; ins != "" && ins != e.instrument {
		return
	}
	if e.rebuilding {
		e.pending = append(e.pending, msg)
		return
	}

	seq := msg.Head().Sequence
	if seq != e.lastSeq+1 {
		logs.Warnf("book %s: sequence gap, have %d got %d, rebuilding", e.instrument, e.lastSeq, seq)
		e.beginRebuild(ctx)
		return
	}
	e.lastSeq = seq

	if err := e.apply(msg); err != nil {
		logs.Errorf("book %s: desync: %v", e.instrument, err)
		e.beginRebuild(ctx)
		return
	}
	e.publishInside()
}

// apply mutates the book for one sequenced update. A returned error
// means the book no longer matches the exchange and must be rebuilt.
func (e *Engine) apply(msg feed.Message) error {
	switch m := msg.(type) {
	case feed.Received:
		// Informational; the order is not resting yet.
		return nil
	case feed.Open:
		return e.applyOpen(m)
	case feed.Match:
		return e.applyMatch(m)
	case feed.Change:
		return e.applyChange(m)
	case feed.Done:
		e.applyDone(m)
		return nil
	default:
		return nil
	}
}

func (e *Engine) applyOpen(m feed.Open) error {
	if !m.HasSize {
		return nil
	}
	if _, exists := e.orders[m.OrderID]; exists {
		return exception.ErrBookDuplicateOrder
	}
	e.addResting(&restingOrder{id: m.OrderID, side: m.Side, price: m.Price, size: m.Size})
	return nil
}

func (e *Engine) applyMatch(m feed.Match) error {
	maker, ok := e.orders[m.MakerOrderID]
	if !ok {
		return nil
	}

	lvl := e.side(maker.side).level(maker.price)
	if lvl == nil {
		return exception.ErrBookLevelMissing
	}
	if !maker.price.Equal(m.Price) {
		return exception.ErrBookPriceMismatch
	}
	// Price-time priority: the matched maker must be the earliest
	// order at its level.
	if lvl.orders[0].id != maker.id {
		return exception.ErrBookPriorityViolated
	}

	newSize := maker.size.Sub(m.Size)
	if newSize.Sign() < 0 {
		return exception.ErrBookNegativeSize
	}
	lvl.accumulated = lvl.accumulated.Sub(m.Size)
	maker.size = newSize
	if newSize.IsZero() {
		e.removeResting(maker)
	}
	return nil
}

func (e *Engine) applyChange(m feed.Change) error {
	o, ok := e.orders[m.OrderID]
	if !ok || !m.HasNewSize {
		return nil
	}
	lvl := e.side(o.side).level(o.price)
	if lvl == nil {
		return exception.ErrBookLevelMissing
	}
	diff := m.NewSize.Sub(o.size)
	lvl.accumulated = lvl.accumulated.Add(diff)
	o.size = m.NewSize
	return nil
}

func (e *Engine) applyDone(m feed.Done) {
	// Absent is fine: the order may already be fully matched away.
	if o, ok := e.orders[m.OrderID]; ok {
		e.removeResting(o)
	}
}

func (e *Engine) side(s model.Side) *ladder {
	if s == model.SideBuy {
		return e.bids
	}
	return e.asks
}

func (e *Engine) addResting(o *restingOrder) {
	e.orders[o.id] = o
	e.side(o.side).addOrder(o)
}

func (e *Engine) removeResting(o *restingOrder) {
	e.side(o.side).removeOrder(o)
	delete(e.orders, o.id)
}

func (e *Engine) publishInside() {
	next := model.InsideMarket{Bid: e.bids.best(), Ask: e.asks.best()}
	if next.Equal(e.inside) {
		return
	}
	old := e.inside
	e.inside = next
	if e.publish != nil {
		e.publish(model.InsideMarketChange{Instrument: e.instrument, Old: old, New: next})
	}
}
