package book

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/feed"
	"main/internal/model"
)

const testInstrument = model.Instrument("BTC-USD")

type stubSnapshots struct {
	mu    sync.Mutex
	queue []feed.Snapshot
	errs  []error
	calls int
}

func (s *stubSnapshots) FetchDepthSnapshot(_ context.Context, _ model.Instrument) (feed.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return feed.Snapshot{}, err
	}
	snap := s.queue[0]
	if len(s.queue) > 1 {
		s.queue = s.queue[1:]
	}
	return snap, nil
}

func (s *stubSnapshots) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func entry(id string, price, size string) feed.SnapshotEntry {
	return feed.SnapshotEntry{OrderID: model.ExchangeOrderID(id), Price: dec(price), Size: dec(size)}
}

func baseSnapshot(seq int64) feed.Snapshot {
	return feed.Snapshot{
		Sequence: seq,
		Bids:     []feed.SnapshotEntry{entry("b1", "100", "2")},
		Asks:     []feed.SnapshotEntry{entry("a1", "101", "3")},
	}
}

// pump consumes one inbox command (typically the async snapshot
// result) and handles it on the test goroutine.
func pump(t *testing.T, ctx context.Context, e *Engine) {
	t.Helper()
	select {
	case cmd := <-e.inbox:
		e.handle(ctx, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("engine inbox: timed out")
	}
}

func builtEngine(t *testing.T, snaps *stubSnapshots) (*Engine, *[]model.InsideMarketChange) {
	t.Helper()
	published := &[]model.InsideMarketChange{}
	e := NewEngine(testInstrument, snaps, func(c model.InsideMarketChange) {
		*published = append(*published, c)
	})
	ctx := context.Background()
	e.beginRebuild(ctx)
	pump(t, ctx, e)
	require.False(t, e.rebuilding)
	return e, published
}

func checkLevelInvariant(t *testing.T, e *Engine) {
	t.Helper()
	for _, ld := range []*ladder{e.bids, e.asks} {
		for _, lvl := range ld.levels {
			sum := dec("0")
			for _, o := range lvl.orders {
				sum = sum.Add(o.size)
			}
			require.Truef(t, lvl.accumulated.Equal(sum),
				"level %s accumulated %s != order sum %s", lvl.price, lvl.accumulated, sum)
			require.NotEmpty(t, lvl.orders, "empty level must be pruned")
		}
	}
}

func openMsg(seq int64, id string, side model.Side, price, size string) feed.Open {
	return feed.Open{
		Header:  feed.Header{Instrument: testInstrument, Sequence: seq},
		OrderID: model.ExchangeOrderID(id),
		Side:    side,
		Price:   dec(price),
		Size:    dec(size),
		HasSize: true,
	}
}

func matchMsg(seq int64, maker, taker string, price, size string) feed.Match {
	return feed.Match{
		Header:       feed.Header{Instrument: testInstrument, Sequence: seq},
		MakerOrderID: model.ExchangeOrderID(maker),
		TakerOrderID: model.ExchangeOrderID(taker),
		Price:        dec(price),
		Size:         dec(size),
	}
}

func TestRebuildDrainDiscardsAndAppliesInSequenceOrder(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{{
		Sequence: 100,
		Bids:     []feed.SnapshotEntry{entry("b1", "5", "1")},
	}}}
	published := []model.InsideMarketChange{}
	e := NewEngine(testInstrument, snaps, func(c model.InsideMarketChange) {
		published = append(published, c)
	})
	ctx := context.Background()

	e.beginRebuild(ctx)
	// Arrival order deliberately scrambled: 102, 98, 101.
	e.onRaw(ctx, openMsg(102, "o102", model.SideBuy, "11", "1"))
	e.onRaw(ctx, openMsg(98, "o98", model.SideBuy, "50", "1"))
	e.onRaw(ctx, openMsg(101, "o101", model.SideBuy, "10", "1"))
	pump(t, ctx, e)

	require.False(t, e.rebuilding)
	assert.EqualValues(t, 102, e.lastSeq)
	_, has98 := e.orders["o98"]
	assert.False(t, has98, "message at or below snapshot sequence must be discarded")
	_, has101 := e.orders["o101"]
	_, has102 := e.orders["o102"]
	assert.True(t, has101)
	assert.True(t, has102)

	// Best-bid progression 10 then 11 proves ascending application.
	require.Len(t, published, 2)
	assert.True(t, published[0].Old.Bid.IsZero())
	assert.True(t, published[0].New.Bid.Price.Equal(dec("10")))
	assert.True(t, published[1].New.Bid.Price.Equal(dec("11")))
	checkLevelInvariant(t, e)
}

func TestSequenceGapTriggersExactlyOneRebuild(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{baseSnapshot(100), baseSnapshot(105)}}
	e, _ := builtEngine(t, snaps)
	ctx := context.Background()
	require.Equal(t, 1, snaps.fetchCount())

	// 105 instead of 101: gap. The message is dropped and a single
	// rebuild starts.
	e.onRaw(ctx, openMsg(105, "late", model.SideBuy, "99", "1"))
	require.True(t, e.rebuilding)

	// Arrivals during the rebuild are queued, not applied.
	e.onRaw(ctx, openMsg(106, "queued", model.SideBuy, "99.5", "1"))
	require.Len(t, e.pending, 1)
	assert.Empty(t, e.orders)

	pump(t, ctx, e)
	require.False(t, e.rebuilding)
	assert.Equal(t, 2, snaps.fetchCount(), "exactly one rebuild per gap")
	assert.EqualValues(t, 106, e.lastSeq)
	_, hasQueued := e.orders["queued"]
	assert.True(t, hasQueued, "queued message above snapshot sequence applied after drain")
	_, hasLate := e.orders["late"]
	assert.False(t, hasLate, "gap message itself is recovered via the snapshot, not replayed")
	checkLevelInvariant(t, e)
}

// stalledSnapshots parks every fetch until release closes, so tests
// can deliver snapshot results by hand in a chosen order.
type stalledSnapshots struct {
	release chan struct{}
}

func (s *stalledSnapshots) FetchDepthSnapshot(_ context.Context, _ model.Instrument) (feed.Snapshot, error) {
	<-s.release
	return feed.Snapshot{}, context.Canceled
}

func TestSupersededSnapshotIsDiscarded(t *testing.T) {
	snaps := &stalledSnapshots{release: make(chan struct{})}
	t.Cleanup(func() { close(snaps.release) })
	published := []model.InsideMarketChange{}
	e := NewEngine(testInstrument, snaps, func(c model.InsideMarketChange) {
		published = append(published, c)
	})
	ctx := context.Background()

	// A second rebuild starts while the first snapshot round-trip is
	// still in flight, and a live message arrives in between.
	e.beginRebuild(ctx)
	e.beginRebuild(ctx)
	e.onRaw(ctx, openMsg(201, "b2", model.SideBuy, "60", "1"))

	// The first generation's result lands late: it must not finish the
	// build or touch the book.
	e.finishRebuild(ctx, &snapshotResult{gen: e.buildGen - 1, snap: baseSnapshot(100)})
	require.True(t, e.rebuilding)
	assert.Empty(t, e.orders)
	assert.Empty(t, published)

	// The current generation's result completes the build and drains
	// the parked message.
	e.finishRebuild(ctx, &snapshotResult{gen: e.buildGen, snap: feed.Snapshot{
		Sequence: 200,
		Bids:     []feed.SnapshotEntry{entry("b1", "50", "1")},
	}})
	require.False(t, e.rebuilding)
	assert.EqualValues(t, 201, e.lastSeq)
	require.NotEmpty(t, published)
	assert.True(t, published[len(published)-1].New.Bid.Price.Equal(dec("60")))
	checkLevelInvariant(t, e)
}

func TestSnapshotErrorRetriesRebuild(t *testing.T) {
	snaps := &stubSnapshots{
		errs:  []error{assert.AnError},
		queue: []feed.Snapshot{baseSnapshot(100)},
	}
	published := []model.InsideMarketChange{}
	e := NewEngine(testInstrument, snaps, func(c model.InsideMarketChange) {
		published = append(published, c)
	})
	e.retryBackoff = 10 * time.Millisecond
	ctx := context.Background()

	e.beginRebuild(ctx)
	// First result carries the fetch error: still rebuilding, retry
	// scheduled.
	pump(t, ctx, e)
	require.True(t, e.rebuilding)
	assert.Empty(t, published)

	// The retry arrives through the inbox, then its snapshot result.
	pump(t, ctx, e)
	pump(t, ctx, e)
	require.False(t, e.rebuilding)
	assert.Equal(t, 2, snaps.fetchCount())
	assert.EqualValues(t, 100, e.lastSeq)
	checkLevelInvariant(t, e)
}

func TestInsideMarketChangeDetection(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{baseSnapshot(100)}}
	e, published := builtEngine(t, snaps)
	ctx := context.Background()
	*published = nil

	// A new order behind the best bid leaves the inside untouched.
	e.onRaw(ctx, openMsg(101, "deep", model.SideBuy, "90", "4"))
	assert.Empty(t, *published)

	// Joining the best level changes its size.
	e.onRaw(ctx, openMsg(102, "join", model.SideBuy, "100", "1"))
	require.Len(t, *published, 1)
	change := (*published)[0]
	assert.Equal(t, testInstrument, change.Instrument)
	assert.True(t, change.Old.Bid.Size.Equal(dec("2")))
	assert.True(t, change.New.Bid.Size.Equal(dec("3")))

	// A change that nets to no new size emits nothing.
	e.onRaw(ctx, feed.Change{
		Header:     feed.Header{Instrument: testInstrument, Sequence: 103},
		OrderID:    "join",
		Side:       model.SideBuy,
		Price:      dec("100"),
		NewSize:    dec("1"),
		HasNewSize: true,
	})
	assert.Len(t, *published, 1, "no-op update must not republish")
	checkLevelInvariant(t, e)
}

func TestMatchReducesMakerAndPrunes(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{baseSnapshot(100)}}
	e, _ := builtEngine(t, snaps)
	ctx := context.Background()

	e.onRaw(ctx, matchMsg(101, "a1", "taker", "101", "1"))
	require.EqualValues(t, 101, e.lastSeq)
	lvl := e.asks.level(dec("101"))
	require.NotNil(t, lvl)
	assert.True(t, lvl.accumulated.Equal(dec("2")))
	checkLevelInvariant(t, e)

	e.onRaw(ctx, matchMsg(102, "a1", "taker", "101", "2"))
	assert.Nil(t, e.asks.level(dec("101")), "fully matched maker removes its level")
	_, exists := e.orders["a1"]
	assert.False(t, exists)
	assert.False(t, e.rebuilding)
	checkLevelInvariant(t, e)
}

func TestMatchUnknownMakerIgnored(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{baseSnapshot(100)}}
	e, _ := builtEngine(t, snaps)
	e.onRaw(context.Background(), matchMsg(101, "ghost", "taker", "101", "1"))
	assert.False(t, e.rebuilding)
	assert.EqualValues(t, 101, e.lastSeq)
}

func TestMatchPriorityViolationForcesRebuild(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{
		{
			Sequence: 100,
			Asks: []feed.SnapshotEntry{
				entry("first", "101", "1"),
				entry("second", "101", "1"),
			},
		},
		baseSnapshot(200),
	}}
	e, _ := builtEngine(t, snaps)
	ctx := context.Background()

	// Matching the later order while the earlier one still rests
	// breaks FIFO and must be treated as a desync.
	e.onRaw(ctx, matchMsg(101, "second", "taker", "101", "1"))
	require.True(t, e.rebuilding, "priority violation forces a rebuild")

	pump(t, ctx, e)
	assert.False(t, e.rebuilding)
	assert.Equal(t, 2, snaps.fetchCount())
}

func TestDoneRemovesOrderAndToleratesUnknown(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{baseSnapshot(100)}}
	e, _ := builtEngine(t, snaps)
	ctx := context.Background()

	e.onRaw(ctx, feed.Done{
		Header:  feed.Header{Instrument: testInstrument, Sequence: 101},
		OrderID: "b1",
		Reason:  feed.DoneReasonCanceled,
	})
	_, exists := e.orders["b1"]
	assert.False(t, exists)
	assert.Equal(t, 0, e.bids.depth())

	// Done for an already-removed order is not an error.
	e.onRaw(ctx, feed.Done{
		Header:  feed.Header{Instrument: testInstrument, Sequence: 102},
		OrderID: "b1",
	})
	assert.False(t, e.rebuilding)
	assert.EqualValues(t, 102, e.lastSeq)
}

func TestStreamErrorLoggedOnly(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{baseSnapshot(100)}}
	e, _ := builtEngine(t, snaps)
	e.onRaw(context.Background(), feed.StreamError{Text: "oops"})
	assert.False(t, e.rebuilding, "error payloads never affect sequencing")
	assert.EqualValues(t, 100, e.lastSeq)
}

func TestRunLoop(t *testing.T) {
	snaps := &stubSnapshots{queue: []feed.Snapshot{baseSnapshot(100)}}
	changes := make(chan model.InsideMarketChange, 16)
	e := NewEngine(testInstrument, snaps, func(c model.InsideMarketChange) {
		changes <- c
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	// Initial build publishes the snapshot's inside market.
	select {
	case c := <-changes:
		assert.True(t, c.New.Bid.Price.Equal(dec("100")))
		assert.True(t, c.New.Ask.Price.Equal(dec("101")))
	case <-time.After(2 * time.Second):
		t.Fatal("no inside market after initial build")
	}

	e.Post(openMsg(101, "better", model.SideBuy, "100.5", "1"))
	select {
	case c := <-changes:
		assert.True(t, c.New.Bid.Price.Equal(dec("100.5")))
	case <-time.After(2 * time.Second):
		t.Fatal("no inside market change after update")
	}
}
