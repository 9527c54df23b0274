package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/feed"
	"main/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubEntry struct {
	mu             sync.Mutex
	placed         []feed.NewOrder
	cancelled      []model.ExchangeOrderID
	result         feed.PlaceResult
	err            error
	watchedAtPlace bool
	onPlace        func()
}

func (s *stubEntry) PlaceOrder(_ context.Context, order feed.NewOrder) (feed.PlaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placed = append(s.placed, order)
	if s.onPlace != nil {
		s.onPlace()
	}
	return s.result, s.err
}

func (s *stubEntry) CancelOrder(_ context.Context, id model.ExchangeOrderID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return nil
}

func newOrder(cid string) feed.NewOrder {
	return feed.NewOrder{
		ClientOrderID: model.ClientOrderID(cid),
		Instrument:    "BTC-USD",
		Side:          model.SideBuy,
		Type:          model.OrderTypeLimit,
		Price:         dec("100"),
		HasPrice:      true,
		Size:          dec("5"),
	}
}

func receivedMsg(cid, eid string) feed.Received {
	return feed.Received{
		Header:        feed.Header{Instrument: "BTC-USD", Sequence: 1, Time: time.Now().UTC()},
		OrderID:       model.ExchangeOrderID(eid),
		ClientOrderID: model.ClientOrderID(cid),
		Price:         dec("100"),
		HasPrice:      true,
		Size:          dec("5"),
	}
}

func collect(ch <-chan Event) Event {
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		return nil
	}
}

func TestSubmitRegistersBeforePlacement(t *testing.T) {
	entry := &stubEntry{}
	r := New(entry)
	entry.onPlace = func() {
		entry.watchedAtPlace = r.WatchedByClient("cid-1")
	}

	require.NoError(t, r.Submit(context.Background(), newOrder("cid-1")))
	assert.True(t, entry.watchedAtPlace,
		"watch entry must exist before the placement call is issued")
	assert.True(t, r.WatchedByClient("cid-1"))
}

func TestSubmitSynthesizesRejection(t *testing.T) {
	entry := &stubEntry{result: feed.PlaceResult{RejectReason: "insufficient funds"}}
	r := New(entry)
	events, cancel := r.Subscribe()
	defer cancel()

	require.NoError(t, r.Submit(context.Background(), newOrder("cid-2")))

	ev := collect(events)
	require.NotNil(t, ev)
	rejected, ok := ev.(Rejected)
	require.True(t, ok)
	assert.Equal(t, model.ClientOrderID("cid-2"), rejected.ClientOrderID)
	assert.Equal(t, "insufficient funds", rejected.Reason)
	assert.False(t, r.WatchedByClient("cid-2"), "rejected order leaves the watch-list")
}

func TestSubmitValidation(t *testing.T) {
	r := New(&stubEntry{})
	err := r.Submit(context.Background(), feed.NewOrder{Size: dec("1")})
	assert.Error(t, err)

	nos := newOrder("cid-3")
	nos.Size = decimal.Decimal{}
	assert.Error(t, r.Submit(context.Background(), nos))
}

func TestAcknowledgeBindsExchangeID(t *testing.T) {
	entry := &stubEntry{}
	r := New(entry)
	events, cancel := r.Subscribe()
	defer cancel()

	require.NoError(t, r.Submit(context.Background(), newOrder("cid-4")))
	r.OnMessage(receivedMsg("cid-4", "ex-4"))

	ev := collect(events)
	ack, ok := ev.(Acknowledged)
	require.True(t, ok)
	assert.Equal(t, model.ExchangeOrderID("ex-4"), ack.ExchangeOrderID)
	assert.True(t, ack.Price.Equal(dec("100")))
	assert.True(t, r.WatchedByExchange("ex-4"))
}

func TestAcknowledgeDerivesPriceFromFunds(t *testing.T) {
	entry := &stubEntry{}
	r := New(entry)
	events, cancel := r.Subscribe()
	defer cancel()

	nos := newOrder("cid-5")
	nos.Type = model.OrderTypeMarket
	nos.HasPrice = false
	require.NoError(t, r.Submit(context.Background(), nos))

	msg := receivedMsg("cid-5", "ex-5")
	msg.HasPrice = false
	msg.Price = decimal.Decimal{}
	msg.Funds = dec("500")
	msg.HasFunds = true
	msg.Size = dec("5")
	r.OnMessage(msg)

	ack := collect(events).(Acknowledged)
	assert.True(t, ack.HasPrice)
	assert.True(t, ack.Price.Equal(dec("100")), "price = funds / size")
}

func TestReceivedForUnknownClientIgnored(t *testing.T) {
	r := New(&stubEntry{})
	events, cancel := r.Subscribe()
	defer cancel()

	r.OnMessage(receivedMsg("stranger", "ex-x"))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, r.WatchedByExchange("ex-x"))
}

func TestMatchEmitsFilledForMakerOrTaker(t *testing.T) {
	entry := &stubEntry{}
	r := New(entry)
	events, cancel := r.Subscribe()
	defer cancel()

	require.NoError(t, r.Submit(context.Background(), newOrder("cid-6")))
	r.OnMessage(receivedMsg("cid-6", "ex-6"))
	collect(events) // ack

	r.OnMessage(feed.Match{
		Header:       feed.Header{Sequence: 2},
		MakerOrderID: "other",
		TakerOrderID: "ex-6",
		Price:        dec("100"),
		Size:         dec("2"),
	})

	filled := collect(events).(Filled)
	assert.Equal(t, model.ClientOrderID("cid-6"), filled.ClientOrderID)
	assert.True(t, filled.FilledSize.Equal(dec("2")))
	assert.True(t, filled.WorkingSize.Equal(dec("3")), "working size decremented by traded size")
}

func TestDoneCleansWatchListRegardlessOfReason(t *testing.T) {
	for _, reason := range []string{feed.DoneReasonCanceled, "filled"} {
		entry := &stubEntry{}
		r := New(entry)
		events, cancel := r.Subscribe()

		require.NoError(t, r.Submit(context.Background(), newOrder("cid-7")))
		r.OnMessage(receivedMsg("cid-7", "ex-7"))
		collect(events) // ack

		r.OnMessage(feed.Done{
			Header:        feed.Header{Sequence: 3},
			OrderID:       "ex-7",
			Reason:        reason,
			Price:         dec("100"),
			HasPrice:      true,
			RemainingSize: dec("2"),
		})

		if reason == feed.DoneReasonCanceled {
			cancelled := collect(events).(Cancelled)
			assert.True(t, cancelled.RemainingSize.Equal(dec("2")))
		}
		assert.False(t, r.WatchedByExchange("ex-7"), reason)
		assert.False(t, r.WatchedByClient("cid-7"), reason)
		cancel()
	}
}

func TestChangeEmitsSizeChanged(t *testing.T) {
	entry := &stubEntry{}
	r := New(entry)
	events, cancel := r.Subscribe()
	defer cancel()

	require.NoError(t, r.Submit(context.Background(), newOrder("cid-8")))
	r.OnMessage(receivedMsg("cid-8", "ex-8"))
	collect(events) // ack

	r.OnMessage(feed.Change{
		Header:     feed.Header{Sequence: 4},
		OrderID:    "ex-8",
		NewSize:    dec("1"),
		HasNewSize: true,
	})

	changed := collect(events).(SizeChanged)
	assert.True(t, changed.NewSize.Equal(dec("1")))
}

func TestCancelForwardsToOrderEntry(t *testing.T) {
	entry := &stubEntry{}
	r := New(entry)
	require.NoError(t, r.Cancel(context.Background(), "ex-9"))
	require.Len(t, entry.cancelled, 1)
	assert.Equal(t, model.ExchangeOrderID("ex-9"), entry.cancelled[0])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	entry := &stubEntry{}
	r := New(entry)
	events, cancel := r.Subscribe()
	cancel()

	require.NoError(t, r.Submit(context.Background(), newOrder("cid-10")))
	r.OnMessage(receivedMsg("cid-10", "ex-10"))

	select {
	case ev := <-events:
		t.Fatalf("unexpected delivery after unsubscribe: %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
