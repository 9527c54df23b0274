// Package ticker multiplexes inside-market updates. One book engine
// runs per subscribed instrument; updates fan out to every consumer
// that subscribed to that instrument.
package ticker

import (
	"context"
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/book"
	"main/internal/feed"
	"main/internal/model"
)

const subscriberBuffer = 64

type subscriber struct {
	ch   chan model.InsideMarketChange
	done chan struct{}
}

// instrumentTicker is the per-instrument fan-out node. The engine
// behind it keeps running after the last consumer detaches so a later
// subscriber does not pay for a fresh book build.
type instrumentTicker struct {
	engine *book.Engine

	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
}

func (it *instrumentTicker) publish(change model.InsideMarketChange) {
	it.mu.Lock()
	targets := make([]*subscriber, 0, len(it.subs))
	for _, sub := range it.subs {
		targets = append(targets, sub)
	}
	it.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- change:
		case <-sub.done:
		}
	}
}

// Service routes the raw market-data stream into per-instrument book
// engines and fans the resulting inside-market changes out to
// consumers.
type Service struct {
	ctx       context.Context
	stream    feed.Stream
	snapshots feed.SnapshotSource

	mu    sync.Mutex
	books map[model.Instrument]*instrumentTicker
}

func NewService(ctx context.Context, stream feed.Stream, snapshots feed.SnapshotSource) *Service {
	s := &Service{
		ctx:       ctx,
		stream:    stream,
		snapshots: snapshots,
		books:     make(map[model.Instrument]*instrumentTicker),
	}
	stream.OnMessage(s.route)
	stream.OnReconnect(s.rebuildAll)
	return s
}

// route delivers one raw message to the engine of its instrument.
// Messages for instruments nobody subscribed to are dropped.
func (s *Service) route(msg feed.Message) {
	instrument := msg.Head().Instrument
	s.mu.Lock()
	it, ok := s.books[instrument]
	s.mu.Unlock()
	if !ok {
		return
	}
	it.engine.Post(msg)
}

// rebuildAll fires after the transport re-establishes its connection.
// Every sequence chain broke, so every book rebuilds.
func (s *Service) rebuildAll() {
	s.mu.Lock()
	targets := make([]*instrumentTicker, 0, len(s.books))
	for _, it := range s.books {
		targets = append(targets, it)
	}
	s.mu.Unlock()

	logs.Warnf("ticker: stream reconnected, rebuilding %d books", len(targets))
	for _, it := range targets {
		it.engine.RequestRebuild()
	}
}

// Subscribe attaches a consumer to an instrument's inside-market
// updates, starting the instrument's book engine on first use. The
// returned cancel function detaches the consumer.
func (s *Service) Subscribe(instrument model.Instrument) (<-chan model.InsideMarketChange, func(), error) {
	s.mu.Lock()
	it, ok := s.books[instrument]
	if !ok {
		it = &instrumentTicker{subs: make(map[uint64]*subscriber)}
		it.engine = book.NewEngine(instrument, s.snapshots, it.publish)
		s.books[instrument] = it
	}
	s.mu.Unlock()

	if !ok {
		// The subscribe frame is a network write. Sending it outside
		// the lock keeps route from stalling behind a slow transport.
		if err := s.stream.Subscribe(s.ctx, instrument); err != nil {
			s.mu.Lock()
			delete(s.books, instrument)
			s.mu.Unlock()
			return nil, nil, err
		}
		go it.engine.Run(s.ctx)
	}

	sub := &subscriber{
		ch:   make(chan model.InsideMarketChange, subscriberBuffer),
		done: make(chan struct{}),
	}
	it.mu.Lock()
	id := it.nextSub
	it.nextSub++
	it.subs[id] = sub
	it.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			it.mu.Lock()
			delete(it.subs, id)
			it.mu.Unlock()
			close(sub.done)
		})
	}
	return sub.ch, cancel, nil
}
