// Package gdax implements the exchange transports: the live
// full-channel websocket stream and the signed REST client used for
// order entry and depth snapshots.
package gdax

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/feed"
	"main/internal/model"
	"main/pkg/exception"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultPingInterval     = 30 * time.Second
)

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
}

// Stream keeps one websocket connection to the full channel alive,
// resubscribing and replaying the product set after every reconnect.
// It satisfies feed.Stream.
type Stream struct {
	url          string
	dialTimeout  time.Duration
	readTimeout  time.Duration
	pingInterval time.Duration
	backoff      Backoff

	mu       sync.Mutex
	conn     *websocket.Conn
	products []model.Instrument

	writeMu sync.Mutex

	onMessage   []func(feed.Message)
	onReconnect []func()

	startOnce sync.Once
	wg        sync.WaitGroup
}

func NewStream(url string) *Stream {
	return &Stream{
		url:          url,
		dialTimeout:  defaultHandshakeTimeout,
		readTimeout:  defaultReadTimeout,
		pingInterval: defaultPingInterval,
		backoff:      DefaultBackoff(),
	}
}

// OnMessage registers a delivery handler. Must be called before Start.
func (s *Stream) OnMessage(handler func(feed.Message)) {
	s.onMessage = append(s.onMessage, handler)
}

// OnReconnect registers a handler fired after the connection is
// re-established following a drop. The first connect does not fire it.
func (s *Stream) OnReconnect(handler func()) {
	s.onReconnect = append(s.onReconnect, handler)
}

// Start launches the connection loop. Repeated calls are no-ops.
func (s *Stream) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

// Wait blocks until the connection loop exits.
func (s *Stream) Wait() { s.wg.Wait() }

// Subscribe adds an instrument to the product set. When connected the
// subscription is sent immediately; either way the instrument is
// replayed on every subsequent reconnect.
func (s *Stream) Subscribe(_ context.Context, instrument model.Instrument) error {
	s.mu.Lock()
	for _, p := range s.products {
		if p == instrument {
			s.mu.Unlock()
			return nil
		}
	}
	s.products = append(s.products, instrument)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	return s.sendSubscribe(conn, []model.Instrument{instrument})
}

func (s *Stream) run(ctx context.Context) {
	defer s.wg.Done()

	attempt := 0
	everConnected := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.connect(ctx)
		if err != nil {
			attempt++
			wait := s.backoff.Next(attempt)
			logs.Warnf("gdax stream: connect failed, retrying in %s: %v", wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0

		if everConnected {
			for _, handler := range s.onReconnect {
				handler()
			}
		}
		everConnected = true

		pingCtx, stopPing := context.WithCancel(ctx)
		go s.pingLoop(pingCtx, conn)
		s.readLoop(conn)
		stopPing()
		s.dropConn()
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.dialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conn = conn
	products := make([]model.Instrument, len(s.products))
	copy(products, s.products)
	s.mu.Unlock()

	if len(products) > 0 {
		if err := s.sendSubscribe(conn, products); err != nil {
			s.dropConn()
			return nil, errors.Wrap(err, "send subscribe")
		}
	}

	logs.Infof("gdax stream: connected to %s", s.url)
	return conn, nil
}

func (s *Stream) sendSubscribe(conn *websocket.Conn, products []model.Instrument) error {
	req := subscribeRequest{Type: "subscribe"}
	for _, p := range products {
		req.ProductIDs = append(req.ProductIDs, string(p))
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal subscribe")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if conn == nil {
		return exception.ErrFeedNotConnected
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			logs.Warnf("gdax stream: read: %v", err)
			return
		}

		msg, err := feed.Parse(data)
		if err != nil {
			logs.Warnf("gdax stream: %v", err)
			continue
		}
		if msg == nil {
			continue
		}
		for _, handler := range s.onMessage {
			handler(msg)
		}
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				logs.Warnf("gdax stream: ping: %v", err)
				return
			}
		}
	}
}

func (s *Stream) dropConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}
