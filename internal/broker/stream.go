package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"invest_go/internal/infra"
)

// QuoteCache holds the freshest known last-traded price per instrument.
// A single writer (the stream worker) updates it; the trading loop reads.
type QuoteCache struct {
	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	updated map[string]time.Time
}

// NewQuoteCache creates an empty quote cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		prices:  make(map[string]decimal.Decimal),
		updated: make(map[string]time.Time),
	}
}

// Set stores a price update.
func (q *QuoteCache) Set(instrumentID string, price decimal.Decimal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prices[instrumentID] = price
	q.updated[instrumentID] = time.Now()
}

// Get returns the cached price and whether one exists.
func (q *QuoteCache) Get(instrumentID string) (decimal.Decimal, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	price, ok := q.prices[instrumentID]
	return price, ok
}

// Age returns how old the cached price is, or a negative duration if there
// is no quote at all.
func (q *QuoteCache) Age(instrumentID string) time.Duration {
	q.mu.RLock()
	defer q.mu.RUnlock()
	ts, ok := q.updated[instrumentID]
	if !ok {
		return -1
	}
	return time.Since(ts)
}

// QuoteStream keeps a websocket subscription to the brokerage market-data
// feed and funnels last-price updates into a QuoteCache. It reconnects with
// exponential backoff and keeps the connection alive with pings.
type QuoteStream struct {
	url         string
	token       string
	instruments []string
	cache       *QuoteCache

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// NewQuoteStream creates a stream worker for the given instruments.
func NewQuoteStream(url, token string, instruments []string, cache *QuoteCache) *QuoteStream {
	return &QuoteStream{
		url:          url,
		token:        token,
		instruments:  instruments,
		cache:        cache,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Start initiates the connection loop.
func (s *QuoteStream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runLoop(ctx)
}

// Stop terminates the worker.
func (s *QuoteStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.close()
	s.wg.Wait()
}

func (s *QuoteStream) runLoop(ctx context.Context) {
	defer s.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			slog.Warn("quote stream connection failed",
				slog.Any("error", err),
				slog.Int("retry", retry))
			delay := streamBackoff.Delay(retry)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0 // reset on successful connect
		s.readLoop(ctx)
	}
}

func (s *QuoteStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := s.subscribe(); err != nil {
		s.close()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	go s.pingLoop(ctx)

	slog.Info("quote stream connected", slog.Int("instruments", len(s.instruments)))
	return nil
}

func (s *QuoteStream) subscribe() error {
	msg := map[string]any{
		"op":          "subscribe",
		"channel":     "last_price",
		"token":       s.token,
		"instruments": s.instruments,
	}
	return s.writeJSON(msg)
}

func (s *QuoteStream) writeJSON(v any) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (s *QuoteStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

type quoteMessage struct {
	Channel      string          `json:"channel"`
	InstrumentID string          `json:"instrument_id"`
	Price        decimal.Decimal `json:"price"`
}

func (s *QuoteStream) readLoop(ctx context.Context) {
	defer s.close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("quote stream read failed", slog.Any("error", err))
			return
		}

		var msg quoteMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // pongs and acks are not quote payloads
		}
		if msg.Channel != "last_price" || msg.InstrumentID == "" || !msg.Price.IsPositive() {
			continue
		}
		s.cache.Set(msg.InstrumentID, msg.Price)
	}
}

func (s *QuoteStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// streamBackoff paces reconnect attempts: 1s doubling up to 60s.
var streamBackoff = infra.NewBackoff(time.Second, 60*time.Second)
