// Package ws streams last-trade quotes from a JSON WebSocket feed and serves
// them as a model.PriceOracle.
//
// Wire format, one object per text message:
//
//	{"symbol":"AAPL","price":"150.25","ts":"2026-03-02T15:00:00Z"}
//
// price may be a JSON string or number; ts is optional.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"trading-engine/internal/logger"
	"trading-engine/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Config configures the feed.
type Config struct {
	// URL of the quote server, e.g. "ws://localhost:9001/quotes".
	URL string

	// Symbols sent in a subscribe message after connecting. Empty means
	// the server pushes everything.
	Symbols []string

	// MaxAge rejects quotes older than this. Defaults to 1 minute.
	MaxAge time.Duration

	// ReconnectDelay is the first backoff, doubled up to MaxReconnectDelay.
	// Defaults 2s and 30s.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.MaxAge == 0 {
		c.MaxAge = time.Minute
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Quote is one price update.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TS     time.Time       `json:"ts"`
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Feed keeps the latest quote per symbol.
type Feed struct {
	cfg Config
	now func() time.Time
	log *slog.Logger

	mu     sync.RWMutex
	quotes map[string]Quote

	// Optional hooks.
	OnReconnect func()
	OnQuote     func(q Quote)
}

// New validates the URL and creates a Feed. clock may be nil.
func New(cfg Config, clock func() time.Time, log *slog.Logger) (*Feed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws feed: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws feed: unsupported scheme %q", u.Scheme)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Feed{
		cfg:    cfg,
		now:    clock,
		log:    logger.Component(log, "ws_feed"),
		quotes: make(map[string]Quote),
	}, nil
}

// Run connects and reads quotes until ctx is cancelled, reconnecting with
// exponential backoff.
func (f *Feed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}
		f.log.Warn("disconnected, reconnecting", slog.Any("error", err), slog.Duration("delay", delay))
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce reads one connection until it fails. connected reports whether
// the dial succeeded.
func (f *Feed) runOnce(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	f.log.Info("connected", slog.String("url", f.cfg.URL))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	if len(f.cfg.Symbols) > 0 {
		if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Symbols: f.cfg.Symbols}); err != nil {
			return true, fmt.Errorf("subscribe: %w", err)
		}
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		q, err := parseQuote(msg)
		if err != nil {
			f.log.Debug("bad quote", slog.Any("error", err))
			continue
		}
		if q.TS.IsZero() {
			q.TS = f.now()
		}
		f.Update(q)
	}
}

func parseQuote(msg []byte) (Quote, error) {
	var q Quote
	if err := json.Unmarshal(msg, &q); err != nil {
		return Quote{}, err
	}
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return Quote{}, errors.New("missing symbol")
	}
	if !q.Price.IsPositive() {
		return Quote{}, fmt.Errorf("non-positive price for %s", q.Symbol)
	}
	return q, nil
}

// Update stores q if it is newer than the held quote.
func (f *Feed) Update(q Quote) {
	f.mu.Lock()
	if cur, ok := f.quotes[q.Symbol]; ok && q.TS.Before(cur.TS) {
		f.mu.Unlock()
		return
	}
	f.quotes[q.Symbol] = q
	f.mu.Unlock()
	if f.OnQuote != nil {
		f.OnQuote(q)
	}
}

// Latest returns the held quote for symbol.
func (f *Feed) Latest(symbol string) (Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[strings.ToUpper(symbol)]
	return q, ok
}

// GetMarketPrice returns the latest quote if it is no older than MaxAge.
func (f *Feed) GetMarketPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	q, ok := f.Latest(sym)
	if !ok {
		return decimal.Zero, model.Reject(model.ErrPriceUnavailable, "No price available for %s", sym)
	}
	if age := f.now().Sub(q.TS); age > f.cfg.MaxAge {
		return decimal.Zero, model.Reject(model.ErrPriceUnavailable,
			"Price for %s is stale (%s old)", sym, age.Truncate(time.Second))
	}
	return q.Price, nil
}
