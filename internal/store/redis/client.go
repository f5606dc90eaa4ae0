// Package redis provides the Redis-backed price cache and fill publisher.
// Every call goes through a CircuitBreaker so an unavailable Redis degrades
// to the underlying source instead of stalling order flow.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-engine/internal/logger"

	goredis "github.com/go-redis/redis/v8"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// Breaker settings; zero values use 5 failures and 10s.
	MaxFailures  int
	ResetTimeout time.Duration
}

// Client is a Redis connection guarded by a circuit breaker.
type Client struct {
	rdb     *goredis.Client
	breaker *CircuitBreaker
	log     *slog.Logger
}

// NewClient creates a client without contacting the server.
func NewClient(opts Options, log *slog.Logger) *Client {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.ResetTimeout == 0 {
		opts.ResetTimeout = 10 * time.Second
	}
	c := &Client{
		rdb: goredis.NewClient(&goredis.Options{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			MaxRetries:   -1,
		}),
		breaker: NewCircuitBreaker(opts.MaxFailures, opts.ResetTimeout, nil),
		log:     logger.Component(log, "redis"),
	}
	c.breaker.OnStateChange = func(from, to State) {
		c.log.Warn("circuit breaker transition", slog.String("from", from.String()), slog.String("to", to.String()))
	}
	return c
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, opts Options, log *slog.Logger) (*Client, error) {
	c := NewClient(opts, log)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	c.log.Info("connected", slog.String("addr", opts.Addr))
	return c, nil
}

// Breaker exposes the circuit breaker for state hooks and health checks.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Ping checks the connection through the breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.breaker.Execute(func() error {
		return c.rdb.Ping(ctx).Err()
	})
}

// Close closes the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }
