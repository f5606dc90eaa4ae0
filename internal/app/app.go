// Package app wires the engine components from a config.Config. Binaries
// build an App, attach their own hooks and close it on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"trading-engine/config"
	"trading-engine/internal/broker/alpaca"
	"trading-engine/internal/execution"
	"trading-engine/internal/harvest"
	"trading-engine/internal/ledger"
	"trading-engine/internal/marketdata"
	"trading-engine/internal/marketdata/ws"
	"trading-engine/internal/model"
	"trading-engine/internal/notification"
	"trading-engine/internal/risk"
	"trading-engine/internal/store/redis"
	"trading-engine/internal/store/sqlite"
	"trading-engine/internal/washsale"
)

// Options adjust what Build connects to.
type Options struct {
	DBPath string // overrides SQLITE_PATH
	NoFeed bool   // skip the websocket feed (one-shot CLIs)
}

// App holds the wired components. Ledger and Harvester are nil in live
// mode; Broker is nil in paper mode. Feed and Redis are nil unless
// configured.
type App struct {
	Config *config.Config
	Log    *slog.Logger

	Store  *sqlite.Store
	Prices *marketdata.StaticPrices
	Feed   *ws.Feed
	Redis  *redis.Client
	Cache  *redis.PriceCache
	Oracle model.PriceOracle

	Ledger    *ledger.Ledger
	Broker    *alpaca.Broker
	Venue     execution.Venue
	Portfolio risk.Portfolio

	Risk      *risk.Calculator
	Tracker   *washsale.Tracker
	Manager   *execution.Manager
	Harvester *harvest.Harvester
	Notifier  notification.Notifier
}

// Build opens the store, restores ledger and wash-sale state and wires the
// order path. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, opts Options, log *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	path := cfg.SQLitePath
	if opts.DBPath != "" {
		path = opts.DBPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("app: create data dir: %w", err)
		}
	}
	a.Store, err = sqlite.Open(ctx, sqlite.Config{Path: path, Driver: cfg.SQLiteDriver, PoolSize: cfg.SQLitePoolSize}, log)
	if err != nil {
		return nil, err
	}

	a.Notifier = buildNotifier(cfg, log)
	a.buildOracle(cfg, opts, log)

	switch cfg.Mode {
	case config.ModeLive:
		a.Broker = alpaca.New(alpaca.Options{
			KeyID:     cfg.AlpacaKeyID,
			SecretKey: cfg.AlpacaSecretKey,
			BaseURL:   cfg.AlpacaBaseURL,
		}, log)
		a.Venue, a.Portfolio = a.Broker, a.Broker
		// Broker quotes back the local chain when the feed and static table miss.
		a.Oracle = marketdata.Fallback{a.Oracle, a.Broker}
	default:
		a.Ledger, err = ledger.New(ctx, cfg.Risk, ledger.Deps{Oracle: a.Oracle, Store: a.Store, Logger: log})
		if err != nil {
			return nil, err
		}
		a.Venue, a.Portfolio = a.Ledger, a.Ledger
	}

	a.Tracker = washsale.NewTracker(a.Store, nil, nil, log)
	if err := a.Tracker.Restore(ctx); err != nil {
		return nil, err
	}

	a.Risk = risk.NewCalculator(cfg.Risk, a.Portfolio, nil)
	a.Manager, err = execution.NewManager(cfg.Risk, execution.Deps{
		Venue:        a.Venue,
		Oracle:       a.Oracle,
		Portfolio:    a.Portfolio,
		Risk:         a.Risk,
		Restrictions: a.Tracker,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	if a.Ledger != nil {
		a.Harvester = harvest.New(cfg.Risk, a.Ledger, a.Tracker, a.Store, a.Notifier, nil, log)
		if err := a.Harvester.Restore(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// buildOracle chains the feed (if any) before the static table and puts the
// Redis cache (if any) in front.
func (a *App) buildOracle(cfg *config.Config, opts Options, log *slog.Logger) {
	a.Prices = marketdata.NewStaticPrices(cfg.ParsePaperPrices())
	chain := marketdata.Fallback{}

	if cfg.PriceFeedURL != "" && !opts.NoFeed {
		feed, err := ws.New(ws.Config{URL: cfg.PriceFeedURL, Symbols: a.Prices.Symbols()}, nil, log)
		if err != nil {
			log.Warn("price feed disabled", slog.Any("error", err))
		} else {
			a.Feed = feed
			chain = append(chain, feed)
		}
	}
	chain = append(chain, a.Prices)
	a.Oracle = chain

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}, log)
		a.Cache = redis.NewPriceCache(a.Redis, chain, cfg.PriceCacheTTL)
		a.Oracle = a.Cache
		if a.Feed != nil {
			a.Feed.OnQuote = func(q ws.Quote) {
				a.Cache.Put(context.Background(), q.Symbol, q.Price)
			}
		}
	}
}

func buildNotifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL, log))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log))
	}
	return n
}

// Close releases the store and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
