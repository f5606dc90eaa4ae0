package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-engine/config"
	"trading-engine/internal/app"
	"trading-engine/internal/harvest"
	"trading-engine/internal/logger"
	"trading-engine/internal/marketdata/ws"
	"trading-engine/internal/markethours"
	"trading-engine/internal/metrics"
	"trading-engine/internal/model"
	"trading-engine/internal/notification"
	"trading-engine/internal/store/redis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.Init("engine", logger.ParseLevel(cfg.LogLevel))
	log.Info("starting", slog.String("mode", string(cfg.Mode)), slog.String("db", cfg.SQLitePath))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, app.Options{}, log)
	if err != nil {
		log.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.Close()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus(nil)
	wireMetrics(a, prom, health)

	srv := metrics.NewServer(cfg.MetricsAddr, reg, health, log)
	srv.Start()

	var redisPinger metrics.Pinger
	if a.Redis != nil {
		redisPinger = a.Redis
	}
	health.StartLivenessChecker(ctx, redisPinger, a.Store, 10*time.Second)

	// ---- Price feed ----
	if a.Feed != nil {
		go func() {
			if err := a.Feed.Run(ctx); err != nil {
				log.Error("price feed stopped", slog.Any("error", err))
			}
			health.SetFeedConnected(false)
		}()
	}

	// ---- Periodic jobs ----
	go every(ctx, cfg.SnapshotInterval, func() { snapshot(ctx, a, prom) })
	go every(ctx, cfg.CleanupInterval, func() { cleanup(ctx, a, prom) })
	if a.Harvester != nil {
		go every(ctx, time.Hour, func() { scanHarvest(ctx, a) })
	}

	log.Info("engine ready",
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.Bool("redis", a.Redis != nil),
		slog.Bool("feed", a.Feed != nil),
		slog.String("market", markethours.StatusString(time.Now())),
	)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if a.Ledger != nil {
		if _, err := a.Ledger.RecordSnapshot(shutdownCtx); err != nil {
			log.Error("final snapshot failed", slog.Any("error", err))
		}
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("metrics server shutdown", slog.Any("error", err))
	}
	log.Info("stopped")
}

// wireMetrics attaches metric hooks to every component that exposes them.
func wireMetrics(a *app.App, prom *metrics.Metrics, health *metrics.HealthStatus) {
	a.Store.OnCommit = func(op string, d time.Duration, _ error) {
		prom.ObserveCommit(op, d.Seconds())
	}
	persistErr := func(op string, _ error) { prom.PersistErrors.WithLabelValues(op).Inc() }
	a.Tracker.OnPersistError = persistErr

	reject := func(err error) { prom.OrdersRejected.WithLabelValues(model.KindOf(err).String()).Inc() }
	a.Manager.OnReject = reject
	a.Manager.OnPlaced = func(o model.Order) {
		prom.OrdersPlaced.WithLabelValues(string(o.Side), string(o.Type)).Inc()
	}

	if a.Ledger != nil {
		a.Ledger.OnReject = reject
		a.Ledger.OnPersistError = persistErr
		a.Ledger.OnFill = func(t model.Trade) {
			slip, _ := t.Slippage.Float64()
			comm, _ := t.Commission.Float64()
			prom.ObserveFill(string(t.Side), slip, comm)
			if a.Redis != nil {
				if err := a.Redis.PublishFill(context.Background(), t); err != nil {
					a.Log.Debug("publish fill failed", slog.Any("error", err))
				}
			}
		}
	}
	if a.Harvester != nil {
		a.Harvester.OnPersistError = persistErr
		a.Harvester.OnHarvest = func(r harvest.Result) {
			prom.HarvestsTotal.Inc()
			benefit, _ := r.TaxBenefit.Float64()
			prom.HarvestTaxBenefit.Add(benefit)
		}
	}
	if a.Redis != nil {
		a.Redis.Breaker().OnStateChange = func(from, to redis.State) {
			a.Log.Warn("redis circuit breaker transition", slog.String("from", from.String()), slog.String("to", to.String()))
			prom.SetBreakerState(int(to))
		}
		a.Cache.OnLookup = prom.CacheLookup
	}
	if a.Feed != nil {
		a.Feed.OnReconnect = func() {
			prom.FeedReconnects.Inc()
			health.SetFeedConnected(false)
		}
		cacheQuote := a.Feed.OnQuote
		a.Feed.OnQuote = func(q ws.Quote) {
			prom.FeedQuotes.Inc()
			health.SetLastQuoteTime(q.TS)
			if cacheQuote != nil {
				cacheQuote(q)
			}
		}
	}
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// snapshot records performance, refreshes gauges and alerts on halted limits.
func snapshot(ctx context.Context, a *app.App, prom *metrics.Metrics) {
	if markethours.IsMarketOpen(time.Now()) {
		prom.MarketState.Set(1)
	} else {
		prom.MarketState.Set(0)
	}
	if a.Ledger != nil {
		if _, err := a.Ledger.RecordSnapshot(ctx); err != nil {
			a.Log.Error("snapshot failed", slog.Any("error", err))
		}
	}

	st, err := a.Risk.Status(ctx)
	if err != nil {
		a.Log.Warn("risk status unavailable", slog.Any("error", err))
		return
	}
	v, err := a.Portfolio.Valuation(ctx)
	if err != nil {
		a.Log.Warn("valuation unavailable", slog.Any("error", err))
		return
	}
	total, _ := v.TotalValue.Float64()
	cash, _ := v.Cash.Float64()
	prom.SetPortfolio(total, cash, st.Drawdown, st.Heat)

	if st.DailyHalted || st.WeeklyHalted || st.DrawdownHalted {
		notify(ctx, a, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "Trading halted by risk limits",
			Message: fmt.Sprintf("daily=%v weekly=%v drawdown=%v", st.DailyHalted, st.WeeklyHalted, st.DrawdownHalted),
			Fields: map[string]string{
				"portfolio_value": v.TotalValue.StringFixed(2),
				"drawdown":        fmt.Sprintf("%.2f%%", st.Drawdown*100),
			},
			Time: time.Now(),
		})
	}
}

func cleanup(ctx context.Context, a *app.App, prom *metrics.Metrics) {
	n, err := a.Tracker.ClearExpiredRecords(ctx)
	if err != nil {
		a.Log.Error("wash-sale cleanup failed", slog.Any("error", err))
	} else if n > 0 {
		a.Log.Info("wash-sale records expired", slog.Int("count", n))
	}
	prom.WashSaleRestrictions.Set(float64(len(a.Tracker.ActiveRestrictions())))
}

// scanHarvest alerts on harvestable losses. Execution is left to cmd/harvest.
func scanHarvest(ctx context.Context, a *app.App) {
	opps, err := a.Harvester.ScanOpportunities(ctx)
	if err != nil {
		a.Log.Warn("harvest scan failed", slog.Any("error", err))
		return
	}
	if len(opps) == 0 {
		return
	}
	total := opps[0].TaxBenefit
	for _, o := range opps[1:] {
		total = total.Add(o.TaxBenefit)
	}
	notify(ctx, a, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "Tax-loss harvest opportunities",
		Message: fmt.Sprintf("%d positions, top %s", len(opps), opps[0].Symbol),
		Fields:  map[string]string{"estimated_tax_benefit": total.StringFixed(2)},
		Time:    time.Now(),
	})
}

func notify(ctx context.Context, a *app.App, alert notification.Alert) {
	if err := a.Notifier.Send(ctx, alert); err != nil {
		a.Log.Warn("notify failed", slog.Any("error", err))
	}
}
