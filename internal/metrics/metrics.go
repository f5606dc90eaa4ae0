package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	OrdersPlaced   *prometheus.CounterVec // labels: side, type
	OrdersRejected *prometheus.CounterVec // labels: kind
	FillsTotal     *prometheus.CounterVec // labels: side
	FillSlippage   prometheus.Histogram
	Commission     prometheus.Counter

	PersistErrors   *prometheus.CounterVec // labels: op
	SQLiteCommitDur *prometheus.HistogramVec

	PortfolioValue prometheus.Gauge
	Cash           prometheus.Gauge
	Drawdown       prometheus.Gauge
	PortfolioHeat  prometheus.Gauge

	WashSaleRestrictions prometheus.Gauge
	HarvestsTotal        prometheus.Counter
	HarvestTaxBenefit    prometheus.Counter

	PriceCacheLookups        *prometheus.CounterVec // labels: result=hit|miss
	RedisCircuitBreakerState prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	FeedQuotes     prometheus.Counter
	FeedReconnects prometheus.Counter

	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_placed_total",
			Help: "Orders accepted by the venue",
		}, []string{"side", "type"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Orders rejected, by error kind",
		}, []string{"kind"}),
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_fills_total",
			Help: "Executed trades",
		}, []string{"side"}),
		FillSlippage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_fill_slippage_dollars",
			Help:    "Per-share slippage applied to fills",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Commission: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_commission_dollars_total",
			Help: "Commission charged",
		}),

		PersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_persist_errors_total",
			Help: "Store writes that failed after the in-memory change was applied",
		}, []string{"op"}),
		SQLiteCommitDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_sqlite_commit_duration_seconds",
			Help:    "SQLite transaction latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_portfolio_value_dollars",
			Help: "Cash plus positions marked to market",
		}),
		Cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_cash_dollars",
			Help: "Available cash",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_drawdown_ratio",
			Help: "Current drawdown from peak value",
		}),
		PortfolioHeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_portfolio_heat_ratio",
			Help: "Total exposure over portfolio value",
		}),

		WashSaleRestrictions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_wash_sale_restrictions",
			Help: "Symbols currently inside a wash-sale window",
		}),
		HarvestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_harvests_total",
			Help: "Completed tax-loss harvests",
		}),
		HarvestTaxBenefit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_harvest_tax_benefit_dollars_total",
			Help: "Estimated tax benefit of completed harvests",
		}),

		PriceCacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_price_cache_lookups_total",
			Help: "Redis price cache lookups",
		}, []string{"result"}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		FeedQuotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_feed_quotes_total",
			Help: "Quotes received from the price feed",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_feed_reconnects_total",
			Help: "Price feed reconnection attempts",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.OrdersPlaced,
		m.OrdersRejected,
		m.FillsTotal,
		m.FillSlippage,
		m.Commission,
		m.PersistErrors,
		m.SQLiteCommitDur,
		m.PortfolioValue,
		m.Cash,
		m.Drawdown,
		m.PortfolioHeat,
		m.WashSaleRestrictions,
		m.HarvestsTotal,
		m.HarvestTaxBenefit,
		m.PriceCacheLookups,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.FeedQuotes,
		m.FeedReconnects,
		m.MarketState,
	)
	return m
}

// ObserveFill records one executed trade.
func (m *Metrics) ObserveFill(side string, slippage, commission float64) {
	m.FillsTotal.WithLabelValues(side).Inc()
	m.FillSlippage.Observe(slippage)
	m.Commission.Add(commission)
}

// ObserveCommit records a store transaction.
func (m *Metrics) ObserveCommit(op string, seconds float64) {
	m.SQLiteCommitDur.WithLabelValues(op).Observe(seconds)
}

// SetPortfolio updates the valuation gauges.
func (m *Metrics) SetPortfolio(total, cash, drawdown, heat float64) {
	m.PortfolioValue.Set(total)
	m.Cash.Set(cash)
	m.Drawdown.Set(drawdown)
	m.PortfolioHeat.Set(heat)
}

// SetBreakerState records a circuit breaker transition to state.
func (m *Metrics) SetBreakerState(state int) {
	m.RedisCircuitBreakerState.Set(float64(state))
	if state == 1 {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// CacheLookup counts a price cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PriceCacheLookups.WithLabelValues(result).Inc()
}
