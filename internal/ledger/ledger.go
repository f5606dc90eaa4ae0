// Package ledger is the paper-trading portfolio: it owns cash, positions and
// order/trade history, simulates fills with slippage and commission, and
// writes every change through to a LedgerStore.
//
// All mutations of one Ledger are serialized by a single RWMutex. Prices are
// fetched before the lock is taken; validation, mutation and the store commit
// happen inside one critical section, so two concurrent sells can never both
// see the same shares. Readers take the read lock and get copies.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trading-engine/config"
	"trading-engine/internal/logger"
	"trading-engine/internal/markethours"
	"trading-engine/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Session reports whether the market accepts orders at t.
type Session interface {
	IsOpen(t time.Time) bool
}

// Deps are the collaborators of a Ledger.
type Deps struct {
	Oracle  model.PriceOracle
	Store   model.LedgerStore // nil keeps state in memory only
	Session Session           // used when EnforceMarketHours is set; defaults to NYSE hours
	Clock   func() time.Time  // defaults to time.Now
	Logger  *slog.Logger
}

// Ledger is a single simulated portfolio.
type Ledger struct {
	cfg     config.RiskConfig
	oracle  model.PriceOracle
	store   model.LedgerStore
	session Session
	now     func() time.Time
	log     *slog.Logger

	mu              sync.RWMutex
	cash            decimal.Decimal
	initialCash     decimal.Decimal
	positions       map[string]*model.Position
	orders          map[string]*model.Order
	trades          []model.Trade
	peak            decimal.Decimal
	maxDrawdown     float64
	totalCommission decimal.Decimal

	// Callbacks (optional, for metrics)
	OnFill         func(t model.Trade)
	OnReject       func(err error)
	OnPersistError func(op string, err error)
}

// New builds a Ledger and restores any state committed to deps.Store.
// A store read failure aborts construction.
func New(ctx context.Context, cfg config.RiskConfig, deps Deps) (*Ledger, error) {
	if deps.Oracle == nil {
		return nil, fmt.Errorf("ledger: price oracle is required")
	}
	l := &Ledger{
		cfg:         cfg,
		oracle:      deps.Oracle,
		store:       deps.Store,
		now:         deps.Clock,
		log:         logger.Component(deps.Logger, "ledger"),
		cash:        cfg.InitialCash,
		initialCash: cfg.InitialCash,
		peak:        cfg.InitialCash,
		positions:   make(map[string]*model.Position),
		orders:      make(map[string]*model.Order),
		trades:      make([]model.Trade, 0, 256),
	}
	if l.now == nil {
		l.now = time.Now
	}
	if cfg.EnforceMarketHours {
		l.session = deps.Session
		if l.session == nil {
			l.session = markethours.Session{}
		}
	}

	if err := l.restore(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	st, err := l.store.LoadLedger(ctx)
	if err != nil {
		return fmt.Errorf("ledger restore: %w", err)
	}
	if !st.Found {
		if err := l.store.SavePortfolioState(ctx, l.stateLocked()); err != nil {
			return fmt.Errorf("ledger init state: %w", err)
		}
		l.log.Info("initialized new portfolio", slog.String("cash", l.cash.StringFixed(2)))
		return nil
	}

	l.cash = st.State.Cash
	l.initialCash = st.State.InitialCash
	l.peak = st.State.PeakValue
	l.maxDrawdown = st.State.MaxDrawdown
	l.totalCommission = st.State.TotalCommission
	for i := range st.Positions {
		p := st.Positions[i]
		l.positions[p.Symbol] = &p
	}
	for i := range st.Orders {
		o := st.Orders[i]
		l.orders[o.ID] = &o
	}
	l.trades = append(l.trades, st.Trades...)

	l.log.Info("restored portfolio",
		slog.String("cash", l.cash.StringFixed(2)),
		slog.Int("positions", len(l.positions)),
		slog.Int("orders", len(l.orders)),
		slog.Int("trades", len(l.trades)),
	)
	return nil
}

// stateLocked snapshots the portfolio state row. Caller holds mu.
func (l *Ledger) stateLocked() model.PortfolioState {
	return model.PortfolioState{
		Cash:            l.cash,
		InitialCash:     l.initialCash,
		PeakValue:       l.peak,
		TotalCommission: l.totalCommission,
		MaxDrawdown:     l.maxDrawdown,
		UpdatedAt:       l.now(),
	}
}

// persistFailed logs a steady-state write failure. The in-memory change
// stands; the store is behind until the next successful commit.
func (l *Ledger) persistFailed(ctx context.Context, op string, err error) {
	l.log.Error("persist failed, in-memory state kept",
		append(logger.Attrs(ctx), slog.String("op", op), slog.Any("error", err))...)
	if l.OnPersistError != nil {
		l.OnPersistError(op, err)
	}
}

func (l *Ledger) rejected(ctx context.Context, o model.Order, err error) error {
	l.log.Warn("order rejected",
		append(logger.Attrs(ctx),
			slog.String("symbol", o.Symbol),
			slog.String("side", string(o.Side)),
			slog.Int64("qty", o.Quantity),
			slog.String("type", string(o.Type)),
			slog.String("reason", model.Reason(err)),
		)...)
	if l.OnReject != nil {
		l.OnReject(err)
	}
	return err
}

// newID returns prefix + a UUIDv7: 48 bits of millisecond time followed by
// random bits, so ids sort by creation time and do not collide under load.
func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + id.String()
}
