// Package execution is the pre-trade gate. Every order is checked against
// position, concentration, heat, loss and drawdown limits before it is routed
// to a Venue: the paper ledger or a live broker.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-engine/config"
	"trading-engine/internal/logger"
	"trading-engine/internal/model"
	"trading-engine/internal/risk"

	"github.com/shopspring/decimal"
)

// Venue executes orders. Implemented by ledger.Ledger and alpaca.Broker.
type Venue interface {
	PlaceMarketOrder(ctx context.Context, symbol string, qty int64, side model.Side) (model.Order, error)
	PlaceLimitOrder(ctx context.Context, symbol string, qty int64, side model.Side, limit decimal.Decimal) (model.Order, error)
	PlaceStopOrder(ctx context.Context, symbol string, qty int64, side model.Side, stop decimal.Decimal) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) bool
}

// Restrictions reports symbols that may not be bought today.
type Restrictions interface {
	IsRestricted(symbol string) bool
}

// OrderRequest is an order submitted to the gate. LimitPrice is used for
// LIMIT orders and StopPrice for STOP orders.
type OrderRequest struct {
	Symbol     string          `json:"symbol"`
	Side       model.Side      `json:"side"`
	Quantity   int64           `json:"quantity"`
	Type       model.OrderType `json:"type"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	StopPrice  decimal.Decimal `json:"stop_price"`
}

func (r OrderRequest) price() decimal.Decimal {
	switch r.Type {
	case model.OrderLimit:
		return r.LimitPrice
	case model.OrderStop:
		return r.StopPrice
	}
	return decimal.Zero
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Venue        Venue
	Oracle       model.PriceOracle
	Portfolio    risk.Portfolio
	Risk         *risk.Calculator
	Restrictions Restrictions // optional wash-sale block on BUY
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Manager gates and routes orders.
type Manager struct {
	cfg          config.RiskConfig
	venue        Venue
	oracle       model.PriceOracle
	portfolio    risk.Portfolio
	risk         *risk.Calculator
	restrictions Restrictions
	now          func() time.Time
	log          *slog.Logger

	// Callbacks (optional, for metrics)
	OnReject func(err error)         // gate rejections only; venue errors are reported by the venue
	OnPlaced func(order model.Order) // every order the venue accepted
}

// NewManager creates a Manager.
func NewManager(cfg config.RiskConfig, deps Deps) (*Manager, error) {
	if deps.Venue == nil || deps.Oracle == nil || deps.Portfolio == nil || deps.Risk == nil {
		return nil, fmt.Errorf("execution: venue, oracle, portfolio and risk are required")
	}
	m := &Manager{
		cfg:          cfg,
		venue:        deps.Venue,
		oracle:       deps.Oracle,
		portfolio:    deps.Portfolio,
		risk:         deps.Risk,
		restrictions: deps.Restrictions,
		now:          deps.Clock,
		log:          logger.Component(deps.Logger, "execution"),
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// PlaceOrder runs the gate and routes an accepted order to the venue.
// SELL orders skip the exposure and loss checks.
func (m *Manager) PlaceOrder(ctx context.Context, req OrderRequest) (model.Order, error) {
	if req.Type == "" {
		req.Type = model.OrderMarket
	}
	probe, err := model.NewOrder("", req.Symbol, req.Quantity, req.Side, req.Type, req.price(), m.now())
	if err != nil {
		return model.Order{}, m.reject(ctx, req, err)
	}
	req.Symbol = probe.Symbol
	ctx = logger.EnsureTraceID(ctx, req.Symbol, m.now())

	ref := req.price()
	if req.Type == model.OrderMarket {
		p, err := m.oracle.GetMarketPrice(ctx, req.Symbol)
		if err != nil || !p.IsPositive() {
			return model.Order{}, m.reject(ctx, req, model.Reject(model.ErrPriceUnavailable, "No price available for %s", req.Symbol))
		}
		ref = p
	}

	if req.Side == model.SideBuy {
		if err := m.gateBuy(ctx, req, ref); err != nil {
			return model.Order{}, m.reject(ctx, req, err)
		}
	}

	o, err := m.route(ctx, req)
	if err != nil {
		return model.Order{}, err
	}
	m.log.Info("order placed",
		append(logger.Attrs(ctx),
			slog.String("order_id", o.ID),
			slog.String("symbol", o.Symbol),
			slog.String("side", string(o.Side)),
			slog.Int64("qty", o.Quantity),
			slog.String("status", string(o.Status)),
		)...)
	if m.OnPlaced != nil {
		m.OnPlaced(o)
	}
	return o, nil
}

func (m *Manager) gateBuy(ctx context.Context, req OrderRequest, ref decimal.Decimal) error {
	if m.restrictions != nil && m.restrictions.IsRestricted(req.Symbol) {
		return model.Reject(model.ErrWashSale, "Buying %s would trigger a wash sale", req.Symbol)
	}

	v, err := m.portfolio.Valuation(ctx)
	if err != nil {
		return err
	}
	if !v.TotalValue.IsPositive() {
		return model.Reject(model.ErrPositionLimit, "Portfolio value is not positive")
	}

	positionValue := ref.Mul(decimal.NewFromInt(req.Quantity))
	posPct, _ := positionValue.Div(v.TotalValue).Float64()
	if posPct > m.cfg.MaxPositionPct {
		return model.Reject(model.ErrPositionLimit, "Position value %s is %.1f%% of portfolio, maximum %.1f%%",
			positionValue.StringFixed(2), posPct*100, m.cfg.MaxPositionPct*100)
	}

	existing := decimal.Zero
	if p, ok := v.Position(req.Symbol); ok {
		existing = p.MarketValue()
	}
	concPct, _ := existing.Add(positionValue).Div(v.TotalValue).Float64()
	if concPct > m.cfg.MaxConcentrationPct {
		return model.Reject(model.ErrConcentration, "Exposure to %s would be %.1f%% of portfolio, maximum %.1f%%",
			req.Symbol, concPct*100, m.cfg.MaxConcentrationPct*100)
	}

	return m.risk.CheckBuy(v, req.Symbol, req.Quantity, ref)
}

func (m *Manager) route(ctx context.Context, req OrderRequest) (model.Order, error) {
	switch req.Type {
	case model.OrderLimit:
		return m.venue.PlaceLimitOrder(ctx, req.Symbol, req.Quantity, req.Side, req.LimitPrice)
	case model.OrderStop:
		return m.venue.PlaceStopOrder(ctx, req.Symbol, req.Quantity, req.Side, req.StopPrice)
	default:
		return m.venue.PlaceMarketOrder(ctx, req.Symbol, req.Quantity, req.Side)
	}
}

// CancelOrder cancels a pending order on the venue.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) bool {
	return m.venue.CancelOrder(ctx, orderID)
}

func (m *Manager) reject(ctx context.Context, req OrderRequest, err error) error {
	m.log.Warn("order rejected by gate",
		append(logger.Attrs(ctx),
			slog.String("symbol", req.Symbol),
			slog.String("side", string(req.Side)),
			slog.Int64("qty", req.Quantity),
			slog.String("kind", model.KindOf(err).String()),
			slog.String("reason", model.Reason(err)),
		)...)
	if m.OnReject != nil {
		m.OnReject(err)
	}
	return err
}
