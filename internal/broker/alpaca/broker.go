// Package alpaca routes orders to the Alpaca brokerage and reads account
// state back as a risk.Portfolio.
package alpaca

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"trading-engine/internal/logger"
	"trading-engine/internal/model"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

// Options are the API credentials. An empty BaseURL uses the SDK default.
type Options struct {
	KeyID     string
	SecretKey string
	BaseURL   string
}

type tradingAPI interface {
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
}

type quoteAPI interface {
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
}

// Broker is a live execution venue and price oracle.
type Broker struct {
	trade  tradingAPI
	quotes quoteAPI
	now    func() time.Time
	log    *slog.Logger

	mu   sync.Mutex
	peak decimal.Decimal
}

// New creates a Broker against the Alpaca REST APIs.
func New(opts Options, log *slog.Logger) *Broker {
	return newBroker(
		alpaca.NewClient(alpaca.ClientOpts{APIKey: opts.KeyID, APISecret: opts.SecretKey, BaseURL: opts.BaseURL}),
		marketdata.NewClient(marketdata.ClientOpts{APIKey: opts.KeyID, APISecret: opts.SecretKey}),
		nil, log,
	)
}

func newBroker(t tradingAPI, q quoteAPI, clock func() time.Time, log *slog.Logger) *Broker {
	if clock == nil {
		clock = time.Now
	}
	return &Broker{trade: t, quotes: q, now: clock, log: logger.Component(log, "alpaca")}
}

func unavailable(op string, err error) error {
	return model.Reject(model.ErrBrokerUnavailable, "alpaca %s: %v", op, err)
}

// --- PriceOracle ---

// GetMarketPrice returns the latest trade price.
func (b *Broker) GetMarketPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	t, err := b.quotes.GetLatestTrade(sym, marketdata.GetLatestTradeRequest{})
	if err != nil || t == nil || t.Price <= 0 {
		return decimal.Zero, model.Reject(model.ErrPriceUnavailable, "No price available for %s", sym)
	}
	return decimal.NewFromFloat(t.Price), nil
}

// --- Venue ---

func (b *Broker) PlaceMarketOrder(ctx context.Context, symbol string, qty int64, side model.Side) (model.Order, error) {
	return b.place(ctx, symbol, qty, side, model.OrderMarket, decimal.Zero)
}

func (b *Broker) PlaceLimitOrder(ctx context.Context, symbol string, qty int64, side model.Side, limit decimal.Decimal) (model.Order, error) {
	return b.place(ctx, symbol, qty, side, model.OrderLimit, limit)
}

func (b *Broker) PlaceStopOrder(ctx context.Context, symbol string, qty int64, side model.Side, stop decimal.Decimal) (model.Order, error) {
	return b.place(ctx, symbol, qty, side, model.OrderStop, stop)
}

func (b *Broker) place(ctx context.Context, symbol string, qty int64, side model.Side, typ model.OrderType, price decimal.Decimal) (model.Order, error) {
	o, err := model.NewOrder("", symbol, qty, side, typ, price, b.now())
	if err != nil {
		return model.Order{}, err
	}
	req := buildRequest(o)
	resp, err := b.trade.PlaceOrder(req)
	if err != nil {
		b.log.Warn("place order failed",
			append(logger.Attrs(ctx), slog.String("symbol", o.Symbol), slog.Any("error", err))...)
		return o, unavailable("place order", err)
	}
	out := mapOrder(resp)
	b.log.Info("order placed",
		append(logger.Attrs(ctx),
			slog.String("order_id", out.ID),
			slog.String("symbol", out.Symbol),
			slog.String("side", string(out.Side)),
			slog.Int64("qty", out.Quantity),
			slog.String("status", string(out.Status)),
		)...)
	return out, nil
}

// CancelOrder reports whether the broker accepted the cancel.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) bool {
	if err := b.trade.CancelOrder(orderID); err != nil {
		b.log.Warn("cancel failed", append(logger.Attrs(ctx), slog.String("order_id", orderID), slog.Any("error", err))...)
		return false
	}
	return true
}

func buildRequest(o model.Order) alpaca.PlaceOrderRequest {
	qty := decimal.NewFromInt(o.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:      o.Symbol,
		Qty:         &qty,
		Side:        alpaca.Buy,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if o.Side == model.SideSell {
		req.Side = alpaca.Sell
	}
	switch o.Type {
	case model.OrderLimit:
		p := o.LimitPrice
		req.Type = alpaca.Limit
		req.LimitPrice = &p
	case model.OrderStop:
		p := o.StopPrice
		req.Type = alpaca.Stop
		req.StopPrice = &p
	}
	return req
}

func mapStatus(s string) model.OrderStatus {
	switch s {
	case "filled":
		return model.StatusFilled
	case "canceled", "expired", "rejected", "done_for_day", "stopped", "suspended":
		return model.StatusCancelled
	default:
		return model.StatusPending
	}
}

func mapOrder(o *alpaca.Order) model.Order {
	out := model.Order{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           model.SideBuy,
		Type:           model.OrderMarket,
		Status:         mapStatus(o.Status),
		FilledQuantity: o.FilledQty.IntPart(),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.Side == alpaca.Sell {
		out.Side = model.SideSell
	}
	if o.Qty != nil {
		out.Quantity = o.Qty.IntPart()
	}
	if o.FilledAvgPrice != nil {
		out.FilledPrice = *o.FilledAvgPrice
	}
	switch o.Type {
	case alpaca.Limit:
		out.Type = model.OrderLimit
	case alpaca.Stop:
		out.Type = model.OrderStop
	}
	if o.LimitPrice != nil {
		out.LimitPrice = *o.LimitPrice
	}
	if o.StopPrice != nil {
		out.StopPrice = *o.StopPrice
	}
	return out
}

// --- Portfolio ---

// Valuation reads cash and positions from the account. The peak value is
// the highest total seen by this process.
func (b *Broker) Valuation(_ context.Context) (model.Valuation, error) {
	acct, err := b.trade.GetAccount()
	if err != nil {
		return model.Valuation{}, unavailable("get account", err)
	}
	raw, err := b.trade.GetPositions()
	if err != nil {
		return model.Valuation{}, unavailable("get positions", err)
	}

	v := model.Valuation{Cash: acct.Cash, PositionsValue: decimal.Zero, AsOf: b.now()}
	for _, p := range raw {
		pos := mapPosition(p)
		if pos.Quantity <= 0 {
			continue
		}
		v.Positions = append(v.Positions, pos)
		v.PositionsValue = v.PositionsValue.Add(pos.MarketValue())
	}
	sort.Slice(v.Positions, func(i, j int) bool { return v.Positions[i].Symbol < v.Positions[j].Symbol })
	v.TotalValue = v.Cash.Add(v.PositionsValue)

	b.mu.Lock()
	if v.TotalValue.GreaterThan(b.peak) {
		b.peak = v.TotalValue
	}
	b.mu.Unlock()
	return v, nil
}

func mapPosition(p alpaca.Position) model.Position {
	pos := model.Position{
		Symbol:      strings.ToUpper(p.Symbol),
		Quantity:    p.Qty.IntPart(),
		AvgCost:     p.AvgEntryPrice,
		RealizedPnL: decimal.Zero,
		LastPrice:   p.AvgEntryPrice,
	}
	if p.CurrentPrice != nil {
		pos.LastPrice = *p.CurrentPrice
	}
	return pos
}

// RealizedPnLSince is always zero: realized P&L is not exposed by the
// positions API, so loss-limit checks in live mode see only drawdown.
func (b *Broker) RealizedPnLSince(time.Time) decimal.Decimal { return decimal.Zero }

// PeakValue returns the highest valuation seen.
func (b *Broker) PeakValue() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}
