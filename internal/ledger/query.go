package ledger

import (
	"context"
	"sort"
	"time"

	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

// GetOrder returns a copy of the order with id.
func (l *Ledger) GetOrder(id string) (model.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// GetPosition returns a copy of the position in symbol.
func (l *Ledger) GetPosition(symbol string) (model.Position, bool) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return model.Position{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[sym]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// GetPositions returns all open positions sorted by symbol.
func (l *Ledger) GetPositions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positionsLocked()
}

func (l *Ledger) positionsLocked() []model.Position {
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetBuyingPower returns available cash.
func (l *Ledger) GetBuyingPower() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// PeakValue returns the portfolio high-water mark.
func (l *Ledger) PeakValue() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.peak
}

// GetTradeHistory returns up to limit of the most recent trades, oldest
// first, optionally filtered by symbol. limit <= 0 returns all.
func (l *Ledger) GetTradeHistory(limit int, symbol string) []model.Trade {
	sym := ""
	if symbol != "" {
		sym, _ = model.NormalizeSymbol(symbol)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Trade, 0, len(l.trades))
	for _, t := range l.trades {
		if sym == "" || t.Symbol == sym {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// TradeForOrder returns the fill of orderID.
func (l *Ledger) TradeForOrder(orderID string) (model.Trade, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].OrderID == orderID {
			return l.trades[i], true
		}
	}
	return model.Trade{}, false
}

// RealizedPnLSince sums realized P&L of trades executed at or after since.
func (l *Ledger) RealizedPnLSince(since time.Time) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, t := range l.trades {
		if !t.ExecutedAt.Before(since) {
			total = total.Add(t.RealizedPnL)
		}
	}
	return total
}

// Valuation marks every position to the current oracle price and returns a
// consistent view. Positions whose price cannot be fetched keep their last
// price. The peak value and max drawdown are refreshed.
func (l *Ledger) Valuation(ctx context.Context) (model.Valuation, error) {
	l.mu.RLock()
	symbols := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		symbols = append(symbols, sym)
	}
	l.mu.RUnlock()

	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return model.Valuation{}, err
		}
		if p, err := l.oracle.GetMarketPrice(ctx, sym); err == nil && p.IsPositive() {
			prices[sym] = p
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for sym, p := range prices {
		if pos, ok := l.positions[sym]; ok {
			pos.LastPrice = p
		}
	}
	v := model.Valuation{
		Cash:      l.cash,
		Positions: l.positionsLocked(),
		AsOf:      l.now(),
	}
	v.PositionsValue = decimal.Zero
	for _, p := range v.Positions {
		v.PositionsValue = v.PositionsValue.Add(p.MarketValue())
	}
	v.TotalValue = v.Cash.Add(v.PositionsValue)
	l.markLocked(v.TotalValue)
	return v, nil
}

// GetPortfolioValue returns cash plus positions marked to market.
func (l *Ledger) GetPortfolioValue(ctx context.Context) (decimal.Decimal, error) {
	v, err := l.Valuation(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return v.TotalValue, nil
}

// QuoteBuy returns how many whole shares of symbol budget buys after
// slippage and commission, and the market price used.
func (l *Ledger) QuoteBuy(ctx context.Context, symbol string, budget decimal.Decimal) (int64, decimal.Decimal, error) {
	sym, err := model.NormalizeSymbol(symbol)
	if err != nil {
		return 0, decimal.Zero, err
	}
	price, err := l.oracle.GetMarketPrice(ctx, sym)
	if err != nil || !price.IsPositive() {
		return 0, decimal.Zero, model.Reject(model.ErrPriceUnavailable, "No price available for %s", sym)
	}

	avail := budget.Sub(l.cfg.CommissionPerTrade)
	if !avail.IsPositive() {
		return 0, price, nil
	}
	perShare := price.Add(l.slippage(price, 1)).Add(l.cfg.CommissionPerShare)
	n := avail.Div(perShare).IntPart()
	for n > 0 && l.buyCost(price, n).GreaterThan(budget) {
		n--
	}
	return n, price, nil
}

func (l *Ledger) buyCost(price decimal.Decimal, n int64) decimal.Decimal {
	o := model.Order{Side: model.SideBuy, Type: model.OrderMarket, Quantity: n}
	return l.fillPrice(o, price).Mul(decimal.NewFromInt(n)).Add(l.commission(n))
}

// bookValueLocked values positions at their last known prices. Caller holds mu.
func (l *Ledger) bookValueLocked() decimal.Decimal {
	total := l.cash
	for _, p := range l.positions {
		total = total.Add(p.MarketValue())
	}
	return total
}

// markLocked updates the high-water mark and max drawdown. Caller holds mu.
func (l *Ledger) markLocked(total decimal.Decimal) {
	if total.GreaterThan(l.peak) {
		l.peak = total
	}
	if l.peak.IsPositive() {
		dd, _ := l.peak.Sub(total).Div(l.peak).Float64()
		if dd > l.maxDrawdown {
			l.maxDrawdown = dd
		}
	}
}
