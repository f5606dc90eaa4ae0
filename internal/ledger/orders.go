package ledger

import (
	"context"
	"log/slog"

	"trading-engine/internal/logger"
	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

// PlaceMarketOrder fills qty shares immediately at the market price plus
// slippage (BUY) or minus slippage (SELL).
func (l *Ledger) PlaceMarketOrder(ctx context.Context, symbol string, qty int64, side model.Side) (model.Order, error) {
	return l.place(ctx, symbol, qty, side, model.OrderMarket, decimal.Zero)
}

// PlaceLimitOrder fills only if the current price is at or through the limit
// (BUY price <= limit, SELL price >= limit). Otherwise the order is recorded
// CANCELLED and returned without error; there is no resting book.
func (l *Ledger) PlaceLimitOrder(ctx context.Context, symbol string, qty int64, side model.Side, limit decimal.Decimal) (model.Order, error) {
	return l.place(ctx, symbol, qty, side, model.OrderLimit, limit)
}

// PlaceStopOrder fills only if the current price has already crossed the
// trigger (BUY price >= stop, SELL price <= stop). Otherwise the order is
// recorded PENDING. It is evaluated once and never reconsidered.
func (l *Ledger) PlaceStopOrder(ctx context.Context, symbol string, qty int64, side model.Side, stop decimal.Decimal) (model.Order, error) {
	return l.place(ctx, symbol, qty, side, model.OrderStop, stop)
}

// CancelOrder moves a PENDING order to CANCELLED.
func (l *Ledger) CancelOrder(ctx context.Context, orderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[orderID]
	if !ok || !o.Cancel(l.now()) {
		return false
	}
	if l.store != nil {
		if err := l.store.SaveOrder(context.WithoutCancel(ctx), *o); err != nil {
			l.persistFailed(ctx, "save_order", err)
		}
	}
	l.log.Info("order cancelled", append(logger.Attrs(ctx), slog.String("order_id", orderID))...)
	return true
}

func (l *Ledger) place(ctx context.Context, symbol string, qty int64, side model.Side, typ model.OrderType, price decimal.Decimal) (model.Order, error) {
	now := l.now()
	o, err := model.NewOrder(newID("PAPER-"), symbol, qty, side, typ, price, now)
	if err != nil {
		return model.Order{}, l.rejected(ctx, model.Order{Symbol: symbol, Side: side, Quantity: qty, Type: typ}, err)
	}
	if l.session != nil && !l.session.IsOpen(now) {
		return model.Order{}, l.rejected(ctx, o, model.Reject(model.ErrMarketClosed, "Market is closed"))
	}

	mkt, err := l.oracle.GetMarketPrice(ctx, o.Symbol)
	if err != nil || !mkt.IsPositive() {
		return model.Order{}, l.rejected(ctx, o, model.Reject(model.ErrPriceUnavailable, "No price available for %s", o.Symbol))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !triggered(o, mkt) {
		if typ == model.OrderLimit {
			o.Cancel(now)
		}
		l.orders[o.ID] = &o
		if l.store != nil {
			if err := l.store.SaveOrder(context.WithoutCancel(ctx), o); err != nil {
				l.persistFailed(ctx, "save_order", err)
			}
		}
		l.log.Info("order not triggered",
			append(logger.Attrs(ctx),
				slog.String("order_id", o.ID),
				slog.String("status", string(o.Status)),
				slog.String("market", mkt.String()),
			)...)
		return o, nil
	}

	if err := l.fillLocked(ctx, &o, mkt); err != nil {
		return model.Order{}, l.rejected(ctx, o, err)
	}
	return o, nil
}

// triggered reports whether o executes against the market price mkt.
func triggered(o model.Order, mkt decimal.Decimal) bool {
	switch o.Type {
	case model.OrderLimit:
		if o.Side == model.SideBuy {
			return mkt.LessThanOrEqual(o.LimitPrice)
		}
		return mkt.GreaterThanOrEqual(o.LimitPrice)
	case model.OrderStop:
		if o.Side == model.SideBuy {
			return mkt.GreaterThanOrEqual(o.StopPrice)
		}
		return mkt.LessThanOrEqual(o.StopPrice)
	default:
		return true
	}
}

// fillLocked executes o against mkt and commits the result. Caller holds mu.
// On error nothing has been mutated.
func (l *Ledger) fillLocked(ctx context.Context, o *model.Order, mkt decimal.Decimal) error {
	now := l.now()
	qty := decimal.NewFromInt(o.Quantity)
	commission := l.commission(o.Quantity)
	fill := l.fillPrice(*o, mkt)
	notional := fill.Mul(qty)

	pos, held := l.positions[o.Symbol]
	var next *model.Position
	realized := decimal.Zero

	switch o.Side {
	case model.SideBuy:
		cost := notional.Add(commission)
		if cost.GreaterThan(l.cash) {
			return model.Reject(model.ErrInsufficientFunds,
				"Insufficient funds: need %s, have %s", cost.StringFixed(2), l.cash.StringFixed(2))
		}
		next = &model.Position{Symbol: o.Symbol, LastPrice: mkt, LastUpdated: now}
		if held {
			*next = *pos
			next.LastPrice, next.LastUpdated = mkt, now
			basis := pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity)).Add(notional)
			next.Quantity = pos.Quantity + o.Quantity
			next.AvgCost = basis.DivRound(decimal.NewFromInt(next.Quantity), 6)
		} else {
			next.Quantity = o.Quantity
			next.AvgCost = fill
			next.RealizedPnL = decimal.Zero
		}
		l.cash = l.cash.Sub(cost)

	case model.SideSell:
		if !held || pos.Quantity < o.Quantity {
			have := int64(0)
			if held {
				have = pos.Quantity
			}
			return model.Reject(model.ErrInsufficientShares,
				"Insufficient shares of %s: have %d, need %d", o.Symbol, have, o.Quantity)
		}
		proceeds := notional.Sub(commission)
		if l.cash.Add(proceeds).IsNegative() {
			return model.Reject(model.ErrInsufficientFunds,
				"Insufficient funds for commission %s, have %s", commission.StringFixed(2), l.cash.StringFixed(2))
		}
		realized = fill.Sub(pos.AvgCost).Mul(qty)
		if remaining := pos.Quantity - o.Quantity; remaining > 0 {
			p := *pos
			p.Quantity = remaining
			p.RealizedPnL = pos.RealizedPnL.Add(realized)
			p.LastPrice, p.LastUpdated = mkt, now
			next = &p
		}
		l.cash = l.cash.Add(proceeds)
	}

	o.Fill(fill, now)
	trade := model.Trade{
		ID:          newID("TRD-"),
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Quantity:    o.Quantity,
		FillPrice:   fill,
		Slippage:    fill.Sub(mkt).Abs(),
		Commission:  commission,
		RealizedPnL: realized,
		ExecutedAt:  now,
	}

	if next == nil {
		delete(l.positions, o.Symbol)
	} else {
		l.positions[o.Symbol] = next
	}
	stored := *o
	l.orders[o.ID] = &stored
	l.trades = append(l.trades, trade)
	l.totalCommission = l.totalCommission.Add(commission)
	l.markLocked(l.bookValueLocked())

	if l.store != nil {
		rec := model.FillRecord{Order: *o, Trade: trade, Symbol: o.Symbol, State: l.stateLocked()}
		if next != nil {
			p := *next
			rec.Position = &p
		}
		if err := l.store.CommitFill(context.WithoutCancel(ctx), rec); err != nil {
			l.persistFailed(ctx, "commit_fill", err)
		}
	}

	l.log.Info("order filled",
		append(logger.Attrs(ctx),
			slog.String("order_id", o.ID),
			slog.String("symbol", o.Symbol),
			slog.String("side", string(o.Side)),
			slog.Int64("qty", o.Quantity),
			slog.String("market", mkt.String()),
			slog.String("fill", fill.String()),
			slog.String("commission", commission.String()),
			slog.String("cash", l.cash.StringFixed(2)),
		)...)
	if l.OnFill != nil {
		l.OnFill(trade)
	}
	return nil
}
