package ledger

import (
	"context"
	"math"

	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

// Report summarizes portfolio performance. Sharpe is nil when fewer than
// two sells have been made or their P&L has zero variance.
type Report struct {
	TotalValue      decimal.Decimal `json:"total_value"`
	Cash            decimal.Decimal `json:"cash"`
	PositionsValue  decimal.Decimal `json:"positions_value"`
	InitialCash     decimal.Decimal `json:"initial_cash"`
	TotalReturnPct  float64         `json:"total_return_pct"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	PeakValue       decimal.Decimal `json:"peak_value"`
	CurrentDrawdown float64         `json:"current_drawdown"`
	MaxDrawdown     float64         `json:"max_drawdown"`
	Sharpe          *float64        `json:"sharpe,omitempty"`
	TradeCount      int             `json:"trade_count"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	OpenPositions   int             `json:"open_positions"`
}

// SharpeRatio is mean/stddev of per-sell realized P&L, annualized by sqrt(252).
func (l *Ledger) SharpeRatio() (float64, bool) {
	l.mu.RLock()
	pnls := make([]float64, 0, len(l.trades))
	for _, t := range l.trades {
		if t.Side == model.SideSell {
			f, _ := t.RealizedPnL.Float64()
			pnls = append(pnls, f)
		}
	}
	l.mu.RUnlock()
	return sharpe(pnls)
}

func sharpe(pnls []float64) (float64, bool) {
	if len(pnls) < 2 {
		return 0, false
	}
	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))
	var ss float64
	for _, p := range pnls {
		ss += (p - mean) * (p - mean)
	}
	std := math.Sqrt(ss / float64(len(pnls)-1))
	if std == 0 {
		return 0, false
	}
	return mean / std * math.Sqrt(252), true
}

// PerformanceReport values the portfolio and summarizes trade results.
func (l *Ledger) PerformanceReport(ctx context.Context) (Report, error) {
	v, err := l.Valuation(ctx)
	if err != nil {
		return Report{}, err
	}

	r := Report{
		TotalValue:     v.TotalValue,
		Cash:           v.Cash,
		PositionsValue: v.PositionsValue,
		UnrealizedPnL:  decimal.Zero,
		RealizedPnL:    decimal.Zero,
		OpenPositions:  len(v.Positions),
	}
	for _, p := range v.Positions {
		r.UnrealizedPnL = r.UnrealizedPnL.Add(p.UnrealizedPnL())
	}

	l.mu.RLock()
	r.InitialCash = l.initialCash
	r.TotalCommission = l.totalCommission
	r.PeakValue = l.peak
	r.MaxDrawdown = l.maxDrawdown
	r.TradeCount = len(l.trades)
	for _, t := range l.trades {
		if t.Side != model.SideSell {
			continue
		}
		r.RealizedPnL = r.RealizedPnL.Add(t.RealizedPnL)
		switch {
		case t.RealizedPnL.IsPositive():
			r.Wins++
		case t.RealizedPnL.IsNegative():
			r.Losses++
		}
	}
	l.mu.RUnlock()

	if r.InitialCash.IsPositive() {
		r.TotalReturnPct, _ = v.TotalValue.Sub(r.InitialCash).Div(r.InitialCash).Mul(decimal.NewFromInt(100)).Float64()
	}
	if r.PeakValue.IsPositive() {
		r.CurrentDrawdown, _ = r.PeakValue.Sub(v.TotalValue).Div(r.PeakValue).Float64()
	}
	if s, ok := l.SharpeRatio(); ok {
		r.Sharpe = &s
	}
	return r, nil
}

// RecordSnapshot values the portfolio and persists a snapshot together with
// the current portfolio state.
func (l *Ledger) RecordSnapshot(ctx context.Context) (model.PerformanceSnapshot, error) {
	r, err := l.PerformanceReport(ctx)
	if err != nil {
		return model.PerformanceSnapshot{}, err
	}
	snap := model.PerformanceSnapshot{
		TakenAt:        l.now(),
		TotalValue:     r.TotalValue,
		Cash:           r.Cash,
		PositionsValue: r.PositionsValue,
		RealizedPnL:    r.RealizedPnL,
		UnrealizedPnL:  r.UnrealizedPnL,
		Drawdown:       r.CurrentDrawdown,
	}
	if l.store == nil {
		return snap, nil
	}

	l.mu.RLock()
	state := l.stateLocked()
	l.mu.RUnlock()

	if err := l.store.SavePortfolioState(ctx, state); err != nil {
		l.persistFailed(ctx, "save_state", err)
		return snap, err
	}
	if err := l.store.SaveSnapshot(ctx, snap); err != nil {
		l.persistFailed(ctx, "save_snapshot", err)
		return snap, err
	}
	return snap, nil
}
