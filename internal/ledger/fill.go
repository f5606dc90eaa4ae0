package ledger

import (
	"math"

	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

var minFillPrice = decimal.New(1, -2)

// slippage is the per-share price impact for an order of qty shares:
// max(minSlippage, price * bps/10000 * sizeMultiplier(qty)).
func (l *Ledger) slippage(price decimal.Decimal, qty int64) decimal.Decimal {
	rate := l.cfg.SlippageBps / 10000 * l.sizeMultiplier(qty)
	s := price.Mul(decimal.NewFromFloat(rate))
	if s.LessThan(l.cfg.MinSlippage) {
		return l.cfg.MinSlippage
	}
	return s
}

// sizeMultiplier grows linearly by 1.0 per SlippageSizeStep shares, capped at
// MaxSlippageMultiplier.
func (l *Ledger) sizeMultiplier(qty int64) float64 {
	m := 1.0
	if l.cfg.SlippageSizeStep > 0 {
		m += float64(qty) / float64(l.cfg.SlippageSizeStep)
	}
	if l.cfg.MaxSlippageMultiplier > 0 {
		m = math.Min(m, l.cfg.MaxSlippageMultiplier)
	}
	return m
}

func (l *Ledger) commission(qty int64) decimal.Decimal {
	return l.cfg.CommissionPerTrade.Add(l.cfg.CommissionPerShare.Mul(decimal.NewFromInt(qty)))
}

// fillPrice applies slippage against the trader and caps limit orders at the
// limit. SELL fills never go below one cent.
func (l *Ledger) fillPrice(o model.Order, mkt decimal.Decimal) decimal.Decimal {
	slip := l.slippage(mkt, o.Quantity)
	if o.Side == model.SideBuy {
		p := mkt.Add(slip)
		if o.Type == model.OrderLimit && p.GreaterThan(o.LimitPrice) {
			p = o.LimitPrice
		}
		return p.Round(4)
	}
	p := mkt.Sub(slip)
	if o.Type == model.OrderLimit && p.LessThan(o.LimitPrice) {
		p = o.LimitPrice
	}
	if p.LessThan(minFillPrice) {
		p = minFillPrice
	}
	return p.Round(4)
}
