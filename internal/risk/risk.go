// Package risk is the pre-trade risk calculator: Kelly sizing, stop-loss
// validation, portfolio heat, loss limits and drawdown.
//
// A Calculator holds no portfolio state of its own. Checks taking a context
// read a fresh valuation from its Portfolio; CheckBuy and Status evaluate a
// single valuation so every limit sees the same prices.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"trading-engine/config"
	"trading-engine/internal/markethours"
	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

// Portfolio is what the calculator reads. Implemented by the paper ledger
// and the live broker adapter.
type Portfolio interface {
	Valuation(ctx context.Context) (model.Valuation, error)
	RealizedPnLSince(t time.Time) decimal.Decimal
	PeakValue() decimal.Decimal
}

// Calculator evaluates risk rules against a Portfolio.
type Calculator struct {
	cfg       config.RiskConfig
	portfolio Portfolio
	now       func() time.Time
}

// NewCalculator creates a Calculator. clock may be nil.
func NewCalculator(cfg config.RiskConfig, p Portfolio, clock func() time.Time) *Calculator {
	if clock == nil {
		clock = time.Now
	}
	return &Calculator{cfg: cfg, portfolio: p, now: clock}
}

// KellySize is the result of CalculateKellyPositionSize.
type KellySize struct {
	Shares        int64           `json:"shares"`
	KellyFraction float64         `json:"kelly_fraction"`
	RawKelly      float64         `json:"raw_kelly"`
	RiskAmount    decimal.Decimal `json:"risk_amount"`
	Rationale     string          `json:"rationale"`
}

// CalculateKellyPositionSize sizes a position so that a stop-out loses
// portfolioValue * f, where f = clamp((b*p - q)/b, 0, MaxKellyFraction).
// The share count is further capped by MaxPositionPct.
func (c *Calculator) CalculateKellyPositionSize(ctx context.Context, entry, stop decimal.Decimal, winRate, avgWinLossRatio float64) (KellySize, error) {
	if !entry.IsPositive() || !stop.IsPositive() {
		return KellySize{}, model.Reject(model.ErrInvalidInput, "Entry and stop prices must be positive")
	}
	if entry.Equal(stop) {
		return KellySize{}, model.Reject(model.ErrInvalidStop, "Stop price must differ from entry price")
	}
	if winRate < 0 || winRate > 1 || math.IsNaN(winRate) {
		return KellySize{}, model.Reject(model.ErrInvalidInput, "Win rate must be between 0 and 1, got %.2f", winRate)
	}
	if avgWinLossRatio <= 0 || math.IsNaN(avgWinLossRatio) {
		return KellySize{}, model.Reject(model.ErrInvalidInput, "Win/loss ratio must be positive, got %.2f", avgWinLossRatio)
	}

	v, err := c.portfolio.Valuation(ctx)
	if err != nil {
		return KellySize{}, err
	}

	b, p := avgWinLossRatio, winRate
	raw := (b*p - (1 - p)) / b
	f := math.Max(0, math.Min(raw, c.cfg.MaxKellyFraction))

	ks := KellySize{KellyFraction: f, RawKelly: raw, RiskAmount: v.TotalValue.Mul(decimal.NewFromFloat(f)).Round(2)}
	if f == 0 {
		ks.Rationale = fmt.Sprintf("Negative edge (raw Kelly %.3f): no position", raw)
		return ks, nil
	}

	perShareRisk := entry.Sub(stop).Abs()
	ks.Shares = ks.RiskAmount.Div(perShareRisk).IntPart()

	maxShares := v.TotalValue.Mul(decimal.NewFromFloat(c.cfg.MaxPositionPct)).Div(entry).IntPart()
	capped := ks.Shares > maxShares
	if capped {
		ks.Shares = maxShares
	}

	ks.Rationale = fmt.Sprintf("Kelly %.1f%% (raw %.1f%%, cap %.1f%%): risk %s at %s/share",
		f*100, raw*100, c.cfg.MaxKellyFraction*100, ks.RiskAmount.StringFixed(2), perShareRisk.StringFixed(2))
	if capped {
		ks.Rationale += fmt.Sprintf("; capped at %d shares by %.0f%% position limit", maxShares, c.cfg.MaxPositionPct*100)
	}
	return ks, nil
}

// ValidateStopLoss checks stop direction and that its distance from entry
// lies within [MinStopPct, MaxStopPct].
func (c *Calculator) ValidateStopLoss(entry, stop decimal.Decimal, side model.Side) error {
	if !entry.IsPositive() || !stop.IsPositive() {
		return model.Reject(model.ErrInvalidStop, "Entry and stop prices must be positive")
	}
	switch side {
	case model.SideBuy:
		if !stop.LessThan(entry) {
			return model.Reject(model.ErrInvalidStop, "Stop loss %s must be below entry %s for BUY", stop, entry)
		}
	case model.SideSell:
		if !stop.GreaterThan(entry) {
			return model.Reject(model.ErrInvalidStop, "Stop loss %s must be above entry %s for SELL", stop, entry)
		}
	default:
		return model.Reject(model.ErrInvalidInput, "Invalid side %q: must be BUY or SELL", string(side))
	}

	dist, _ := stop.Sub(entry).Abs().Div(entry).Float64()
	if dist < c.cfg.MinStopPct {
		return model.Reject(model.ErrInvalidStop, "Stop loss %.1f%% is below minimum %.1f%%", dist*100, c.cfg.MinStopPct*100)
	}
	if dist > c.cfg.MaxStopPct {
		return model.Reject(model.ErrInvalidStop, "Stop loss %.1f%% exceeds maximum %.1f%%", dist*100, c.cfg.MaxStopPct*100)
	}
	return nil
}

// startOfDay is midnight New York time on t's trading date.
func startOfDay(t time.Time) time.Time {
	et := t.In(markethours.ET)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, markethours.ET)
}

// startOfWeek is Monday midnight New York time of t's ISO week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
