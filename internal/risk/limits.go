package risk

import (
	"context"
	"errors"
	"time"

	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

func ratio(num, den decimal.Decimal) float64 {
	if !den.IsPositive() {
		return 0
	}
	f, _ := num.Div(den).Float64()
	return f
}

func heatOf(v model.Valuation) float64 {
	return ratio(v.PositionsValue, v.TotalValue)
}

// CurrentHeat is the total position market value as a fraction of
// portfolio value.
func (c *Calculator) CurrentHeat(ctx context.Context) (float64, error) {
	v, err := c.portfolio.Valuation(ctx)
	if err != nil {
		return 0, err
	}
	return heatOf(v), nil
}

// CheckPortfolioHeat approves every SELL. A BUY is approved when the heat
// after the order stays within MaxPortfolioHeat and the order alone stays
// within MaxPositionPct.
func (c *Calculator) CheckPortfolioHeat(ctx context.Context, symbol string, qty int64, side model.Side, price decimal.Decimal) error {
	if side == model.SideSell {
		return nil
	}
	v, err := c.portfolio.Valuation(ctx)
	if err != nil {
		return err
	}
	return c.heatAgainst(v, symbol, qty, price)
}

func (c *Calculator) heatAgainst(v model.Valuation, symbol string, qty int64, price decimal.Decimal) error {
	if !v.TotalValue.IsPositive() {
		return model.Reject(model.ErrHeatExceeded, "Portfolio value is not positive")
	}

	orderPct := ratio(price.Mul(decimal.NewFromInt(qty)), v.TotalValue)
	heat := heatOf(v)
	if heat+orderPct > c.cfg.MaxPortfolioHeat {
		return model.Reject(model.ErrHeatExceeded,
			"Portfolio heat %.1f%% would exceed maximum %.1f%% (current %.1f%%, %s adds %.1f%%)",
			(heat+orderPct)*100, c.cfg.MaxPortfolioHeat*100, heat*100, symbol, orderPct*100)
	}
	if orderPct > c.cfg.MaxPositionPct {
		return model.Reject(model.ErrHeatExceeded,
			"Position %s %.1f%% exceeds maximum %.1f%% of portfolio", symbol, orderPct*100, c.cfg.MaxPositionPct*100)
	}
	return nil
}

// CheckBuy runs the heat, daily and weekly loss, and drawdown checks for a
// BUY against one valuation the caller already holds.
func (c *Calculator) CheckBuy(v model.Valuation, symbol string, qty int64, price decimal.Decimal) error {
	if err := c.heatAgainst(v, symbol, qty, price); err != nil {
		return err
	}
	now := c.now()
	if err := c.lossAgainst(v, "Daily", startOfDay(now), c.cfg.DailyLossStopPct); err != nil {
		return err
	}
	if err := c.lossAgainst(v, "Weekly", startOfWeek(now), c.cfg.WeeklyLossStopPct); err != nil {
		return err
	}
	return c.drawdownAgainst(v)
}

// CheckDailyLossLimit rejects once realized loss since midnight New York
// time exceeds DailyLossStopPct of portfolio value.
func (c *Calculator) CheckDailyLossLimit(ctx context.Context) error {
	return c.checkLoss(ctx, "Daily", startOfDay(c.now()), c.cfg.DailyLossStopPct)
}

// CheckWeeklyLossLimit is CheckDailyLossLimit over the ISO week.
func (c *Calculator) CheckWeeklyLossLimit(ctx context.Context) error {
	return c.checkLoss(ctx, "Weekly", startOfWeek(c.now()), c.cfg.WeeklyLossStopPct)
}

func (c *Calculator) checkLoss(ctx context.Context, period string, since time.Time, stopPct float64) error {
	if stopPct <= 0 || !c.portfolio.RealizedPnLSince(since).IsNegative() {
		return nil
	}
	v, err := c.portfolio.Valuation(ctx)
	if err != nil {
		return err
	}
	return c.lossAgainst(v, period, since, stopPct)
}

func (c *Calculator) lossAgainst(v model.Valuation, period string, since time.Time, stopPct float64) error {
	if stopPct <= 0 {
		return nil
	}
	pnl := c.portfolio.RealizedPnLSince(since)
	if !pnl.IsNegative() {
		return nil
	}
	limit := v.TotalValue.Mul(decimal.NewFromFloat(stopPct))
	if loss := pnl.Neg(); loss.GreaterThan(limit) {
		return model.Reject(model.ErrLossLimit, "%s loss %s exceeds limit %s (%.1f%% of portfolio)",
			period, loss.StringFixed(2), limit.StringFixed(2), stopPct*100)
	}
	return nil
}

// CheckDrawdown rejects once the portfolio is more than MaxDrawdownPct below
// its peak.
func (c *Calculator) CheckDrawdown(ctx context.Context) error {
	if c.cfg.MaxDrawdownPct <= 0 {
		return nil
	}
	v, err := c.portfolio.Valuation(ctx)
	if err != nil {
		return err
	}
	return c.drawdownAgainst(v)
}

func (c *Calculator) drawdownAgainst(v model.Valuation) error {
	if c.cfg.MaxDrawdownPct <= 0 {
		return nil
	}
	peak := c.portfolio.PeakValue()
	dd := ratio(peak.Sub(v.TotalValue), peak)
	if dd > c.cfg.MaxDrawdownPct {
		return model.Reject(model.ErrDrawdownLimit, "Drawdown %.1f%% exceeds maximum %.1f%%", dd*100, c.cfg.MaxDrawdownPct*100)
	}
	return nil
}

// Status is a point-in-time risk summary.
type Status struct {
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	Heat           float64         `json:"heat"`
	MaxHeat        float64         `json:"max_heat"`
	Drawdown       float64         `json:"drawdown"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	WeeklyPnL      decimal.Decimal `json:"weekly_pnl"`
	DailyHalted    bool            `json:"daily_halted"`
	WeeklyHalted   bool            `json:"weekly_halted"`
	DrawdownHalted bool            `json:"drawdown_halted"`
}

// Status evaluates every limit without rejecting.
func (c *Calculator) Status(ctx context.Context) (Status, error) {
	v, err := c.portfolio.Valuation(ctx)
	if err != nil {
		return Status{}, err
	}
	now := c.now()
	peak := c.portfolio.PeakValue()
	st := Status{
		PortfolioValue: v.TotalValue,
		Heat:           heatOf(v),
		MaxHeat:        c.cfg.MaxPortfolioHeat,
		Drawdown:       ratio(peak.Sub(v.TotalValue), peak),
		MaxDrawdown:    c.cfg.MaxDrawdownPct,
		DailyPnL:       c.portfolio.RealizedPnLSince(startOfDay(now)),
		WeeklyPnL:      c.portfolio.RealizedPnLSince(startOfWeek(now)),
	}
	st.DailyHalted = halted(c.lossAgainst(v, "Daily", startOfDay(now), c.cfg.DailyLossStopPct))
	st.WeeklyHalted = halted(c.lossAgainst(v, "Weekly", startOfWeek(now), c.cfg.WeeklyLossStopPct))
	st.DrawdownHalted = halted(c.drawdownAgainst(v))
	return st, nil
}

func halted(err error) bool {
	return errors.Is(err, model.ErrLossLimit) || errors.Is(err, model.ErrDrawdownLimit)
}
