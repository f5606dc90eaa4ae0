package harvest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// YearEndPlanning scans, splits opportunities by holding period and
// schedules the recommended harvests for December 29 of asOf's year, two
// trading days ahead of the December 31 settlement deadline.
func (h *Harvester) YearEndPlanning(ctx context.Context, asOf time.Time) (YearEndPlan, error) {
	opps, err := h.ScanOpportunities(ctx)
	if err != nil {
		return YearEndPlan{}, err
	}

	plan := YearEndPlan{
		AsOf:                asOf,
		ExecutionDate:       time.Date(asOf.Year(), time.December, 29, 0, 0, 0, 0, asOf.Location()),
		ShortTermLoss:       decimal.Zero,
		LongTermLoss:        decimal.Zero,
		EstimatedTaxBenefit: decimal.Zero,
	}
	for _, o := range opps {
		if o.LongTerm {
			plan.LongTerm = append(plan.LongTerm, o)
			plan.LongTermLoss = plan.LongTermLoss.Add(o.UnrealizedLoss)
		} else {
			plan.ShortTerm = append(plan.ShortTerm, o)
			plan.ShortTermLoss = plan.ShortTermLoss.Add(o.UnrealizedLoss)
		}
	}

	plan.Recommended = h.plan(opps, h.cfg.MaxYearEndHarvests, decimal.Zero)
	plan.TotalLoss = decimal.Zero
	for _, p := range plan.Recommended {
		plan.TotalLoss = plan.TotalLoss.Add(p.UnrealizedLoss)
		plan.EstimatedTaxBenefit = plan.EstimatedTaxBenefit.Add(p.TaxBenefit)
	}

	limit := decimal.NewFromInt(OrdinaryIncomeCap)
	plan.OrdinaryIncomeOffset = decimal.Min(plan.TotalLoss, limit)
	plan.CarryForward = plan.TotalLoss.Sub(plan.OrdinaryIncomeOffset)
	return plan, nil
}
