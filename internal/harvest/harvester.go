// Package harvest finds unrealized losses worth realizing for tax purposes,
// plans sell-and-replace trades that avoid wash sales, and executes them
// against the ledger.
//
// Holding period is estimated from Position.LastUpdated. Positions carry no
// lot history, so any later buy or sell of the same symbol resets the
// estimate and can misclassify a long-term holding as short-term.
//
// Every harvest whose sell leg filled is written to the HarvestStore, and
// RealizedTaxBenefit sums the current New York tax year from that history,
// so the figure survives restarts and is shared with the harvest CLI.
package harvest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"trading-engine/config"
	"trading-engine/internal/logger"
	"trading-engine/internal/markethours"
	"trading-engine/internal/model"
	"trading-engine/internal/notification"

	"github.com/shopspring/decimal"
)

const (
	longTermDays = 365

	// OrdinaryIncomeCap is the yearly net capital loss deductible against
	// ordinary income; the remainder carries forward.
	OrdinaryIncomeCap = 3000
)

// Ledger is the portfolio the harvester trades.
type Ledger interface {
	Valuation(ctx context.Context) (model.Valuation, error)
	GetPortfolioValue(ctx context.Context) (decimal.Decimal, error)
	PlaceMarketOrder(ctx context.Context, symbol string, qty int64, side model.Side) (model.Order, error)
	TradeForOrder(orderID string) (model.Trade, bool)
	QuoteBuy(ctx context.Context, symbol string, budget decimal.Decimal) (int64, decimal.Decimal, error)
}

// Compliance is the wash-sale tracker.
type Compliance interface {
	IsWashSale(symbol string, date time.Time) bool
	GetAlternativeSymbols(symbol string, count int) []string
	RecordLossSale(ctx context.Context, symbol string, qty int64, loss decimal.Decimal, saleDate time.Time, costBasis, salePrice decimal.Decimal) (model.LossSale, error)
}

// Harvester runs tax-loss harvesting over one ledger.
type Harvester struct {
	cfg      config.RiskConfig
	ledger   Ledger
	tracker  Compliance
	store    model.HarvestStore
	notifier notification.Notifier
	now      func() time.Time
	log      *slog.Logger

	mu      sync.Mutex
	results []Result
	history []model.HarvestRecord

	// OnHarvest is called after every successful harvest (optional, for metrics).
	OnHarvest func(r Result)
	// OnPersistError is called when saving a harvest fails (optional, for metrics).
	OnPersistError func(op string, err error)
}

// New creates a Harvester. store, notifier and clock may be nil; without a
// store the realized benefit covers this process only.
func New(cfg config.RiskConfig, l Ledger, tracker Compliance, store model.HarvestStore, notifier notification.Notifier, clock func() time.Time, log *slog.Logger) *Harvester {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	if clock == nil {
		clock = time.Now
	}
	return &Harvester{
		cfg:      cfg,
		ledger:   l,
		tracker:  tracker,
		store:    store,
		notifier: notifier,
		now:      clock,
		log:      logger.Component(log, "harvest"),
	}
}

// Restore loads this tax year's harvests from the store.
func (h *Harvester) Restore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	recs, err := h.store.LoadHarvests(ctx, taxYearStart(h.now()))
	if err != nil {
		return fmt.Errorf("harvest restore: %w", err)
	}
	h.mu.Lock()
	h.history = recs
	h.mu.Unlock()
	h.log.Info("restored harvests", slog.Int("count", len(recs)))
	return nil
}

func taxYearStart(t time.Time) time.Time {
	return time.Date(t.In(markethours.ET).Year(), time.January, 1, 0, 0, 0, 0, markethours.ET)
}

// ScanOpportunities lists positions with an unrealized loss of at least
// MinHarvestLoss that are not wash-sale restricted today, largest tax
// benefit first.
func (h *Harvester) ScanOpportunities(ctx context.Context) ([]Opportunity, error) {
	v, err := h.ledger.Valuation(ctx)
	if err != nil {
		return nil, fmt.Errorf("harvest scan: %w", err)
	}
	now := h.now()

	var out []Opportunity
	for _, p := range v.Positions {
		loss := p.UnrealizedPnL().Neg()
		if !loss.IsPositive() || loss.LessThan(h.cfg.MinHarvestLoss) {
			continue
		}
		if h.tracker.IsWashSale(p.Symbol, now) {
			continue
		}

		days := int(now.Sub(p.LastUpdated).Hours() / 24)
		longTerm := days >= longTermDays
		rate := h.cfg.ShortTermRate
		if longTerm {
			rate = h.cfg.LongTermRate
		}
		out = append(out, Opportunity{
			Symbol:         p.Symbol,
			Quantity:       p.Quantity,
			AvgCost:        p.AvgCost,
			CurrentPrice:   p.LastPrice,
			CostBasis:      p.CostBasis(),
			MarketValue:    p.MarketValue(),
			UnrealizedLoss: loss,
			PurchaseDate:   p.LastUpdated,
			HoldingDays:    days,
			LongTerm:       longTerm,
			TaxRate:        rate,
			TaxBenefit:     loss.Mul(decimal.NewFromFloat(rate)).Round(2),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].TaxBenefit.Cmp(out[j].TaxBenefit); c != 0 {
			return c > 0
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// PlanHarvest takes opportunities in ranked order, pairs each with the first
// available alternative, and stops after maxHarvests plans or once the
// accumulated loss reaches targetLoss. A zero targetLoss means no target.
func (h *Harvester) PlanHarvest(ctx context.Context, maxHarvests int, targetLoss decimal.Decimal) ([]Plan, error) {
	opps, err := h.ScanOpportunities(ctx)
	if err != nil {
		return nil, err
	}
	return h.plan(opps, maxHarvests, targetLoss), nil
}

func (h *Harvester) plan(opps []Opportunity, maxHarvests int, targetLoss decimal.Decimal) []Plan {
	var plans []Plan
	total := decimal.Zero
	for _, o := range opps {
		if maxHarvests > 0 && len(plans) >= maxHarvests {
			break
		}
		if targetLoss.IsPositive() && total.GreaterThanOrEqual(targetLoss) {
			break
		}
		alts := h.tracker.GetAlternativeSymbols(o.Symbol, 1)
		if len(alts) == 0 {
			h.log.Debug("no alternative, skipping", slog.String("symbol", o.Symbol))
			continue
		}
		plans = append(plans, Plan{Opportunity: o, Alternative: alts[0]})
		total = total.Add(o.UnrealizedLoss)
	}
	return plans
}

// ExecuteHarvest sells the planned position at market, records the loss
// sale, and buys as many shares of the alternative as the proceeds allow.
// If the sell fails nothing has changed and the failed result is returned
// with the error.
func (h *Harvester) ExecuteHarvest(ctx context.Context, p Plan) (Result, error) {
	ctx = logger.EnsureTraceID(ctx, p.Symbol, h.now())
	res := Result{Plan: p, ExecutedAt: h.now()}

	sell, err := h.ledger.PlaceMarketOrder(ctx, p.Symbol, p.Quantity, model.SideSell)
	if err != nil {
		res.Error = model.Reason(err)
		h.log.Warn("harvest sell failed",
			append(logger.Attrs(ctx), slog.String("symbol", p.Symbol), slog.String("reason", res.Error))...)
		return res, err
	}
	res.SellOrderID = sell.ID
	res.SellPrice = sell.FilledPrice

	trade, ok := h.ledger.TradeForOrder(sell.ID)
	if ok {
		res.Proceeds = trade.NetProceeds()
		res.RealizedLoss = trade.RealizedPnL.Neg()
	} else {
		res.Proceeds = sell.FilledPrice.Mul(decimal.NewFromInt(sell.FilledQuantity))
		res.RealizedLoss = p.AvgCost.Sub(sell.FilledPrice).Mul(decimal.NewFromInt(sell.FilledQuantity))
	}

	if res.RealizedLoss.IsPositive() {
		res.TaxBenefit = res.RealizedLoss.Mul(decimal.NewFromFloat(p.TaxRate)).Round(2)
		ls, err := h.tracker.RecordLossSale(ctx, p.Symbol, sell.FilledQuantity, res.RealizedLoss,
			sell.UpdatedAt, p.AvgCost.Mul(decimal.NewFromInt(sell.FilledQuantity)), sell.FilledPrice)
		if err != nil {
			h.log.Error("record loss sale failed", append(logger.Attrs(ctx), slog.Any("error", err))...)
		} else {
			res.LossSaleID = ls.ID
		}
	} else {
		res.RealizedLoss = decimal.Zero
	}

	shares, _, err := h.ledger.QuoteBuy(ctx, p.Alternative, res.Proceeds)
	if err != nil {
		return h.partial(ctx, res, err)
	}
	if shares <= 0 {
		return h.partial(ctx, res, model.Reject(model.ErrInsufficientProceeds,
			"Proceeds %s buy no shares of %s", res.Proceeds.StringFixed(2), p.Alternative))
	}
	buy, err := h.ledger.PlaceMarketOrder(ctx, p.Alternative, shares, model.SideBuy)
	if err != nil {
		return h.partial(ctx, res, err)
	}
	res.BuyOrderID = buy.ID
	res.BuyPrice = buy.FilledPrice
	res.SharesBought = buy.FilledQuantity
	res.Success = true

	h.record(ctx, res)
	h.log.Info("harvest executed",
		append(logger.Attrs(ctx),
			slog.String("symbol", p.Symbol),
			slog.String("alternative", p.Alternative),
			slog.String("realized_loss", res.RealizedLoss.StringFixed(2)),
			slog.String("tax_benefit", res.TaxBenefit.StringFixed(2)),
			slog.Int64("shares_bought", res.SharesBought),
		)...)
	h.notify(ctx, notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "Tax-loss harvest executed",
		Message: fmt.Sprintf("Sold %d %s, bought %d %s", p.Quantity, p.Symbol, res.SharesBought, p.Alternative),
		Fields: map[string]string{
			"realized_loss": res.RealizedLoss.StringFixed(2),
			"tax_benefit":   res.TaxBenefit.StringFixed(2),
		},
		Time: res.ExecutedAt,
	})
	if h.OnHarvest != nil {
		h.OnHarvest(res)
	}
	return res, nil
}

// partial handles a failure after the sell leg filled: the loss is realized
// and recorded but the replacement was not bought.
func (h *Harvester) partial(ctx context.Context, res Result, err error) (Result, error) {
	res.Error = model.Reason(err)
	h.record(ctx, res)
	h.log.Warn("harvest replacement failed",
		append(logger.Attrs(ctx),
			slog.String("symbol", res.Plan.Symbol),
			slog.String("alternative", res.Plan.Alternative),
			slog.String("reason", res.Error),
		)...)
	h.notify(ctx, notification.Alert{
		Level:   notification.AlertWarning,
		Title:   "Tax-loss harvest incomplete",
		Message: fmt.Sprintf("Sold %s but could not buy %s: %s", res.Plan.Symbol, res.Plan.Alternative, res.Error),
		Time:    res.ExecutedAt,
	})
	return res, err
}

func (h *Harvester) record(ctx context.Context, r Result) {
	rec := model.HarvestRecord{
		SellOrderID:  r.SellOrderID,
		Symbol:       r.Plan.Symbol,
		Alternative:  r.Plan.Alternative,
		Quantity:     r.Plan.Quantity,
		RealizedLoss: r.RealizedLoss,
		TaxBenefit:   r.TaxBenefit,
		SharesBought: r.SharesBought,
		Success:      r.Success,
		Error:        r.Error,
		ExecutedAt:   r.ExecutedAt,
	}
	h.mu.Lock()
	h.results = append(h.results, r)
	h.history = append(h.history, rec)
	h.mu.Unlock()

	if h.store == nil {
		return
	}
	if err := h.store.SaveHarvest(ctx, rec); err != nil {
		h.log.Error("persist harvest failed",
			append(logger.Attrs(ctx), slog.String("symbol", rec.Symbol), slog.Any("error", err))...)
		if h.OnPersistError != nil {
			h.OnPersistError("save_harvest", err)
		}
	}
}

func (h *Harvester) notify(ctx context.Context, a notification.Alert) {
	if err := h.notifier.Send(ctx, a); err != nil {
		h.log.Warn("notify failed", slog.Any("error", err))
	}
}

// Results returns every harvest this process attempted after the sell leg
// filled.
func (h *Harvester) Results() []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Result, len(h.results))
	copy(out, h.results)
	return out
}

// RealizedTaxBenefit sums tax benefits of harvests executed in the current
// tax year, including those restored from the store.
func (h *Harvester) RealizedTaxBenefit() decimal.Decimal {
	start := taxYearStart(h.now())
	h.mu.Lock()
	defer h.mu.Unlock()
	total := decimal.Zero
	for _, r := range h.history {
		if !r.ExecutedAt.Before(start) {
			total = total.Add(r.TaxBenefit)
		}
	}
	return total
}

// EstimateAnnualAlpha is realized tax benefit as a fraction of portfolio
// value. It is 0 with no history or a non-positive portfolio value.
func (h *Harvester) EstimateAnnualAlpha(ctx context.Context) (float64, error) {
	benefit := h.RealizedTaxBenefit()
	if benefit.IsZero() {
		return 0, nil
	}
	pv, err := h.ledger.GetPortfolioValue(ctx)
	if err != nil {
		return 0, err
	}
	if !pv.IsPositive() {
		return 0, nil
	}
	alpha, _ := benefit.Div(pv).Float64()
	return alpha, nil
}
