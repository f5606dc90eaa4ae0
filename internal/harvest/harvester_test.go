package harvest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"trading-engine/config"
	"trading-engine/internal/ledger"
	"trading-engine/internal/marketdata"
	"trading-engine/internal/model"
	"trading-engine/internal/notification"
	"trading-engine/internal/washsale"

	"github.com/shopspring/decimal"
)

var testStart = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type spyNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (s *spyNotifier) Send(_ context.Context, a notification.Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
	return nil
}

type fixture struct {
	ctx     context.Context
	now     time.Time
	prices  *marketdata.StaticPrices
	ledger  *ledger.Ledger
	tracker *washsale.Tracker
	spy     *spyNotifier
	h       *Harvester
}

// newFixture builds a frictionless ledger so fills are exact.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), now: testStart, spy: &spyNotifier{}}
	clock := func() time.Time { return f.now }

	cfg := config.DefaultRisk()
	cfg.InitialCash = d("100000")
	cfg.CommissionPerTrade = decimal.Zero
	cfg.CommissionPerShare = decimal.Zero
	cfg.SlippageBps = 0
	cfg.MinSlippage = decimal.Zero

	f.prices = marketdata.NewStaticPrices(nil)
	l, err := ledger.New(f.ctx, cfg, ledger.Deps{Oracle: f.prices, Clock: clock})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	f.ledger = l
	f.tracker = washsale.NewTracker(nil, washsale.NewStaticSectors(map[string][]string{
		"tech":   {"AAPL", "MSFT"},
		"energy": {"XOM", "CVX"},
	}), clock, nil)
	f.h = New(cfg, l, f.tracker, nil, f.spy, clock, nil)
	return f
}

// hold buys qty at entry and then moves the price to mark.
func (f *fixture) hold(t *testing.T, symbol string, qty int64, entry, mark string) {
	t.Helper()
	f.prices.Set(symbol, d(entry))
	if _, err := f.ledger.PlaceMarketOrder(f.ctx, symbol, qty, model.SideBuy); err != nil {
		t.Fatalf("buy %s: %v", symbol, err)
	}
	f.prices.Set(symbol, d(mark))
}

func TestScan_ScenarioB(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "AAPL", 100, "150", "140")

	opps, err := f.h.ScanOpportunities(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	o := opps[0]
	if !o.UnrealizedLoss.Equal(d("1000")) {
		t.Errorf("loss = %s, want 1000", o.UnrealizedLoss)
	}
	if !o.TaxBenefit.Equal(d("370")) {
		t.Errorf("benefit = %s, want 370", o.TaxBenefit)
	}
	if o.LongTerm || o.TaxRate != 0.37 {
		t.Errorf("long_term=%v rate=%v, want short-term at 0.37", o.LongTerm, o.TaxRate)
	}
	if !o.CostBasis.Equal(d("15000")) || !o.MarketValue.Equal(d("14000")) {
		t.Errorf("basis=%s value=%s", o.CostBasis, o.MarketValue)
	}
}

func TestScan_ThresholdGainsAndRanking(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "AAPL", 100, "150", "140") // loss 1000
	f.hold(t, "XOM", 10, "100", "80")    // loss 200
	f.hold(t, "CVX", 10, "100", "95")    // loss 50, below threshold
	f.hold(t, "MSFT", 10, "100", "120")  // gain

	opps, err := f.h.ScanOpportunities(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 2 {
		t.Fatalf("got %d opportunities, want 2", len(opps))
	}
	if opps[0].Symbol != "AAPL" || opps[1].Symbol != "XOM" {
		t.Errorf("order = %s, %s; want AAPL, XOM", opps[0].Symbol, opps[1].Symbol)
	}
}

func TestScan_BelowThreshold_ScenarioD(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "AAPL", 10, "150", "148") // loss 20

	opps, err := f.h.ScanOpportunities(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 0 {
		t.Errorf("got %d opportunities, want 0", len(opps))
	}
}

func TestScan_LongTermRate(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "AAPL", 100, "150", "140")
	f.now = testStart.AddDate(0, 0, 400)

	opps, err := f.h.ScanOpportunities(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities", len(opps))
	}
	if !opps[0].LongTerm || opps[0].HoldingDays != 400 {
		t.Errorf("long_term=%v days=%d", opps[0].LongTerm, opps[0].HoldingDays)
	}
	if !opps[0].TaxBenefit.Equal(d("200")) {
		t.Errorf("benefit = %s, want 200", opps[0].TaxBenefit)
	}
}

func TestScan_SkipsRestricted_ScenarioC(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "XOM", 10, "100", "80")
	if _, err := f.tracker.RecordLossSale(f.ctx, "XOM", 5, d("50"), testStart.AddDate(0, 0, -10), d("500"), d("450")); err != nil {
		t.Fatal(err)
	}

	opps, err := f.h.ScanOpportunities(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(opps) != 0 {
		t.Errorf("restricted symbol scanned: %+v", opps)
	}
}

func TestPlanHarvest(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "AAPL", 100, "150", "140") // benefit 370
	f.hold(t, "ZZZ", 10, "100", "50")    // benefit 185, no alternative
	f.hold(t, "XOM", 10, "100", "80")    // benefit 74

	tests := []struct {
		name   string
		max    int
		target decimal.Decimal
		want   []string
	}{
		{"unbounded skips no-alternative", 0, decimal.Zero, []string{"AAPL", "XOM"}},
		{"max one", 1, decimal.Zero, []string{"AAPL"}},
		{"target reached", 0, d("500"), []string{"AAPL"}},
		{"target not reached", 0, d("5000"), []string{"AAPL", "XOM"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plans, err := f.h.PlanHarvest(f.ctx, tt.max, tt.target)
			if err != nil {
				t.Fatal(err)
			}
			if len(plans) != len(tt.want) {
				t.Fatalf("got %d plans, want %d", len(plans), len(tt.want))
			}
			for i, p := range plans {
				if p.Symbol != tt.want[i] {
					t.Errorf("plan %d = %s, want %s", i, p.Symbol, tt.want[i])
				}
			}
		})
	}

	plans, _ := f.h.PlanHarvest(f.ctx, 0, decimal.Zero)
	if plans[0].Alternative != "MSFT" || plans[1].Alternative != "CVX" {
		t.Errorf("alternatives = %s, %s", plans[0].Alternative, plans[1].Alternative)
	}
}

func TestExecuteHarvest_ScenarioB(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "AAPL", 100, "150", "140")
	f.prices.Set("MSFT", d("200"))

	var hooked Result
	f.h.OnHarvest = func(r Result) { hooked = r }

	plans, err := f.h.PlanHarvest(f.ctx, 1, decimal.Zero)
	if err != nil || len(plans) != 1 {
		t.Fatalf("plan: %v, %d", err, len(plans))
	}
	res, err := f.h.ExecuteHarvest(f.ctx, plans[0])
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("not successful: %s", res.Error)
	}
	if !res.RealizedLoss.Equal(d("1000")) || !res.TaxBenefit.Equal(d("370")) {
		t.Errorf("loss=%s benefit=%s", res.RealizedLoss, res.TaxBenefit)
	}
	if !res.Proceeds.Equal(d("14000")) {
		t.Errorf("proceeds = %s", res.Proceeds)
	}
	if res.SharesBought != 70 {
		t.Errorf("bought %d MSFT, want 70", res.SharesBought)
	}
	if res.LossSaleID == "" || hooked.SellOrderID != res.SellOrderID {
		t.Errorf("loss sale %q, hook %+v", res.LossSaleID, hooked)
	}

	if _, held := f.ledger.GetPosition("AAPL"); held {
		t.Error("AAPL still held")
	}
	if pos, _ := f.ledger.GetPosition("MSFT"); pos.Quantity != 70 {
		t.Errorf("MSFT qty = %d", pos.Quantity)
	}
	if !f.tracker.IsWashSale("AAPL", f.now.AddDate(0, 0, 30)) {
		t.Error("AAPL not restricted after harvest")
	}
	if len(f.spy.alerts) != 1 || f.spy.alerts[0].Level != notification.AlertInfo {
		t.Errorf("alerts = %+v", f.spy.alerts)
	}

	alpha, err := f.h.EstimateAnnualAlpha(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := 370.0 / 99000.0; math.Abs(alpha-want) > 1e-9 {
		t.Errorf("alpha = %v, want %v", alpha, want)
	}
}

func TestExecuteHarvest_InsufficientProceeds(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "XOM", 10, "100", "80")
	f.prices.Set("CVX", d("1000000"))

	plans, _ := f.h.PlanHarvest(f.ctx, 0, decimal.Zero)
	if len(plans) != 1 {
		t.Fatalf("got %d plans", len(plans))
	}
	res, err := f.h.ExecuteHarvest(f.ctx, plans[0])
	if !errors.Is(err, model.ErrInsufficientProceeds) {
		t.Fatalf("err = %v, want ErrInsufficientProceeds", err)
	}
	if res.Success || res.SellOrderID == "" || res.LossSaleID == "" {
		t.Errorf("result = %+v", res)
	}
	if !res.RealizedLoss.Equal(d("200")) {
		t.Errorf("loss = %s", res.RealizedLoss)
	}
	if len(f.h.Results()) != 1 {
		t.Errorf("results = %d, want 1", len(f.h.Results()))
	}
	if len(f.spy.alerts) != 1 || f.spy.alerts[0].Level != notification.AlertWarning {
		t.Errorf("alerts = %+v", f.spy.alerts)
	}
}

func TestExecuteHarvest_SellFailsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "XOM", 10, "100", "80")
	f.prices.Set("CVX", d("50"))

	plans, _ := f.h.PlanHarvest(f.ctx, 0, decimal.Zero)
	p := plans[0]
	p.Quantity = 50

	res, err := f.h.ExecuteHarvest(f.ctx, p)
	if !errors.Is(err, model.ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}
	if res.Success || res.SellOrderID != "" || res.Error == "" {
		t.Errorf("result = %+v", res)
	}
	if len(f.tracker.Records()) != 0 {
		t.Error("loss sale recorded for failed sell")
	}
	if pos, _ := f.ledger.GetPosition("XOM"); pos.Quantity != 10 {
		t.Errorf("XOM qty = %d, want 10", pos.Quantity)
	}
	if len(f.h.Results()) != 0 {
		t.Error("failed sell kept in results")
	}
}

func TestYearEndPlanning(t *testing.T) {
	f := newFixture(t)
	f.hold(t, "AAPL", 100, "150", "110") // loss 4000
	f.hold(t, "XOM", 10, "100", "80")    // loss 200

	plan, err := f.h.YearEndPlanning(f.ctx, f.now)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, time.December, 29, 0, 0, 0, 0, time.UTC); !plan.ExecutionDate.Equal(want) {
		t.Errorf("execution date = %v", plan.ExecutionDate)
	}
	if len(plan.ShortTerm) != 2 || len(plan.LongTerm) != 0 {
		t.Errorf("short=%d long=%d", len(plan.ShortTerm), len(plan.LongTerm))
	}
	if !plan.ShortTermLoss.Equal(d("4200")) || !plan.TotalLoss.Equal(d("4200")) {
		t.Errorf("short loss=%s total=%s", plan.ShortTermLoss, plan.TotalLoss)
	}
	if !plan.EstimatedTaxBenefit.Equal(d("1554")) {
		t.Errorf("benefit = %s, want 1554", plan.EstimatedTaxBenefit)
	}
	if !plan.OrdinaryIncomeOffset.Equal(d("3000")) || !plan.CarryForward.Equal(d("1200")) {
		t.Errorf("offset=%s carry=%s", plan.OrdinaryIncomeOffset, plan.CarryForward)
	}
	if len(plan.Recommended) != 2 {
		t.Errorf("recommended = %d", len(plan.Recommended))
	}
}

func TestEstimateAnnualAlpha_NoHistory(t *testing.T) {
	f := newFixture(t)
	alpha, err := f.h.EstimateAnnualAlpha(f.ctx)
	if err != nil || alpha != 0 {
		t.Errorf("alpha = %v, err = %v", alpha, err)
	}
}

type memHarvestStore struct {
	mu   sync.Mutex
	recs []model.HarvestRecord
}

func (m *memHarvestStore) SaveHarvest(_ context.Context, r model.HarvestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memHarvestStore) LoadHarvests(_ context.Context, since time.Time) ([]model.HarvestRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.HarvestRecord
	for _, r := range m.recs {
		if !r.ExecutedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestRealizedTaxBenefit_SurvivesRestart(t *testing.T) {
	f := newFixture(t)
	store := &memHarvestStore{recs: []model.HarvestRecord{{
		SellOrderID: "PAPER-OLD", Symbol: "XOM", Alternative: "CVX", Quantity: 10,
		RealizedLoss: d("500"), TaxBenefit: d("185"), Success: true,
		ExecutedAt: time.Date(2025, 12, 30, 15, 0, 0, 0, time.UTC),
	}}}
	f.h.store = store
	f.hold(t, "AAPL", 100, "150", "140")
	f.prices.Set("MSFT", d("200"))

	plans, _ := f.h.PlanHarvest(f.ctx, 0, decimal.Zero)
	if len(plans) != 1 {
		t.Fatalf("got %d plans", len(plans))
	}
	if _, err := f.h.ExecuteHarvest(f.ctx, plans[0]); err != nil {
		t.Fatal(err)
	}
	if len(store.recs) != 2 || store.recs[1].Symbol != "AAPL" || !store.recs[1].Success {
		t.Fatalf("stored = %+v", store.recs)
	}

	restarted := New(config.DefaultRisk(), f.ledger, f.tracker, store, nil, func() time.Time { return f.now }, nil)
	if got := restarted.RealizedTaxBenefit(); !got.IsZero() {
		t.Errorf("benefit before Restore = %s, want 0", got)
	}
	if err := restarted.Restore(f.ctx); err != nil {
		t.Fatal(err)
	}
	// last year's XOM harvest is outside the tax year
	if got := restarted.RealizedTaxBenefit(); !got.Equal(d("370")) {
		t.Errorf("restored benefit = %s, want 370", got)
	}
	if len(restarted.Results()) != 0 {
		t.Errorf("results = %+v, want none from a restore", restarted.Results())
	}
	alpha, err := restarted.EstimateAnnualAlpha(f.ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := 370.0 / 99000.0; math.Abs(alpha-want) > 1e-9 {
		t.Errorf("alpha = %v, want %v", alpha, want)
	}
}
