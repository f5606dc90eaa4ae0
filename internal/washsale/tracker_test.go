package washsale

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trading-engine/internal/markethours"
	"trading-engine/internal/model"
	"trading-engine/internal/store/sqlite"

	"github.com/shopspring/decimal"
)

// memLossStore is an in-memory LossSaleStore.
type memLossStore struct {
	mu      sync.Mutex
	sales   []model.LossSale
	saveErr error
}

func (m *memLossStore) SaveLossSale(_ context.Context, ls model.LossSale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.sales = append(m.sales, ls)
	return nil
}

func (m *memLossStore) LoadLossSales(context.Context) ([]model.LossSale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LossSale(nil), m.sales...), nil
}

func (m *memLossStore) DeleteLossSalesBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sales[:0]
	n := 0
	for _, ls := range m.sales {
		if ls.SaleDate.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, ls)
	}
	m.sales = kept
	return n, nil
}

var day0 = time.Date(2026, 6, 1, 14, 30, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestIsWashSale_Boundary(t *testing.T) {
	tr := NewTracker(nil, nil, fixedClock(day0), nil)
	if _, err := tr.RecordLossSale(context.Background(), "AAPL", 100, decimal.NewFromInt(1000), day0, decimal.NewFromInt(15000), decimal.NewFromInt(14000)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		offset int
		want   bool
	}{
		{-31, false},
		{-30, true},
		{0, true},
		{10, true},
		{30, true},
		{31, false},
	}
	for _, tt := range tests {
		if got := tr.IsWashSale("AAPL", day0.AddDate(0, 0, tt.offset)); got != tt.want {
			t.Errorf("IsWashSale(D%+d) = %v, want %v", tt.offset, got, tt.want)
		}
	}
	// time of day is ignored
	late := time.Date(2026, 7, 1, 23, 59, 0, 0, time.UTC)
	if !tr.IsWashSale("aapl", late) {
		t.Error("D+30 late in the day should still be restricted")
	}
	if tr.IsWashSale("MSFT", day0) {
		t.Error("other symbols are not restricted")
	}
}

func TestRecordLossSale_Validation(t *testing.T) {
	tr := NewTracker(nil, nil, fixedClock(day0), nil)
	ctx := context.Background()

	if _, err := tr.RecordLossSale(ctx, "AAPL", 10, decimal.NewFromInt(-1), day0, decimal.Zero, decimal.Zero); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("negative loss: %v", err)
	}
	if _, err := tr.RecordLossSale(ctx, "AAPL", 0, decimal.NewFromInt(1), day0, decimal.Zero, decimal.Zero); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("zero qty: %v", err)
	}
	if len(tr.Records()) != 0 {
		t.Error("invalid sales were recorded")
	}
}

func TestScenarioC_Alternatives(t *testing.T) {
	tr := NewTracker(nil, nil, fixedClock(day0.AddDate(0, 0, 10)), nil)
	ctx := context.Background()
	tr.RecordLossSale(ctx, "AAPL", 100, decimal.NewFromInt(1000), day0, decimal.NewFromInt(15000), decimal.NewFromInt(14000))

	if !tr.IsWashSale("AAPL", day0.AddDate(0, 0, 10)) {
		t.Fatal("D+10 should be a wash sale")
	}
	alts := tr.GetAlternativeSymbols("AAPL", 1)
	if len(alts) != 1 || alts[0] == "AAPL" {
		t.Fatalf("alternatives = %v", alts)
	}
	if tr.IsWashSale(alts[0], day0.AddDate(0, 0, 10)) {
		t.Errorf("alternative %s is restricted", alts[0])
	}
}

func TestGetAlternativeSymbols_SkipsRestricted(t *testing.T) {
	sectors := NewStaticSectors(map[string][]string{"x": {"AAA", "BBB", "CCC", "DDD"}})
	tr := NewTracker(nil, sectors, fixedClock(day0), nil)
	tr.RecordLossSale(context.Background(), "BBB", 1, decimal.NewFromInt(5), day0, decimal.Zero, decimal.Zero)

	got := tr.GetAlternativeSymbols("aaa", 2)
	if len(got) != 2 || got[0] != "CCC" || got[1] != "DDD" {
		t.Errorf("alternatives = %v, want [CCC DDD]", got)
	}
	if got := tr.GetAlternativeSymbols("UNKNOWN", 3); len(got) != 0 {
		t.Errorf("unknown symbol alternatives = %v", got)
	}
	if got := tr.GetAlternativeSymbols("AAA", 0); got != nil {
		t.Errorf("count 0 = %v", got)
	}
}

func TestCalculateDisallowedLoss(t *testing.T) {
	now := day0.AddDate(0, 0, 30)
	tr := NewTracker(nil, nil, fixedClock(now), nil)
	ctx := context.Background()

	// boundary today
	tr.RecordLossSale(ctx, "AAPL", 10, decimal.NewFromInt(100), day0, decimal.Zero, decimal.Zero)
	// boundary passed
	tr.RecordLossSale(ctx, "AAPL", 10, decimal.NewFromInt(50), day0.AddDate(0, 0, -1), decimal.Zero, decimal.Zero)
	tr.RecordLossSale(ctx, "AAPL", 10, decimal.NewFromInt(25), day0.AddDate(0, 0, 20), decimal.Zero, decimal.Zero)

	if got := tr.CalculateDisallowedLoss("AAPL"); !got.Equal(decimal.NewFromInt(125)) {
		t.Errorf("disallowed = %s, want 125", got)
	}
	if got := tr.CalculateDisallowedLoss("MSFT"); !got.IsZero() {
		t.Errorf("disallowed MSFT = %s", got)
	}
}

func TestClearExpiredRecords(t *testing.T) {
	store := &memLossStore{}
	now := day0.AddDate(0, 0, 70)
	tr := NewTracker(store, nil, fixedClock(now), nil)
	ctx := context.Background()

	// 70 days old
	tr.RecordLossSale(ctx, "AAPL", 10, decimal.NewFromInt(100), day0, decimal.Zero, decimal.Zero)
	// exactly 61
	tr.RecordLossSale(ctx, "MSFT", 10, decimal.NewFromInt(100), now.AddDate(0, 0, -61), decimal.Zero, decimal.Zero)
	tr.RecordLossSale(ctx, "NVDA", 10, decimal.NewFromInt(100), now.AddDate(0, 0, -5), decimal.Zero, decimal.Zero)

	n, err := tr.ClearExpiredRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if len(tr.Records()) != 2 {
		t.Errorf("remaining = %d", len(tr.Records()))
	}
	if !tr.IsWashSale("NVDA", now) {
		t.Error("clearing must not drop live restrictions")
	}
	stored, _ := store.LoadLossSales(ctx)
	if len(stored) != 2 {
		t.Errorf("store kept %d, want 2", len(stored))
	}
}

func TestRestore(t *testing.T) {
	store := &memLossStore{}
	ctx := context.Background()

	first := NewTracker(store, nil, fixedClock(day0), nil)
	first.RecordLossSale(ctx, "AAPL", 10, decimal.NewFromInt(100), day0, decimal.Zero, decimal.Zero)

	second := NewTracker(store, nil, fixedClock(day0), nil)
	if second.IsWashSale("AAPL", day0) {
		t.Fatal("fresh tracker should be empty before Restore")
	}
	if err := second.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if !second.IsWashSale("AAPL", day0.AddDate(0, 0, 5)) {
		t.Error("restored sale not applied")
	}
	if r := second.ActiveRestrictions(); len(r) != 1 || r[0].Symbol != "AAPL" || !r[0].Until.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("restrictions = %+v", r)
	}
}

func TestRecordLossSale_PersistFailureKeepsRecord(t *testing.T) {
	store := &memLossStore{saveErr: errors.New("locked")}
	tr := NewTracker(store, nil, fixedClock(day0), nil)
	var failed string
	tr.OnPersistError = func(op string, _ error) { failed = op }

	if _, err := tr.RecordLossSale(context.Background(), "AAPL", 10, decimal.NewFromInt(100), day0, decimal.Zero, decimal.Zero); err != nil {
		t.Fatalf("persist failure should not fail the record: %v", err)
	}
	if !tr.IsWashSale("AAPL", day0) || failed != "save_loss_sale" {
		t.Errorf("restricted=%v failed=%q", tr.IsWashSale("AAPL", day0), failed)
	}
}

func openSQLite(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), sqlite.Config{
		Path:   filepath.Join(t.TempDir(), "washsale.db"),
		Driver: sqlite.DriverPureGo,
	}, nil)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRestore_FromSQLiteKeepsTradingDay(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	// 21:00 New York is already the next day in UTC
	sale := time.Date(2026, 1, 10, 21, 0, 0, 0, markethours.ET)

	first := NewTracker(store, nil, fixedClock(sale), nil)
	if _, err := first.RecordLossSale(ctx, "AAPL", 100, decimal.NewFromInt(1000), sale, decimal.NewFromInt(15000), decimal.NewFromInt(14000)); err != nil {
		t.Fatal(err)
	}
	second := NewTracker(store, nil, fixedClock(sale), nil)
	if err := second.Restore(ctx); err != nil {
		t.Fatal(err)
	}

	at := func(days int) time.Time {
		return time.Date(2026, 1, 10, 10, 0, 0, 0, markethours.ET).AddDate(0, 0, days)
	}
	for name, tr := range map[string]*Tracker{"recorded": first, "restored": second} {
		for _, tt := range []struct {
			offset int
			want   bool
		}{{-31, false}, {-30, true}, {30, true}, {31, false}} {
			if got := tr.IsWashSale("AAPL", at(tt.offset)); got != tt.want {
				t.Errorf("%s: IsWashSale(D%+d) = %v, want %v", name, tt.offset, got, tt.want)
			}
		}
	}
}

func TestClearExpiredRecords_StoreAndMemoryAgree(t *testing.T) {
	ctx := context.Background()
	store := openSQLite(t)
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, markethours.ET)
	tr := NewTracker(store, nil, fixedClock(now), nil)

	evening := func(daysAgo int) time.Time {
		return time.Date(2026, 3, 20, 21, 0, 0, 0, markethours.ET).AddDate(0, 0, -daysAgo)
	}
	tr.RecordLossSale(ctx, "AAPL", 10, decimal.NewFromInt(100), evening(62), decimal.Zero, decimal.Zero)
	tr.RecordLossSale(ctx, "MSFT", 10, decimal.NewFromInt(100), evening(61), decimal.Zero, decimal.Zero)

	n, err := tr.ClearExpiredRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d from memory, want 1", n)
	}
	stored, err := store.LoadLossSales(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Symbol != "MSFT" {
		t.Errorf("store kept %+v, want only MSFT", stored)
	}
	if recs := tr.Records(); len(recs) != 1 || recs[0].Symbol != "MSFT" {
		t.Errorf("memory kept %+v, want only MSFT", recs)
	}
}
