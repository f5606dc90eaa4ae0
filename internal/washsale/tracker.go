// Package washsale tracks loss sales and answers whether a purchase would
// fall inside a wash-sale window.
//
// A window covers 30 calendar days before and after the sale date, boundaries
// included. Every date is reduced to its New York trading-calendar day, so a
// sale lands on the same day whatever location it was recorded or reloaded
// in; time of day is ignored.
package washsale

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"trading-engine/internal/logger"
	"trading-engine/internal/markethours"
	"trading-engine/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	WindowDays    = 30
	RetentionDays = 61
)

// Restriction is an active wash-sale window on a symbol.
type Restriction struct {
	Symbol   string          `json:"symbol"`
	SaleDate time.Time       `json:"sale_date"`
	Until    time.Time       `json:"until"`
	Loss     decimal.Decimal `json:"loss"`
}

// Tracker records loss sales. Safe for concurrent use.
type Tracker struct {
	store model.LossSaleStore
	alts  AlternativeProvider
	now   func() time.Time
	log   *slog.Logger

	mu    sync.RWMutex
	sales map[string][]model.LossSale // by symbol, ordered by sale date

	OnPersistError func(op string, err error)
}

// NewTracker creates a Tracker. store, alts and clock may be nil; alts
// defaults to DefaultSectors.
func NewTracker(store model.LossSaleStore, alts AlternativeProvider, clock func() time.Time, log *slog.Logger) *Tracker {
	if alts == nil {
		alts = DefaultSectors
	}
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		store: store,
		alts:  alts,
		now:   clock,
		log:   logger.Component(log, "washsale"),
		sales: make(map[string][]model.LossSale),
	}
}

// Restore replaces the in-memory records with the stored ones.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	all, err := t.store.LoadLossSales(ctx)
	if err != nil {
		return err
	}
	m := make(map[string][]model.LossSale)
	for _, ls := range all {
		ls.SaleDate = ls.SaleDate.In(markethours.ET)
		m[ls.Symbol] = append(m[ls.Symbol], ls)
	}
	for sym := range m {
		sortByDate(m[sym])
	}

	t.mu.Lock()
	t.sales = m
	t.mu.Unlock()
	t.log.Info("restored loss sales", slog.Int("count", len(all)))
	return nil
}

// RecordLossSale stores an immutable loss sale. A store failure is logged
// and the in-memory record kept.
func (t *Tracker) RecordLossSale(ctx context.Context, symbol string, qty int64, loss decimal.Decimal, saleDate time.Time, costBasis, salePrice decimal.Decimal) (model.LossSale, error) {
	ls, err := model.NewLossSale("LS-"+newUUID(), symbol, qty, loss, saleDate.In(markethours.ET), costBasis, salePrice)
	if err != nil {
		return model.LossSale{}, err
	}

	t.mu.Lock()
	t.sales[ls.Symbol] = append(t.sales[ls.Symbol], ls)
	sortByDate(t.sales[ls.Symbol])
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SaveLossSale(ctx, ls); err != nil {
			t.log.Error("persist loss sale failed",
				append(logger.Attrs(ctx), slog.String("symbol", ls.Symbol), slog.Any("error", err))...)
			if t.OnPersistError != nil {
				t.OnPersistError("save_loss_sale", err)
			}
		}
	}

	t.log.Info("recorded loss sale",
		append(logger.Attrs(ctx),
			slog.String("symbol", ls.Symbol),
			slog.Int64("qty", ls.Quantity),
			slog.String("loss", ls.LossAmount.StringFixed(2)),
			slog.Time("restricted_until", windowEnd(ls.SaleDate)),
		)...)
	return ls, nil
}

// IsWashSale reports whether buying symbol on date falls within 30 days
// before or after any recorded loss sale of symbol.
func (t *Tracker) IsWashSale(symbol string, date time.Time) bool {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	day := civil(date)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ls := range t.sales[sym] {
		if diff := daysBetween(civil(ls.SaleDate), day); diff >= -WindowDays && diff <= WindowDays {
			return true
		}
	}
	return false
}

// IsRestricted is IsWashSale for today.
func (t *Tracker) IsRestricted(symbol string) bool {
	return t.IsWashSale(symbol, t.now())
}

// CalculateDisallowedLoss sums losses on symbol whose 30-day-after boundary
// has not passed yet.
func (t *Tracker) CalculateDisallowedLoss(symbol string) decimal.Decimal {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	today := civil(t.now())

	t.mu.RLock()
	defer t.mu.RUnlock()
	total := decimal.Zero
	for _, ls := range t.sales[sym] {
		if daysBetween(civil(ls.SaleDate), today) <= WindowDays {
			total = total.Add(ls.LossAmount)
		}
	}
	return total
}

// GetAlternativeSymbols returns up to count substitutes for symbol,
// excluding symbol itself and any currently restricted symbol.
func (t *Tracker) GetAlternativeSymbols(symbol string, count int) []string {
	if count <= 0 {
		return nil
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	now := t.now()

	out := make([]string, 0, count)
	for _, alt := range t.alts.Alternatives(sym) {
		alt = strings.ToUpper(alt)
		if alt == sym || t.IsWashSale(alt, now) {
			continue
		}
		out = append(out, alt)
		if len(out) == count {
			break
		}
	}
	return out
}

// ActiveRestrictions lists windows covering today, soonest expiry first.
func (t *Tracker) ActiveRestrictions() []Restriction {
	now := t.now()
	today := civil(now)

	t.mu.RLock()
	var out []Restriction
	for sym, sales := range t.sales {
		for _, ls := range sales {
			if diff := daysBetween(civil(ls.SaleDate), today); diff >= -WindowDays && diff <= WindowDays {
				out = append(out, Restriction{Symbol: sym, SaleDate: ls.SaleDate, Until: windowEnd(ls.SaleDate), Loss: ls.LossAmount})
			}
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Until.Equal(out[j].Until) {
			return out[i].Until.Before(out[j].Until)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Records returns every loss sale held in memory.
func (t *Tracker) Records() []model.LossSale {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []model.LossSale
	for _, sales := range t.sales {
		out = append(out, sales...)
	}
	sortByDate(out)
	return out
}

// ClearExpiredRecords drops sales more than 61 days old from memory and the
// store and returns how many were dropped from memory. Both sides cut at the
// same New York midnight.
func (t *Tracker) ClearExpiredRecords(ctx context.Context) (int, error) {
	cutoff := civil(t.now()).AddDate(0, 0, -RetentionDays)
	y, m, d := cutoff.Date()
	storeCutoff := time.Date(y, m, d, 0, 0, 0, 0, markethours.ET)

	removed := 0
	t.mu.Lock()
	for sym, sales := range t.sales {
		kept := sales[:0]
		for _, ls := range sales {
			if civil(ls.SaleDate).Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, ls)
		}
		if len(kept) == 0 {
			delete(t.sales, sym)
		} else {
			t.sales[sym] = kept
		}
	}
	t.mu.Unlock()

	if t.store != nil {
		if _, err := t.store.DeleteLossSalesBefore(ctx, storeCutoff); err != nil {
			return removed, err
		}
	}
	if removed > 0 {
		t.log.Info("cleared expired loss sales", slog.Int("count", removed), slog.Time("cutoff", storeCutoff))
	}
	return removed, nil
}

// civil is t's New York calendar date, carried at midnight UTC so day
// differences are exact.
func civil(t time.Time) time.Time {
	y, m, d := t.In(markethours.ET).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func windowEnd(saleDate time.Time) time.Time {
	return civil(saleDate).AddDate(0, 0, WindowDays)
}

func sortByDate(s []model.LossSale) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].SaleDate.Before(s[j].SaleDate) })
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
