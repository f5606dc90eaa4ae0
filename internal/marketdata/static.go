// Package marketdata provides price oracles for the engine.
package marketdata

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

// StaticPrices is an in-memory oracle for paper runs and tests.
type StaticPrices struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticPrices seeds the oracle. Keys are upper-cased.
func NewStaticPrices(seed map[string]decimal.Decimal) *StaticPrices {
	s := &StaticPrices{prices: make(map[string]decimal.Decimal, len(seed))}
	for sym, p := range seed {
		s.prices[strings.ToUpper(sym)] = p
	}
	return s
}

// Set replaces the price of symbol.
func (s *StaticPrices) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[strings.ToUpper(symbol)] = price
	s.mu.Unlock()
}

// Delete removes symbol so lookups fail with ErrPriceUnavailable.
func (s *StaticPrices) Delete(symbol string) {
	s.mu.Lock()
	delete(s.prices, strings.ToUpper(symbol))
	s.mu.Unlock()
}

// Symbols returns the priced symbols in order.
func (s *StaticPrices) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *StaticPrices) GetMarketPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	p, ok := s.prices[strings.ToUpper(symbol)]
	s.mu.RUnlock()
	if !ok {
		return decimal.Zero, model.Reject(model.ErrPriceUnavailable, "No price available for %s", symbol)
	}
	return p, nil
}

// Fallback asks each oracle in turn and returns the first price found.
type Fallback []model.PriceOracle

func (f Fallback) GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var errs []error
	for _, o := range f {
		p, err := o.GetMarketPrice(ctx, symbol)
		if err == nil {
			return p, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return decimal.Zero, model.Reject(model.ErrPriceUnavailable, "No price source for %s", symbol)
	}
	return decimal.Zero, errors.Join(errs...)
}
