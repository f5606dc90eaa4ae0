package marketdata

import (
	"context"
	"errors"
	"testing"

	"trading-engine/internal/model"

	"github.com/shopspring/decimal"
)

func TestStaticPrices(t *testing.T) {
	s := NewStaticPrices(map[string]decimal.Decimal{"aapl": decimal.NewFromInt(150)})
	ctx := context.Background()

	p, err := s.GetMarketPrice(ctx, "AAPL")
	if err != nil || !p.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("GetMarketPrice = %s, %v", p, err)
	}

	s.Set("MSFT", decimal.NewFromInt(300))
	if got := s.Symbols(); len(got) != 2 || got[0] != "AAPL" || got[1] != "MSFT" {
		t.Errorf("Symbols = %v", got)
	}

	s.Delete("aapl")
	if _, err := s.GetMarketPrice(ctx, "AAPL"); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestFallback(t *testing.T) {
	primary := NewStaticPrices(nil)
	secondary := NewStaticPrices(map[string]decimal.Decimal{"NVDA": decimal.NewFromInt(900)})
	f := Fallback{primary, secondary}
	ctx := context.Background()

	p, err := f.GetMarketPrice(ctx, "NVDA")
	if err != nil || !p.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("fallback = %s, %v", p, err)
	}

	primary.Set("NVDA", decimal.NewFromInt(901))
	p, _ = f.GetMarketPrice(ctx, "NVDA")
	if !p.Equal(decimal.NewFromInt(901)) {
		t.Errorf("expected primary price, got %s", p)
	}

	if _, err := f.GetMarketPrice(ctx, "TSLA"); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Errorf("expected ErrPriceUnavailable, got %v", err)
	}
}
