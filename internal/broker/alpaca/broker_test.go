package alpaca

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-engine/internal/model"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal   { return decimal.RequireFromString(s) }
func dp(s string) *decimal.Decimal { v := d(s); return &v }

// fakeAPI is a spy for both Alpaca clients.
type fakeAPI struct {
	account   alpaca.Account
	positions []alpaca.Position
	placed    []alpaca.PlaceOrderRequest
	cancelled []string
	prices    map[string]float64
	err       error
}

func (f *fakeAPI) GetAccount() (*alpaca.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &f.account, nil
}

func (f *fakeAPI) GetPositions() ([]alpaca.Position, error) { return f.positions, f.err }

func (f *fakeAPI) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.placed = append(f.placed, req)
	return &alpaca.Order{
		ID:        "alp-1",
		Symbol:    req.Symbol,
		Qty:       req.Qty,
		Side:      req.Side,
		Type:      req.Type,
		Status:    "accepted",
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}, nil
}

func (f *fakeAPI) CancelOrder(id string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeAPI) GetLatestTrade(symbol string, _ marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return nil, errors.New("not found")
	}
	return &marketdata.Trade{Price: p}, nil
}

func newTestBroker(f *fakeAPI) *Broker {
	return newBroker(f, f, func() time.Time { return testNow }, nil)
}

func TestGetMarketPrice(t *testing.T) {
	b := newTestBroker(&fakeAPI{prices: map[string]float64{"AAPL": 150.25}})
	p, err := b.GetMarketPrice(context.Background(), "aapl")
	if err != nil || !p.Equal(d("150.25")) {
		t.Errorf("price = %s, %v", p, err)
	}
	if _, err := b.GetMarketPrice(context.Background(), "NOPE"); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestPlaceLimitOrder_BuildsRequest(t *testing.T) {
	f := &fakeAPI{}
	b := newTestBroker(f)
	o, err := b.PlaceLimitOrder(context.Background(), "msft", 10, model.SideSell, d("301.5"))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.placed) != 1 {
		t.Fatalf("placed %d orders", len(f.placed))
	}
	req := f.placed[0]
	if req.Symbol != "MSFT" || req.Side != alpaca.Sell || req.Type != alpaca.Limit || req.TimeInForce != alpaca.Day {
		t.Errorf("request = %+v", req)
	}
	if req.LimitPrice == nil || !req.LimitPrice.Equal(d("301.5")) || !req.Qty.Equal(d("10")) {
		t.Errorf("limit=%v qty=%v", req.LimitPrice, req.Qty)
	}
	if o.ID != "alp-1" || o.Status != model.StatusPending || o.Type != model.OrderLimit || o.Side != model.SideSell {
		t.Errorf("order = %+v", o)
	}
}

func TestPlaceOrder_InvalidAndUnavailable(t *testing.T) {
	f := &fakeAPI{}
	b := newTestBroker(f)
	if _, err := b.PlaceMarketOrder(context.Background(), "AAPL", 0, model.SideBuy); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("zero qty err = %v", err)
	}
	if len(f.placed) != 0 {
		t.Error("invalid order reached the broker")
	}

	f.err = errors.New("503")
	if _, err := b.PlaceStopOrder(context.Background(), "AAPL", 5, model.SideSell, d("140")); !errors.Is(err, model.ErrBrokerUnavailable) {
		t.Errorf("err = %v, want ErrBrokerUnavailable", err)
	}
	if b.CancelOrder(context.Background(), "x") {
		t.Error("cancel succeeded with broker down")
	}
}

func TestMapStatus(t *testing.T) {
	tests := map[string]model.OrderStatus{
		"new":              model.StatusPending,
		"partially_filled": model.StatusPending,
		"filled":           model.StatusFilled,
		"canceled":         model.StatusCancelled,
		"expired":          model.StatusCancelled,
		"rejected":         model.StatusCancelled,
	}
	for in, want := range tests {
		if got := mapStatus(in); got != want {
			t.Errorf("mapStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestMapOrder_Filled(t *testing.T) {
	o := mapOrder(&alpaca.Order{
		ID:             "x",
		Symbol:         "AAPL",
		Qty:            dp("10"),
		FilledQty:      d("10"),
		FilledAvgPrice: dp("150.1"),
		Side:           alpaca.Buy,
		Type:           alpaca.Market,
		Status:         "filled",
	})
	if o.Status != model.StatusFilled || o.FilledQuantity != 10 || !o.FilledPrice.Equal(d("150.1")) {
		t.Errorf("order = %+v", o)
	}
}

func TestValuation(t *testing.T) {
	f := &fakeAPI{
		account: alpaca.Account{Cash: d("5000")},
		positions: []alpaca.Position{
			{Symbol: "MSFT", Qty: d("10"), AvgEntryPrice: d("300"), CurrentPrice: dp("310")},
			{Symbol: "AAPL", Qty: d("20"), AvgEntryPrice: d("150")},
		},
	}
	b := newTestBroker(f)
	v, err := b.Valuation(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// AAPL has no current price and is valued at cost.
	if !v.TotalValue.Equal(d("11100")) {
		t.Errorf("total = %s, want 11100", v.TotalValue)
	}
	if len(v.Positions) != 2 || v.Positions[0].Symbol != "AAPL" {
		t.Errorf("positions = %+v", v.Positions)
	}
	if !b.PeakValue().Equal(d("11100")) {
		t.Errorf("peak = %s", b.PeakValue())
	}

	f.account.Cash = d("1000")
	b.Valuation(context.Background())
	if !b.PeakValue().Equal(d("11100")) {
		t.Errorf("peak moved down to %s", b.PeakValue())
	}
	if !b.RealizedPnLSince(testNow).IsZero() {
		t.Error("realized pnl not zero")
	}
}
