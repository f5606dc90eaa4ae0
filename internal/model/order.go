package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", Reject(ErrInvalidInput, "Invalid side %q: must be BUY or SELL", s)
	}
	return side, nil
}

// OrderType is MARKET, LIMIT or STOP.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderStop   OrderType = "STOP"
)

// OrderStatus is the lifecycle state of an order.
// PENDING -> FILLED or PENDING -> CANCELLED; both are terminal.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Order is a single order placed against the ledger or a broker.
type Order struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           Side            `json:"side"`
	Quantity       int64           `json:"quantity"`
	Type           OrderType       `json:"type"`
	LimitPrice     decimal.Decimal `json:"limit_price"` // zero when unset
	StopPrice      decimal.Decimal `json:"stop_price"`  // zero when unset
	Status         OrderStatus     `json:"status"`
	FilledQuantity int64           `json:"filled_quantity"`
	FilledPrice    decimal.Decimal `json:"filled_price"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewOrder validates the order shape and returns a PENDING order.
// Symbols are normalized to upper case.
func NewOrder(id, symbol string, qty int64, side Side, typ OrderType, price decimal.Decimal, at time.Time) (Order, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return Order{}, err
	}
	if qty <= 0 {
		return Order{}, Reject(ErrInvalidInput, "Quantity must be positive, got %d", qty)
	}
	if !side.Valid() {
		return Order{}, Reject(ErrInvalidInput, "Invalid side %q: must be BUY or SELL", string(side))
	}

	o := Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Type:      typ,
		Status:    StatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
	switch typ {
	case OrderMarket:
	case OrderLimit:
		if !price.IsPositive() {
			return Order{}, Reject(ErrInvalidInput, "Limit price must be positive, got %s", price)
		}
		o.LimitPrice = price
	case OrderStop:
		if !price.IsPositive() {
			return Order{}, Reject(ErrInvalidInput, "Stop price must be positive, got %s", price)
		}
		o.StopPrice = price
	default:
		return Order{}, Reject(ErrInvalidInput, "Invalid order type %q", string(typ))
	}
	return o, nil
}

// Fill marks the order filled in full at price.
func (o *Order) Fill(price decimal.Decimal, at time.Time) {
	o.Status = StatusFilled
	o.FilledQuantity = o.Quantity
	o.FilledPrice = price
	o.UpdatedAt = at
}

// Cancel moves a PENDING order to CANCELLED. It returns false for terminal orders.
func (o *Order) Cancel(at time.Time) bool {
	if o.Status.Terminal() {
		return false
	}
	o.Status = StatusCancelled
	o.UpdatedAt = at
	return true
}

// NormalizeSymbol trims and upper-cases a ticker, rejecting empty input.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return "", Reject(ErrInvalidInput, "Symbol must not be empty")
	}
	return s, nil
}

func (o Order) String() string {
	return fmt.Sprintf("%s %s %d %s @%s [%s]", o.ID, o.Side, o.Quantity, o.Symbol, o.Type, o.Status)
}
