package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable execution record.
type Trade struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    int64           `json:"quantity"`
	FillPrice   decimal.Decimal `json:"fill_price"`
	Slippage    decimal.Decimal `json:"slippage"` // per share
	Commission  decimal.Decimal `json:"commission"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // sells only
	ExecutedAt  time.Time       `json:"executed_at"`
}

// Notional is quantity times fill price.
func (t Trade) Notional() decimal.Decimal {
	return t.FillPrice.Mul(decimal.NewFromInt(t.Quantity))
}

// NetProceeds is what a sell returned to cash after commission.
func (t Trade) NetProceeds() decimal.Decimal {
	return t.Notional().Sub(t.Commission)
}
