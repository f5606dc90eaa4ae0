package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a long holding in one symbol. Quantity is never negative;
// the ledger removes the position when it reaches zero.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	LastPrice   decimal.Decimal `json:"last_price"`
	LastUpdated time.Time       `json:"last_updated"`
}

// CostBasis is quantity times average cost.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgCost.Mul(decimal.NewFromInt(p.Quantity))
}

// MarketValue is quantity times the last known price.
func (p Position) MarketValue() decimal.Decimal {
	return p.LastPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL is (last price - average cost) * quantity.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.LastPrice.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Quantity))
}

// Valuation is a consistent point-in-time view of the portfolio with every
// position marked to the freshest price available.
type Valuation struct {
	Cash           decimal.Decimal `json:"cash"`
	Positions      []Position      `json:"positions"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	TotalValue     decimal.Decimal `json:"total_value"`
	AsOf           time.Time       `json:"as_of"`
}

// Position returns the marked position for symbol, if held.
func (v Valuation) Position(symbol string) (Position, bool) {
	for _, p := range v.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return Position{}, false
}

// PortfolioState is the persisted account-level bookkeeping.
type PortfolioState struct {
	Cash            decimal.Decimal `json:"cash"`
	InitialCash     decimal.Decimal `json:"initial_cash"`
	PeakValue       decimal.Decimal `json:"peak_value"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	MaxDrawdown     float64         `json:"max_drawdown"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PerformanceSnapshot is a periodic valuation record.
type PerformanceSnapshot struct {
	TakenAt        time.Time       `json:"taken_at"`
	TotalValue     decimal.Decimal `json:"total_value"`
	Cash           decimal.Decimal `json:"cash"`
	PositionsValue decimal.Decimal `json:"positions_value"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
	Drawdown       float64         `json:"drawdown"`
}
