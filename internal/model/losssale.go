package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LossSale records a security sold below its cost basis. It is never mutated.
type LossSale struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Quantity   int64           `json:"quantity"`
	LossAmount decimal.Decimal `json:"loss_amount"`
	SaleDate   time.Time       `json:"sale_date"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
	SalePrice  decimal.Decimal `json:"sale_price"`
}

// NewLossSale validates and builds a LossSale.
func NewLossSale(id, symbol string, qty int64, loss decimal.Decimal, saleDate time.Time, costBasis, salePrice decimal.Decimal) (LossSale, error) {
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return LossSale{}, err
	}
	if qty <= 0 {
		return LossSale{}, Reject(ErrInvalidInput, "Loss sale quantity must be positive, got %d", qty)
	}
	if loss.IsNegative() {
		return LossSale{}, Reject(ErrInvalidInput, "Loss amount must not be negative, got %s", loss)
	}
	return LossSale{
		ID:         id,
		Symbol:     symbol,
		Quantity:   qty,
		LossAmount: loss,
		SaleDate:   saleDate,
		CostBasis:  costBasis,
		SalePrice:  salePrice,
	}, nil
}
