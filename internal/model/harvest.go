package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// HarvestRecord is a tax-loss harvest whose sell leg filled. Success is
// false when the replacement buy failed; the loss is realized either way.
type HarvestRecord struct {
	SellOrderID  string
	Symbol       string
	Alternative  string
	Quantity     int64
	RealizedLoss decimal.Decimal
	TaxBenefit   decimal.Decimal
	SharesBought int64
	Success      bool
	Error        string
	ExecutedAt   time.Time
}
