package harvest

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a position whose unrealized loss is worth harvesting.
type Opportunity struct {
	Symbol         string          `json:"symbol"`
	Quantity       int64           `json:"quantity"`
	AvgCost        decimal.Decimal `json:"avg_cost"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	CostBasis      decimal.Decimal `json:"cost_basis"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedLoss decimal.Decimal `json:"unrealized_loss"` // positive amount
	PurchaseDate   time.Time       `json:"purchase_date"`
	HoldingDays    int             `json:"holding_days"`
	LongTerm       bool            `json:"long_term"`
	TaxRate        float64         `json:"tax_rate"`
	TaxBenefit     decimal.Decimal `json:"estimated_tax_benefit"`
}

// Plan pairs an opportunity with the replacement security.
type Plan struct {
	Opportunity
	Alternative string `json:"alternative"`
}

// Result is the outcome of ExecuteHarvest.
type Result struct {
	Plan         Plan            `json:"plan"`
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	SellOrderID  string          `json:"sell_order_id,omitempty"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	Proceeds     decimal.Decimal `json:"proceeds"`
	RealizedLoss decimal.Decimal `json:"realized_loss"`
	TaxBenefit   decimal.Decimal `json:"tax_benefit"`
	LossSaleID   string          `json:"loss_sale_id,omitempty"`
	BuyOrderID   string          `json:"buy_order_id,omitempty"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SharesBought int64           `json:"shares_bought"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// YearEndPlan is the recommended harvest schedule for a tax year.
type YearEndPlan struct {
	AsOf                 time.Time       `json:"as_of"`
	ExecutionDate        time.Time       `json:"execution_date"`
	ShortTerm            []Opportunity   `json:"short_term"`
	LongTerm             []Opportunity   `json:"long_term"`
	Recommended          []Plan          `json:"recommended"`
	ShortTermLoss        decimal.Decimal `json:"short_term_loss"`
	LongTermLoss         decimal.Decimal `json:"long_term_loss"`
	TotalLoss            decimal.Decimal `json:"total_loss"`
	EstimatedTaxBenefit  decimal.Decimal `json:"estimated_tax_benefit"`
	OrdinaryIncomeOffset decimal.Decimal `json:"ordinary_income_offset"`
	CarryForward         decimal.Decimal `json:"carry_forward"`
}
