package model

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ── Collaborator ports ──
// These interfaces decouple the engine from concrete price sources and
// storage (SQLite, Redis, broker APIs).

// PriceOracle returns the current market price for a symbol.
// Implementations return ErrPriceUnavailable (wrapped or bare) when no price
// exists; the engine never retries on their behalf.
type PriceOracle interface {
	GetMarketPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// FillRecord is everything one fill changes, committed atomically.
// Position is nil when the fill closed the position.
type FillRecord struct {
	Order    Order
	Trade    Trade
	Symbol   string
	Position *Position
	State    PortfolioState
}

// LedgerState is what the ledger reloads on restart.
type LedgerState struct {
	State     PortfolioState
	Positions []Position
	Orders    []Order
	Trades    []Trade
	Found     bool // false on an empty store
}

// LedgerStore persists ledger state.
type LedgerStore interface {
	// CommitFill writes the order, trade, position and portfolio state in one transaction.
	CommitFill(ctx context.Context, rec FillRecord) error

	// SaveOrder upserts an order without a fill (CANCELLED or PENDING).
	SaveOrder(ctx context.Context, o Order) error

	// SavePortfolioState upserts the single portfolio state row.
	SavePortfolioState(ctx context.Context, s PortfolioState) error

	// SaveSnapshot appends a performance snapshot.
	SaveSnapshot(ctx context.Context, s PerformanceSnapshot) error

	// LoadLedger reads back everything committed.
	LoadLedger(ctx context.Context) (LedgerState, error)
}

// LossSaleStore persists wash-sale compliance records.
type LossSaleStore interface {
	SaveLossSale(ctx context.Context, ls LossSale) error
	LoadLossSales(ctx context.Context) ([]LossSale, error)
	// DeleteLossSalesBefore removes sales dated strictly before cutoff and returns how many.
	DeleteLossSalesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// HarvestStore persists executed harvests so realized benefit survives restarts.
type HarvestStore interface {
	SaveHarvest(ctx context.Context, r HarvestRecord) error
	// LoadHarvests returns harvests executed at or after since, oldest first.
	LoadHarvests(ctx context.Context, since time.Time) ([]HarvestRecord, error)
}
