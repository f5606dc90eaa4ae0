package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-engine/internal/model"
)

var _ model.HarvestStore = (*Store)(nil)

// SaveHarvest upserts a harvest keyed by its sell order.
func (s *Store) SaveHarvest(ctx context.Context, r model.HarvestRecord) error {
	return s.withTx(ctx, "save_harvest", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO harvests (sell_order_id, symbol, alternative, quantity, realized_loss,
				tax_benefit, shares_bought, success, error, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(sell_order_id) DO UPDATE SET
				shares_bought = excluded.shares_bought,
				success       = excluded.success,
				error         = excluded.error`,
			r.SellOrderID, r.Symbol, r.Alternative, r.Quantity, r.RealizedLoss,
			r.TaxBenefit, r.SharesBought, r.Success, r.Error, toUnix(r.ExecutedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert harvest: %w", err)
		}
		return nil
	})
}

// LoadHarvests returns harvests executed at or after since, oldest first.
func (s *Store) LoadHarvests(ctx context.Context, since time.Time) ([]model.HarvestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sell_order_id, symbol, alternative, quantity, realized_loss,
			tax_benefit, shares_bought, success, error, executed_at
		FROM harvests WHERE executed_at >= ? ORDER BY executed_at ASC`, toUnix(since))
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite query harvests: %w", model.ErrPersistence, err)
	}
	defer rows.Close()

	var out []model.HarvestRecord
	for rows.Next() {
		var r model.HarvestRecord
		var at int64
		if err := rows.Scan(&r.SellOrderID, &r.Symbol, &r.Alternative, &r.Quantity, &r.RealizedLoss,
			&r.TaxBenefit, &r.SharesBought, &r.Success, &r.Error, &at); err != nil {
			return nil, fmt.Errorf("%w: sqlite scan harvests: %w", model.ErrPersistence, err)
		}
		r.ExecutedAt = fromUnix(at)
		out = append(out, r)
	}
	return out, rows.Err()
}
