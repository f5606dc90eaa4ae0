package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-engine/internal/markethours"
	"trading-engine/internal/model"
)

// SaveLossSale inserts a wash-sale record. Records are immutable, so a
// duplicate ID is an error.
func (s *Store) SaveLossSale(ctx context.Context, ls model.LossSale) error {
	return s.withTx(ctx, "save_loss_sale", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO loss_sales (id, symbol, quantity, loss_amount, sale_date, cost_basis, sale_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ls.ID, ls.Symbol, ls.Quantity, ls.LossAmount, toUnix(ls.SaleDate), ls.CostBasis, ls.SalePrice,
		)
		if err != nil {
			return fmt.Errorf("insert loss sale: %w", err)
		}
		return nil
	})
}

// LoadLossSales returns every stored loss sale ordered by sale date.
func (s *Store) LoadLossSales(ctx context.Context) ([]model.LossSale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, quantity, loss_amount, sale_date, cost_basis, sale_price
		FROM loss_sales ORDER BY sale_date ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite query loss_sales: %w", model.ErrPersistence, err)
	}
	defer rows.Close()

	var out []model.LossSale
	for rows.Next() {
		var ls model.LossSale
		var saleDate int64
		if err := rows.Scan(&ls.ID, &ls.Symbol, &ls.Quantity, &ls.LossAmount, &saleDate, &ls.CostBasis, &ls.SalePrice); err != nil {
			return nil, fmt.Errorf("%w: sqlite scan loss_sales: %w", model.ErrPersistence, err)
		}
		ls.SaleDate = fromUnix(saleDate).In(markethours.ET)
		out = append(out, ls)
	}
	return out, rows.Err()
}

// DeleteLossSalesBefore removes sales dated strictly before cutoff. Callers
// pass a New York midnight so the cut falls on a trading-calendar day.
func (s *Store) DeleteLossSalesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var n int64
	err := s.withTx(ctx, "delete_loss_sales", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM loss_sales WHERE sale_date < ?`, toUnix(cutoff))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}
