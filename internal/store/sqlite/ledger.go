package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"trading-engine/internal/model"
)

const upsertOrderSQL = `
	INSERT INTO orders (id, symbol, side, quantity, type, limit_price, stop_price, status,
		filled_quantity, filled_price, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		filled_quantity = excluded.filled_quantity,
		filled_price = excluded.filled_price,
		updated_at = excluded.updated_at`

const upsertStateSQL = `
	INSERT INTO portfolio_state (id, cash, initial_cash, peak_value, total_commission, max_drawdown, updated_at)
	VALUES (1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		cash = excluded.cash,
		peak_value = excluded.peak_value,
		total_commission = excluded.total_commission,
		max_drawdown = excluded.max_drawdown,
		updated_at = excluded.updated_at`

// CommitFill writes the order, trade, position change and portfolio state in
// a single transaction.
func (s *Store) CommitFill(ctx context.Context, rec model.FillRecord) error {
	return s.withTx(ctx, "commit_fill", func(tx *sql.Tx) error {
		if err := upsertOrder(ctx, tx, rec.Order); err != nil {
			return err
		}

		t := rec.Trade
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trades (id, order_id, symbol, side, quantity, fill_price, slippage, commission, realized_pnl, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.OrderID, t.Symbol, string(t.Side), t.Quantity,
			t.FillPrice, t.Slippage, t.Commission, t.RealizedPnL, toUnix(t.ExecutedAt),
		); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}

		if rec.Position == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, rec.Symbol); err != nil {
				return fmt.Errorf("delete position: %w", err)
			}
		} else {
			p := rec.Position
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO positions (symbol, quantity, avg_cost, realized_pnl, last_price, last_updated)
				VALUES (?, ?, ?, ?, ?, ?)`,
				p.Symbol, p.Quantity, p.AvgCost, p.RealizedPnL, p.LastPrice, toUnix(p.LastUpdated),
			); err != nil {
				return fmt.Errorf("upsert position: %w", err)
			}
		}

		return upsertState(ctx, tx, rec.State)
	})
}

// SaveOrder upserts an order that did not fill.
func (s *Store) SaveOrder(ctx context.Context, o model.Order) error {
	return s.withTx(ctx, "save_order", func(tx *sql.Tx) error {
		return upsertOrder(ctx, tx, o)
	})
}

// SavePortfolioState upserts the portfolio state row.
func (s *Store) SavePortfolioState(ctx context.Context, st model.PortfolioState) error {
	return s.withTx(ctx, "save_state", func(tx *sql.Tx) error {
		return upsertState(ctx, tx, st)
	})
}

// SaveSnapshot appends a performance snapshot and prunes all but the newest 10,000.
func (s *Store) SaveSnapshot(ctx context.Context, snap model.PerformanceSnapshot) error {
	return s.withTx(ctx, "save_snapshot", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO performance_snapshots (taken_at, total_value, cash, positions_value, realized_pnl, unrealized_pnl, drawdown)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			toUnix(snap.TakenAt), snap.TotalValue, snap.Cash, snap.PositionsValue,
			snap.RealizedPnL, snap.UnrealizedPnL, snap.Drawdown,
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM performance_snapshots
			WHERE id NOT IN (SELECT id FROM performance_snapshots ORDER BY id DESC LIMIT 10000)`)
		return err
	})
}

// LoadSnapshots returns the newest snapshots, oldest first.
func (s *Store) LoadSnapshots(ctx context.Context, limit int) ([]model.PerformanceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT taken_at, total_value, cash, positions_value, realized_pnl, unrealized_pnl, drawdown
		FROM (SELECT * FROM performance_snapshots ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.PerformanceSnapshot
	for rows.Next() {
		var snap model.PerformanceSnapshot
		var taken int64
		if err := rows.Scan(&taken, &snap.TotalValue, &snap.Cash, &snap.PositionsValue,
			&snap.RealizedPnL, &snap.UnrealizedPnL, &snap.Drawdown); err != nil {
			return nil, fmt.Errorf("sqlite scan snapshot: %w", err)
		}
		snap.TakenAt = fromUnix(taken)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// LoadLedger reads the whole ledger inside one transaction so the result is a
// single point-in-time view.
func (s *Store) LoadLedger(ctx context.Context) (model.LedgerState, error) {
	var st model.LedgerState
	err := s.withTx(ctx, "load_ledger", func(tx *sql.Tx) error {
		var err error
		if st.State, st.Found, err = loadState(ctx, tx); err != nil {
			return err
		}
		if st.Positions, err = loadPositions(ctx, tx); err != nil {
			return err
		}
		if st.Orders, err = loadOrders(ctx, tx); err != nil {
			return err
		}
		st.Trades, err = loadTrades(ctx, tx)
		return err
	})
	return st, err
}

func upsertOrder(ctx context.Context, tx *sql.Tx, o model.Order) error {
	_, err := tx.ExecContext(ctx, upsertOrderSQL,
		o.ID, o.Symbol, string(o.Side), o.Quantity, string(o.Type),
		o.LimitPrice, o.StopPrice, string(o.Status),
		o.FilledQuantity, o.FilledPrice, toUnix(o.CreatedAt), toUnix(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.ID, err)
	}
	return nil
}

func upsertState(ctx context.Context, tx *sql.Tx, st model.PortfolioState) error {
	_, err := tx.ExecContext(ctx, upsertStateSQL,
		st.Cash, st.InitialCash, st.PeakValue, st.TotalCommission, st.MaxDrawdown, toUnix(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert portfolio state: %w", err)
	}
	return nil
}

func loadState(ctx context.Context, tx *sql.Tx) (model.PortfolioState, bool, error) {
	var st model.PortfolioState
	var updated int64
	err := tx.QueryRowContext(ctx, `
		SELECT cash, initial_cash, peak_value, total_commission, max_drawdown, updated_at
		FROM portfolio_state WHERE id = 1`,
	).Scan(&st.Cash, &st.InitialCash, &st.PeakValue, &st.TotalCommission, &st.MaxDrawdown, &updated)
	if err == sql.ErrNoRows {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("read portfolio state: %w", err)
	}
	st.UpdatedAt = fromUnix(updated)
	return st, true, nil
}

func loadPositions(ctx context.Context, tx *sql.Tx) ([]model.Position, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT symbol, quantity, avg_cost, realized_pnl, last_price, last_updated
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var updated int64
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AvgCost, &p.RealizedPnL, &p.LastPrice, &updated); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.LastUpdated = fromUnix(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadOrders(ctx context.Context, tx *sql.Tx) ([]model.Order, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, type, limit_price, stop_price, status,
			filled_quantity, filled_price, created_at, updated_at
		FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var side, typ, status string
		var created, updated int64
		if err := rows.Scan(&o.ID, &o.Symbol, &side, &o.Quantity, &typ, &o.LimitPrice, &o.StopPrice,
			&status, &o.FilledQuantity, &o.FilledPrice, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side, o.Type, o.Status = model.Side(side), model.OrderType(typ), model.OrderStatus(status)
		o.CreatedAt, o.UpdatedAt = fromUnix(created), fromUnix(updated)
		out = append(out, o)
	}
	return out, rows.Err()
}

func loadTrades(ctx context.Context, tx *sql.Tx) ([]model.Trade, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, order_id, symbol, side, quantity, fill_price, slippage, commission, realized_pnl, executed_at
		FROM trades ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var side string
		var executed int64
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &t.Quantity,
			&t.FillPrice, &t.Slippage, &t.Commission, &t.RealizedPnL, &executed); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Side = model.Side(side)
		t.ExecutedAt = fromUnix(executed)
		out = append(out, t)
	}
	return out, rows.Err()
}
