// Package sqlite is the durable LedgerStore, LossSaleStore and HarvestStore.
//
// Every write runs inside withTx: a pooled connection is checked out, a
// transaction is opened, and it is rolled back on error or panic before the
// connection returns to the pool. The database runs in WAL mode so reloads
// and health probes do not block the writer.
//
// A store has a single owning process. Open takes an exclusive lock on a
// sidecar "<path>-owner" database and holds it until Close, so a second
// process pointed at the same file fails with ErrLocked instead of racing
// the owner's cash and positions.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"trading-engine/internal/logger"
	"trading-engine/internal/model"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite

	defaultPoolSize = 4
)

// ErrLocked is returned by Open when another process owns the database.
var ErrLocked = errors.New("sqlite: database is owned by another process")

// Config configures the store.
type Config struct {
	Path     string // database file, e.g. "data/ledger.db"
	Driver   string // DriverCGO (default) or DriverPureGo
	PoolSize int    // idle connections kept for reuse; extra demand opens transient connections
}

// Store is a SQLite-backed store.
type Store struct {
	db      *sql.DB
	ownerDB *sql.DB
	owner   *sql.Conn
	log     *slog.Logger

	// OnCommit is called after every transaction with its outcome (optional, for metrics).
	OnCommit func(op string, d time.Duration, err error)
}

var (
	_ model.LedgerStore   = (*Store)(nil)
	_ model.LossSaleStore = (*Store)(nil)
)

// Open opens (or creates) the database, applies WAL pragmas and the schema.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverCGO
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	dsn, err := buildDSN(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, err
	}
	ownerDB, owner, err := acquireOwner(ctx, cfg.Driver, cfg.Path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		releaseOwner(ownerDB, owner)
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Bounded reuse, unbounded overflow: connections beyond PoolSize are
	// closed when returned instead of queueing callers.
	db.SetMaxIdleConns(cfg.PoolSize)
	db.SetMaxOpenConns(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		releaseOwner(ownerDB, owner)
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if err := createSchema(ctx, db); err != nil {
		db.Close()
		releaseOwner(ownerDB, owner)
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	l := logger.Component(log, "sqlite")
	l.Info("opened database", slog.String("path", cfg.Path), slog.String("driver", cfg.Driver), slog.Int("pool", cfg.PoolSize))
	return &Store{db: db, ownerDB: ownerDB, owner: owner, log: l}, nil
}

// acquireOwner opens path+"-owner" in exclusive locking mode with no busy
// wait and writes to it, which takes the lock. The pinned connection keeps
// it until releaseOwner.
func acquireOwner(ctx context.Context, driver, path string) (*sql.DB, *sql.Conn, error) {
	var dsn string
	switch driver {
	case DriverCGO:
		dsn = path + "-owner?_locking_mode=EXCLUSIVE&_busy_timeout=0"
	case DriverPureGo:
		dsn = "file:" + path + "-owner?_pragma=locking_mode(EXCLUSIVE)&_pragma=busy_timeout(0)"
	default:
		return nil, nil, fmt.Errorf("sqlite: unknown driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite open owner: %w", err)
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrLocked, path, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS owner (pid INTEGER NOT NULL)`,
		`DELETE FROM owner`,
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			releaseOwner(db, conn)
			return nil, nil, fmt.Errorf("%w: %s (stop the engine first): %v", ErrLocked, path, err)
		}
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO owner (pid) VALUES (?)`, os.Getpid()); err != nil {
		releaseOwner(db, conn)
		return nil, nil, fmt.Errorf("%w: %s (stop the engine first): %v", ErrLocked, path, err)
	}
	return db, conn, nil
}

func releaseOwner(db *sql.DB, conn *sql.Conn) {
	if conn != nil {
		conn.Close()
	}
	if db != nil {
		db.Close()
	}
}

func buildDSN(driver, path string) (string, error) {
	switch driver {
	case DriverCGO:
		return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", nil
	case DriverPureGo:
		return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", nil
	default:
		return "", fmt.Errorf("sqlite: unknown driver %q", driver)
	}
}

func createSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS portfolio_state (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			cash             TEXT    NOT NULL,
			initial_cash     TEXT    NOT NULL,
			peak_value       TEXT    NOT NULL,
			total_commission TEXT    NOT NULL,
			max_drawdown     REAL    NOT NULL DEFAULT 0,
			updated_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS positions (
			symbol       TEXT    PRIMARY KEY,
			quantity     INTEGER NOT NULL CHECK (quantity >= 0),
			avg_cost     TEXT    NOT NULL,
			realized_pnl TEXT    NOT NULL,
			last_price   TEXT    NOT NULL,
			last_updated INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			id              TEXT    PRIMARY KEY,
			symbol          TEXT    NOT NULL,
			side            TEXT    NOT NULL,
			quantity        INTEGER NOT NULL,
			type            TEXT    NOT NULL,
			limit_price     TEXT    NOT NULL,
			stop_price      TEXT    NOT NULL,
			status          TEXT    NOT NULL,
			filled_quantity INTEGER NOT NULL DEFAULT 0,
			filled_price    TEXT    NOT NULL,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

		CREATE TABLE IF NOT EXISTS trades (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT    NOT NULL UNIQUE,
			order_id     TEXT    NOT NULL,
			symbol       TEXT    NOT NULL,
			side         TEXT    NOT NULL,
			quantity     INTEGER NOT NULL,
			fill_price   TEXT    NOT NULL,
			slippage     TEXT    NOT NULL,
			commission   TEXT    NOT NULL,
			realized_pnl TEXT    NOT NULL,
			executed_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
		CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades(executed_at);

		CREATE TABLE IF NOT EXISTS loss_sales (
			id          TEXT    PRIMARY KEY,
			symbol      TEXT    NOT NULL,
			quantity    INTEGER NOT NULL,
			loss_amount TEXT    NOT NULL,
			sale_date   INTEGER NOT NULL,
			cost_basis  TEXT    NOT NULL,
			sale_price  TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_loss_sales_symbol ON loss_sales(symbol, sale_date);

		CREATE TABLE IF NOT EXISTS harvests (
			sell_order_id TEXT    PRIMARY KEY,
			symbol        TEXT    NOT NULL,
			alternative   TEXT    NOT NULL,
			quantity      INTEGER NOT NULL,
			realized_loss TEXT    NOT NULL,
			tax_benefit   TEXT    NOT NULL,
			shares_bought INTEGER NOT NULL DEFAULT 0,
			success       INTEGER NOT NULL,
			error         TEXT    NOT NULL DEFAULT '',
			executed_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_harvests_executed_at ON harvests(executed_at);

		CREATE TABLE IF NOT EXISTS performance_snapshots (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			taken_at        INTEGER NOT NULL,
			total_value     TEXT    NOT NULL,
			cash            TEXT    NOT NULL,
			positions_value TEXT    NOT NULL,
			realized_pnl    TEXT    NOT NULL,
			unrealized_pnl  TEXT    NOT NULL,
			drawdown        REAL    NOT NULL
		);
	`)
	return err
}

// withTx runs fn in a transaction on a pooled connection. The transaction is
// rolled back unless fn returns nil and the commit succeeds, including when
// fn panics.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("%w: sqlite %s: begin: %w", model.ErrPersistence, op, err)
		s.observe(op, start, err)
		return err
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.log.Warn("rollback failed", slog.String("op", op), slog.Any("error", rbErr))
			}
		}
		s.observe(op, start, err)
	}()

	if err = fn(tx); err != nil {
		err = fmt.Errorf("%w: sqlite %s: %w", model.ErrPersistence, op, err)
		return err
	}
	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("%w: sqlite %s: commit: %w", model.ErrPersistence, op, err)
		return err
	}
	committed = true
	return nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	if s.OnCommit != nil {
		s.OnCommit(op, time.Since(start), err)
	}
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database and releases ownership.
func (s *Store) Close() error {
	err := s.db.Close()
	releaseOwner(s.ownerDB, s.owner)
	return err
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
