// Package store persists the order flow to SQLite: orders, the trades that
// filled them, and the resulting positions, joined by id.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"tradepipe/pkg/types"
)

// ErrNotFound is returned when a record is absent.
var ErrNotFound = errors.New("store: record not found")

// Store wraps the SQL handle.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and runs
// the schema migration.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers a single writer.
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// Close releases the underlying handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    exchange_order_id TEXT,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    qty TEXT NOT NULL,
    price TEXT,
    status TEXT NOT NULL,
    filled_qty TEXT NOT NULL DEFAULT '0',
    filled_price TEXT NOT NULL DEFAULT '0',
    correlation_id TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL REFERENCES orders(id),
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty TEXT NOT NULL,
    price TEXT NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    symbol TEXT PRIMARY KEY,
    side TEXT NOT NULL,
    qty TEXT NOT NULL,
    entry_price TEXT NOT NULL,
    realized_pnl TEXT NOT NULL DEFAULT '0',
    opened_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SaveOrder inserts or replaces an order row.
func (s *Store) SaveOrder(ctx context.Context, o types.Order) error {
	var price any
	if o.Price != nil {
		price = o.Price.String()
	}
	var updated any
	if o.UpdatedAt != nil {
		updated = o.UpdatedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, exchange_order_id, symbol, side, type, qty, price,
		                    status, filled_qty, filled_price, correlation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			filled_price = excluded.filled_price,
			updated_at = excluded.updated_at
	`, o.ID, o.ExchangeOrderID, o.Symbol, string(o.Side), string(o.Type),
		o.Quantity.String(), price, string(o.Status),
		o.FilledQuantity.String(), o.FilledPrice.String(),
		o.CorrelationID, o.CreatedAt.UTC(), updated)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

// SaveTrade records a fill against its order.
func (s *Store) SaveTrade(ctx context.Context, o types.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, symbol, side, qty, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), o.ID, o.Symbol, string(o.Side),
		o.FilledQuantity.String(), o.FilledPrice.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save trade for order %s: %w", o.ID, err)
	}
	return nil
}

// SavePosition upserts the position row for a symbol.
func (s *Store) SavePosition(ctx context.Context, p types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, qty, entry_price, realized_pnl, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			side = excluded.side,
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			realized_pnl = excluded.realized_pnl,
			updated_at = excluded.updated_at
	`, p.Symbol, string(p.Side), p.Quantity.String(), p.EntryPrice.String(),
		p.RealizedPnL.String(), p.OpenedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.Symbol, err)
	}
	return nil
}

// GetOrder loads one order by internal id.
func (s *Store) GetOrder(ctx context.Context, id string) (types.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(exchange_order_id, ''), symbol, side, type, qty,
		       price, status, filled_qty, filled_price, COALESCE(correlation_id, ''), created_at
		FROM orders WHERE id = ?
	`, id)
	return scanOrder(row)
}

// PendingOrders returns orders not yet in a terminal status.
func (s *Store) PendingOrders(ctx context.Context) ([]types.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(exchange_order_id, ''), symbol, side, type, qty,
		       price, status, filled_qty, filled_price, COALESCE(correlation_id, ''), created_at
		FROM orders WHERE status IN ('NEW', 'PARTIALLY_FILLED')
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (types.Order, error) {
	var (
		o                 types.Order
		side, typ, status string
		qty, fqty, fprice string
		price             sql.NullString
	)
	err := row.Scan(&o.ID, &o.ExchangeOrderID, &o.Symbol, &side, &typ, &qty,
		&price, &status, &fqty, &fprice, &o.CorrelationID, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, fmt.Errorf("scan order: %w", err)
	}

	o.Side = types.OrderSide(side)
	o.Type = types.OrderType(typ)
	o.Status = types.OrderStatus(status)
	if o.Quantity, err = parseDecimal(qty); err != nil {
		return o, err
	}
	if o.FilledQuantity, err = parseDecimal(fqty); err != nil {
		return o, err
	}
	if o.FilledPrice, err = parseDecimal(fprice); err != nil {
		return o, err
	}
	if price.Valid {
		p, err := parseDecimal(price.String)
		if err != nil {
			return o, err
		}
		o.Price = &p
	}
	return o, nil
}
