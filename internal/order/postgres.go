package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoPending is returned by ReplaceLatest when the caller has no order
// placed today to update.
var ErrNoPending = errors.New("order: no order today for caller")

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id          BIGSERIAL    PRIMARY KEY,
    call_sid    TEXT         NOT NULL DEFAULT '',
    name        TEXT         NOT NULL DEFAULT '',
    phone       TEXT         NOT NULL,
    items       JSONB        NOT NULL DEFAULT '[]',
    location    TEXT         NOT NULL DEFAULT '',
    pickup_time TEXT         NOT NULL DEFAULT '',
    total_cents INTEGER      NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_phone_created
    ON orders (phone, created_at DESC);
`

// PostgresStore is the PostgreSQL-backed [Store]. All methods are safe for
// concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewPostgresStore connects to the database at dsn, ensures the orders table
// exists, and returns a store resolving "today" in loc.
func NewPostgresStore(ctx context.Context, dsn string, loc *time.Location) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("order store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("order store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("order store: migrate: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresStore{pool: pool, loc: loc}, nil
}

// Migrate ensures the orders table and its indexes exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlOrders); err != nil {
		return fmt.Errorf("orders ddl: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Ping verifies database connectivity. Used by the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Insert implements [Store].
func (s *PostgresStore) Insert(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("order store: marshal items: %w", err)
	}
	const q = `
		INSERT INTO orders (call_sid, name, phone, items, location, pickup_time, total_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = s.pool.QueryRow(ctx, q,
		o.CallSID, o.CustomerName, o.Phone, items, o.Location, o.PickupTime, o.TotalCents,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("order store: insert: %w", err)
	}
	return nil
}

// dayBounds returns the start of today and of tomorrow in the store's zone.
func (s *PostgresStore) dayBounds() (time.Time, time.Time) {
	now := time.Now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

// ReplaceLatest implements [Store].
func (s *PostgresStore) ReplaceLatest(ctx context.Context, o *Order) (int64, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return 0, fmt.Errorf("order store: marshal items: %w", err)
	}
	start, end := s.dayBounds()
	const q = `
		UPDATE orders
		SET    call_sid = $1, name = $2, items = $3, location = $4,
		       pickup_time = $5, total_cents = $6, updated_at = now()
		WHERE  id = (
		    SELECT id FROM orders
		    WHERE  phone = $7 AND created_at >= $8 AND created_at < $9
		    ORDER  BY created_at DESC
		    LIMIT  1
		)
		RETURNING id`

	var id int64
	err = s.pool.QueryRow(ctx, q,
		o.CallSID, o.CustomerName, items, o.Location, o.PickupTime, o.TotalCents,
		o.Phone, start, end,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNoPending
	}
	if err != nil {
		return 0, fmt.Errorf("order store: replace latest: %w", err)
	}
	o.ID = id
	return id, nil
}

// TodayByPhone implements [Store].
func (s *PostgresStore) TodayByPhone(ctx context.Context, phone string) ([]Order, error) {
	start, end := s.dayBounds()
	const q = `
		SELECT id, call_sid, name, phone, items, location, pickup_time, total_cents, created_at
		FROM   orders
		WHERE  phone = $1 AND created_at >= $2 AND created_at < $3
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, phone, start, end)
	if err != nil {
		return nil, fmt.Errorf("order store: today by phone: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		var (
			o     Order
			items []byte
		)
		if err := row.Scan(&o.ID, &o.CallSID, &o.CustomerName, &o.Phone, &items,
			&o.Location, &o.PickupTime, &o.TotalCents, &o.CreatedAt); err != nil {
			return Order{}, err
		}
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return Order{}, fmt.Errorf("unmarshal items: %w", err)
		}
		return o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("order store: scan rows: %w", err)
	}
	return orders, nil
}
