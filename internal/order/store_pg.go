package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads and writes orders in Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

const selectOrder = `
SELECT id, COALESCE(number, ''), order_key, status, total::text, currency, customer_id,
       billing, shipping, COALESCE(session_id, ''), is_virtual, created_at, updated_at
FROM orders`

// Get loads an order with its metadata.
func (s PGStore) Get(ctx context.Context, id int64) (Order, error) {
	if s.Pool == nil {
		return Order{}, errors.New("order: pool not configured")
	}
	o, err := scanOrder(s.Pool.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	meta, err := loadMeta(ctx, s.Pool, id)
	if err != nil {
		return Order{}, err
	}
	o.Meta = meta
	return o, nil
}

// CompareAndSetStatus guards the update with the raw stored status so
// concurrent reconciliation paths cannot overwrite each other. Aliased
// spellings such as "processing" match as stored.
func (s PGStore) CompareAndSetStatus(ctx context.Context, id int64, t Transition) (bool, error) {
	if s.Pool == nil {
		return false, errors.New("order: pool not configured")
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE orders SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`, id, t.Expected(), string(t.To))
	if err != nil {
		return false, fmt.Errorf("order: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := writeAnnotation(ctx, tx, id, t.Note, t.SetMeta, t.DeleteMeta); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Annotate records a note and metadata without touching the status.
func (s PGStore) Annotate(ctx context.Context, id int64, note string, setMeta map[string]string, deleteMeta ...string) error {
	if s.Pool == nil {
		return errors.New("order: pool not configured")
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := writeAnnotation(ctx, tx, id, note, setMeta, deleteMeta); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListByMeta returns orders carrying the metadata key, oldest update first.
func (s PGStore) ListByMeta(ctx context.Context, key string, limit int) ([]Order, error) {
	if s.Pool == nil {
		return nil, errors.New("order: pool not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, selectOrder+`
WHERE id IN (SELECT order_id FROM order_meta WHERE key = $1)
ORDER BY updated_at ASC
LIMIT $2`, key, limit)
	if err != nil {
		return nil, err
	}
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		meta, err := loadMeta(ctx, s.Pool, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Meta = meta
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.Number, &o.Key, &status, &o.Total, &o.Currency, &o.CustomerID,
		&o.Billing, &o.Shipping, &o.SessionID, &o.Virtual, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.StoredStatus = status
	o.Status = ParseStatus(status)
	return o, nil
}

func loadMeta(ctx context.Context, pool *pgxpool.Pool, id int64) (map[string]string, error) {
	rows, err := pool.Query(ctx, `SELECT key, value FROM order_meta WHERE order_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func writeAnnotation(ctx context.Context, tx pgx.Tx, id int64, note string, setMeta map[string]string, deleteMeta []string) error {
	for k, v := range setMeta {
		if _, err := tx.Exec(ctx, `
INSERT INTO order_meta (order_id, key, value) VALUES ($1, $2, $3)
ON CONFLICT (order_id, key) DO UPDATE SET value = EXCLUDED.value`, id, k, v); err != nil {
			return fmt.Errorf("order: set meta %s: %w", k, err)
		}
	}
	if len(deleteMeta) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM order_meta WHERE order_id = $1 AND key = ANY($2)`, id, deleteMeta); err != nil {
			return fmt.Errorf("order: delete meta: %w", err)
		}
	}
	if note != "" {
		if _, err := tx.Exec(ctx, `INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, id, note); err != nil {
			return fmt.Errorf("order: add note: %w", err)
		}
	}
	return nil
}
