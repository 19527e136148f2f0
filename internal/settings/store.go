package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps options in the settings table.
type PGStore struct {
	Pool *pgxpool.Pool
}

// GetOptions returns the stored values; missing names are absent from the map.
func (s PGStore) GetOptions(ctx context.Context, names ...string) (map[string]string, error) {
	if s.Pool == nil {
		return nil, errors.New("settings: pool not configured")
	}
	rows, err := s.Pool.Query(ctx, `SELECT name, value FROM settings WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string, len(names))
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

// SetOptions upserts all values in one transaction.
func (s PGStore) SetOptions(ctx context.Context, values map[string]string) error {
	if s.Pool == nil {
		return errors.New("settings: pool not configured")
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for name, value := range values {
		if _, err := tx.Exec(ctx, `
INSERT INTO settings (name, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, name, value); err != nil {
			return fmt.Errorf("settings: upsert %s: %w", name, err)
		}
	}
	return tx.Commit(ctx)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	// Reads counts GetOptions calls.
	Reads int
}

// NewMemoryStore seeds a MemoryStore with values.
func NewMemoryStore(values map[string]string) *MemoryStore {
	m := &MemoryStore{values: map[string]string{}}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// GetOptions implements Store.
func (m *MemoryStore) GetOptions(_ context.Context, names ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++
	out := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := m.values[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// SetOptions implements Store.
func (m *MemoryStore) SetOptions(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

// Seed stores bootstrap credentials when none are persisted yet.
func Seed(ctx context.Context, store Store, publicKey, secretKey string) (bool, error) {
	if publicKey == "" && secretKey == "" {
		return false, nil
	}
	current, err := store.GetOptions(ctx, OptionPublicKey, OptionSecretKey)
	if err != nil {
		return false, err
	}
	if current[OptionPublicKey] != "" || current[OptionSecretKey] != "" {
		return false, nil
	}
	if publicKey != "" && !IsValidPublicKey(publicKey) {
		return false, fmt.Errorf("settings: bootstrap public key has an invalid prefix")
	}
	if secretKey != "" && !IsValidSecretKey(secretKey) {
		return false, fmt.Errorf("settings: bootstrap secret key has an invalid prefix")
	}
	return true, store.SetOptions(ctx, map[string]string{
		OptionPublicKey: publicKey,
		OptionSecretKey: secretKey,
	})
}
