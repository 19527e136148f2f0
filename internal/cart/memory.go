package cart

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Clears counts Clear calls per session.
type MemoryStore struct {
	mu     sync.Mutex
	carts  map[string]Cart
	Clears map[string]int
}

// NewMemoryStore returns a store seeded with carts.
func NewMemoryStore(carts ...Cart) *MemoryStore {
	m := &MemoryStore{carts: map[string]Cart{}, Clears: map[string]int{}}
	for _, c := range carts {
		m.carts[c.SessionID] = c
	}
	return m
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[sessionID]
	if !ok {
		return Cart{}, ErrNotFound
	}
	return c, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, c Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.SessionID] = c
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Clears[sessionID]++
	delete(m.carts, sessionID)
	return nil
}

// ClearCount returns how many times the session was cleared.
func (m *MemoryStore) ClearCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Clears[sessionID]
}
