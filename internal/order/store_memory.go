package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps orders in process. Counters let tests assert side effects.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[int64]Order
	notes  map[int64][]string
	// CASCalls counts CompareAndSetStatus invocations; CASWins counts the
	// ones that changed the status.
	CASCalls int
	CASWins  int
	// BeforeCAS, when set, runs before each compare-and-set under no lock.
	BeforeCAS func(id int64)
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: map[int64]Order{}, notes: map[int64][]string{}}
}

// Put inserts or replaces an order.
func (m *MemoryStore) Put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	switch {
	case o.StoredStatus != "":
		o.Status = ParseStatus(o.StoredStatus)
	case o.Status == "":
		o.Status = StatusPending
	}
	if o.StoredStatus == "" {
		o.StoredStatus = string(o.Status)
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	m.orders[o.ID] = cloneOrder(o)
}

// Notes returns the notes recorded for id.
func (m *MemoryStore) Notes(id int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notes[id]...)
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

// CompareAndSetStatus implements Store.
func (m *MemoryStore) CompareAndSetStatus(_ context.Context, id int64, t Transition) (bool, error) {
	if m.BeforeCAS != nil {
		m.BeforeCAS(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CASCalls++
	o, ok := m.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.StoredStatus != t.Expected() {
		return false, nil
	}
	o.Status = t.To
	o.StoredStatus = string(t.To)
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	m.annotateLocked(id, t.Note, t.SetMeta, t.DeleteMeta)
	m.CASWins++
	return true, nil
}

// Annotate implements Store.
func (m *MemoryStore) Annotate(_ context.Context, id int64, note string, setMeta map[string]string, deleteMeta ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return ErrNotFound
	}
	m.annotateLocked(id, note, setMeta, deleteMeta)
	return nil
}

// ListByMeta implements Store.
func (m *MemoryStore) ListByMeta(_ context.Context, key string, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if _, ok := o.Meta[key]; ok {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) annotateLocked(id int64, note string, setMeta map[string]string, deleteMeta []string) {
	o := m.orders[id]
	if o.Meta == nil {
		o.Meta = map[string]string{}
	}
	for k, v := range setMeta {
		o.Meta[k] = v
	}
	for _, k := range deleteMeta {
		delete(o.Meta, k)
	}
	m.orders[id] = o
	if note != "" {
		m.notes[id] = append(m.notes[id], note)
	}
}

func cloneOrder(o Order) Order {
	meta := make(map[string]string, len(o.Meta))
	for k, v := range o.Meta {
		meta[k] = v
	}
	o.Meta = meta
	return o
}
