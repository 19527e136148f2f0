package events

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore writes events to the payment_events table.
type PGStore struct {
	Pool *pgxpool.Pool
}

func (s PGStore) InsertEvent(ctx context.Context, ev Event) error {
	if s.Pool == nil {
		return errors.New("events: pool not configured")
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO payment_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)`, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	return err
}

// MemoryStore keeps events in process.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryStore) InsertEvent(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MemoryStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Count returns how many events were recorded for topic.
func (m *MemoryStore) Count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Topic == topic {
			n++
		}
	}
	return n
}
