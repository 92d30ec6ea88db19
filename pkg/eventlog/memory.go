package eventlog

import (
	"context"
	"sync"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
)

// MemoryStore is the reference Store for tests and ephemeral instances.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[Stream][]contracts.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[Stream][]contracts.Event)}
}

func (m *MemoryStore) Append(ctx context.Context, s Stream, e contracts.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[s] = append(m.streams[s], e)
	return nil
}

func (m *MemoryStore) ReadAll(ctx context.Context, s Stream) ([]contracts.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.Event, len(m.streams[s]))
	copy(out, m.streams[s])
	return out, nil
}

func (m *MemoryStore) ReadAfter(ctx context.Context, s Stream, afterID string, limit int) ([]contracts.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.streams[s]
	start := 0
	if afterID != "" {
		for i, e := range events {
			if e.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	out := events[start:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	cp := make([]contracts.Event, len(out))
	copy(cp, out)
	return cp, nil
}

func (m *MemoryStore) Tail(ctx context.Context, s Stream) (*contracts.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.streams[s]
	if len(events) == 0 {
		return nil, nil
	}
	e := events[len(events)-1]
	return &e, nil
}

// Tamper mutates a stored event in place. Test hook for chain-integrity
// checks; never part of the Store contract.
func (m *MemoryStore) Tamper(s Stream, index int, mutate func(*contracts.Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= 0 && index < len(m.streams[s]) {
		mutate(&m.streams[s][index])
	}
}
