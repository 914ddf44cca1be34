package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory keeps records in process. Records are stored encoded, so callers
// never share state with the store.
type Memory[E any, T interface {
	*E
	Record
}] struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	order []string
}

// NewMemory creates an empty in-memory store.
func NewMemory[E any, T interface {
	*E
	Record
}]() *Memory[E, T] {
	return &Memory[E, T]{docs: make(map[string][]byte)}
}

func (m *Memory[E, T]) Save(_ context.Context, rec T) (string, error) {
	id := ensureID(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		m.order = append(m.order, id)
	}
	m.docs[id] = data
	return id, nil
}

func (m *Memory[E, T]) Get(_ context.Context, id string) (T, error) {
	m.mu.RLock()
	data, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decode[E, T](data)
}

func (m *Memory[E, T]) Find(_ context.Context, f Filter) ([]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []T
	for _, id := range m.order {
		data := m.docs[id]
		if !matches(data, f) {
			continue
		}
		rec, err := decode[E, T](data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory[E, T]) FindOne(ctx context.Context, f Filter) (T, error) {
	found, err := m.Find(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return found[0], nil
}

func (m *Memory[E, T]) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.docs, id)
	kept := m.order[:0]
	for _, existing := range m.order {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	m.order = kept
	return nil
}

func (m *Memory[E, T]) All(ctx context.Context) ([]T, error) {
	return m.Find(ctx, nil)
}

func decode[E any, T interface {
	*E
	Record
}](data []byte) (T, error) {
	rec := T(new(E))
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}
