package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store[T].
//
// Values are held as JSON so that a loaded snapshot never aliases the value
// that was saved. MemStore is safe for concurrent use and is intended for
// tests and short-lived runs.
type MemStore[T any] struct {
	mu      sync.RWMutex
	records map[string]memRecord
	latest  string
	closed  bool
	now     func() time.Time
}

type memRecord struct {
	stage   int
	savedAt time.Time
	data    []byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[T any]() *MemStore[T] {
	return &MemStore[T]{
		records: make(map[string]memRecord),
		now:     time.Now,
	}
}

// Save implements Store.
func (m *MemStore[T]) Save(_ context.Context, name string, stage int, value T) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[name] = memRecord{stage: stage, savedAt: m.now().UTC(), data: data}
	m.latest = name
	return nil
}

// LoadLatest implements Store.
func (m *MemStore[T]) LoadLatest(ctx context.Context) (T, string, error) {
	m.mu.RLock()
	name := m.latest
	closed := m.closed
	m.mu.RUnlock()

	var zero T
	if closed {
		return zero, "", ErrClosed
	}
	if name == "" {
		return zero, "", ErrNotFound
	}
	value, err := m.Load(ctx, name)
	if err != nil {
		return zero, "", err
	}
	return value, name, nil
}

// Load implements Store.
func (m *MemStore[T]) Load(_ context.Context, name string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value T
	if m.closed {
		return value, ErrClosed
	}
	rec, ok := m.records[name]
	if !ok {
		return value, ErrNotFound
	}
	if err := json.Unmarshal(rec.data, &value); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to unmarshal snapshot %q: %w: %w", name, ErrCorrupt, err)
	}
	return value, nil
}

// List implements Store.
func (m *MemStore[T]) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	entries := make([]Entry, 0, len(m.records))
	for name, rec := range m.records {
		entries = append(entries, Entry{
			Name:    name,
			Stage:   rec.stage,
			SavedAt: rec.savedAt,
			Current: name == m.latest,
		})
	}
	sortEntries(entries)
	return entries, nil
}

// Close implements Store.
func (m *MemStore[T]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].SavedAt.Equal(entries[j].SavedAt) {
			return entries[i].SavedAt.Before(entries[j].SavedAt)
		}
		return entries[i].Name < entries[j].Name
	})
}
