package lock

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Backend using local memory. It is atomic within one
// process only and is meant for tests and single-process tools.
type InMemory struct {
	mu    sync.Mutex
	locks map[string]*Record
}

// NewInMemory returns an empty in-memory backend.
func NewInMemory() *InMemory {
	return &InMemory{locks: make(map[string]*Record)}
}

// Name implements Backend.Name.
func (m *InMemory) Name() string {
	return "memory"
}

// Load implements Backend.Load.
func (m *InMemory) Load(ctx context.Context, path string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[path].clone(), nil
}

// Create implements Backend.Create.
func (m *InMemory) Create(ctx context.Context, path string, rec *Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[path]; ok {
		return false, nil
	}
	m.locks[path] = rec.clone()
	return true, nil
}

// Delete implements Backend.Delete.
func (m *InMemory) Delete(ctx context.Context, path, lockID string) (DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return Absent, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.locks[path]
	if !ok {
		return Absent, nil
	}
	if lockID != "" && rec.LockID != lockID {
		return Mismatch, nil
	}
	delete(m.locks, path)
	return Deleted, nil
}

// Extend implements Backend.Extend.
func (m *InMemory) Extend(ctx context.Context, path, lockID string, prev, next time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.locks[path]
	if !ok || rec.LockID != lockID || !rec.ExpiresAt.Equal(prev) {
		return false, nil
	}
	rec.ExpiresAt = next
	return true, nil
}
