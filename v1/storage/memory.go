package storage

import (
	"context"
	"sync"
)

// InMemoryStore is a simple Store implementation backed by a map.
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	opts  options[T]
}

// NewInMemoryStore returns a new InMemoryStore.
func NewInMemoryStore[T any](opts ...Option[T]) *InMemoryStore[T] {
	return &InMemoryStore[T]{items: make(map[string]T), opts: newOptions(opts)}
}

// Read implements Store.Read.
func (s *InMemoryStore[T]) Read(ctx context.Context, path string) (T, bool, error) {
	var zero T
	if err := checkPath(path); err != nil {
		return zero, false, err
	}
	s.mu.RLock()
	v, ok := s.items[path]
	s.mu.RUnlock()
	if !ok {
		return zero, false, nil
	}
	return v, true, nil
}

// Write implements Store.Write.
func (s *InMemoryStore[T]) Write(ctx context.Context, path string, value T) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if err := s.opts.validate(path, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.items[path] = value
	s.mu.Unlock()
	return nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore[T]) Delete(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, path)
	s.mu.Unlock()
	return nil
}

// Exists implements Store.Exists.
func (s *InMemoryStore[T]) Exists(ctx context.Context, path string) (bool, error) {
	if err := checkPath(path); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok := s.items[path]
	s.mu.RUnlock()
	return ok, nil
}
