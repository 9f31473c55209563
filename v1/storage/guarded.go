package storage

import (
	"context"
	"fmt"

	"github.com/mirkobrombin/go-lease/v1/lock"
)

// Guarded serializes read-modify-write cycles on a Store by holding the
// path's lease for the duration of each cycle. Every writer of the store
// must go through a Guarded sharing the same lock backend.
type Guarded[T any] struct {
	store Store[T]
	locks lock.Manager
	opts  []lock.AcquireOption
}

// NewGuarded pairs store with the lease manager m. opts apply to every
// acquisition made by the returned Guarded.
func NewGuarded[T any](store Store[T], m lock.Manager, opts ...lock.AcquireOption) *Guarded[T] {
	return &Guarded[T]{store: store, locks: m, opts: opts}
}

// Store returns the wrapped store.
func (g *Guarded[T]) Store() Store[T] {
	return g.store
}

// Update reads the document at path, passes it to fn and writes the result,
// all while holding the path's lease. found reports whether a document
// existed. An error from fn aborts the write.
func (g *Guarded[T]) Update(ctx context.Context, path string, fn func(cur T, found bool) (T, error)) (T, error) {
	var out T
	err := lock.Do(ctx, g.locks, path, func(ctx context.Context, _ lock.AcquireResult) error {
		cur, found, err := g.store.Read(ctx, path)
		if err != nil {
			return err
		}
		next, err := fn(cur, found)
		if err != nil {
			return err
		}
		if err := g.store.Write(ctx, path, next); err != nil {
			return err
		}
		out = next
		return nil
	}, g.opts...)
	if err != nil {
		return out, fmt.Errorf("update %q: %w", path, err)
	}
	return out, nil
}

// Delete removes the document at path while holding its lease.
func (g *Guarded[T]) Delete(ctx context.Context, path string) error {
	err := lock.Do(ctx, g.locks, path, func(ctx context.Context, _ lock.AcquireResult) error {
		return g.store.Delete(ctx, path)
	}, g.opts...)
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	return nil
}
