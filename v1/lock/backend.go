package lock

import (
	"context"
	"time"
)

// DeleteResult is the outcome of a conditional delete.
type DeleteResult int

const (
	// Deleted means a record was removed.
	Deleted DeleteResult = iota
	// Absent means there was nothing stored for the path.
	Absent
	// Mismatch means a record exists but belongs to another lock id.
	Mismatch
)

func (r DeleteResult) String() string {
	switch r {
	case Deleted:
		return "deleted"
	case Absent:
		return "absent"
	case Mismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Backend is the atomic substrate a Locker runs on. Every method must be a
// single indivisible step on the underlying store: Locker never holds state
// between calls and relies entirely on these primitives for exclusion.
//
// Implementations return an error only for infrastructure faults. A failed
// condition (key already present, id or expiry changed) is reported through
// the boolean or DeleteResult.
type Backend interface {
	// Name identifies the backend in metrics, traces and logs.
	Name() string
	// Load returns the stored record for path, expired or not, or nil.
	Load(ctx context.Context, path string) (*Record, error)
	// Create stores rec for path only if nothing is stored yet.
	Create(ctx context.Context, path string, rec *Record) (bool, error)
	// Delete removes the record for path. A non-empty lockID makes the delete
	// conditional on the stored id; an empty one deletes unconditionally.
	Delete(ctx context.Context, path, lockID string) (DeleteResult, error)
	// Extend sets the expiry of path to next only if the stored record still
	// has lockID and an expiry equal to prev.
	Extend(ctx context.Context, path, lockID string, prev, next time.Time) (bool, error)
}

// Resolution is implemented by backends that store expiries at a coarser
// granularity than time.Time. Extensions must be whole multiples of it.
type Resolution interface {
	Resolution() time.Duration
}
