package lock

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

const (
	defaultFileMode   = 0o644
	fileLockRetryTick = 10 * time.Millisecond
)

// FileBackend keeps every lease of a namespace in one JSON file mapping
// resource path to record. Each primitive is a scoped transaction: it takes
// the in-process mutex and an advisory lock on a sidecar "<file>.lock",
// reloads the whole mapping, and rewrites the whole file only when it changed.
// Both locks are released on every return path.
//
// The guarantees are process-local. The medium has no compare-and-swap and
// advisory locks are not honoured everywhere (NFS, some container volumes),
// so several processes sharing one file are not a supported setup.
type FileBackend struct {
	path string
	mode os.FileMode

	mu    sync.Mutex
	flock *flock.Flock
}

// FileOption configures a FileBackend.
type FileOption func(*FileBackend)

// WithFileMode sets the permissions used when the lock file is written.
func WithFileMode(mode os.FileMode) FileOption {
	return func(b *FileBackend) {
		b.mode = mode
	}
}

// NewFileBackend opens the lock file at path, creating it and its parent
// directories when missing. A file that is not a valid mapping is an error.
func NewFileBackend(path string, opts ...FileOption) (*FileBackend, error) {
	if path == "" {
		return nil, leaseerrors.ErrInvalidPath
	}
	b := &FileBackend{path: path, mode: defaultFileMode}
	for _, opt := range opts {
		opt(b)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	b.flock = flock.New(path + ".lock")
	err := b.transact(context.Background(), func(_ map[string]*Record, exists bool) (bool, error) {
		return !exists, nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewFile returns a Locker persisting leases in the file at path.
func NewFile(path string, opts ...Option) (*Locker, error) {
	b, err := NewFileBackend(path)
	if err != nil {
		return nil, err
	}
	return New(b, opts...), nil
}

// Path returns the location of the lock file.
func (b *FileBackend) Path() string {
	return b.path
}

// Name implements Backend.Name.
func (b *FileBackend) Name() string {
	return "file"
}

// Load implements Backend.Load.
func (b *FileBackend) Load(ctx context.Context, path string) (*Record, error) {
	var rec *Record
	err := b.transact(ctx, func(locks map[string]*Record, _ bool) (bool, error) {
		rec = locks[path].clone()
		return false, nil
	})
	return rec, err
}

// Create implements Backend.Create.
func (b *FileBackend) Create(ctx context.Context, path string, rec *Record) (bool, error) {
	var created bool
	err := b.transact(ctx, func(locks map[string]*Record, _ bool) (bool, error) {
		if _, ok := locks[path]; ok {
			return false, nil
		}
		stored := rec.clone()
		if stored.Metadata == nil {
			stored.Metadata = map[string]any{}
		}
		locks[path] = stored
		created = true
		return true, nil
	})
	return created, err
}

// Delete implements Backend.Delete.
func (b *FileBackend) Delete(ctx context.Context, path, lockID string) (DeleteResult, error) {
	res := Absent
	err := b.transact(ctx, func(locks map[string]*Record, _ bool) (bool, error) {
		rec, ok := locks[path]
		if !ok {
			return false, nil
		}
		if lockID != "" && rec.LockID != lockID {
			res = Mismatch
			return false, nil
		}
		delete(locks, path)
		res = Deleted
		return true, nil
	})
	return res, err
}

// Extend implements Backend.Extend.
func (b *FileBackend) Extend(ctx context.Context, path, lockID string, prev, next time.Time) (bool, error) {
	var extended bool
	err := b.transact(ctx, func(locks map[string]*Record, _ bool) (bool, error) {
		rec, ok := locks[path]
		if !ok || rec.LockID != lockID || !rec.ExpiresAt.Equal(prev) {
			return false, nil
		}
		rec.ExpiresAt = next
		extended = true
		return true, nil
	})
	return extended, err
}

// transact runs fn against a freshly loaded mapping and persists it when fn
// reports a change.
func (b *FileBackend) transact(ctx context.Context, fn func(locks map[string]*Record, exists bool) (bool, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	locked, err := b.flock.TryLockContext(ctx, fileLockRetryTick)
	if err != nil {
		return fmt.Errorf("lock %s: %w", b.flock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", b.flock.Path())
	}
	defer func() { _ = b.flock.Unlock() }()

	locks, exists, err := b.read()
	if err != nil {
		return err
	}
	dirty, err := fn(locks, exists)
	if err != nil || !dirty {
		return err
	}
	return b.write(locks)
}

func (b *FileBackend) read() (map[string]*Record, bool, error) {
	locks := make(map[string]*Record)
	data, err := os.ReadFile(b.path)
	if stdErrors.Is(err, fs.ErrNotExist) {
		return locks, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read lock file: %w", err)
	}
	if len(data) == 0 {
		return locks, true, nil
	}
	if err := json.Unmarshal(data, &locks); err != nil {
		return nil, true, fmt.Errorf("%w: %s: %v", leaseerrors.ErrCorruptState, b.path, err)
	}
	if locks == nil {
		return nil, true, fmt.Errorf("%w: %s: not a mapping", leaseerrors.ErrCorruptState, b.path)
	}
	for path, rec := range locks {
		if rec == nil {
			return nil, true, fmt.Errorf("%w: %s: null record for %q", leaseerrors.ErrCorruptState, b.path, path)
		}
	}
	return locks, true, nil
}

// write replaces the lock file through a temporary sibling and a rename.
func (b *FileBackend) write(locks map[string]*Record) error {
	data, err := json.MarshalIndent(locks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), b.mode); err != nil {
		return fmt.Errorf("chmod lock file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		return fmt.Errorf("replace lock file: %w", err)
	}
	return nil
}
