package storage

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

const (
	docExt        = ".json"
	lockRetryTick = 10 * time.Millisecond
)

// FileStore keeps one JSON document per path under a root directory. Reads
// take a shared advisory lock on "<doc>.lock", writes and deletes an
// exclusive one, and documents are replaced through a temporary file and a
// rename so readers never see a partial write.
type FileStore[T any] struct {
	root string
	opts options[T]
}

// NewFileStore returns a FileStore rooted at dir, creating it when missing.
func NewFileStore[T any](dir string, opts ...Option[T]) (*FileStore[T], error) {
	if dir == "" {
		return nil, leaseerrors.ErrInvalidPath
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore[T]{root: dir, opts: newOptions(opts)}, nil
}

// Root returns the directory holding the documents.
func (s *FileStore[T]) Root() string {
	return s.root
}

func (s *FileStore[T]) file(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path)+docExt)
}

// Read implements Store.Read.
func (s *FileStore[T]) Read(ctx context.Context, path string) (T, bool, error) {
	var zero T
	if err := checkPath(path); err != nil {
		return zero, false, err
	}
	name := s.file(path)
	if _, err := os.Stat(name); stdErrors.Is(err, fs.ErrNotExist) {
		return zero, false, nil
	}

	fl := flock.New(name + ".lock")
	if err := lockContext(ctx, fl.TryRLockContext); err != nil {
		return zero, false, err
	}
	defer func() { _ = fl.Unlock() }()

	data, err := os.ReadFile(name)
	if stdErrors.Is(err, fs.ErrNotExist) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("read %q: %w", path, err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("%w: %s: %v", leaseerrors.ErrCorruptState, name, err)
	}
	return v, true, nil
}

// Write implements Store.Write.
func (s *FileStore[T]) Write(ctx context.Context, path string, value T) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if err := s.opts.validate(path, value); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %q: %w", path, err)
	}
	name := s.file(path)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create dir for %q: %w", path, err)
	}

	fl := flock.New(name + ".lock")
	if err := lockContext(ctx, fl.TryLockContext); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()
	return replaceFile(name, data)
}

// Delete implements Store.Delete.
func (s *FileStore[T]) Delete(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	name := s.file(path)
	if _, err := os.Stat(name); stdErrors.Is(err, fs.ErrNotExist) {
		return nil
	}

	fl := flock.New(name + ".lock")
	if err := lockContext(ctx, fl.TryLockContext); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()
	if err := os.Remove(name); err != nil && !stdErrors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	return nil
}

// Exists implements Store.Exists.
func (s *FileStore[T]) Exists(ctx context.Context, path string) (bool, error) {
	if err := checkPath(path); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.file(path))
	switch {
	case err == nil:
		return true, nil
	case stdErrors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
}

func lockContext(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) error {
	ok, err := try(ctx, lockRetryTick)
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock document: not acquired")
	}
	return nil
}

func replaceFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
