// Package storage keeps small JSON documents addressed by resource path and
// pairs them with leases so read-modify-write cycles run under mutual
// exclusion.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

// Store abstracts the document storage guarded by leases.
//
// T represents the type of values stored.
type Store[T any] interface {
	// Read returns the document at path. The boolean reports whether it exists.
	Read(ctx context.Context, path string) (T, bool, error)
	// Write stores value at path, replacing any previous document.
	Write(ctx context.Context, path string, value T) error
	// Delete removes the document at path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
	// Exists reports whether a document is stored at path.
	Exists(ctx context.Context, path string) (bool, error)
}

// Validator checks a value before it is written.
type Validator[T any] func(path string, value T) error

// Option configures a Store.
type Option[T any] func(*options[T])

type options[T any] struct {
	validators []Validator[T]
	timeout    time.Duration
	prefix     string
}

// WithValidator registers fn to run before every write. A failing validator
// aborts the write and its error is returned.
func WithValidator[T any](fn Validator[T]) Option[T] {
	return func(o *options[T]) {
		if fn != nil {
			o.validators = append(o.validators, fn)
		}
	}
}

func newOptions[T any](opts []Option[T]) options[T] {
	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options[T]) validate(path string, value T) error {
	for _, v := range o.validators {
		if err := v(path, value); err != nil {
			return fmt.Errorf("validate %q: %w", path, err)
		}
	}
	return nil
}

// checkPath rejects empty paths and paths that would leave the store root.
func checkPath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || !filepath.IsLocal(filepath.FromSlash(path)) {
		return fmt.Errorf("%w: %q", leaseerrors.ErrInvalidPath, path)
	}
	return nil
}
