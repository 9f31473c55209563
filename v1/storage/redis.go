package storage

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

const (
	defaultRedisOpTimeout = 5 * time.Second
	// DefaultPrefix namespaces document keys away from lease items.
	DefaultPrefix = "state"
)

// RedisStore implements Store using a Redis backend. Documents are JSON
// strings at "<prefix>:<path>".
type RedisStore[T any] struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	opts    options[T]
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(o *options[T]) {
		o.timeout = d
	}
}

// WithPrefix sets the key prefix of documents in Redis.
func WithPrefix[T any](prefix string) Option[T] {
	return func(o *options[T]) {
		o.prefix = prefix
	}
}

// NewRedisStore returns a new RedisStore using the provided Redis client.
func NewRedisStore[T any](client redis.UniversalClient, opts ...Option[T]) *RedisStore[T] {
	o := newOptions(opts)
	s := &RedisStore[T]{client: client, prefix: DefaultPrefix, timeout: defaultRedisOpTimeout, opts: o}
	if o.prefix != "" {
		s.prefix = o.prefix
	}
	if o.timeout > 0 {
		s.timeout = o.timeout
	}
	return s
}

// Key returns the Redis key holding the document at path.
func (s *RedisStore[T]) Key(path string) string {
	return s.prefix + ":" + path
}

// Read implements Store.Read.
func (s *RedisStore[T]) Read(ctx context.Context, path string) (T, bool, error) {
	var zero T
	if err := checkPath(path); err != nil {
		return zero, false, err
	}
	if err := ctx.Err(); err != nil {
		return zero, false, mapErr(err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	data, err := s.client.Get(cctx, s.Key(path)).Bytes()
	if err == redis.Nil {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, mapErr(err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("%w: %s: %v", leaseerrors.ErrCorruptState, s.Key(path), err)
	}
	return v, true, nil
}

// Write implements Store.Write.
func (s *RedisStore[T]) Write(ctx context.Context, path string, value T) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if err := s.opts.validate(path, value); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return mapErr(err)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", path, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Set(cctx, s.Key(path), data, 0).Err(); err != nil {
		return mapErr(err)
	}
	return nil
}

// Delete implements Store.Delete.
func (s *RedisStore[T]) Delete(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(cctx, s.Key(path)).Err(); err != nil {
		return mapErr(err)
	}
	return nil
}

// Exists implements Store.Exists.
func (s *RedisStore[T]) Exists(ctx context.Context, path string) (bool, error) {
	if err := checkPath(path); err != nil {
		return false, err
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.Exists(cctx, s.Key(path)).Result()
	if err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func mapErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return leaseerrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return leaseerrors.ErrConnectionClosed
	}
	return err
}
