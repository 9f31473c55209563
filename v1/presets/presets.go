package presets

import (
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/storage"
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Table is the key prefix of lease items; empty means lock.DefaultTable.
	Table string
	// HashKey names the attribute holding the resource path; empty means
	// lock.DefaultHashKey.
	HashKey string
}

// Client opens a Redis client from opts.
func (o RedisOptions) Client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})
}

// NewRedis creates a Locker backed by Redis. This is the setup to use when
// several processes or hosts coordinate on the same resources.
func NewRedis(opts RedisOptions, lopts ...lock.Option) *lock.Locker {
	b := lock.NewRedisBackend(opts.Client(), lock.WithTable(opts.Table), lock.WithHashKey(opts.HashKey))
	return lock.New(b, lopts...)
}

// NewFile creates a Locker persisting leases in a single JSON file. Useful
// for local tools; it does not coordinate separate processes.
func NewFile(path string, lopts ...lock.Option) (*lock.Locker, error) {
	return lock.NewFile(path, lopts...)
}

// NewInMemoryStandalone creates a Locker and a guarded document store that
// run entirely in memory with no external dependencies.
func NewInMemoryStandalone[T any]() (*lock.Locker, *storage.Guarded[T]) {
	l := lock.New(lock.NewInMemory())
	return l, storage.NewGuarded[T](storage.NewInMemoryStore[T](), l)
}

// NewRedisGuarded creates a guarded document store where both leases and
// documents live in the same Redis database.
func NewRedisGuarded[T any](opts RedisOptions, lopts ...lock.Option) (*lock.Locker, *storage.Guarded[T]) {
	client := opts.Client()
	b := lock.NewRedisBackend(client, lock.WithTable(opts.Table), lock.WithHashKey(opts.HashKey))
	l := lock.New(b, lopts...)
	return l, storage.NewGuarded[T](storage.NewRedisStore[T](client), l)
}
