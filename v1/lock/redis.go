package lock

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

const (
	// DefaultTable is the key prefix grouping lease items.
	DefaultTable = "leases"
	// DefaultHashKey is the item attribute holding the resource path.
	DefaultHashKey = "path"

	defaultRedisOpTimeout = 5 * time.Second

	fieldLockID     = "lockId"
	fieldAcquiredAt = "acquiredAt"
	fieldExpiresAt  = "expiresAt"
	fieldMetadata   = "metadata"
)

// createScript writes the item only when the key does not exist yet.
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2], "lockId", ARGV[3], "acquiredAt", ARGV[4], "expiresAt", ARGV[5], "metadata", ARGV[6])
if tonumber(ARGV[7]) > 0 then
    redis.call("PEXPIREAT", KEYS[1], ARGV[7])
end
return 1
`)

// deleteScript deletes the item only when it carries the given lock id.
// It returns -1 when there is no item and 0 when the id differs.
var deleteScript = redis.NewScript(`
local id = redis.call("HGET", KEYS[1], "lockId")
if not id then
    return -1
end
if id ~= ARGV[1] then
    return 0
end
redis.call("DEL", KEYS[1])
return 1
`)

// extendScript moves expiresAt only when both lockId and the previously read
// expiresAt are still in place.
var extendScript = redis.NewScript(`
local cur = redis.call("HMGET", KEYS[1], "lockId", "expiresAt")
if cur[1] ~= ARGV[1] or cur[2] ~= ARGV[2] then
    return 0
end
redis.call("HSET", KEYS[1], "expiresAt", ARGV[3])
if tonumber(ARGV[4]) > 0 then
    redis.call("PEXPIREAT", KEYS[1], ARGV[4])
end
return 1
`)

// RedisBackend stores one hash per resource path at "<table>:<path>" and
// mutates it only through atomic scripts: a conditional create, a delete
// conditioned on the lock id and an update conditioned on id and expiry.
// This gives cross-process mutual exclusion without any client-side state.
//
// Timestamps are stored as unix seconds. The expiry is rounded up so the
// encoding never shortens a lease.
type RedisBackend struct {
	client    redis.UniversalClient
	table     string
	hashKey   string
	keyExpiry time.Duration
	timeout   time.Duration
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithTable sets the key prefix of lease items.
func WithTable(table string) RedisOption {
	return func(b *RedisBackend) {
		if table != "" {
			b.table = table
		}
	}
}

// WithHashKey sets the name of the attribute holding the resource path.
// Empty names and the names of the lease fields themselves are ignored.
func WithHashKey(name string) RedisOption {
	return func(b *RedisBackend) {
		switch name {
		case "", fieldLockID, fieldAcquiredAt, fieldExpiresAt, fieldMetadata:
			return
		}
		b.hashKey = name
	}
}

// WithKeyExpiry makes Redis drop an item on its own grace after the lease
// expires, so abandoned leases do not linger until the next read. It relies
// on the Redis server clock being close to the clients'.
func WithKeyExpiry(grace time.Duration) RedisOption {
	return func(b *RedisBackend) {
		b.keyExpiry = max(grace, time.Millisecond)
	}
}

// WithOpTimeout sets the timeout applied to every Redis call.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(b *RedisBackend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// NewRedisBackend returns a RedisBackend using the provided client.
func NewRedisBackend(client redis.UniversalClient, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{
		client:  client,
		table:   DefaultTable,
		hashKey: DefaultHashKey,
		timeout: defaultRedisOpTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewRedis returns a Locker backed by Redis with the default table and hash
// key. Use New with NewRedisBackend to change them.
func NewRedis(client redis.UniversalClient, opts ...Option) *Locker {
	return New(NewRedisBackend(client), opts...)
}

// Name implements Backend.Name.
func (b *RedisBackend) Name() string {
	return "redis"
}

// Resolution implements Resolution. Expiries are stored as unix seconds.
func (b *RedisBackend) Resolution() time.Duration {
	return time.Second
}

// Key returns the Redis key holding the lease for path.
func (b *RedisBackend) Key(path string) string {
	return b.table + ":" + path
}

// Load implements Backend.Load.
func (b *RedisBackend) Load(ctx context.Context, path string) (*Record, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	fields, err := b.client.HGetAll(cctx, b.Key(path)).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return b.decode(path, fields)
}

// Create implements Backend.Create. On success the timestamps of rec are
// rounded to what was stored.
func (b *RedisBackend) Create(ctx context.Context, path string, rec *Record) (bool, error) {
	md := rec.Metadata
	if md == nil {
		md = map[string]any{}
	}
	data, err := json.Marshal(md)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	acquired := rec.AcquiredAt.Unix()
	expires := ceilUnix(rec.ExpiresAt)

	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	n, err := createScript.Run(cctx, b.client, []string{b.Key(path)},
		b.hashKey, path, rec.LockID,
		strconv.FormatInt(acquired, 10), strconv.FormatInt(expires, 10),
		string(data), b.expireAtMillis(expires),
	).Int64()
	if err != nil {
		return false, redisErr(err)
	}
	if n != 1 {
		return false, nil
	}
	rec.AcquiredAt = time.Unix(acquired, 0)
	rec.ExpiresAt = time.Unix(expires, 0)
	return true, nil
}

// Delete implements Backend.Delete.
func (b *RedisBackend) Delete(ctx context.Context, path, lockID string) (DeleteResult, error) {
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if lockID == "" {
		n, err := b.client.Del(cctx, b.Key(path)).Result()
		if err != nil {
			return Absent, redisErr(err)
		}
		if n == 0 {
			return Absent, nil
		}
		return Deleted, nil
	}
	n, err := deleteScript.Run(cctx, b.client, []string{b.Key(path)}, lockID).Int64()
	if err != nil {
		return Absent, redisErr(err)
	}
	switch n {
	case 1:
		return Deleted, nil
	case 0:
		return Mismatch, nil
	default:
		return Absent, nil
	}
}

// Extend implements Backend.Extend.
func (b *RedisBackend) Extend(ctx context.Context, path, lockID string, prev, next time.Time) (bool, error) {
	expires := ceilUnix(next)
	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	n, err := extendScript.Run(cctx, b.client, []string{b.Key(path)},
		lockID, strconv.FormatInt(ceilUnix(prev), 10), strconv.FormatInt(expires, 10),
		b.expireAtMillis(expires),
	).Int64()
	if err != nil {
		return false, redisErr(err)
	}
	return n == 1, nil
}

func (b *RedisBackend) decode(path string, fields map[string]string) (*Record, error) {
	corrupt := func(reason string) error {
		return fmt.Errorf("%w: %s: %s", leaseerrors.ErrCorruptState, b.Key(path), reason)
	}
	id := fields[fieldLockID]
	if id == "" {
		return nil, corrupt("missing lockId")
	}
	rec := &Record{LockID: id, Metadata: map[string]any{}}
	if v, ok := fields[fieldAcquiredAt]; ok {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, corrupt("bad acquiredAt")
		}
		rec.AcquiredAt = time.Unix(s, 0)
	}
	v, ok := fields[fieldExpiresAt]
	if !ok {
		return nil, corrupt("missing expiresAt")
	}
	s, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, corrupt("bad expiresAt")
	}
	rec.ExpiresAt = time.Unix(s, 0)
	if v := fields[fieldMetadata]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Metadata); err != nil {
			return nil, corrupt("bad metadata")
		}
	}
	return rec, nil
}

func (b *RedisBackend) expireAtMillis(expiresUnix int64) string {
	if b.keyExpiry <= 0 {
		return "0"
	}
	return strconv.FormatInt(time.Unix(expiresUnix, 0).Add(b.keyExpiry).UnixMilli(), 10)
}

func ceilUnix(t time.Time) int64 {
	s := t.Unix()
	if t.Nanosecond() > 0 {
		s++
	}
	return s
}

func redisErr(err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return leaseerrors.ErrTimeout
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return leaseerrors.ErrConnectionClosed
	}
	return err
}
