package lock

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

func newRedisLocker(t *testing.T, opts ...RedisOption) (*Locker, *miniredis.Miniredis, *redis.Client, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clock := newFakeClock()
	l := New(NewRedisBackend(client, opts...), WithClock(clock.Now), WithDefaultRetries(0))
	return l, mr, client, clock
}

func TestRedisItemLayout(t *testing.T) {
	l, mr, _, _ := newRedisLocker(t)
	ctx := context.Background()

	res, err := l.AcquireLock(ctx, "jobs/a",
		WithLeaseTimeout(30*time.Second),
		WithMetadata(map[string]any{"owner": "w1"}),
	)
	require.NoError(t, err)
	require.True(t, res.Acquired)

	key := "leases:jobs/a"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, "jobs/a", mr.HGet(key, "path"))
	assert.Equal(t, res.LockID, mr.HGet(key, "lockId"))
	assert.Equal(t, "1700000000", mr.HGet(key, "acquiredAt"))
	assert.Equal(t, "1700000030", mr.HGet(key, "expiresAt"))

	var md map[string]any
	require.NoError(t, json.Unmarshal([]byte(mr.HGet(key, "metadata")), &md))
	assert.Equal(t, "w1", md["owner"])

	ok, err := l.ReleaseLock(ctx, "jobs/a", res.LockID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists(key))
}

func TestRedisCustomTableAndHashKey(t *testing.T) {
	l, mr, _, _ := newRedisLocker(t, WithTable("locks"), WithHashKey("resource"))
	ctx := context.Background()

	_, err := l.AcquireLock(ctx, "db/migrate")
	require.NoError(t, err)
	assert.Equal(t, "db/migrate", mr.HGet("locks:db/migrate", "resource"))
	assert.Equal(t, "locks:db/migrate", l.Backend().(*RedisBackend).Key("db/migrate"))
}

func TestRedisExpiryRoundsUp(t *testing.T) {
	l, mr, _, clock := newRedisLocker(t)
	ctx := context.Background()
	clock.Advance(400 * time.Millisecond)

	res, err := l.AcquireLock(ctx, "k", WithLeaseTimeout(time.Second))
	require.NoError(t, err)
	require.True(t, res.Acquired)
	assert.Equal(t, "1700000002", mr.HGet("leases:k", "expiresAt"))
	assert.Equal(t, "1700000000", mr.HGet("leases:k", "acquiredAt"))
	assert.Equal(t, int64(1700000002), res.ExpiresAt.Unix())

	clock.Advance(time.Second)
	locked, err := l.IsLocked(ctx, "k")
	require.NoError(t, err)
	assert.True(t, locked, "rounding must never shorten a lease")
}

func TestRedisKeyExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := New(NewRedisBackend(client, WithKeyExpiry(time.Minute)))
	ctx := context.Background()

	res, err := l.AcquireLock(ctx, "k", WithLeaseTimeout(30*time.Second))
	require.NoError(t, err)
	require.True(t, res.Acquired)
	assert.Greater(t, mr.TTL("leases:k"), time.Duration(0))

	ok, err := l.ExtendLock(ctx, "k", res.LockID, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, mr.TTL("leases:k"), time.Hour)

	mr.FastForward(3 * time.Hour)
	assert.False(t, mr.Exists("leases:k"))
}

func TestRedisCorruptItem(t *testing.T) {
	l, mr, _, _ := newRedisLocker(t)
	ctx := context.Background()

	mr.HSet("leases:k", "lockId", "abc")
	_, err := l.GetLockInfo(ctx, "k")
	assert.ErrorIs(t, err, leaseerrors.ErrCorruptState)

	mr.HSet("leases:k", "expiresAt", "soon")
	_, err = l.IsLocked(ctx, "k")
	assert.ErrorIs(t, err, leaseerrors.ErrCorruptState)
}

func TestRedisClosedClient(t *testing.T) {
	l, _, client, _ := newRedisLocker(t)
	require.NoError(t, client.Close())

	_, err := l.GetLockInfo(context.Background(), "k")
	assert.ErrorIs(t, err, leaseerrors.ErrConnectionClosed)
}

func TestRedisUnavailableIsAnError(t *testing.T) {
	l, mr, _, _ := newRedisLocker(t)
	mr.Close()

	res, err := l.AcquireLock(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, res.Acquired)
}

func TestRedisSharedAcrossLockers(t *testing.T) {
	l1, mr, _, clock := newRedisLocker(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l2 := New(NewRedisBackend(client), WithClock(clock.Now), WithDefaultRetries(0))
	ctx := context.Background()

	res, err := l1.AcquireLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, res.Acquired)

	other, err := l2.AcquireLock(ctx, "k")
	require.NoError(t, err)
	assert.False(t, other.Acquired)

	ok, err := l2.ReleaseLock(ctx, "k", res.LockID)
	require.NoError(t, err)
	assert.True(t, ok, "any process holding the id may release")
	locked, err := l1.IsLocked(ctx, "k")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestRedisReservedHashKeyIgnored(t *testing.T) {
	for _, name := range []string{"lockId", "acquiredAt", "expiresAt", "metadata"} {
		t.Run(name, func(t *testing.T) {
			l, mr, _, _ := newRedisLocker(t, WithHashKey(name))
			ctx := context.Background()

			res, err := l.AcquireLock(ctx, "jobs/a")
			require.NoError(t, err)
			require.True(t, res.Acquired)
			assert.Equal(t, "jobs/a", mr.HGet("leases:jobs/a", DefaultHashKey))
			assert.Equal(t, res.LockID, mr.HGet("leases:jobs/a", "lockId"))

			info, err := l.GetLockInfo(ctx, "jobs/a")
			require.NoError(t, err)
			require.NotNil(t, info)
			assert.Equal(t, res.LockID, info.LockID)
		})
	}
}

func TestRedisExtendWholeSeconds(t *testing.T) {
	l, mr, _, _ := newRedisLocker(t)
	ctx := context.Background()
	assert.Equal(t, time.Second, l.Resolution())

	res, err := l.AcquireLock(ctx, "k", WithLeaseTimeout(10*time.Second))
	require.NoError(t, err)
	require.True(t, res.Acquired)
	require.Equal(t, "1700000010", mr.HGet("leases:k", "expiresAt"))

	for _, d := range []time.Duration{200 * time.Millisecond, 1500 * time.Millisecond} {
		ok, err := l.ExtendLock(ctx, "k", res.LockID, d)
		assert.ErrorIs(t, err, leaseerrors.ErrInvalidDuration, "extend by %v", d)
		assert.False(t, ok)
	}
	assert.Equal(t, "1700000010", mr.HGet("leases:k", "expiresAt"))

	for i := 0; i < 5; i++ {
		ok, err := l.ExtendLock(ctx, "k", res.LockID, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, "1700000015", mr.HGet("leases:k", "expiresAt"))
}

func TestRedisKeepAliveTracksWallClock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := New(NewRedisBackend(client), WithDefaultRetries(0))
	ctx := context.Background()

	res, err := l.AcquireLock(ctx, "k", WithLeaseTimeout(3*time.Second))
	require.NoError(t, err)
	require.True(t, res.Acquired)
	start, err := strconv.ParseInt(mr.HGet("leases:k", "expiresAt"), 10, 64)
	require.NoError(t, err)

	r := KeepAlive(ctx, l, "k", res.LockID, 300*time.Millisecond)
	time.Sleep(1700 * time.Millisecond)
	r.Stop()

	select {
	case <-r.Lost():
		t.Fatalf("lease lost during renewal: %v", r.Err())
	default:
	}
	end, err := strconv.ParseInt(mr.HGet("leases:k", "expiresAt"), 10, 64)
	require.NoError(t, err)
	// about 1.7s elapsed: whole seconds only, never ahead of the wall clock
	assert.GreaterOrEqual(t, end-start, int64(1))
	assert.LessOrEqual(t, end-start, int64(2))
}
