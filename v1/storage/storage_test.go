package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/lock"
	"github.com/mirkobrombin/go-lease/v1/storage"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type storeFactory struct {
	name string
	new  func(t *testing.T, opts ...storage.Option[doc]) storage.Store[doc]
}

func factories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T, opts ...storage.Option[doc]) storage.Store[doc] {
			return storage.NewInMemoryStore[doc](opts...)
		}},
		{"file", func(t *testing.T, opts ...storage.Option[doc]) storage.Store[doc] {
			s, err := storage.NewFileStore[doc](t.TempDir(), opts...)
			require.NoError(t, err)
			return s
		}},
		{"redis", func(t *testing.T, opts ...storage.Option[doc]) storage.Store[doc] {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return storage.NewRedisStore[doc](client, opts...)
		}},
	}
}

func TestStoreContract(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.new(t)

			_, ok, err := s.Read(ctx, "cfg/app")
			require.NoError(t, err)
			assert.False(t, ok)
			exists, err := s.Exists(ctx, "cfg/app")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, s.Write(ctx, "cfg/app", doc{Name: "app", Count: 1}))
			v, ok, err := s.Read(ctx, "cfg/app")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, doc{Name: "app", Count: 1}, v)
			exists, err = s.Exists(ctx, "cfg/app")
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, s.Write(ctx, "cfg/app", doc{Name: "app", Count: 2}))
			v, _, err = s.Read(ctx, "cfg/app")
			require.NoError(t, err)
			assert.Equal(t, 2, v.Count)

			require.NoError(t, s.Delete(ctx, "cfg/app"))
			require.NoError(t, s.Delete(ctx, "cfg/app"), "deleting twice is fine")
			_, ok, err = s.Read(ctx, "cfg/app")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreRejectsBadPaths(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.new(t)
			for _, p := range []string{"", "../escape", "/abs"} {
				err := s.Write(context.Background(), p, doc{})
				assert.ErrorIs(t, err, leaseerrors.ErrInvalidPath, "path %q", p)
			}
		})
	}
}

func TestStoreValidator(t *testing.T) {
	errNegative := errors.New("negative count")
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.new(t, storage.WithValidator(func(_ string, d doc) error {
				if d.Count < 0 {
					return errNegative
				}
				return nil
			}))
			require.NoError(t, s.Write(ctx, "a", doc{Count: 1}))
			assert.ErrorIs(t, s.Write(ctx, "a", doc{Count: -1}), errNegative)

			v, _, err := s.Read(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 1, v.Count, "rejected write must not land")
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewFileStore[doc](dir)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), "cfg/app", doc{Name: "x"}))

	data, err := os.ReadFile(filepath.Join(dir, "cfg", "app.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","count":0}`, string(data))
}

func TestFileStoreReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewFileStore[doc](dir)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Write(ctx, "cfg/app", doc{Name: "x", Count: i}))
	}
	got, ok, err := s.Read(ctx, "cfg/app")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc{Name: "x", Count: 3}, got)

	entries, err := os.ReadDir(filepath.Join(dir, "cfg"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temporary file left behind")
	}
	assert.FileExists(t, filepath.Join(dir, "cfg", "app.json"))
}

func TestFileStoreCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewFileStore[doc](dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o644))

	_, _, err = s.Read(context.Background(), "bad")
	assert.ErrorIs(t, err, leaseerrors.ErrCorruptState)
}

func TestRedisStorePrefixAndErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := storage.NewRedisStore[doc](client, storage.WithPrefix[doc]("docs"), storage.WithTimeout[doc](time.Second))
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "a", doc{Name: "a"}))
	assert.True(t, mr.Exists("docs:a"))
	assert.Equal(t, "docs:a", s.Key("a"))

	require.NoError(t, mr.Set("docs:broken", "nope"))
	_, _, err := s.Read(ctx, "broken")
	assert.ErrorIs(t, err, leaseerrors.ErrCorruptState)

	require.NoError(t, client.Close())
	_, _, err = s.Read(ctx, "a")
	assert.ErrorIs(t, err, leaseerrors.ErrConnectionClosed)
}

func TestGuardedUpdateSerializesWriters(t *testing.T) {
	for _, f := range factories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			locker := lock.New(lock.NewInMemory())
			g := storage.NewGuarded(f.new(t), locker,
				lock.WithRetries(500), lock.WithRetryDelay(time.Millisecond))

			const writers = 8
			var eg errgroup.Group
			for i := 0; i < writers; i++ {
				eg.Go(func() error {
					_, err := g.Update(ctx, "counter", func(cur doc, _ bool) (doc, error) {
						cur.Count++
						return cur, nil
					})
					return err
				})
			}
			require.NoError(t, eg.Wait())

			v, ok, err := g.Store().Read(ctx, "counter")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, writers, v.Count)

			locked, err := locker.IsLocked(ctx, "counter")
			require.NoError(t, err)
			assert.False(t, locked, "lease must be released after update")
		})
	}
}

func TestGuardedUpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := storage.NewInMemoryStore[doc]()
	require.NoError(t, s.Write(ctx, "a", doc{Count: 1}))
	locker := lock.New(lock.NewInMemory())
	g := storage.NewGuarded[doc](s, locker)

	boom := errors.New("boom")
	_, err := g.Update(ctx, "a", func(cur doc, found bool) (doc, error) {
		assert.True(t, found)
		return doc{Count: 99}, boom
	})
	assert.ErrorIs(t, err, boom)

	v, _, err := s.Read(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Count)
	locked, err := locker.IsLocked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestGuardedUpdateContended(t *testing.T) {
	ctx := context.Background()
	locker := lock.New(lock.NewInMemory(), lock.WithDefaultRetries(0))
	g := storage.NewGuarded[doc](storage.NewInMemoryStore[doc](), locker)

	_, err := locker.AcquireLock(ctx, "a")
	require.NoError(t, err)
	_, err = g.Update(ctx, "a", func(cur doc, _ bool) (doc, error) { return cur, nil })
	assert.ErrorIs(t, err, leaseerrors.ErrNotAcquired)

	require.NoError(t, g.Delete(ctx, "b"))
}
