package kv

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stardust/internal/config"
)

// backendCase builds a fresh backend and a function that moves its clock
// forward by d.
type backendCase struct {
	name    string
	open    func(t *testing.T) Backend
	advance func(b Backend, d time.Duration)
}

type clockSetter struct{ at time.Time }

func (c *clockSetter) now() time.Time { return c.at }

func backendCases() []backendCase {
	return []backendCase{
		{
			name: "memory",
			open: func(t *testing.T) Backend { return NewMemoryBackend() },
			advance: func(b Backend, d time.Duration) {
				m := b.(*MemoryBackend)
				clock := &clockSetter{at: m.now().Add(d)}
				m.now = clock.now
			},
		},
		{
			name: "pebble",
			open: func(t *testing.T) Backend {
				p, err := NewPebbleBackend("stardust", vfs.NewMem())
				require.NoError(t, err)
				return p
			},
			advance: func(b Backend, d time.Duration) {
				p := b.(*PebbleBackend)
				clock := &clockSetter{at: p.now().Add(d)}
				p.now = clock.now
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) Backend {
				s, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "kv", "stardust.db"))
				require.NoError(t, err)
				return s
			},
			advance: func(b Backend, d time.Duration) {
				s := b.(*SQLiteBackend)
				clock := &clockSetter{at: s.now().Add(d)}
				s.now = clock.now
			},
		},
		{
			name: "redis",
			open: func(t *testing.T) Backend {
				mr := miniredis.RunT(t)
				client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return &miniRedisBackend{RedisBackend: NewRedisBackendFromClient(client), mr: mr}
			},
			advance: func(b Backend, d time.Duration) {
				b.(*miniRedisBackend).mr.FastForward(d)
			},
		},
	}
}

type miniRedisBackend struct {
	*RedisBackend
	mr *miniredis.Miniredis
}

func TestBackends(t *testing.T) {
	ctx := context.Background()

	for _, tc := range backendCases() {
		t.Run(tc.name, func(t *testing.T) {
			t.Run("missing key", func(t *testing.T) {
				b := tc.open(t)
				defer b.Close()

				_, err := b.Get(ctx, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set get overwrite delete", func(t *testing.T) {
				b := tc.open(t)
				defer b.Close()

				require.NoError(t, b.Set(ctx, "k", []byte("v1"), 0))
				got, err := b.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, []byte("v1"), got)

				require.NoError(t, b.Set(ctx, "k", []byte("v2"), 0))
				got, err = b.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, []byte("v2"), got)

				require.NoError(t, b.Delete(ctx, "k"))
				_, err = b.Get(ctx, "k")
				assert.ErrorIs(t, err, ErrNotFound)

				assert.NoError(t, b.Delete(ctx, "k"))
			})

			t.Run("ttl expiry", func(t *testing.T) {
				b := tc.open(t)
				defer b.Close()

				require.NoError(t, b.Set(ctx, "short", []byte("x"), time.Minute))
				require.NoError(t, b.Set(ctx, "forever", []byte("y"), 0))

				tc.advance(b, 2*time.Minute)

				_, err := b.Get(ctx, "short")
				assert.ErrorIs(t, err, ErrNotFound)
				got, err := b.Get(ctx, "forever")
				require.NoError(t, err)
				assert.Equal(t, []byte("y"), got)
			})

			t.Run("ping", func(t *testing.T) {
				b := tc.open(t)
				defer b.Close()
				assert.NoError(t, b.Ping(ctx))
			})
		})
	}
}

func TestOpen(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		b, err := Open(config.StoreConfig{Backend: "memory"}, nil)
		require.NoError(t, err)
		assert.IsType(t, &MemoryBackend{}, b)
	})

	t.Run("sqlite", func(t *testing.T) {
		b, err := Open(config.StoreConfig{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "s.db")}, nil)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &SQLiteBackend{}, b)
	})

	t.Run("pebble", func(t *testing.T) {
		b, err := Open(config.StoreConfig{Backend: "pebble", PebbleDir: filepath.Join(t.TempDir(), "p")}, nil)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &PebbleBackend{}, b)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		b, err := Open(config.StoreConfig{Backend: "redis", RedisAddr: mr.Addr()}, nil)
		require.NoError(t, err)
		defer b.Close()
		assert.NoError(t, b.Ping(context.Background()))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(config.StoreConfig{Backend: "etcd"}, nil)
		assert.Error(t, err)
	})
}
