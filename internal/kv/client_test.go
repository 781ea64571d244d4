package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestClientScopesKeys(t *testing.T) {
	backend := NewMemoryBackend()
	c := NewClient(backend, "stardust", time.Second)
	ctx := context.Background()

	require.NoError(t, c.SetPersistentJSON(ctx, "state:backend", sample{Name: "a", Count: 1}))

	raw, err := backend.Get(ctx, "stardust:state:backend")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","count":1}`, string(raw))

	var got sample
	found, err := c.GetJSON(ctx, "state:backend", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Name: "a", Count: 1}, got)
}

func TestClientGetJSON(t *testing.T) {
	backend := NewMemoryBackend()
	c := NewClient(backend, "s", 0)
	ctx := context.Background()

	var out sample
	found, err := c.GetJSON(ctx, "missing", &out)
	assert.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, backend.Set(ctx, "s:broken", []byte("{not json"), 0))
	found, err = c.GetJSON(ctx, "broken", &out)
	assert.True(t, found)
	assert.Error(t, err)
}

func TestCached(t *testing.T) {
	ctx := context.Background()

	t.Run("producer runs once then value is served from cache", func(t *testing.T) {
		c := NewClient(NewMemoryBackend(), "s", 0)
		calls := 0
		producer := func(context.Context) (*sample, error) {
			calls++
			return &sample{Name: "fresh", Count: calls}, nil
		}

		first, err := Cached(ctx, c, "k", time.Hour, false, producer)
		require.NoError(t, err)
		second, err := Cached(ctx, c, "k", time.Hour, false, producer)
		require.NoError(t, err)

		assert.Equal(t, 1, calls)
		assert.Equal(t, first, second)
	})

	t.Run("invalidate forces the producer", func(t *testing.T) {
		c := NewClient(NewMemoryBackend(), "s", 0)
		calls := 0
		producer := func(context.Context) (*sample, error) {
			calls++
			return &sample{Count: calls}, nil
		}

		_, err := Cached(ctx, c, "k", 0, false, producer)
		require.NoError(t, err)
		got, err := Cached(ctx, c, "k", 0, true, producer)
		require.NoError(t, err)

		assert.Equal(t, 2, calls)
		assert.Equal(t, 2, got.Count)
	})

	t.Run("nil result is not cached", func(t *testing.T) {
		backend := NewMemoryBackend()
		c := NewClient(backend, "s", 0)

		got, err := Cached(ctx, c, "k", 0, false, func(context.Context) (*sample, error) { return nil, nil })
		assert.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, 0, backend.Len())
	})

	t.Run("producer error propagates", func(t *testing.T) {
		c := NewClient(NewMemoryBackend(), "s", 0)
		boom := errors.New("upstream down")

		_, err := Cached(ctx, c, "k", 0, false, func(context.Context) (*sample, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	})
}
