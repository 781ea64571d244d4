package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stardust/internal/exporter"
	"stardust/internal/kv"
)

func newTestCache() (*Cache, *kv.MemoryBackend) {
	backend := kv.NewMemoryBackend()
	return NewCache(kv.NewClient(backend, "stardust", 0), nil), backend
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "csv:abc.0", TabularKey("abc", 0))
	assert.Equal(t, "csv:abc.12", TabularKey("abc", 12))
	assert.Equal(t, "topics:abc", BlobKey("topics", "abc"))

	cases := map[string]struct {
		uid string
		ok  bool
	}{
		"csv:abc.3":  {"abc", true},
		"topics:xyz": {"xyz", true},
		"csv:abc.x":  {"", false},
		"noprefix":   {"", false},
		"csv:":       {"", false},
		"csv:.1":     {"", false},
	}
	for key, want := range cases {
		t.Run(key, func(t *testing.T) {
			uid, ok := OperationUID(key)
			assert.Equal(t, want.ok, ok)
			assert.Equal(t, want.uid, uid)
		})
	}
}

func TestPutTabular(t *testing.T) {
	ctx := context.Background()
	cache, backend := newTestCache()

	records := []map[string]interface{}{
		{"repo": "a/b", "stars": 10},
		{"repo": "c/d", "stars": 4},
	}
	ref, err := cache.PutTabular(ctx, TabularKey("uid1", 0), "csv-stats", records)
	require.NoError(t, err)

	assert.Equal(t, "csv-stats", ref.Format)
	assert.Equal(t, 2, ref.RowCount)
	assert.Equal(t, 2, ref.ColCount)
	assert.Equal(t, "csv:uid1.0", ref.CacheKey)
	assert.Equal(t, len("repo,stars\na/b,10\nc/d,4\n"), ref.ByteSize)

	_, err = backend.Get(ctx, "stardust:csv:uid1.0")
	require.NoError(t, err)

	artifact, err := cache.Get(ctx, ref.CacheKey)
	require.NoError(t, err)
	assert.True(t, artifact.IsTabular())
	assert.Equal(t, "repo,stars\na/b,10\nc/d,4\n", string(artifact.CSV))
}

func TestPutTabularRejectsUnusablePayloads(t *testing.T) {
	ctx := context.Background()
	cache, backend := newTestCache()

	_, err := cache.PutTabular(ctx, "csv:u.0", "csv-stats", []interface{}{})
	assert.ErrorIs(t, err, exporter.ErrEmptyPayload)

	_, err = cache.PutTabular(ctx, "csv:u.0", "csv-stats", map[string]int{"a": 1})
	assert.ErrorIs(t, err, exporter.ErrNotSequence)

	assert.Equal(t, 0, backend.Len())
}

func TestPutJSONAndGet(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache()

	require.NoError(t, cache.PutJSON(ctx, BlobKey("topics", "u"), map[string]int{"go": 3}))

	artifact, err := cache.Get(ctx, "topics:u")
	require.NoError(t, err)
	assert.False(t, artifact.IsTabular())
	assert.JSONEq(t, `{"go":3}`, string(artifact.Raw))

	_, err = cache.Get(ctx, "topics:missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
