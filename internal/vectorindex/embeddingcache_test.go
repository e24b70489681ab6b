package vectorindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEmbeddingCache(t *testing.T) *EmbeddingCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embeddings.db")
	c, err := OpenEmbeddingCache(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEmbeddingCache(t *testing.T) {
	t.Run("Should miss for a hash/model pair never stored", func(t *testing.T) {
		c := openTestEmbeddingCache(t)
		_, ok := c.Get("hash-a", "model-1")
		assert.False(t, ok)
	})

	t.Run("Should round-trip a vector through Put/Get", func(t *testing.T) {
		c := openTestEmbeddingCache(t)
		vec := []float32{0.1, -0.25, 3.5, 0}

		require.NoError(t, c.Put("hash-a", "model-1", vec))
		got, ok := c.Get("hash-a", "model-1")
		require.True(t, ok)
		assert.Equal(t, vec, got)
	})

	t.Run("Should key the cache by both hash and model", func(t *testing.T) {
		c := openTestEmbeddingCache(t)
		require.NoError(t, c.Put("hash-a", "model-1", []float32{1, 2}))

		_, ok := c.Get("hash-a", "model-2")
		assert.False(t, ok)
	})

	t.Run("Should overwrite the stored vector on a repeated Put", func(t *testing.T) {
		c := openTestEmbeddingCache(t)
		require.NoError(t, c.Put("hash-a", "model-1", []float32{1, 2}))
		require.NoError(t, c.Put("hash-a", "model-1", []float32{9, 9, 9}))

		got, ok := c.Get("hash-a", "model-1")
		require.True(t, ok)
		assert.Equal(t, []float32{9, 9, 9}, got)
	})
}
