package cache

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convstate/core/internal/locator"
	"github.com/convstate/core/internal/parser"
	"github.com/convstate/core/internal/skeleton"
	"github.com/convstate/core/internal/storageio"
)

func newTestCache(mapFS fstest.MapFS, roots []string) *Cache {
	io := storageio.NewFSStorageIO(mapFS)
	loc := locator.New(io, roots)
	prs := parser.New(io)
	return New(io, loc, prs, "cache/manifest.json")
}

func TestCache_Rebuild(t *testing.T) {
	t.Run("Should parse every task directory on a full rebuild", func(t *testing.T) {
		mapFS := fstest.MapFS{
			"root/tasks/t1/task_metadata.json": &fstest.MapFile{Data: []byte(`{"workspace":"/ws"}`), ModTime: time.Unix(100, 0)},
			"root/tasks/t2/task_metadata.json": &fstest.MapFile{Data: []byte(`{"workspace":"/ws"}`), ModTime: time.Unix(200, 0)},
		}
		c := newTestCache(mapFS, []string{"root"})

		stats := c.Rebuild(RebuildOpts{Force: true})
		assert.Equal(t, 2, stats.Scanned)
		assert.Equal(t, 2, stats.Parsed)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("Should skip directories whose mtime hasn't advanced on a differential rebuild", func(t *testing.T) {
		mapFS := fstest.MapFS{
			"root/tasks/t1/task_metadata.json": &fstest.MapFile{Data: []byte(`{"workspace":"/ws"}`), ModTime: time.Unix(100, 0)},
		}
		c := newTestCache(mapFS, []string{"root"})
		c.Rebuild(RebuildOpts{Force: true})

		stats := c.Rebuild(RebuildOpts{})
		assert.Equal(t, 1, stats.Scanned)
		assert.Equal(t, 0, stats.Parsed)
		assert.Equal(t, 1, stats.Skipped)
	})

	t.Run("Should remove vanished directories only on a forced rebuild", func(t *testing.T) {
		mapFS := fstest.MapFS{
			"root/tasks/t1/task_metadata.json": &fstest.MapFile{Data: []byte(`{"workspace":"/ws"}`), ModTime: time.Unix(100, 0)},
		}
		c := newTestCache(mapFS, []string{"root"})
		c.Rebuild(RebuildOpts{Force: true})
		require.Equal(t, 1, c.Len())

		delete(mapFS, "root/tasks/t1/task_metadata.json")
		stats := c.Rebuild(RebuildOpts{Force: true})
		assert.Equal(t, 1, stats.Removed)
		assert.Equal(t, 0, c.Len())
	})
}

func TestCache_EnsureFresh(t *testing.T) {
	t.Run("Should rebuild once when the cache starts empty", func(t *testing.T) {
		mapFS := fstest.MapFS{
			"root/tasks/t1/task_metadata.json": &fstest.MapFile{Data: []byte(`{}`), ModTime: time.Now()},
		}
		c := newTestCache(mapFS, []string{"root"})

		rebuilt := c.EnsureFresh(RebuildOpts{})
		assert.True(t, rebuilt)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("Should report no rebuild needed once populated with no newer directories", func(t *testing.T) {
		mapFS := fstest.MapFS{
			"root/tasks/t1/task_metadata.json": &fstest.MapFile{Data: []byte(`{}`), ModTime: time.Unix(100, 0)},
		}
		c := newTestCache(mapFS, []string{"root"})
		c.Rebuild(RebuildOpts{Force: true})

		rebuilt := c.EnsureFresh(RebuildOpts{})
		assert.False(t, rebuilt)
	})
}

func TestCache_Put(t *testing.T) {
	t.Run("Should keep the skeleton with the most recent lastActivity on a duplicate taskId", func(t *testing.T) {
		c := New(storageio.NewFSStorageIO(fstest.MapFS{}), nil, nil, "manifest.json")

		older := &skeleton.Skeleton{TaskID: "t1", LastActivity: time.Unix(100, 0), Summary: "older"}
		newer := &skeleton.Skeleton{TaskID: "t1", LastActivity: time.Unix(200, 0), Summary: "newer"}

		c.Put(newer)
		c.Put(older)

		got, ok := c.GetByID("t1")
		require.True(t, ok)
		assert.Equal(t, "newer", got.Summary)
	})
}

func TestCache_MutateParentFields(t *testing.T) {
	t.Run("Should apply the mutation only to an existing skeleton", func(t *testing.T) {
		c := New(storageio.NewFSStorageIO(fstest.MapFS{}), nil, nil, "manifest.json")
		c.Put(&skeleton.Skeleton{TaskID: "t1"})

		ok := c.MutateParentFields("t1", func(sk *skeleton.Skeleton) {
			sk.ReconstructedParentID = "parent1"
			sk.ParentConfidenceScore = 0.9
		})
		assert.True(t, ok)

		got, _ := c.GetByID("t1")
		assert.Equal(t, "parent1", got.ReconstructedParentID)

		assert.False(t, c.MutateParentFields("missing", func(sk *skeleton.Skeleton) {}))
	})
}

func TestCache_ManifestRoundTrip(t *testing.T) {
	t.Run("Should reload an identical skeleton set after save", func(t *testing.T) {
		io := storageio.NewFSStorageIO(fstest.MapFS{})
		c := New(io, nil, nil, "cache/manifest.json")
		c.Put(&skeleton.Skeleton{TaskID: "t1", Summary: "hello", LastActivity: time.Unix(100, 0)})

		require.NoError(t, c.SaveManifest())

		reloaded := New(io, nil, nil, "cache/manifest.json")
		reloaded.LoadManifest()

		assert.Equal(t, 1, reloaded.Len())
		got, ok := reloaded.GetByID("t1")
		require.True(t, ok)
		assert.Equal(t, "hello", got.Summary)
	})

	t.Run("Should start empty rather than fail on a schema-version mismatch", func(t *testing.T) {
		io := storageio.NewFSStorageIO(fstest.MapFS{})
		require.NoError(t, io.WriteFile("cache/manifest.json", []byte(`{"schemaVersion":999,"skeletons":[]}`)))

		c := New(io, nil, nil, "cache/manifest.json")
		c.LoadManifest()

		assert.Equal(t, 0, c.Len())
	})

	t.Run("Should start empty rather than fail when no manifest exists", func(t *testing.T) {
		io := storageio.NewFSStorageIO(fstest.MapFS{})
		c := New(io, nil, nil, "cache/manifest.json")
		c.LoadManifest()

		assert.Equal(t, 0, c.Len())
	})
}
