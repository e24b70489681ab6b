package indexdecision

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestService(t *testing.T) *Service {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	svc, err := Open(path, time.Hour, 24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestService_ShouldIndex(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)

	t.Run("Should index on first_time when the task has never been recorded", func(t *testing.T) {
		svc := openTestService(t)

		res, err := svc.ShouldIndex("t1", "hash-a", base)
		require.NoError(t, err)
		assert.Equal(t, DecisionIndex, res.Decision)
		assert.Equal(t, ReasonFirstTime, res.Reason)
	})

	t.Run("Should skip as idempotent when the content hash hasn't changed", func(t *testing.T) {
		svc := openTestService(t)
		require.NoError(t, svc.RecordIndexed("t1", "hash-a", base))

		res, err := svc.ShouldIndex("t1", "hash-a", base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, DecisionSkip, res.Decision)
		assert.Equal(t, ReasonIdempotent, res.Reason)
	})

	t.Run("Should rate-limit a changed hash seen again within minInterval", func(t *testing.T) {
		svc := openTestService(t)
		require.NoError(t, svc.RecordIndexed("t1", "hash-a", base))

		res, err := svc.ShouldIndex("t1", "hash-b", base.Add(30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, DecisionSkip, res.Decision)
		assert.Equal(t, ReasonRateLimited, res.Reason)
	})

	t.Run("Should index as content_changed once past minInterval but within maxInterval", func(t *testing.T) {
		svc := openTestService(t)
		require.NoError(t, svc.RecordIndexed("t1", "hash-a", base))

		res, err := svc.ShouldIndex("t1", "hash-b", base.Add(5*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, DecisionIndex, res.Decision)
		assert.Equal(t, ReasonContentChanged, res.Reason)
	})

	t.Run("Should index as staleness_bound once past maxInterval regardless of hash", func(t *testing.T) {
		svc := openTestService(t)
		require.NoError(t, svc.RecordIndexed("t1", "hash-a", base))

		res, err := svc.ShouldIndex("t1", "hash-a", base.Add(25*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, DecisionIndex, res.Decision)
		assert.Equal(t, ReasonStalenessBound, res.Reason)
	})
}

func TestService_RecordAttempt(t *testing.T) {
	t.Run("Should increment attempts without advancing lastIndexedAt", func(t *testing.T) {
		svc := openTestService(t)
		base := time.Unix(1_700_000_000, 0)
		require.NoError(t, svc.RecordIndexed("t1", "hash-a", base))
		require.NoError(t, svc.RecordAttempt("t1"))

		rec, found, err := svc.get("t1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 1, rec.attempts)
		assert.Equal(t, "hash-a", rec.lastContentHash)
	})
}
