package hierarchy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_Exact(t *testing.T) {
	t.Run("Should find an exact key with its payload", func(t *testing.T) {
		idx := NewIndex()
		idx.Insert("fix the bug", Payload{ParentTaskID: "p1", CreatedAt: time.Unix(100, 0)})

		payloads, ok := idx.Exact("fix the bug")
		require.True(t, ok)
		require.Len(t, payloads, 1)
		assert.Equal(t, "p1", payloads[0].ParentTaskID)
	})

	t.Run("Should accumulate payloads for duplicate keys", func(t *testing.T) {
		idx := NewIndex()
		idx.Insert("same prefix", Payload{ParentTaskID: "p1"})
		idx.Insert("same prefix", Payload{ParentTaskID: "p2"})

		payloads, ok := idx.Exact("same prefix")
		require.True(t, ok)
		assert.Len(t, payloads, 2)
	})
}

func TestIndex_LongestPrefixOfQuery(t *testing.T) {
	t.Run("Should match a stored key that is a prefix of the query", func(t *testing.T) {
		idx := NewIndex()
		idx.Insert("implement the parser", Payload{ParentTaskID: "p1"})

		pm, ok := idx.LongestPrefixOfQuery("implement the parser module with tests")
		require.True(t, ok)
		assert.Equal(t, "implement the parser", pm.key)
		assert.Equal(t, len("implement the parser"), pm.matchedLen)
	})

	t.Run("Should not match when no stored key is a prefix", func(t *testing.T) {
		idx := NewIndex()
		idx.Insert("implement the parser", Payload{ParentTaskID: "p1"})

		_, ok := idx.LongestPrefixOfQuery("totally different instruction")
		assert.False(t, ok)
	})
}

func TestIndex_KeysExtendingQuery(t *testing.T) {
	t.Run("Should match when the query is a prefix of a stored key", func(t *testing.T) {
		idx := NewIndex()
		idx.Insert("implement the parser module", Payload{ParentTaskID: "p1"})

		pm, ok := idx.KeysExtendingQuery("implement the parser")
		require.True(t, ok)
		assert.Equal(t, "implement the parser module", pm.key)
	})

	t.Run("Should pick the shortest extending key among several, regardless of insertion order", func(t *testing.T) {
		idx := NewIndex()
		idx.Insert("implement the parser module and wire it into the cli entirely", Payload{ParentTaskID: "p-long"})
		idx.Insert("implement the parser module", Payload{ParentTaskID: "p-short"})
		idx.Insert("implement the parser module with extra tests", Payload{ParentTaskID: "p-mid"})

		pm, ok := idx.KeysExtendingQuery("implement the parser")
		require.True(t, ok)
		assert.Equal(t, "implement the parser module", pm.key)
		require.Len(t, pm.payloads, 1)
		assert.Equal(t, "p-short", pm.payloads[0].ParentTaskID)
	})
}
