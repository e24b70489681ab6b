package hierarchy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convstate/core/internal/skeleton"
)

func newEngine() *Engine {
	return NewEngine(10, 10*time.Minute)
}

func updateFor(updates []Update, taskID string) (Update, bool) {
	for _, u := range updates {
		if u.TaskID == taskID {
			return u, true
		}
	}
	return Update{}, false
}

func TestEngine_Resolve_MetadataDirect(t *testing.T) {
	t.Run("Should accept a host-declared parent that is chronologically valid", func(t *testing.T) {
		parent := &skeleton.Skeleton{TaskID: "parent", CreatedAt: time.Unix(100, 0)}
		child := &skeleton.Skeleton{TaskID: "child", ParentTaskID: "parent", CreatedAt: time.Unix(200, 0)}

		e := newEngine()
		updates := e.Resolve([]*skeleton.Skeleton{parent, child})

		u, ok := updateFor(updates, "child")
		require.True(t, ok)
		assert.Equal(t, skeleton.MethodMetadataDirect, u.ParentResolutionMethod)
		assert.Equal(t, 1.0, u.ParentConfidenceScore)
	})

	t.Run("Should clear a host-declared parent that postdates the child", func(t *testing.T) {
		parent := &skeleton.Skeleton{TaskID: "parent", CreatedAt: time.Unix(500, 0)}
		child := &skeleton.Skeleton{TaskID: "child", ParentTaskID: "parent", CreatedAt: time.Unix(200, 0)}

		e := newEngine()
		updates := e.Resolve([]*skeleton.Skeleton{parent, child})

		u, ok := updateFor(updates, "child")
		require.True(t, ok)
		assert.True(t, u.ClearParentTaskID)
	})
}

func TestEngine_Resolve_ExactMatch(t *testing.T) {
	t.Run("Should resolve via an exact radix tree match with confidence 1.0", func(t *testing.T) {
		instr := Normalize("build the CSV export feature")
		parent := &skeleton.Skeleton{
			TaskID:                       "parent",
			CreatedAt:                    time.Unix(100, 0),
			Workspace:                    "/repo",
			ChildTaskInstructionPrefixes: []string{instr},
		}
		child := &skeleton.Skeleton{
			TaskID:               "child",
			CreatedAt:            time.Unix(101, 0),
			Workspace:            "/repo",
			TruncatedInstruction: "build the CSV export feature",
		}

		e := newEngine()
		updates := e.Resolve([]*skeleton.Skeleton{parent, child})

		u, ok := updateFor(updates, "child")
		require.True(t, ok)
		assert.Equal(t, "parent", u.ReconstructedParentID)
		assert.Equal(t, skeleton.MethodRadixTreeExact, u.ParentResolutionMethod)
		assert.Equal(t, 1.0, u.ParentConfidenceScore)
	})
}

func TestEngine_Resolve_PrefixMatchWorkspaceDowngrade(t *testing.T) {
	t.Run("Should downgrade a workspace-mismatched exact candidate to prefix tier", func(t *testing.T) {
		instr := Normalize("refactor the auth module completely")
		parent := &skeleton.Skeleton{
			TaskID:                       "parent",
			CreatedAt:                    time.Unix(100, 0),
			Workspace:                    "/repoA",
			ChildTaskInstructionPrefixes: []string{instr},
		}
		child := &skeleton.Skeleton{
			TaskID:               "child",
			CreatedAt:            time.Unix(101, 0),
			Workspace:            "/repoB",
			TruncatedInstruction: "refactor the auth module completely",
		}

		e := newEngine()
		updates := e.Resolve([]*skeleton.Skeleton{parent, child})

		u, ok := updateFor(updates, "child")
		require.True(t, ok)
		assert.Equal(t, skeleton.MethodRadixTreePrefix, u.ParentResolutionMethod)
		assert.LessOrEqual(t, u.ParentConfidenceScore, 0.95)
	})
}

func TestEngine_Resolve_ChronologicalProximity(t *testing.T) {
	t.Run("Should fall back to the nearest prior same-workspace task", func(t *testing.T) {
		earlier := &skeleton.Skeleton{TaskID: "earlier", CreatedAt: time.Unix(100, 0), Workspace: "/repo"}
		later := &skeleton.Skeleton{TaskID: "later", CreatedAt: time.Unix(150, 0), Workspace: "/repo"}
		child := &skeleton.Skeleton{
			TaskID:               "child",
			CreatedAt:            time.Unix(200, 0),
			Workspace:            "/repo",
			TruncatedInstruction: "some instruction with no matching prefix anywhere",
		}

		e := newEngine()
		updates := e.Resolve([]*skeleton.Skeleton{earlier, later, child})

		u, ok := updateFor(updates, "child")
		require.True(t, ok)
		assert.Equal(t, "later", u.ReconstructedParentID)
		assert.Equal(t, skeleton.MethodChronologicalProximity, u.ParentResolutionMethod)
		assert.Equal(t, 0.3, u.ParentConfidenceScore)
	})

	t.Run("Should leave unresolved when no workspace is set", func(t *testing.T) {
		earlier := &skeleton.Skeleton{TaskID: "earlier", CreatedAt: time.Unix(100, 0)}
		child := &skeleton.Skeleton{
			TaskID:               "child",
			CreatedAt:            time.Unix(200, 0),
			TruncatedInstruction: "some instruction with no matching prefix anywhere",
		}

		e := newEngine()
		updates := e.Resolve([]*skeleton.Skeleton{earlier, child})

		_, ok := updateFor(updates, "child")
		assert.False(t, ok)
	})
}

func TestEngine_Resolve_Deterministic(t *testing.T) {
	t.Run("Should produce identical output regardless of input slice order", func(t *testing.T) {
		instr := Normalize("ship the release notes")
		a := &skeleton.Skeleton{TaskID: "a", CreatedAt: time.Unix(100, 0), Workspace: "/repo", ChildTaskInstructionPrefixes: []string{instr}}
		b := &skeleton.Skeleton{TaskID: "b", CreatedAt: time.Unix(100, 0), Workspace: "/repo", ChildTaskInstructionPrefixes: []string{instr}}
		child := &skeleton.Skeleton{TaskID: "child", CreatedAt: time.Unix(150, 0), Workspace: "/repo", TruncatedInstruction: "ship the release notes"}

		e := newEngine()
		first := e.Resolve([]*skeleton.Skeleton{a, b, child})
		second := e.Resolve([]*skeleton.Skeleton{child, b, a})

		assert.Equal(t, first, second)
	})
}
