package skeleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkeleton_EffectiveParent(t *testing.T) {
	t.Run("Should prefer the reconstructed parent over the host-declared one", func(t *testing.T) {
		sk := &Skeleton{ParentTaskID: "host-parent", ReconstructedParentID: "resolved-parent"}
		assert.Equal(t, "resolved-parent", sk.EffectiveParent())
	})

	t.Run("Should fall back to the host-declared parent when unresolved", func(t *testing.T) {
		sk := &Skeleton{ParentTaskID: "host-parent"}
		assert.Equal(t, "host-parent", sk.EffectiveParent())
	})

	t.Run("Should return empty when neither parent is set", func(t *testing.T) {
		sk := &Skeleton{}
		assert.Equal(t, "", sk.EffectiveParent())
	})
}

func TestSkeleton_ClearReconstructedParent(t *testing.T) {
	t.Run("Should reset to the unresolved state", func(t *testing.T) {
		sk := &Skeleton{
			ReconstructedParentID:  "parent",
			ParentConfidenceScore:  0.8,
			ParentResolutionMethod: MethodRadixTreeExact,
		}
		sk.ClearReconstructedParent()

		assert.Equal(t, "", sk.ReconstructedParentID)
		assert.Equal(t, 0.0, sk.ParentConfidenceScore)
		assert.Equal(t, MethodUnresolved, sk.ParentResolutionMethod)
	})
}
