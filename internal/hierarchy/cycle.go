package hierarchy

import (
	"time"

	"github.com/convstate/core/internal/skeleton"

	. "github.com/convstate/core/internal/logging"
)

// breakCycles performs DFS over the proposed parent graph (existing
// skeleton parent fields overridden by pending updates) and, for every
// cycle found, drops the lowest-confidence edge on it (ties broken by the
// largest child.createdAt), clearing that child's resolution to
// unresolved. Repeats to a fixed point.
func (e *Engine) breakCycles(byID map[string]*skeleton.Skeleton, updates map[string]Update) {
	for {
		cycle := findCycle(byID, updates)
		if cycle == nil {
			return
		}

		worstIdx := 0
		for i := 1; i < len(cycle); i++ {
			if isWorseEdge(byID, updates, cycle[i], cycle[worstIdx]) {
				worstIdx = i
			}
		}

		dropID := cycle[worstIdx]
		L_warn("hierarchy cycle detected, dropping lowest-confidence edge", "taskId", dropID)
		updates[dropID] = Update{
			TaskID:                 dropID,
			ParentResolutionMethod: skeleton.MethodUnresolved,
		}
	}
}

// isWorseEdge reports whether candidateID's outgoing edge is a worse pick
// to drop than currentID's: lower confidence first, then (tie) the larger
// child.createdAt.
func isWorseEdge(byID map[string]*skeleton.Skeleton, updates map[string]Update, candidateID, currentID string) bool {
	cConf, cCreated := edgeConfidence(byID, updates, candidateID)
	curConf, curCreated := edgeConfidence(byID, updates, currentID)
	if cConf != curConf {
		return cConf < curConf
	}
	return cCreated.After(curCreated)
}

func edgeConfidence(byID map[string]*skeleton.Skeleton, updates map[string]Update, taskID string) (float64, time.Time) {
	sk := byID[taskID]
	if u, ok := updates[taskID]; ok {
		return u.ParentConfidenceScore, sk.CreatedAt
	}
	return sk.ParentConfidenceScore, sk.CreatedAt
}

// effectiveParentAfter returns what taskID's effective parent would be
// after applying pending updates: the update's reconstructed parent when
// present (even if empty, meaning "cleared"), metadata_direct's declared
// parent, or the skeleton's existing effective parent unchanged.
func effectiveParentAfter(byID map[string]*skeleton.Skeleton, updates map[string]Update, taskID string) string {
	sk := byID[taskID]
	if u, ok := updates[taskID]; ok {
		switch u.ParentResolutionMethod {
		case skeleton.MethodMetadataDirect:
			return sk.ParentTaskID
		case skeleton.MethodUnresolved:
			return ""
		default:
			return u.ReconstructedParentID
		}
	}
	return sk.EffectiveParent()
}

// findCycle runs DFS from every node and returns the task IDs forming the
// first cycle encountered, or nil if the graph is acyclic.
func findCycle(byID map[string]*skeleton.Skeleton, updates map[string]Update) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byID))

	var stack []string
	var cycle []string

	var visit func(taskID string) bool
	visit = func(taskID string) bool {
		color[taskID] = gray
		stack = append(stack, taskID)

		next := effectiveParentAfter(byID, updates, taskID)
		if next != "" {
			if _, exists := byID[next]; exists {
				switch color[next] {
				case white:
					if visit(next) {
						return true
					}
				case gray:
					// Found the cycle: unwind stack from next onward.
					start := -1
					for i, id := range stack {
						if id == next {
							start = i
							break
						}
					}
					if start >= 0 {
						cycle = append([]string(nil), stack[start:]...)
					}
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[taskID] = black
		return false
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if color[id] == white {
			stack = nil
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
