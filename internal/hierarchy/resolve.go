// Package hierarchy implements the Hierarchy Reconstruction Engine: a
// two-pass radix-tree match of sub-task launch instructions against
// candidate parents, with chronological/workspace constraints, tiered
// confidence, tie-breaking, and cycle breaking.
package hierarchy

import (
	"sort"
	"time"

	"github.com/convstate/core/internal/skeleton"

	. "github.com/convstate/core/internal/logging"
)

// Engine runs Pass 1 (index) and Pass 2 (resolve) over a snapshot of
// skeletons. It never mutates its input directly; callers apply the
// returned Update values through the cache's delegated-mutation API so
// ownership of the skeleton map stays with the cache.
type Engine struct {
	minPrefixLen    int
	proximityWindow time.Duration
	audit           *auditLog
}

// NewEngine constructs an Engine with the configured tuning knobs.
func NewEngine(minPrefixLen int, proximityWindow time.Duration) *Engine {
	return &Engine{minPrefixLen: minPrefixLen, proximityWindow: proximityWindow, audit: newAuditLog()}
}

// Update is one skeleton's new parent-field assignment.
type Update struct {
	TaskID                 string
	ReconstructedParentID  string
	ParentConfidenceScore  float64
	ParentResolutionMethod skeleton.ResolutionMethod
	ClearParentTaskID      bool // host metadata parent failed validation and must be cleared
}

// candidate is one proposed edge for a child skeleton, before tie-breaking.
type candidate struct {
	payload    Payload
	confidence float64
	method     skeleton.ResolutionMethod
}

// Resolve runs both passes over skeletons and returns the set of field
// updates to apply. Determinism: for identical input, output is identical
// regardless of slice iteration order. Candidates are always compared in a
// fixed order (confidence, then workspace match, then recency, then
// taskId) so the tie-break check itself never depends on map/slice
// iteration order — but taskId only disambiguates which candidate sorts
// first, it never resolves a genuine tie: when confidence, workspace match,
// and recency all agree across the top two candidates, pickBest leaves the
// child unresolved rather than picking a parent on taskId's arbitrary
// ordering alone.
func (e *Engine) Resolve(skeletons []*skeleton.Skeleton) []Update {
	byID := make(map[string]*skeleton.Skeleton, len(skeletons))
	for _, sk := range skeletons {
		byID[sk.TaskID] = sk
	}

	index := e.buildIndex(skeletons)

	updates := make(map[string]Update, len(skeletons))

	for _, child := range skeletons {
		if child.ParentTaskID != "" {
			if parent, ok := byID[child.ParentTaskID]; ok && e.chronologicallyValid(parent, child) {
				updates[child.TaskID] = Update{
					TaskID:                 child.TaskID,
					ParentConfidenceScore:  1.0,
					ParentResolutionMethod: skeleton.MethodMetadataDirect,
				}
				continue
			}
			// Host-declared parent failed validation: invalidate and fall
			// through to resolution.
			updates[child.TaskID] = Update{TaskID: child.TaskID, ClearParentTaskID: true}
		}

		if child.TruncatedInstruction == "" {
			continue
		}

		if res, ok := e.resolveOne(child, byID, index); ok {
			res.ClearParentTaskID = updates[child.TaskID].ClearParentTaskID
			updates[child.TaskID] = res
		}
	}

	e.breakCycles(byID, updates)

	out := make([]Update, 0, len(updates))
	for _, u := range updates {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })

	now := time.Now()
	for _, u := range out {
		if u.ReconstructedParentID == "" {
			continue
		}
		e.audit.record(AuditEntry{
			TaskID:                u.TaskID,
			ReconstructedParentID: u.ReconstructedParentID,
			Method:                u.ParentResolutionMethod,
			Confidence:            u.ParentConfidenceScore,
			At:                    now,
		})
	}

	return out
}

func (e *Engine) buildIndex(skeletons []*skeleton.Skeleton) *Index {
	idx := NewIndex()
	for _, sk := range skeletons {
		for _, prefix := range sk.ChildTaskInstructionPrefixes {
			if prefix == "" {
				continue
			}
			idx.Insert(prefix, Payload{ParentTaskID: sk.TaskID, CreatedAt: sk.CreatedAt, Workspace: sk.Workspace})
		}
	}
	return idx
}

func (e *Engine) chronologicallyValid(parent, child *skeleton.Skeleton) bool {
	return !parent.CreatedAt.After(child.CreatedAt.Add(ClockSkewTolerance * time.Second))
}

// resolveOne runs the three-tier query for one child against the index,
// applying hard constraints, workspace downgrade, and tie-breaking.
func (e *Engine) resolveOne(child *skeleton.Skeleton, byID map[string]*skeleton.Skeleton, index *Index) (Update, bool) {
	key := Normalize(child.TruncatedInstruction)

	var candidates []candidate

	if payloads, ok := index.Exact(key); ok {
		for _, p := range payloads {
			candidates = append(candidates, candidate{payload: p, confidence: 1.0, method: skeleton.MethodRadixTreeExact})
		}
	}

	if len(candidates) == 0 {
		if pm, ok := index.LongestPrefixOfQuery(key); ok && pm.matchedLen >= e.minPrefixLen {
			conf := prefixConfidence(pm.matchedLen, len(key), len(pm.key))
			for _, p := range pm.payloads {
				candidates = append(candidates, candidate{payload: p, confidence: conf, method: skeleton.MethodRadixTreePrefix})
			}
		}
		if pm, ok := index.KeysExtendingQuery(key); ok && pm.matchedLen >= e.minPrefixLen {
			conf := prefixConfidence(pm.matchedLen, len(key), len(pm.key))
			for _, p := range pm.payloads {
				candidates = append(candidates, candidate{payload: p, confidence: conf, method: skeleton.MethodRadixTreePrefix})
			}
		}
	}

	var accepted []candidate
	for _, c := range candidates {
		if c.payload.ParentTaskID == child.TaskID {
			continue
		}
		parent, ok := byID[c.payload.ParentTaskID]
		if !ok || !e.chronologicallyValid(parent, child) {
			continue
		}
		if child.Workspace != "" && c.payload.Workspace != "" && child.Workspace != c.payload.Workspace {
			c, ok = downgrade(c)
			if !ok {
				continue
			}
		}
		accepted = append(accepted, c)
	}

	if len(accepted) > 0 {
		best, ok := pickBest(accepted, child)
		if !ok {
			return Update{}, false // true tie on every tie-breaker: unresolved
		}
		return Update{
			TaskID:                 child.TaskID,
			ReconstructedParentID:  best.payload.ParentTaskID,
			ParentConfidenceScore:  best.confidence,
			ParentResolutionMethod: best.method,
		}, true
	}

	return e.resolveByProximity(child, byID)
}

// resolveByProximity implements tier 3: the candidate within the same
// workspace whose createdAt is the greatest t with t <= child.createdAt,
// within the proximity window.
func (e *Engine) resolveByProximity(child *skeleton.Skeleton, byID map[string]*skeleton.Skeleton) (Update, bool) {
	if child.Workspace == "" {
		return Update{}, false
	}
	var best *skeleton.Skeleton
	for _, sk := range byID {
		if sk.TaskID == child.TaskID || sk.Workspace != child.Workspace {
			continue
		}
		if sk.CreatedAt.After(child.CreatedAt.Add(ClockSkewTolerance * time.Second)) {
			continue
		}
		if child.CreatedAt.Sub(sk.CreatedAt) > e.proximityWindow {
			continue
		}
		if best == nil || sk.CreatedAt.After(best.CreatedAt) ||
			(sk.CreatedAt.Equal(best.CreatedAt) && sk.TaskID < best.TaskID) {
			best = sk
		}
	}
	if best == nil {
		return Update{}, false
	}
	return Update{
		TaskID:                 child.TaskID,
		ReconstructedParentID:  best.TaskID,
		ParentConfidenceScore:  0.3,
		ParentResolutionMethod: skeleton.MethodChronologicalProximity,
	}, true
}

func prefixConfidence(matchedLen, queryLen, keyLen int) float64 {
	denom := queryLen
	if keyLen > denom {
		denom = keyLen
	}
	if denom == 0 {
		return 0.5
	}
	conf := float64(matchedLen) / float64(denom)
	if conf < 0.5 {
		conf = 0.5
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// downgrade steps a candidate's tier down by one when sides disagree on
// workspace: exact -> prefix, prefix -> proximity. If only proximity
// remains it is rejected (ok=false) per the hard constraint.
func downgrade(c candidate) (candidate, bool) {
	switch c.method {
	case skeleton.MethodRadixTreeExact:
		c.method = skeleton.MethodRadixTreePrefix
		if c.confidence > 0.95 {
			c.confidence = 0.95
		}
		return c, true
	case skeleton.MethodRadixTreePrefix:
		return candidate{}, false
	default:
		return candidate{}, false
	}
}

func pickBest(candidates []candidate, child *skeleton.Skeleton) (candidate, bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		aSameWS := a.payload.Workspace != "" && a.payload.Workspace == child.Workspace
		bSameWS := b.payload.Workspace != "" && b.payload.Workspace == child.Workspace
		if aSameWS != bSameWS {
			return aSameWS
		}
		aDelta := child.CreatedAt.Sub(a.payload.CreatedAt)
		bDelta := child.CreatedAt.Sub(b.payload.CreatedAt)
		if aDelta != bDelta {
			return aDelta < bDelta
		}
		return a.payload.ParentTaskID < b.payload.ParentTaskID
	})

	if len(candidates) > 1 {
		a, b := candidates[0], candidates[1]
		aSameWS := a.payload.Workspace != "" && a.payload.Workspace == child.Workspace
		bSameWS := b.payload.Workspace != "" && b.payload.Workspace == child.Workspace
		if a.confidence == b.confidence && aSameWS == bSameWS &&
			child.CreatedAt.Sub(a.payload.CreatedAt) == child.CreatedAt.Sub(b.payload.CreatedAt) {
			L_debug("hierarchy resolution tie on every tie-breaker, leaving unresolved", "child", child.TaskID)
			return candidate{}, false
		}
	}
	return candidates[0], true
}
