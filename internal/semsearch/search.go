// Package semsearch implements Semantic Search: k-NN over the vector
// store, joined with the skeleton cache and re-ranked with a workspace
// locality boost.
package semsearch

import (
	"context"
	"sort"

	"github.com/convstate/core/internal/cache"
	"github.com/convstate/core/internal/vectorindex"

	. "github.com/convstate/core/internal/logging"
)

// workspaceBoost is added to the raw vector-store score for hits whose
// workspace matches the querying task's workspace, mirroring the teacher's
// hybrid vector+keyword weighting idea applied to locality instead.
const workspaceBoost = 0.05

// Result is one ranked hit, joined with cache metadata for display.
type Result struct {
	TaskID  string  `json:"taskId"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// Search embeds queryText, runs a k-NN query, and joins hits with the
// skeleton cache. Unknown taskIds (present in the store, absent from the
// cache) are dropped with a warning counter.
func Search(ctx context.Context, store *vectorindex.Store, embedder *vectorindex.EmbeddingClient, c *cache.Cache, queryText string, k int, workspace string) ([]Result, error) {
	vectors, err := embedder.EmbedBatch(ctx, []string{queryText})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || vectors[0] == nil {
		return nil, nil
	}

	hits, err := store.Search(ctx, vectors[0], uint64(k)*2, workspace) // over-fetch, then boost+truncate
	if err != nil {
		return nil, err
	}

	var dropped int
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		sk, ok := c.GetByID(hit.TaskID)
		if !ok {
			dropped++
			continue
		}
		score := float64(hit.Score)
		if workspace != "" && sk.Workspace == workspace {
			score += workspaceBoost
		}
		results = append(results, Result{TaskID: hit.TaskID, Score: score, Snippet: hit.Snippet})
	}
	if dropped > 0 {
		L_warn("semantic search dropped hits missing from cache", "count", dropped)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
