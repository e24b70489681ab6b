package vectorindex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/convstate/core/internal/indexdecision"
	"github.com/convstate/core/internal/skeleton"

	. "github.com/convstate/core/internal/logging"
)

// ErrDeferred is returned by IndexOne when the indexer's K-concurrency
// budget has no free slot right now; the caller should leave the task for
// the next scheduler tick rather than block waiting for one, per spec.md
// §4.F's backpressure policy.
var ErrDeferred = errors.New("indexing deferred: embedding concurrency budget exhausted")

// Indexer orchestrates decision -> chunk -> embed -> upsert for a batch of
// skeletons, bounded to K concurrent embedding requests.
type Indexer struct {
	decision *indexdecision.Service
	embedder *EmbeddingClient
	cache    *EmbeddingCache
	store    *Store
	breaker  *Breaker
	sem      *semaphore.Weighted

	chunkTokens   int
	chunkOverlap  int
}

// NewIndexer constructs an Indexer with the given concurrency budget K.
func NewIndexer(decision *indexdecision.Service, embedder *EmbeddingClient, cache *EmbeddingCache, store *Store, breaker *Breaker, concurrency int) *Indexer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Indexer{
		decision:     decision,
		embedder:     embedder,
		cache:        cache,
		store:        store,
		breaker:      breaker,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		chunkTokens:  DefaultChunkTokens,
		chunkOverlap: DefaultChunkOverlap,
	}
}

// MessageLines is supplied by the caller (in production it is backed by the
// parser re-reading the task directory; the indexer never reads task
// directories itself).
type MessageLines func(taskID string) []string

// IndexOne runs the full pipeline for one skeleton if shouldIndex says
// INDEX. Returns whether an index actually ran.
func (idx *Indexer) IndexOne(ctx context.Context, sk *skeleton.Skeleton, lines MessageLines) (bool, error) {
	decision, err := idx.decision.ShouldIndex(sk.TaskID, sk.ContentHash, time.Now())
	if err != nil {
		return false, err
	}
	if decision.Decision != indexdecision.DecisionIndex {
		L_debug("skipping index", "task", sk.TaskID, "reason", decision.Reason)
		return false, nil
	}

	if !idx.sem.TryAcquire(1) {
		L_debug("deferring index to next scheduler tick, concurrency budget exhausted", "task", sk.TaskID)
		return false, ErrDeferred
	}
	defer idx.sem.Release(1)

	chunks := ChunkMessages(lines(sk.TaskID), idx.chunkTokens, idx.chunkOverlap)
	if len(chunks) == 0 {
		L_debug("no content to index", "task", sk.TaskID)
		return false, nil
	}

	vectors, err := idx.embedChunks(ctx, chunks)
	if err != nil {
		_ = idx.decision.RecordAttempt(sk.TaskID)
		return false, err
	}

	points := make([]VectorPoint, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, VectorPoint{
			TaskID:     sk.TaskID,
			ChunkIndex: c.Index,
			Vector:     vectors[i],
			Snippet:    snippet(c.Text, 200),
			Workspace:  sk.Workspace,
		})
	}

	_, err = executeWithBreaker(idx.breaker, func() (struct{}, error) {
		return struct{}{}, idx.store.Upsert(ctx, points)
	})
	if err != nil {
		_ = idx.decision.RecordAttempt(sk.TaskID)
		return false, err
	}

	if err := idx.decision.RecordIndexed(sk.TaskID, sk.ContentHash, time.Now()); err != nil {
		return true, err
	}
	return true, nil
}

func (idx *Indexer) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	var toEmbed []string
	var toEmbedIdx []int

	for i, c := range chunks {
		if v, ok := idx.cache.Get(c.Hash, idx.embedder.Model()); ok {
			out[i] = v
			continue
		}
		toEmbed = append(toEmbed, c.Text)
		toEmbedIdx = append(toEmbedIdx, i)
	}

	if len(toEmbed) == 0 {
		return out, nil
	}

	vectors, err := executeWithBreaker(idx.breaker, func() ([][]float32, error) {
		return idx.embedder.EmbedBatch(ctx, toEmbed)
	})
	if err != nil {
		return nil, err
	}

	for j, vecIdx := range toEmbedIdx {
		out[vecIdx] = vectors[j]
		_ = idx.cache.Put(chunks[vecIdx].Hash, idx.embedder.Model(), vectors[j])
	}
	return out, nil
}

// BatchStats summarizes one IndexBatch call across its skeletons.
type BatchStats struct {
	Indexed  int
	Skipped  int
	Deferred int
	Failed   int
}

// IndexBatch runs IndexOne across skeletons concurrently, fanning out
// through errgroup so the Indexer's K-wide semaphore is actually the thing
// bounding embedding concurrency rather than a decorative field: every
// goroutine that can't immediately acquire a slot returns ErrDeferred
// instead of blocking, leaving that skeleton for the next scheduler tick
// per spec.md §4.F's "over-limit indexing is deferred" rule.
func (idx *Indexer) IndexBatch(ctx context.Context, skeletons []*skeleton.Skeleton, lines MessageLines) BatchStats {
	var stats BatchStats
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, sk := range skeletons {
		sk := sk
		g.Go(func() error {
			ran, err := idx.IndexOne(gctx, sk, lines)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrDeferred):
				stats.Deferred++
			case err != nil:
				stats.Failed++
				L_warn("indexing attempt failed", "task", sk.TaskID, "err", err)
			case ran:
				stats.Indexed++
			default:
				stats.Skipped++
			}
			return nil // one skeleton's failure must never abort the batch
		})
	}
	_ = g.Wait()

	return stats
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max]
}
