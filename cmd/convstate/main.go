// Command convstate runs the conversation state core as a stdio MCP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/convstate/core/internal/cache"
	"github.com/convstate/core/internal/config"
	"github.com/convstate/core/internal/gateway"
	"github.com/convstate/core/internal/hierarchy"
	"github.com/convstate/core/internal/indexdecision"
	"github.com/convstate/core/internal/locator"
	"github.com/convstate/core/internal/parser"
	"github.com/convstate/core/internal/rpcserver"
	"github.com/convstate/core/internal/scheduler"
	"github.com/convstate/core/internal/storageio"
	"github.com/convstate/core/internal/vectorindex"
	"github.com/convstate/core/internal/watcher"

	. "github.com/convstate/core/internal/logging"
)

const (
	serverName    = "convstate"
	serverVersion = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "convstate: config error:", err)
		os.Exit(1)
	}

	Init(&Config{Level: ParseLevel(cfg.LogLevel), ShowCaller: true})
	L_info("convstate starting", "version", serverVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := wire(ctx, cfg)
	if err != nil {
		L_error("wiring failed", "err", err)
		os.Exit(2)
	}

	defer func() {
		if r := recover(); r != nil {
			L_error("unrecoverable panic at top level", "panic", r, "stack", string(debug.Stack()))
			os.Exit(2)
		}
	}()

	gw.Start(ctx)
	gw.Scheduler.Start(ctx)

	if err := rpcserver.Serve(ctx, gw, serverName, serverVersion); err != nil {
		L_error("rpc transport exited with error", "err", err)
		os.Exit(2)
	}
}

// wire constructs every component per SCHEDULER_INTERVAL_MS/STORAGE_ROOTS/etc,
// returning a fully assembled Gateway. Any unrecoverable construction error
// (bad vector-store URL, unreadable sqlite sidecar path) is returned rather
// than panicking so main can choose the exit code.
func wire(ctx context.Context, cfg *config.Env) (*gateway.Gateway, error) {
	io := storageio.NewOSStorageIO()

	roots := cfg.StorageRootList()
	if len(roots) == 0 {
		roots = defaultStorageRoots()
	}
	loc := locator.New(io, roots)

	prs := parser.New(io)
	c := cache.New(io, loc, prs, cfg.CacheManifestPath)
	c.LoadManifest()

	engine := hierarchy.NewEngine(cfg.HierarchyMinPrefixLen, cfg.HierarchyProximityWindow())

	decision, err := indexdecision.Open(cfg.IndexSidecarPath, cfg.MinReindexInterval(), cfg.MaxReindexInterval())
	if err != nil {
		return nil, fmt.Errorf("open index decision sidecar: %w", err)
	}

	embedCachePath := cfg.IndexSidecarPath + ".embeddings"
	embedCache, err := vectorindex.OpenEmbeddingCache(embedCachePath)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}

	store, err := vectorindex.NewStore(ctx, cfg.VectorStoreURL, cfg.VectorStoreAPIKey, cfg.VectorStoreCollection, uint64(cfg.EmbeddingDimension))
	if err != nil {
		return nil, fmt.Errorf("connect vector store: %w", err)
	}

	embedder := vectorindex.NewEmbeddingClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension)
	breaker := vectorindex.NewBreaker("embedding-and-vector-store", uint32(cfg.BreakerFailThreshold))
	indexer := vectorindex.NewIndexer(decision, embedder, embedCache, store, breaker, cfg.EmbeddingConcurrency)

	gw := gateway.New()
	gw.Cache = c
	gw.Locator = loc
	gw.Engine = engine
	gw.Decision = decision
	gw.Indexer = indexer
	gw.Store = store
	gw.Embedder = embedder
	gw.Lines = messageLinesFor(c, prs)

	sched := scheduler.New(cfg.SchedulerInterval(), tickFunc(gw))
	gw.Scheduler = sched

	if w, err := watcher.New(roots, sched.Trigger); err != nil {
		L_warn("filesystem watcher unavailable, relying on fixed-interval polling only", "err", err)
	} else {
		w.Start(ctx)
	}

	return gw, nil
}

// tickFunc is the single scheduled unit of work described in SPEC_FULL.md's
// background scheduler section: refresh the cache, re-resolve the
// hierarchy, and opportunistically index whatever the decision service
// says is due. Indexing fans out across the tick's skeletons so the
// indexer's K-wide concurrency budget is actually exercised; whatever
// doesn't fit the budget this tick is left for the next one.
func tickFunc(gw *gateway.Gateway) scheduler.TickFunc {
	return func(ctx context.Context) {
		gw.Cache.EnsureFresh(cache.RebuildOpts{})

		skeletons := gw.Cache.GetAll()
		updates := gw.Engine.Resolve(skeletons)
		gw.ApplyHierarchyUpdates(updates)

		stats := gw.Indexer.IndexBatch(ctx, skeletons, gw.Lines)
		L_debug("scheduled indexing pass complete",
			"indexed", stats.Indexed, "skipped", stats.Skipped,
			"deferred", stats.Deferred, "failed", stats.Failed)
	}
}

// messageLinesFor adapts the parser's task-directory re-read into the
// gateway.MessageLinesFunc shape the indexer needs at chunk time; the
// skeleton cache keeps only derived fields, never raw message bodies, so
// indexing re-reads from disk on demand via the cached FilePath.
func messageLinesFor(c *cache.Cache, prs *parser.Parser) gateway.MessageLinesFunc {
	return func(taskID string) []string {
		sk, ok := c.GetByID(taskID)
		if !ok {
			return nil
		}
		lines, err := prs.MessageLines(sk.FilePath)
		if err != nil {
			L_warn("failed to re-read message lines for indexing", "task", taskID, "err", err)
			return nil
		}
		return lines
	}
}

func defaultStorageRoots() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		home + "/.local/share/roo-code",
		home + "/.config/roo-code",
	}
}
