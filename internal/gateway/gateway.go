// Package gateway implements the Unified Tool Gateway: dispatching every
// tool invocation through one of three processing strategies, guaranteeing
// cache freshness before reads, and collecting per-call metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/convstate/core/internal/cache"
	"github.com/convstate/core/internal/coreerr"
	"github.com/convstate/core/internal/hierarchy"
	"github.com/convstate/core/internal/indexdecision"
	"github.com/convstate/core/internal/locator"
	"github.com/convstate/core/internal/scheduler"
	"github.com/convstate/core/internal/semsearch"
	"github.com/convstate/core/internal/skeleton"
	"github.com/convstate/core/internal/vectorindex"

	. "github.com/convstate/core/internal/logging"
)

// Result is the uniform envelope every tool call returns.
type Result struct {
	OK       bool            `json:"ok"`
	Data     any             `json:"data,omitempty"`
	Error    *ResultError    `json:"error,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// ResultError is the {code, message, details} shape for a failed call.
type ResultError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func okResult(data any) Result  { return Result{OK: true, Data: data} }
func errResult(err error) Result {
	if ce, ok := coreerr.AsCoded(err); ok {
		return Result{OK: false, Error: &ResultError{Code: ce.Code(), Message: ce.Error(), Details: ce.Details}}
	}
	return Result{OK: false, Error: &ResultError{Code: "invariant_violation", Message: err.Error()}}
}

// MessageLinesFunc supplies the raw message lines for a task, used by the
// vector indexer; owned by whatever wires the gateway together (typically
// backed by the parser re-reading the task directory). Aliased to the
// indexer's own function type so a value assigns directly either way.
type MessageLinesFunc = vectorindex.MessageLines

// Gateway dispatches tool calls, guarantees freshness, and collects
// metrics. It holds every component reference explicitly: there is no
// ambient global state anywhere in this package.
type Gateway struct {
	Cache     *cache.Cache
	Locator   *locator.Locator
	Engine    *hierarchy.Engine
	Decision  *indexdecision.Service
	Indexer   *vectorindex.Indexer
	Store     *vectorindex.Store
	Embedder  *vectorindex.EmbeddingClient
	Scheduler *scheduler.Scheduler
	Lines     MessageLinesFunc

	metrics *metricsRegistry

	deferredQueue chan func(context.Context)
}

// New constructs a Gateway over the already-wired components.
func New() *Gateway {
	return &Gateway{
		metrics:       newMetricsRegistry(),
		deferredQueue: make(chan func(context.Context), 64),
	}
}

// Start launches the background worker that drains deferred jobs.
func (g *Gateway) Start(ctx context.Context) {
	go g.runDeferredWorker(ctx)
}

func (g *Gateway) runDeferredWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-g.deferredQueue:
			job(ctx)
		}
	}
}

// Dispatch routes one tool call by name, applying its strategy, collecting
// metrics, and recovering any panic into an invariant_violation result so a
// misbehaving handler can never crash the gateway.
func (g *Gateway) Dispatch(ctx context.Context, tool string, params json.RawMessage) (result Result) {
	start := time.Now()
	var cacheHit *bool
	isErr := false

	defer func() {
		if r := recover(); r != nil {
			L_error("tool handler panicked, recovered at gateway boundary", "tool", tool, "panic", r)
			result = errResult(coreerr.InvariantViolationError(fmt.Sprintf("handler panic: %v", r)))
			isErr = true
		}
		g.metrics.recordCall(tool, time.Since(start), isErr || !result.OK, cacheHit)
	}()

	strategy, ok := toolStrategy[tool]
	if !ok {
		return errResult(coreerr.ConfigError(fmt.Sprintf("unknown tool %q", tool), nil))
	}

	switch strategy {
	case StrategyImmediate:
		return g.dispatchImmediate(tool, params)
	case StrategyHybrid:
		hit := !g.Cache.EnsureFresh(cache.RebuildOpts{})
		cacheHit = &hit
		return g.dispatchHybrid(ctx, tool, params)
	case StrategyDeferred:
		return g.dispatchDeferred(ctx, tool, params)
	default:
		return errResult(coreerr.ConfigError("unrecognized strategy", nil))
	}
}

func (g *Gateway) dispatchImmediate(tool string, params json.RawMessage) Result {
	switch tool {
	case "detect_storage":
		return okResult(g.Locator.DetectStorageLocations())
	case "get_storage_stats":
		return okResult(g.Locator.GetStorageStats())
	default:
		return errResult(coreerr.ConfigError(fmt.Sprintf("%q is not an immediate-strategy tool", tool), nil))
	}
}

func (g *Gateway) dispatchHybrid(ctx context.Context, tool string, params json.RawMessage) Result {
	switch tool {
	case "list_conversations":
		return g.listConversations(params)
	case "get_task_tree":
		return g.getTaskTree(params)
	case "view_task_details":
		return g.viewTaskDetails(params)
	case "search_tasks_semantic":
		return g.searchTasksSemantic(ctx, params)
	default:
		return errResult(coreerr.ConfigError(fmt.Sprintf("%q is not a hybrid-strategy tool", tool), nil))
	}
}

func (g *Gateway) dispatchDeferred(ctx context.Context, tool string, params json.RawMessage) Result {
	switch tool {
	case "rebuild_skeleton_cache":
		return g.rebuildSkeletonCache(ctx, params)
	case "index_task_semantic":
		return g.indexTaskSemantic(ctx, params)
	default:
		return errResult(coreerr.ConfigError(fmt.Sprintf("%q is not a deferred-strategy tool", tool), nil))
	}
}

// --- handlers ---

type listConversationsParams struct {
	Workspace string `json:"workspace"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

func (g *Gateway) listConversations(params json.RawMessage) Result {
	var p listConversationsParams
	_ = json.Unmarshal(params, &p)
	if p.Limit <= 0 {
		p.Limit = 50
	}

	all := g.Cache.GetAll()
	var filtered []*skeleton.Skeleton
	for _, sk := range all {
		if p.Workspace != "" && sk.Workspace != p.Workspace {
			continue
		}
		filtered = append(filtered, sk)
	}

	start := p.Offset
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + p.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return okResult(map[string]any{
		"conversations": filtered[start:end],
		"total":         len(filtered),
	})
}

type taskTreeParams struct {
	TaskID string `json:"taskId"`
}

type taskTreeNode struct {
	Skeleton   *skeleton.Skeleton     `json:"skeleton"`
	AuditTrail []hierarchy.AuditEntry `json:"auditTrail,omitempty"`
	Children   []*taskTreeNode        `json:"children,omitempty"`
}

func (g *Gateway) getTaskTree(params json.RawMessage) Result {
	var p taskTreeParams
	_ = json.Unmarshal(params, &p)

	root, ok := g.Cache.GetByID(p.TaskID)
	if !ok {
		return errResult(coreerr.CacheMissError(fmt.Sprintf("unknown taskId %q", p.TaskID)))
	}

	byParent := make(map[string][]*skeleton.Skeleton)
	for _, sk := range g.Cache.GetAll() {
		parent := sk.EffectiveParent()
		if parent != "" {
			byParent[parent] = append(byParent[parent], sk)
		}
	}

	var build func(sk *skeleton.Skeleton, depth int) *taskTreeNode
	build = func(sk *skeleton.Skeleton, depth int) *taskTreeNode {
		node := &taskTreeNode{Skeleton: sk, AuditTrail: g.Engine.AuditTrail(sk.TaskID)}
		if depth > 64 {
			return node // defensive depth bound; cycles are already broken by D
		}
		for _, child := range byParent[sk.TaskID] {
			node.Children = append(node.Children, build(child, depth+1))
		}
		return node
	}

	return okResult(build(root, 0))
}

type viewTaskDetailsParams struct {
	TaskID string `json:"taskId"`
}

func (g *Gateway) viewTaskDetails(params json.RawMessage) Result {
	var p viewTaskDetailsParams
	_ = json.Unmarshal(params, &p)

	sk, ok := g.Cache.GetByID(p.TaskID)
	if !ok {
		return errResult(coreerr.CacheMissError(fmt.Sprintf("unknown taskId %q", p.TaskID)))
	}
	return okResult(sk)
}

type rebuildParams struct {
	Force     bool   `json:"force"`
	Workspace string `json:"workspace"`
}

func (g *Gateway) rebuildSkeletonCache(ctx context.Context, params json.RawMessage) Result {
	var p rebuildParams
	_ = json.Unmarshal(params, &p)

	ack := map[string]any{"accepted": true, "force": p.Force}
	select {
	case g.deferredQueue <- func(ctx context.Context) {
		stats := g.Cache.Rebuild(cache.RebuildOpts{Force: p.Force, Workspace: p.Workspace})
		updates := g.Engine.Resolve(g.Cache.GetAll())
		g.ApplyHierarchyUpdates(updates)
		L_info("deferred rebuild complete", "scanned", stats.Scanned, "parsed", stats.Parsed)
	}:
	default:
		return errResult(coreerr.RateLimitedError("deferred queue full, try again next tick"))
	}
	return okResult(ack)
}

// ApplyHierarchyUpdates writes a batch of hierarchy.Engine resolutions back
// into the cache through its delegated-mutation API. Exported so the
// scheduler's tick function (owned by cmd/convstate) can run the same
// rebuild-then-resolve sequence the deferred rebuild_skeleton_cache handler
// runs.
func (g *Gateway) ApplyHierarchyUpdates(updates []hierarchy.Update) {
	for _, u := range updates {
		g.Cache.MutateParentFields(u.TaskID, func(sk *skeleton.Skeleton) {
			if u.ClearParentTaskID {
				sk.ParentTaskID = ""
			}
			sk.ReconstructedParentID = u.ReconstructedParentID
			sk.ParentConfidenceScore = u.ParentConfidenceScore
			sk.ParentResolutionMethod = u.ParentResolutionMethod
		})
	}
}

type searchParams struct {
	Query     string `json:"query"`
	K         int    `json:"k"`
	Workspace string `json:"workspace"`
}

func (g *Gateway) searchTasksSemantic(ctx context.Context, params json.RawMessage) Result {
	var p searchParams
	_ = json.Unmarshal(params, &p)
	if p.K <= 0 {
		p.K = 10
	}

	results, err := semsearch.Search(ctx, g.Store, g.Embedder, g.Cache, p.Query, p.K, p.Workspace)
	if err != nil {
		return errResult(err)
	}
	return okResult(results)
}

type indexTaskParams struct {
	TaskID string `json:"taskId"`
}

func (g *Gateway) indexTaskSemantic(ctx context.Context, params json.RawMessage) Result {
	var p indexTaskParams
	_ = json.Unmarshal(params, &p)

	sk, ok := g.Cache.GetByID(p.TaskID)
	if !ok {
		return errResult(coreerr.CacheMissError(fmt.Sprintf("unknown taskId %q", p.TaskID)))
	}

	ack := map[string]any{"accepted": true, "taskId": p.TaskID}
	select {
	case g.deferredQueue <- func(ctx context.Context) {
		ran, err := g.Indexer.IndexOne(ctx, sk, g.Lines)
		switch {
		case errors.Is(err, vectorindex.ErrDeferred):
			L_debug("index deferred to next scheduler tick, concurrency budget exhausted", "task", p.TaskID)
		case err != nil:
			L_error("deferred index failed", "task", p.TaskID, "err", err)
		default:
			L_debug("deferred index complete", "task", p.TaskID, "ran", ran)
		}
	}:
	default:
		return errResult(coreerr.RateLimitedError("deferred queue full, try again next tick"))
	}
	return okResult(ack)
}

// Metrics returns a point-in-time snapshot of every tool's collected
// metrics, for debugging/introspection.
func (g *Gateway) Metrics() []ToolMetrics {
	return g.metrics.snapshot()
}
