package gateway

// Strategy is one of the three processing strategies every tool is
// classified under.
type Strategy string

const (
	// StrategyImmediate dispatches synchronously with no freshness check
	// (small lookups: storage detection/stats).
	StrategyImmediate Strategy = "immediate"
	// StrategyHybrid calls ensureFresh synchronously, then dispatches the
	// handler synchronously (tree/traversal reads).
	StrategyHybrid Strategy = "hybrid"
	// StrategyDeferred queues the work on the gateway's own deferred worker
	// (started by Gateway.Start) and returns an acknowledgment (full
	// rebuilds, large reindex operations); the queued work does not run on
	// the background Scheduler.
	StrategyDeferred Strategy = "deferred"
)

var toolStrategy = map[string]Strategy{
	"detect_storage":          StrategyImmediate,
	"get_storage_stats":       StrategyImmediate,
	"list_conversations":      StrategyHybrid,
	"get_task_tree":           StrategyHybrid,
	"view_task_details":       StrategyHybrid,
	"rebuild_skeleton_cache":  StrategyDeferred,
	"search_tasks_semantic":   StrategyHybrid,
	"index_task_semantic":     StrategyDeferred,
}
