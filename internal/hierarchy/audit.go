package hierarchy

import (
	"sync"
	"time"

	"github.com/convstate/core/internal/skeleton"
)

// auditCapacity bounds the ring buffer so a long-running process doesn't
// grow this unbounded across many Resolve calls.
const auditCapacity = 512

// AuditEntry records one resolution decision, so a debugging tool can show
// not just the current parentResolutionMethod on a skeleton but the history
// of decisions that produced it across rebuilds.
type AuditEntry struct {
	TaskID                string
	ReconstructedParentID string
	Method                skeleton.ResolutionMethod
	Confidence            float64
	At                    time.Time
}

// auditLog is a small bounded ring buffer of recent resolution decisions,
// grounded on the same size-bounded ring idea as the gateway's per-tool
// latency histogram (internal/gateway/metrics.go's timingMetric), applied
// here to hierarchy decisions instead of call timings.
type auditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func newAuditLog() *auditLog {
	return &auditLog{entries: make([]AuditEntry, 0, auditCapacity)}
}

func (a *auditLog) record(e AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) >= auditCapacity {
		a.entries = a.entries[1:]
	}
	a.entries = append(a.entries, e)
}

func (a *auditLog) forTask(taskID string) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AuditEntry
	for _, e := range a.entries {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

// AuditTrail returns every recorded resolution decision for taskID, oldest
// first, bounded by the ring buffer's capacity.
func (e *Engine) AuditTrail(taskID string) []AuditEntry {
	return e.audit.forTask(taskID)
}
