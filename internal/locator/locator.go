// Package locator implements Storage Locator: enumerating candidate roots
// on disk, confirming which contain a tasks directory, and reporting stats.
package locator

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/convstate/core/internal/storageio"

	. "github.com/convstate/core/internal/logging"
)

const tasksSubdir = "tasks"

// Location describes one confirmed storage root.
type Location struct {
	Path              string    `json:"path"`
	IsActive          bool      `json:"isActive"`
	ConversationCount int       `json:"conversationCount"`
	TotalSize         int64     `json:"totalSize"`
	DetectedAt        time.Time `json:"detectedAt"`
}

// Aggregate is the combined stats across all confirmed roots.
type Aggregate struct {
	Locations         []Location `json:"locations"`
	TotalConversations int       `json:"totalConversations"`
	TotalSize          int64     `json:"totalSize"`
	ComputedAt         time.Time `json:"computedAt"`
}

// Locator enumerates and stats candidate storage roots. Unreadable
// candidates are logged and skipped; this component never fails hard.
type Locator struct {
	io        storageio.StorageIO
	candidates []string

	statsTTL time.Duration

	mu         sync.Mutex
	cachedStat *Aggregate
	cachedAt   time.Time
}

// New constructs a Locator over the given candidate root list (already
// resolved from STORAGE_ROOTS or platform defaults by the caller).
func New(io storageio.StorageIO, candidates []string) *Locator {
	return &Locator{io: io, candidates: candidates, statsTTL: 10 * time.Second}
}

// DetectStorageLocations filters the candidate list to roots that contain a
// tasks/ sub-directory, returning {path, isActive, conversationCount,
// totalSize, detectedAt} for each.
func (l *Locator) DetectStorageLocations() []Location {
	now := time.Now()
	var out []Location
	for _, root := range l.candidates {
		tasksDir := filepath.Join(root, tasksSubdir)
		entry, err := l.io.Stat(tasksDir)
		if err != nil || !entry.IsDir {
			L_debug("storage candidate has no tasks directory", "root", root)
			continue
		}
		count, size := l.statTasksDir(tasksDir)
		out = append(out, Location{
			Path:              root,
			IsActive:          true,
			ConversationCount: count,
			TotalSize:         size,
			DetectedAt:        now,
		})
	}
	return out
}

func (l *Locator) statTasksDir(tasksDir string) (count int, size int64) {
	entries, err := l.io.ReadDir(tasksDir)
	if err != nil {
		L_warn("failed to read tasks directory", "dir", tasksDir, "err", err)
		return 0, 0
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		count++
		size += l.dirSize(filepath.Join(tasksDir, e.Name))
	}
	return count, size
}

func (l *Locator) dirSize(dir string) int64 {
	var total int64
	entries, err := l.io.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if e.IsDir {
			total += l.dirSize(filepath.Join(dir, e.Name))
			continue
		}
		total += e.Size
	}
	return total
}

// GetStorageStats returns the aggregate across all confirmed roots, cached
// for a short TTL so repeated tool calls under load don't re-stat every task
// directory on every invocation.
func (l *Locator) GetStorageStats() Aggregate {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cachedStat != nil && time.Since(l.cachedAt) < l.statsTTL {
		return *l.cachedStat
	}

	locs := l.DetectStorageLocations()
	agg := Aggregate{Locations: locs, ComputedAt: time.Now()}
	for _, loc := range locs {
		agg.TotalConversations += loc.ConversationCount
		agg.TotalSize += loc.TotalSize
	}
	l.cachedStat = &agg
	l.cachedAt = agg.ComputedAt
	return agg
}

// TaskDirs returns the absolute path of every task directory across every
// confirmed root, used by the parser/cache to enumerate work.
func (l *Locator) TaskDirs() []string {
	var out []string
	for _, root := range l.candidates {
		tasksDir := filepath.Join(root, tasksSubdir)
		entries, err := l.io.ReadDir(tasksDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir {
				out = append(out, filepath.Join(tasksDir, e.Name))
			}
		}
	}
	return out
}
