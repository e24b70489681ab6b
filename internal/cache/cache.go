// Package cache implements the Skeleton Cache: a persisted, in-memory
// taskId -> ConversationSkeleton map with differential refresh.
package cache

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/convstate/core/internal/locator"
	"github.com/convstate/core/internal/parser"
	"github.com/convstate/core/internal/skeleton"
	"github.com/convstate/core/internal/storageio"

	. "github.com/convstate/core/internal/logging"
)

// recencyWindow bounds how far back a stale mtime is auto-recovered; older
// drift is left alone to avoid an expensive cold scan on every call.
const recencyWindow = 5 * time.Minute

// RebuildStats summarizes one rebuild() call.
type RebuildStats struct {
	Scanned    int           `json:"scanned"`
	Parsed     int           `json:"parsed"`
	Skipped    int           `json:"skipped"`
	Removed    int           `json:"removed"`
	Duration   time.Duration `json:"durationMs"`
	Differential bool        `json:"differential"`
}

// RebuildOpts controls one rebuild.
type RebuildOpts struct {
	Force     bool
	Workspace string
}

// Cache is the sole owner of every skeleton in memory. Other components
// receive references and may mutate only fields explicitly delegated to
// them (the Hierarchy Engine mutates parent fields; the Vector Indexer
// mutates its own sidecar, never the skeleton itself).
type Cache struct {
	io           storageio.StorageIO
	locator      *locator.Locator
	parser       *parser.Parser
	manifestPath string

	mu        sync.RWMutex
	skeletons map[string]*skeleton.Skeleton

	rebuildMu sync.Mutex // serializes concurrent rebuild requests to at most one in flight
}

// New constructs an empty Cache. Call LoadManifest to lazily hydrate from
// disk before first use.
func New(io storageio.StorageIO, loc *locator.Locator, p *parser.Parser, manifestPath string) *Cache {
	return &Cache{
		io:           io,
		locator:      loc,
		parser:       p,
		manifestPath: manifestPath,
		skeletons:    make(map[string]*skeleton.Skeleton),
	}
}

// LoadManifest lazily loads the persisted manifest. A missing or corrupt
// manifest is not an error: the cache simply starts empty and the next
// ensureFresh performs a full rebuild.
func (c *Cache) LoadManifest() {
	raw, err := c.io.ReadFile(c.manifestPath)
	if err != nil {
		L_debug("no cache manifest to load", "path", c.manifestPath)
		return
	}
	skeletons, ok := decodeManifest(raw)
	if !ok {
		L_warn("cache manifest unreadable or schema mismatch, starting empty", "path", c.manifestPath)
		return
	}
	c.mu.Lock()
	c.skeletons = skeletons
	c.mu.Unlock()
	L_info("loaded cache manifest", "count", len(skeletons))
}

// SaveManifest persists the current in-memory cache.
func (c *Cache) SaveManifest() error {
	c.mu.RLock()
	raw, err := encodeManifest(c.skeletons)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return c.io.WriteFile(c.manifestPath, raw)
}

// GetAll returns every skeleton currently cached.
func (c *Cache) GetAll() []*skeleton.Skeleton {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*skeleton.Skeleton, 0, len(c.skeletons))
	for _, sk := range c.skeletons {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// GetByID returns the skeleton for taskID, or (nil, false) if unknown.
func (c *Cache) GetByID(taskID string) (*skeleton.Skeleton, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sk, ok := c.skeletons[taskID]
	return sk, ok
}

// Put inserts or replaces a skeleton. Duplicate taskId across storage roots
// is a merge: the skeleton with the later lastActivity wins.
func (c *Cache) Put(sk *skeleton.Skeleton) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.skeletons[sk.TaskID]; ok && existing.LastActivity.After(sk.LastActivity) {
		L_warn("duplicate taskId across storage roots, keeping most recent", "taskId", sk.TaskID)
		return
	}
	c.skeletons[sk.TaskID] = sk
}

// MutateParentFields lets the Hierarchy Engine update only the parent
// fields of an existing skeleton, enforcing the ownership rule in §3 of the
// data model without exposing the whole map for write.
func (c *Cache) MutateParentFields(taskID string, fn func(sk *skeleton.Skeleton)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	sk, ok := c.skeletons[taskID]
	if !ok {
		return false
	}
	fn(sk)
	return true
}

// Len reports how many skeletons are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.skeletons)
}

// mostRecentLastActivity returns the latest lastActivity across the cache,
// or the zero time if empty.
func (c *Cache) mostRecentLastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var latest time.Time
	for _, sk := range c.skeletons {
		if sk.LastActivity.After(latest) {
			latest = sk.LastActivity
		}
	}
	return latest
}

// Rebuild enumerates every task directory across every confirmed storage
// root, parses changed directories, and merges results into the cache. When
// opts.Force is false, only directories whose mtime changed since the
// cache's recorded DirMTime are reparsed (differential rebuild).
func (c *Cache) Rebuild(opts RebuildOpts) RebuildStats {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	start := time.Now()
	stats := RebuildStats{Differential: !opts.Force}

	dirs := c.locator.TaskDirs()
	seen := make(map[string]bool, len(dirs))

	for _, dir := range dirs {
		stats.Scanned++
		taskID := taskIDFromDir(dir)
		seen[taskID] = true

		if opts.Workspace != "" {
			if existing, ok := c.GetByID(taskID); ok && existing.Workspace != "" && existing.Workspace != opts.Workspace {
				stats.Skipped++
				continue
			}
		}

		if !opts.Force {
			entry, err := c.io.Stat(dir)
			if err == nil {
				if existing, ok := c.GetByID(taskID); ok && !entry.ModTime.After(existing.DirMTime) {
					stats.Skipped++
					continue
				}
			}
		}

		sk, err := c.parser.ParseTaskDirectory(dir)
		if err != nil {
			L_warn("task directory vanished during rebuild", "dir", dir, "err", err)
			continue
		}
		c.Put(sk)
		stats.Parsed++
	}

	if opts.Force {
		c.mu.Lock()
		for taskID := range c.skeletons {
			if !seen[taskID] {
				delete(c.skeletons, taskID)
				stats.Removed++
			}
		}
		c.mu.Unlock()
	}

	stats.Duration = time.Since(start)
	return stats
}

// EnsureFresh returns immediately (a cache hit) unless the cache is empty or
// at least one task directory has an mtime newer than the most recent
// lastActivity in the cache, within the recency window. Returns true if a
// rebuild ran.
func (c *Cache) EnsureFresh(opts RebuildOpts) bool {
	if c.Len() == 0 {
		c.Rebuild(opts)
		return true
	}

	latest := c.mostRecentLastActivity()
	if c.hasNewerDirectory(latest) {
		c.Rebuild(opts)
		return true
	}
	return false
}

func (c *Cache) hasNewerDirectory(latest time.Time) bool {
	now := time.Now()
	for _, dir := range c.locator.TaskDirs() {
		entry, err := c.io.Stat(dir)
		if err != nil {
			continue
		}
		if entry.ModTime.After(latest) && now.Sub(entry.ModTime) <= recencyWindow {
			return true
		}
	}
	return false
}

func taskIDFromDir(dir string) string {
	return filepath.Base(dir)
}
