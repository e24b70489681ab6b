// Package watcher pushes storage-root change notifications into the
// background scheduler so a freshly written task directory is picked up
// well before the next fixed-interval tick, without polling mtimes on
// every tool call.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/convstate/core/internal/logging"
)

const tasksSubdir = "tasks"

// debounceWindow coalesces a burst of writes into a single trigger, mirroring
// the teacher's session-file watcher debounce behavior but applied to a
// whole directory tree instead of one growing file.
const debounceWindow = 500 * time.Millisecond

// TriggerFunc is called (at most once per debounceWindow) when a watched
// root changes.
type TriggerFunc func()

// Watcher wraps an fsnotify.Watcher over one tasks/ directory per confirmed
// storage root.
type Watcher struct {
	fsw     *fsnotify.Watcher
	trigger TriggerFunc

	mu       sync.Mutex
	debounce *time.Timer
	stopCh   chan struct{}
	running  bool
}

// New constructs a Watcher that calls trigger on observed filesystem churn
// under any of roots' tasks/ sub-directories. roots that don't exist yet are
// skipped with a debug log rather than failing construction: a storage
// location can be confirmed later by the locator once the host creates it.
func New(roots []string, trigger TriggerFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{fsw: fsw, trigger: trigger, stopCh: make(chan struct{})}

	for _, root := range roots {
		dir := filepath.Join(root, tasksSubdir)
		if err := fsw.Add(dir); err != nil {
			L_debug("watcher: skipping unwatchable storage root", "dir", dir, "err", err)
			continue
		}
		L_info("watcher: watching storage root", "dir", dir)
	}

	return w, nil
}

// Start runs the event loop in a new goroutine until ctx is canceled or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop closes the underlying fsnotify watcher and ends the event loop.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.scheduleTrigger(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			L_warn("watcher: fsnotify error", "err", err)
		}
	}
}

// scheduleTrigger debounces a burst of events (a task directory being
// written is many small file writes) into a single call to trigger.
func (w *Watcher) scheduleTrigger(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceWindow, w.trigger)
}
