// Package scheduler implements the Background Scheduler: a single
// recurring task driving cache freshness, hierarchy resolution, and
// indexing, with non-overlapping ticks and pause/resume/trigger control.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/convstate/core/internal/logging"
)

// TickFunc is the work one scheduler tick performs. It is given a context
// bound to that tick's lifetime.
type TickFunc func(ctx context.Context)

// Scheduler runs tick on a fixed interval, never overlapping: a tick that
// runs long simply delays the next one. Grounded on the same runLoop shape
// as a cron-style background worker, trimmed to a single fixed period
// rather than multi-job cron-expression scheduling.
type Scheduler struct {
	interval time.Duration
	tick     TickFunc

	paused int32 // atomic bool

	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	mu      sync.Mutex
	running bool
}

// New constructs a Scheduler that calls tick every interval once started.
func New(interval time.Duration, tick TickFunc) *Scheduler {
	return &Scheduler{
		interval:  interval,
		tick:      tick,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the run loop in a new goroutine. Calls after the first are
// no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.runLoop(ctx)
}

// Stop signals the run loop to exit and blocks until it has.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Pause suspends ticking; an in-flight tick still completes.
func (s *Scheduler) Pause() {
	atomic.StoreInt32(&s.paused, 1)
	L_info("scheduler paused")
}

// Resume resumes ticking.
func (s *Scheduler) Resume() {
	atomic.StoreInt32(&s.paused, 0)
	L_info("scheduler resumed")
}

// IsPaused reports whether the scheduler is currently paused.
func (s *Scheduler) IsPaused() bool {
	return atomic.LoadInt32(&s.paused) == 1
}

// Trigger requests an out-of-band tick as soon as the current one (if any)
// finishes. Coalesces: multiple triggers before the next tick runs still
// produce only one extra tick.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.triggerCh:
			s.runTick(ctx)
			resetTimer(timer, s.interval)
		case <-timer.C:
			s.runTick(ctx)
			resetTimer(timer, s.interval)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if s.IsPaused() {
		L_debug("scheduler tick skipped, paused")
		return
	}
	start := time.Now()
	s.tick(ctx)
	L_debug("scheduler tick complete", "elapsed", time.Since(start).String())
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
