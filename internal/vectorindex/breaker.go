package vectorindex

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/convstate/core/internal/coreerr"

	. "github.com/convstate/core/internal/logging"
)

const (
	breakerBaseTimeout = 5 * time.Second
	breakerMaxTimeout  = 5 * time.Minute
)

// Breaker wraps gobreaker.CircuitBreaker with a doubling-backoff OPEN
// period: gobreaker's Settings.Timeout is fixed at construction, so it
// cannot grow within the lifetime of one underlying breaker instance.
// Instead, each trip to OPEN just counts (leaving the currently-active,
// genuinely-open breaker alone so it keeps failing fast until its own
// Timeout elapses); the replacement breaker — built with the next, longer
// Timeout per openCount — is only swapped in on the transition back to
// CLOSED, so it is ready to enforce the longer backoff the next time it
// trips. Rebuilding at the moment of opening would replace the open
// breaker with a fresh, closed one and defeat the fail-fast contract for
// every call made during what should still be the open period.
type Breaker struct {
	mu            sync.Mutex
	name          string
	failThreshold uint32
	baseTimeout   time.Duration
	maxTimeout    time.Duration
	openCount     int
	cb            *gobreaker.CircuitBreaker
}

// NewBreaker builds a per-service circuit breaker: CLOSED -> OPEN after
// failThreshold consecutive failures, backoff period doubling up to a cap,
// HALF_OPEN allowing a single probe.
func NewBreaker(name string, failThreshold uint32) *Breaker {
	return newBreaker(name, failThreshold, breakerBaseTimeout, breakerMaxTimeout)
}

// newBreaker is NewBreaker with injectable timeouts, so tests can exercise
// the open/half-open/closed cycle without waiting on real 5-minute backoffs.
func newBreaker(name string, failThreshold uint32, baseTimeout, maxTimeout time.Duration) *Breaker {
	b := &Breaker{name: name, failThreshold: failThreshold, baseTimeout: baseTimeout, maxTimeout: maxTimeout}
	b.cb = b.build(baseTimeout)
	return b
}

func (b *Breaker) build(timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.name,
		MaxRequests: 1, // one probe allowed in HALF_OPEN
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.failThreshold
		},
		OnStateChange: b.onStateChange,
	})
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	L_warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())

	b.mu.Lock()
	defer b.mu.Unlock()

	switch to {
	case gobreaker.StateOpen:
		// Count the trip only; the active breaker is already open with
		// whatever Timeout it was last built with and must stay that way.
		b.openCount++
	case gobreaker.StateClosed:
		// Recovered: prepare the next breaker with a longer Timeout, ready
		// for install now while still closed, in case it trips again.
		b.cb = b.build(backoffForOpenCount(b.baseTimeout, b.maxTimeout, b.openCount))
	}
}

func (b *Breaker) current() *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb
}

// backoffForOpenCount doubles the base timeout once per counted open,
// capped at max. Breaker never resets its count, so trips separated by a
// recovery still accumulate.
func backoffForOpenCount(base, max time.Duration, openCount int) time.Duration {
	d := base
	for i := 0; i < openCount; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// executeWithBreaker runs fn through breaker, translating gobreaker's
// ErrOpenState into the taxonomy's circuit_open error.
func executeWithBreaker[T any](breaker *Breaker, fn func() (T, error)) (T, error) {
	result, err := breaker.current().Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, coreerr.CircuitOpenError("embedding/vector-store circuit open")
		}
		return zero, err
	}
	return result.(T), nil
}
