package vectorindex

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convstate/core/internal/coreerr"
)

func TestBreaker_FailsFastWhileOpen(t *testing.T) {
	t.Run("Should open after failThreshold consecutive failures and fail fast without calling fn", func(t *testing.T) {
		b := newBreaker("test", 2, 20*time.Millisecond, 80*time.Millisecond)
		boom := errors.New("boom")

		for i := 0; i < 2; i++ {
			_, err := executeWithBreaker(b, func() (int, error) { return 0, boom })
			assert.ErrorIs(t, err, boom)
		}

		calls := 0
		_, err := executeWithBreaker(b, func() (int, error) {
			calls++
			return 0, nil
		})
		require.Error(t, err)
		assert.Equal(t, 0, calls, "fn must not run while the breaker is open")

		ce, ok := coreerr.AsCoded(err)
		require.True(t, ok)
		assert.Equal(t, string(coreerr.CodeCircuitOpen), ce.Code())
	})

	t.Run("Should allow a probe through after the open timeout elapses", func(t *testing.T) {
		b := newBreaker("test", 1, 20*time.Millisecond, 80*time.Millisecond)
		boom := errors.New("boom")

		_, err := executeWithBreaker(b, func() (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)

		_, err = executeWithBreaker(b, func() (int, error) { return 0, nil })
		require.Error(t, err, "still within the open timeout, must fail fast")

		time.Sleep(30 * time.Millisecond)

		calls := 0
		_, err = executeWithBreaker(b, func() (int, error) {
			calls++
			return 0, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls, "the half-open probe must reach fn once the timeout elapses")
	})
}

func TestBreaker_BackoffDoublesAcrossOpenCycles(t *testing.T) {
	t.Run("Should use a longer open timeout on the second trip than the first", func(t *testing.T) {
		base := 40 * time.Millisecond
		max := 400 * time.Millisecond
		b := newBreaker("test", 1, base, max)
		boom := errors.New("boom")

		// First trip: opens with the base timeout (expires ~40ms from now).
		_, err := executeWithBreaker(b, func() (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)

		// Wait well past the base timeout and let the probe succeed, closing
		// the breaker and installing the next (doubled, ~80ms) timeout.
		time.Sleep(3 * base)
		_, err = executeWithBreaker(b, func() (int, error) { return 0, nil })
		require.NoError(t, err)

		// Second trip: opens again, now with the doubled timeout.
		_, err = executeWithBreaker(b, func() (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)

		// Only a bit more than the *base* timeout has elapsed since this
		// second open began: the doubled timeout installed on recovery
		// should not have expired yet, so this probe must still fail fast.
		time.Sleep(base + base/2)
		calls := 0
		_, err = executeWithBreaker(b, func() (int, error) {
			calls++
			return 0, nil
		})
		require.Error(t, err, "second open period should outlast the base timeout")
		assert.Equal(t, 0, calls)

		// Enough additional time has now passed for the doubled timeout to
		// elapse, so the next probe should be admitted.
		time.Sleep(2 * base)
		_, err = executeWithBreaker(b, func() (int, error) {
			calls++
			return 0, nil
		})
		require.NoError(t, err, "probe should succeed once the doubled timeout has elapsed")
		assert.Equal(t, 1, calls)
	})
}

func TestBackoffForOpenCount(t *testing.T) {
	t.Run("Should return the base timeout on the first open", func(t *testing.T) {
		d := backoffForOpenCount(5*time.Second, 5*time.Minute, 0)
		assert.Equal(t, 5*time.Second, d)
	})

	t.Run("Should double per consecutive open", func(t *testing.T) {
		d := backoffForOpenCount(5*time.Second, 5*time.Minute, 2)
		assert.Equal(t, 20*time.Second, d)
	})

	t.Run("Should cap at the maximum timeout", func(t *testing.T) {
		d := backoffForOpenCount(5*time.Second, 1*time.Minute, 10)
		assert.Equal(t, 1*time.Minute, d)
	})
}
