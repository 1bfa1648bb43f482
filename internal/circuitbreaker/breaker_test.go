package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/paymo/internal/metrics"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(name string, threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(name, threshold, time.Minute)
	b.now = clock.now
	return b, clock
}

var errDown = errors.New("down")

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker("trip", 3)

	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow(), "still closed below threshold")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker("reset", 2)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAdmitsOneProbe(t *testing.T) {
	b, clock := newTestBreaker("probe", 1)
	b.RecordFailure()
	require.False(t, b.Allow())

	clock.advance(time.Minute)
	assert.True(t, b.Allow(), "probe after cooldown")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker("reopen", 1)
	b.RecordFailure()
	clock.advance(time.Minute)
	require.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	clock.advance(59 * time.Second)
	assert.False(t, b.Allow(), "cooldown restarts at the failed probe")
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker("do", 2)

	assert.NoError(t, b.Do(func() error { return nil }))
	assert.ErrorIs(t, b.Do(func() error { return errDown }), errDown)
	assert.ErrorIs(t, b.Do(func() error { return errDown }), errDown)

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_TransitionsAreCounted(t *testing.T) {
	b, _ := newTestBreaker("metrics_probe", 1)
	b.RecordFailure()
	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.CircuitTransitionsTotal.WithLabelValues("metrics_probe", "closed", "open")))
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("defaults", 0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	b := New("concurrent", 1000, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Do(func() error {
				if i%2 == 0 {
					return errDown
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
