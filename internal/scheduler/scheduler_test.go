package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdeRobot/dl-objecttracker/internal/metrics"
)

// fakeClock advances only when work or Sleep says so.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

type fakeRunner struct {
	clock   *fakeClock
	enabled atomic.Bool
	work    time.Duration
	err     error
	panicV  any
	runs    atomic.Int32
}

func newRunner(c *fakeClock, work time.Duration) *fakeRunner {
	r := &fakeRunner{clock: c, work: work}
	r.enabled.Store(true)
	return r
}

func (r *fakeRunner) Enabled() bool { return r.enabled.Load() }

func (r *fakeRunner) RunOnce(ctx context.Context) error {
	r.runs.Add(1)
	r.clock.advance(r.work)
	if r.panicV != nil {
		panic(r.panicV)
	}
	return r.err
}

func TestShortWorkSleepsRemainder(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 40*time.Millisecond)
	s := New(r, WithClock(c))

	start := c.Now()
	dt := s.Step(context.Background())

	assert.Equal(t, 40*time.Millisecond, dt)
	assert.Equal(t, []time.Duration{110 * time.Millisecond}, c.sleeps())
	assert.Equal(t, DefaultPeriod, c.Now().Sub(start))

	st := s.State()
	assert.True(t, st.Enabled)
	assert.InDelta(t, 1000.0/150, st.ObservedFPS, 1e-9)
	assert.Equal(t, 40*time.Millisecond, st.LastCycleDuration)
	assert.Equal(t, uint64(1), st.Cycles)
}

func TestLongWorkDoesNotSleep(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 250*time.Millisecond)
	m := metrics.New()
	s := New(r, WithClock(c), WithMetrics(m))

	s.Step(context.Background())

	assert.Empty(t, c.sleeps())
	assert.InDelta(t, 4.0, s.State().ObservedFPS, 1e-9)
	assert.Equal(t, uint64(1), m.OverrunCycles.Load())
	assert.InDelta(t, 4.0, m.ObservedFPS(), 1e-9)
}

func TestWorkEqualToPeriod(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, DefaultPeriod)
	s := New(r, WithClock(c))
	s.Step(context.Background())
	assert.Empty(t, c.sleeps())
	assert.InDelta(t, 1000.0/150, s.State().ObservedFPS, 1e-9)
}

func TestDisabledReportsZeroFPS(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 40*time.Millisecond)
	r.enabled.Store(false)
	m := metrics.New()
	s := New(r, WithClock(c), WithMetrics(m))

	s.Step(context.Background())

	assert.Zero(t, r.runs.Load())
	assert.Equal(t, 0.0, s.State().ObservedFPS)
	assert.False(t, s.State().Enabled)
	assert.Equal(t, []time.Duration{DefaultPeriod}, c.sleeps())
	assert.Equal(t, uint64(1), m.SkippedCycles.Load())
}

func TestCustomPeriod(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 10*time.Millisecond)
	s := New(r, WithClock(c), WithPeriod(50*time.Millisecond), WithPeriod(-1))
	assert.Equal(t, 50*time.Millisecond, s.Period())

	s.Step(context.Background())
	assert.Equal(t, []time.Duration{40 * time.Millisecond}, c.sleeps())
	assert.InDelta(t, 20.0, s.State().ObservedFPS, 1e-9)
}

func TestErrorDoesNotStopLoop(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 30*time.Millisecond)
	r.err = errors.New("backend down")
	m := metrics.New()

	var seen []error
	s := New(r, WithClock(c), WithMetrics(m), WithErrorHandler(func(err error) {
		seen = append(seen, err)
	}))

	for i := 0; i < 3; i++ {
		s.Step(context.Background())
	}

	assert.Equal(t, int32(3), r.runs.Load())
	assert.Len(t, seen, 3)
	assert.Equal(t, uint64(3), m.InferenceErrors.Load())
	// Elapsed time up to the failure still counts towards the period.
	assert.Equal(t, []time.Duration{120 * time.Millisecond, 120 * time.Millisecond, 120 * time.Millisecond}, c.sleeps())
}

func TestPanicIsRecovered(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 20*time.Millisecond)
	r.panicV = "index out of range"

	var seen error
	s := New(r, WithClock(c), WithErrorHandler(func(err error) { seen = err }))

	assert.NotPanics(t, func() { s.Step(context.Background()) })
	require.Error(t, seen)
	assert.Contains(t, seen.Error(), "index out of range")
	assert.Equal(t, uint64(1), s.State().Cycles)
	assert.Equal(t, []time.Duration{130 * time.Millisecond}, c.sleeps())
}

func TestRunOnceOnlyWhenDisabled(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 500*time.Millisecond)
	s := New(r, WithClock(c))

	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, r.runs.Load())

	r.enabled.Store(false)
	ran, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), r.runs.Load())

	// No sleeping and no cycle bookkeeping.
	assert.Empty(t, c.sleeps())
	assert.Zero(t, s.State().Cycles)
}

func TestRunOnceReturnsError(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 0)
	r.enabled.Store(false)
	r.err = errors.New("bad frame")
	s := New(r, WithClock(c))

	ran, err := s.RunOnce(context.Background())
	assert.True(t, ran)
	assert.EqualError(t, err, "bad frame")
}

func TestRunOnceWithUsesGivenStep(t *testing.T) {
	c := newFakeClock()
	r := newRunner(c, 0)
	var reported []error
	s := New(r, WithClock(c), WithErrorHandler(func(err error) { reported = append(reported, err) }))

	calls := 0
	step := func(context.Context) error {
		calls++
		return errors.New("upload failed")
	}

	ran, err := s.RunOnceWith(context.Background(), step)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, calls)

	r.enabled.Store(false)
	ran, err = s.RunOnceWith(context.Background(), step)
	assert.True(t, ran)
	assert.EqualError(t, err, "upload failed")
	assert.Equal(t, 1, calls)
	assert.Zero(t, r.runs.Load())
	require.Len(t, reported, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &cancelAfter{fakeRunner: newRunner(c, 10*time.Millisecond), n: 5, cancel: cancel}
	s := New(r, WithClock(c))

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, uint64(5), s.State().Cycles)
	assert.Equal(t, int32(5), r.runs.Load())
}

type cancelAfter struct {
	*fakeRunner
	n      int32
	cancel func()
}

func (c *cancelAfter) RunOnce(ctx context.Context) error {
	if c.fakeRunner.runs.Load()+1 >= c.n {
		c.cancel()
	}
	return c.fakeRunner.RunOnce(ctx)
}

func TestRealClockPacesLoop(t *testing.T) {
	if testing.Short() {
		t.Skip("uses wall clock")
	}
	c := clock.New()
	r := &wallRunner{}
	s := New(r, WithClock(c), WithPeriod(20*time.Millisecond))

	start := time.Now()
	for i := 0; i < 3; i++ {
		s.Step(context.Background())
	}
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

type wallRunner struct{}

func (wallRunner) Enabled() bool                 { return true }
func (wallRunner) RunOnce(context.Context) error { return nil }
