// Package scheduler drives a pipeline at a fixed cycle period.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/metrics"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// DefaultPeriod is the target cycle time.
const DefaultPeriod = 150 * time.Millisecond

// Runner is the part of the pipeline the scheduler needs.
type Runner interface {
	Enabled() bool
	RunOnce(ctx context.Context) error
}

// Clock provides time and sleeping. github.com/benbjohnson/clock satisfies it.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Scheduler runs one work step per period on a single goroutine.
type Scheduler struct {
	runner  Runner
	period  time.Duration
	clock   Clock
	metrics *metrics.Metrics
	onError func(error)
	log     *logger.Module

	// serialises work between Run and the single-shot RunOnce
	workMu sync.Mutex

	enabled   atomic.Bool
	lastCycle atomic.Int64
	fpsBits   atomic.Uint64
	cycles    atomic.Uint64

	lastErr string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPeriod sets the cycle period. Non-positive values are ignored.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.period = d
		}
	}
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithErrorHandler is called with every error or recovered panic from a
// work step, after it has been logged.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) { s.onError = fn }
}

func WithLogger(m *logger.Module) Option {
	return func(s *Scheduler) { s.log = m }
}

// New creates a scheduler for runner.
func New(runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		period: DefaultPeriod,
		clock:  clock.New(),
		log:    logger.For("Scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Period returns the configured cycle period.
func (s *Scheduler) Period() time.Duration { return s.period }

// Run loops until ctx is cancelled. Cancellation takes effect after the
// iteration in progress, including its sleep.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("Started (period %v)", s.period)
	defer s.log.Info("Stopped after %d cycles", s.cycles.Load())

	for ctx.Err() == nil {
		s.Step(ctx)
	}
}

// Step runs a single iteration: work if enabled, bookkeeping, then sleep for
// the rest of the period. It returns the measured work time.
func (s *Scheduler) Step(ctx context.Context) time.Duration {
	start := s.clock.Now()
	enabled := s.runner.Enabled()
	if enabled {
		s.work(ctx, s.runner.RunOnce)
	}
	dt := s.clock.Now().Sub(start)

	var fps float64
	if enabled {
		effective := dt
		if effective < s.period {
			effective = s.period
		}
		fps = float64(time.Second) / float64(effective)
	}

	s.enabled.Store(enabled)
	s.lastCycle.Store(int64(dt))
	s.fpsBits.Store(math.Float64bits(fps))
	s.cycles.Add(1)

	if s.metrics != nil {
		s.metrics.UpdateCycle(dt, fps)
		if !enabled {
			s.metrics.SkippedCycles.Add(1)
		} else if dt >= s.period {
			s.metrics.OverrunCycles.Add(1)
		}
	}

	if dt < s.period {
		s.clock.Sleep(s.period - dt)
	}
	return dt
}

// RunOnce performs one pass without timing, only while the pipeline is
// disabled. It reports whether the pass ran.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	if s.runner.Enabled() {
		return false, nil
	}
	return true, s.work(ctx, s.runner.RunOnce)
}

// RunOnceWith is RunOnce with fn as the work step, serialised with the loop
// and reported the same way.
func (s *Scheduler) RunOnceWith(ctx context.Context, fn func(context.Context) error) (bool, error) {
	if s.runner.Enabled() {
		return false, nil
	}
	return true, s.work(ctx, fn)
}

// State returns the latest cycle bookkeeping without blocking on the loop.
func (s *Scheduler) State() types.CycleState {
	return types.CycleState{
		Enabled:           s.enabled.Load(),
		LastCycleDuration: time.Duration(s.lastCycle.Load()),
		ObservedFPS:       math.Float64frombits(s.fpsBits.Load()),
		Cycles:            s.cycles.Load(),
	}
}

func (s *Scheduler) work(ctx context.Context, fn func(context.Context) error) (err error) {
	s.workMu.Lock()
	defer s.workMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in work step: %v", r)
			s.log.Debug("%s", debug.Stack())
		}
		if err != nil {
			s.report(err)
		}
	}()
	return fn(ctx)
}

// report logs repeated identical errors at debug level only.
func (s *Scheduler) report(err error) {
	msg := err.Error()
	if msg != s.lastErr {
		s.log.Error("Cycle failed: %v", err)
		s.lastErr = msg
	} else {
		s.log.Debug("Cycle failed again: %v", err)
	}
	if s.metrics != nil {
		s.metrics.InferenceErrors.Add(1)
	}
	if s.onError != nil {
		s.onError(err)
	}
}
