// Package resultlog accumulates per-detection records and throughput samples
// and persists them once, at the end of a run.
package resultlog

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/metrics"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// Status is the outcome of Finalize.
type Status int

const (
	StatusWritten Status = iota
	// StatusEmpty means there were no throughput samples; nothing was written.
	StatusEmpty
	// StatusDisabled means logging is switched off; nothing was written.
	StatusDisabled
	// StatusAlreadyFinalized means an earlier call already closed the log.
	StatusAlreadyFinalized
	// StatusFailed means the sink returned an error. The log is still closed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusWritten:
		return "written"
	case StatusEmpty:
		return "empty"
	case StatusDisabled:
		return "disabled"
	case StatusAlreadyFinalized:
		return "already_finalized"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Sink persists a finished log.
type Sink interface {
	Write(records []types.LogRecord, meanFPS float64) error
}

// Logger is safe for concurrent use. Record is called from the pipeline
// goroutine, Finalize from whichever caller ends the run.
type Logger struct {
	sink    Sink
	log     *logger.Module
	metrics *metrics.Metrics

	mu      sync.Mutex
	enabled bool
	done    bool
	records []types.LogRecord
	samples []float64
}

// Option configures a Logger.
type Option func(*Logger)

// WithEnabled sets the initial logging status (default true).
func WithEnabled(enabled bool) Option {
	return func(l *Logger) { l.enabled = enabled }
}

func WithLogger(m *logger.Module) Option {
	return func(l *Logger) { l.log = m }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// New creates a logger writing through sink. A nil sink disables logging.
func New(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		sink:    sink,
		enabled: sink != nil,
		log:     logger.For("ResultLog"),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.sink == nil {
		l.enabled = false
	}
	return l
}

// SetEnabled switches logging on or off at runtime. It cannot enable a
// logger without a sink.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled && l.sink != nil
}

func (l *Logger) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Done reports whether the log has been finalized.
func (l *Logger) Done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Len returns the number of records and samples collected so far.
func (l *Logger) Len() (records, samples int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records), len(l.samples)
}

// Record appends one record per detection plus one throughput sample.
// Boxes are multiplied by scale; zero scale components count as 1.
// Calls while disabled or after Finalize are ignored.
func (l *Logger) Record(frameIndex int, dets []types.Detection, sample float64, scale types.Scale) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || l.done {
		return
	}

	sx, sy := scale.X, scale.Y
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}

	for _, d := range dets {
		l.records = append(l.records, types.LogRecord{
			FrameIndex:  frameIndex,
			Label:       strings.ReplaceAll(d.Label, " ", ""),
			Score:       d.Score,
			TopLeft:     types.Point{X: scaled(d.Box.XMin, sx), Y: scaled(d.Box.YMin, sy)},
			BottomRight: types.Point{X: scaled(d.Box.XMax, sx), Y: scaled(d.Box.YMax, sy)},
		})
	}
	l.samples = append(l.samples, sample)

	if l.metrics != nil {
		l.metrics.LogRecords.Add(uint64(len(dets)))
	}
}

func scaled(v int, s float64) int {
	return int(math.Round(float64(v) * s))
}

// Finalize persists the log the first time it is called with data.
func (l *Logger) Finalize() (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return StatusAlreadyFinalized, nil
	}
	if !l.enabled {
		return StatusDisabled, nil
	}
	if len(l.samples) == 0 {
		return StatusEmpty, nil
	}

	mean := roundTo(stat.Mean(l.samples, nil), 3)
	l.done = true

	if err := l.sink.Write(l.records, mean); err != nil {
		l.log.Error("Failed to write result log: %v", err)
		if l.metrics != nil {
			l.metrics.LogWriteErrors.Add(1)
		}
		return StatusFailed, fmt.Errorf("write result log: %w", err)
	}

	l.log.Info("Result log written: %d records, mean %.3f fps", len(l.records), mean)
	return StatusWritten, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
