package monitor

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/JdeRobot/dl-objecttracker/internal/resultlog"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// Pipeline is the part of *pipeline.Pipeline the monitor drives.
type Pipeline interface {
	Output() *types.FrameResult
	Enabled() bool
	Toggle() bool
	SetInput(img image.Image, frameIndex int)
	RunFrame(ctx context.Context, img image.Image, frameIndex int) (*types.FrameResult, error)
	LoggerStatus() bool
	SetLoggerStatus(enabled bool)
	FinalizeLog() (resultlog.Status, error)
}

// Scheduler is the part of *scheduler.Scheduler the monitor reads.
type Scheduler interface {
	State() types.CycleState
	RunOnceWith(ctx context.Context, fn func(context.Context) error) (bool, error)
}

// Monitor keeps the latest published result and a short history of results
// that contained detections.
type Monitor struct {
	pipeline    Pipeline
	scheduler   Scheduler
	targetFPS   float64
	historySize int

	mu               sync.Mutex
	lastOutput       *types.FrameResult
	framesSeen       int
	detectionVersion int
	detectionHistory []DetectionResult
	latestDetection  *DetectionResult
}

// NewMonitor creates a Monitor over p and s.
func NewMonitor(p Pipeline, s Scheduler, targetFPS float64, historySize int) *Monitor {
	return &Monitor{
		pipeline:    p,
		scheduler:   s,
		targetFPS:   targetFPS,
		historySize: historySize,
	}
}

// Refresh pulls the pipeline output and records it if it is new. It returns
// the new result, or nil when nothing changed.
func (m *Monitor) Refresh() *DetectionResult {
	out := m.pipeline.Output()

	m.mu.Lock()
	defer m.mu.Unlock()

	if out == m.lastOutput || out.IsEmpty {
		m.lastOutput = out
		return nil
	}
	m.lastOutput = out
	m.framesSeen++

	m.detectionVersion++
	result := DetectionResult{
		FrameNumber:   out.FrameIndex,
		Timestamp:     float64(time.Now().UnixMilli()) / 1000,
		NumDetections: len(out.Detections),
		Version:       m.detectionVersion,
		Detections:    convertDetections(out.Detections),
	}
	m.latestDetection = &result
	if result.NumDetections > 0 {
		m.detectionHistory = append([]DetectionResult{result}, m.detectionHistory...)
		if len(m.detectionHistory) > m.historySize {
			m.detectionHistory = m.detectionHistory[:m.historySize]
		}
	}
	return &result
}

// Snapshot returns the current stats, latest result and history.
func (m *Monitor) Snapshot() (MonitorStats, types.CycleState, *DetectionResult, []DetectionResult) {
	m.Refresh()
	state := m.scheduler.State()

	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		FramesProcessed: m.framesSeen,
		CurrentFPS:      state.ObservedFPS,
		TargetFPS:       m.targetFPS,
		Cycles:          state.Cycles,
		Enabled:         m.pipeline.Enabled(),
		LoggerEnabled:   m.pipeline.LoggerStatus(),
	}
	if m.latestDetection != nil {
		stats.DetectionCount = m.latestDetection.NumDetections
	}

	historyCopy := make([]DetectionResult, len(m.detectionHistory))
	copy(historyCopy, m.detectionHistory)

	return stats, state, m.latestDetection, historyCopy
}

// Latest returns the most recent non-placeholder result, if any.
func (m *Monitor) Latest() *DetectionResult {
	m.Refresh()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestDetection
}
