package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Scheduler
	Cycles         atomic.Uint64
	SkippedCycles  atomic.Uint64 // Cycles where the pipeline was disabled
	OverrunCycles  atomic.Uint64 // Cycles whose work exceeded the period
	LastCycleMs    atomic.Uint64
	observedFPSBit atomic.Uint64 // math.Float64bits of the observed FPS

	// Pipeline
	FramesProcessed   atomic.Uint64
	PlaceholderFrames atomic.Uint64
	InferenceErrors   atomic.Uint64
	DetectionsRaw     atomic.Uint64
	DetectionsKept    atomic.Uint64
	InvalidBoxes      atomic.Uint64
	InferenceMs       atomic.Uint64

	// Result log
	LogRecords     atomic.Uint64
	LogWriteErrors atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, f func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		f,
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("tracker_cycles_total", "Total scheduler cycles", &m.Cycles)
	m.counter("tracker_cycles_skipped_total", "Cycles skipped while the pipeline was disabled", &m.SkippedCycles)
	m.counter("tracker_cycles_overrun_total", "Cycles whose work took longer than the period", &m.OverrunCycles)
	m.counter("tracker_frames_processed_total", "Frames run through inference", &m.FramesProcessed)
	m.counter("tracker_placeholder_frames_total", "Passes that ran without an input image", &m.PlaceholderFrames)
	m.counter("tracker_inference_errors_total", "Cycles that failed in the backend or post-processing", &m.InferenceErrors)
	m.counter("tracker_detections_raw_total", "Raw candidates returned by the backend", &m.DetectionsRaw)
	m.counter("tracker_detections_kept_total", "Detections kept after thresholding", &m.DetectionsKept)
	m.counter("tracker_invalid_boxes_total", "Detections dropped because of inverted boxes", &m.InvalidBoxes)
	m.counter("tracker_log_records_total", "Detection records appended to the result log", &m.LogRecords)
	m.counter("tracker_log_write_errors_total", "Result log persistence failures", &m.LogWriteErrors)

	m.gauge("tracker_last_cycle_ms", "Duration of the last scheduler cycle in milliseconds",
		func() float64 { return float64(m.LastCycleMs.Load()) })
	m.gauge("tracker_inference_ms", "Duration of the last inference pass in milliseconds",
		func() float64 { return float64(m.InferenceMs.Load()) })
	m.gauge("tracker_observed_fps", "Observed scheduler throughput in frames per second",
		m.ObservedFPS)
}

// SetObservedFPS stores the latest throughput estimate.
func (m *Metrics) SetObservedFPS(fps float64) {
	m.observedFPSBit.Store(math.Float64bits(fps))
}

// ObservedFPS returns the latest throughput estimate.
func (m *Metrics) ObservedFPS() float64 {
	return math.Float64frombits(m.observedFPSBit.Load())
}

// UpdateCycle records one finished scheduler cycle.
func (m *Metrics) UpdateCycle(elapsed time.Duration, fps float64) {
	m.Cycles.Add(1)
	m.LastCycleMs.Store(uint64(elapsed.Milliseconds()))
	m.SetObservedFPS(fps)
}

// UpdateInferenceLatency records the duration of one pipeline pass.
func (m *Metrics) UpdateInferenceLatency(d time.Duration) {
	m.InferenceMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
