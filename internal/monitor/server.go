package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"

	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/metrics"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// uploadIndexBase keeps frame indices of uploaded images apart from source
// frame indices.
const uploadIndexBase = 1 << 30

// Server serves the monitor endpoints.
type Server struct {
	cfg                  Config
	pipeline             Pipeline
	scheduler            Scheduler
	metrics              *metrics.Metrics
	monitor              *Monitor
	broadcaster          *FrameBroadcaster
	detectionBroadcaster *DetectionBroadcaster
	uploads              atomic.Int64
}

// NewServer returns a configured monitor server and starts its broadcasters.
// m may be nil, in which case /metrics is not served.
func NewServer(cfg Config, p Pipeline, s Scheduler, m *metrics.Metrics) *Server {
	def := DefaultConfig()
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = def.TargetFPS
	}
	if cfg.MJPEGInterval <= 0 {
		cfg.MJPEGInterval = def.MJPEGInterval
	}
	if cfg.EventInterval <= 0 {
		cfg.EventInterval = def.EventInterval
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}

	monitor := NewMonitor(p, s, cfg.TargetFPS, cfg.HistorySize)

	broadcaster := NewFrameBroadcaster(p, cfg.MJPEGInterval, cfg.JPEGQuality)
	broadcaster.Start()

	detectionBroadcaster := NewDetectionBroadcaster(monitor, cfg.EventInterval)
	detectionBroadcaster.Start()

	return &Server{
		cfg:                  cfg,
		pipeline:             p,
		scheduler:            s,
		metrics:              m,
		monitor:              monitor,
		broadcaster:          broadcaster,
		detectionBroadcaster: detectionBroadcaster,
	}
}

// Close stops the broadcasters.
func (s *Server) Close() {
	s.broadcaster.Stop()
	s.detectionBroadcaster.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/detections", s.handleDetections).Methods(http.MethodGet)
	r.HandleFunc("/api/detections/stream", s.handleDetectionsStream).Methods(http.MethodGet)
	r.HandleFunc("/api/toggle", s.handleToggle).Methods(http.MethodPost)
	r.HandleFunc("/api/detect", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/api/log/status", s.handleLogStatus).Methods(http.MethodPost)
	r.HandleFunc("/api/log/finalize", s.handleLogFinalize).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.cfg.JPEGQuality)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, cycle, latest, history := s.monitor.Snapshot()
	payload := map[string]any{
		"monitor":           stats,
		"cycle":             cycle,
		"latest_detection":  latest,
		"detection_history": history,
		"timestamp":         float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	latest := s.monitor.Latest()
	if latest == nil {
		latest = &DetectionResult{Detections: []Detection{}}
	}

	if wantsProtobuf(r) {
		data, err := marshalDetectionProto(latest)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/protobuf")
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, detectionEvent(latest))
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.detectionBroadcaster.Subscribe()
	defer s.detectionBroadcaster.Unsubscribe(id)
	streamDetectionEventsFromChannel(w, r, eventCh, wantsProtobuf(r))
}

func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	enabled := s.pipeline.Toggle()
	writeJSON(w, map[string]any{"enabled": enabled})
}

// handleDetect accepts an image as a multipart "image" field or as the raw
// request body. The image becomes the pipeline input. While continuous
// detection is off it is also processed at once and its own result
// returned; otherwise the next cycle picks it up unless a newer frame
// replaces it first.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	img, err := readUpload(r)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	index := uploadIndexBase + int(s.uploads.Add(1))
	s.pipeline.SetInput(img, index)

	var out *types.FrameResult
	ran, err := s.scheduler.RunOnceWith(r.Context(), func(ctx context.Context) error {
		var runErr error
		out, runErr = s.pipeline.RunFrame(ctx, img, index)
		return runErr
	})
	if err != nil {
		logger.Warn("Monitor", "Single-shot detection failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error(), "frame_number": index}, http.StatusUnprocessableEntity)
		return
	}
	if !ran {
		writeJSONWithStatus(w, map[string]any{"queued": true, "frame_number": index}, http.StatusAccepted)
		return
	}

	writeJSON(w, map[string]any{
		"frame_number": out.FrameIndex,
		"detections":   convertDetections(out.Detections),
	})
}

func readUpload(r *http.Request) (image.Image, error) {
	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("missing image field: %w", err)
		}
		defer file.Close()
		src = file
	}

	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func (s *Server) handleLogStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSONWithStatus(w, map[string]any{"error": `expected {"enabled": true|false}`}, http.StatusBadRequest)
		return
	}
	s.pipeline.SetLoggerStatus(*req.Enabled)
	writeJSON(w, map[string]any{"enabled": s.pipeline.LoggerStatus()})
}

func (s *Server) handleLogFinalize(w http.ResponseWriter, r *http.Request) {
	status, err := s.pipeline.FinalizeLog()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"status": status.String(), "error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": status.String()})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
