package monitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// FrameBroadcaster encodes each new pipeline output as JPEG and fans it out
// to MJPEG clients.
type FrameBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan []byte
	nextID   int
	latest   []byte
	pipeline Pipeline
	interval time.Duration
	quality  int
	stop     chan struct{}
	stopped  bool

	last *types.FrameResult // owned by run
}

// NewFrameBroadcaster creates a broadcaster polling p every interval.
func NewFrameBroadcaster(p Pipeline, interval time.Duration, quality int) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		pipeline: p,
		interval: interval,
		quality:  quality,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client. The latest frame, if any, is queued at once.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	if fb.latest != nil {
		ch <- fb.latest
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Start begins the encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if !fb.stopped {
		close(fb.stop)
		fb.stopped = true
	}
	fb.mu.Unlock()
}

func (fb *FrameBroadcaster) run() {
	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
			fb.tick()
		}
	}
}

func (fb *FrameBroadcaster) tick() {
	fb.mu.Lock()
	clientCount := len(fb.clients)
	fb.mu.Unlock()

	// Nobody is watching, so skip encoding
	if clientCount == 0 {
		return
	}

	out := fb.pipeline.Output()
	if out == fb.last {
		return
	}

	data, err := encodeJPEG(out.Image, fb.quality)
	if err != nil {
		logger.Warn("FrameBroadcaster", "JPEG encode failed: %v", err)
		return
	}
	fb.last = out
	fb.broadcast(data)
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest = data
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, drop this frame for it
		}
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializedEvent holds one event pre-serialized in both wire formats.
type SerializedEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 for SSE transport
}

// DetectionBroadcaster fans out new detection results to SSE clients.
type DetectionBroadcaster struct {
	mu          sync.Mutex
	clients     map[int]chan *SerializedEvent
	nextID      int
	monitor     *Monitor
	interval    time.Duration
	stop        chan struct{}
	stopped     bool
	lastVersion int
}

// NewDetectionBroadcaster creates a broadcaster polling monitor every interval.
func NewDetectionBroadcaster(monitor *Monitor, interval time.Duration) *DetectionBroadcaster {
	return &DetectionBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		monitor:  monitor,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (db *DetectionBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	db.nextID++
	ch := make(chan *SerializedEvent, 2)
	db.clients[id] = ch

	logger.Debug("DetectionBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(db.clients))
	return id, ch
}

func (db *DetectionBroadcaster) Unsubscribe(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if ch, ok := db.clients[id]; ok {
		close(ch)
		delete(db.clients, id)
		logger.Debug("DetectionBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(db.clients))
	}
}

func (db *DetectionBroadcaster) Start() {
	go db.run()
}

func (db *DetectionBroadcaster) Stop() {
	db.mu.Lock()
	if !db.stopped {
		close(db.stop)
		db.stopped = true
	}
	db.mu.Unlock()
}

func (db *DetectionBroadcaster) run() {
	ticker := time.NewTicker(db.interval)
	defer ticker.Stop()

	for {
		select {
		case <-db.stop:
			return
		case <-ticker.C:
		}

		// The monitor history is kept current even without SSE clients.
		det := db.monitor.Latest()
		if det == nil || det.Version == db.lastVersion {
			continue
		}
		db.lastVersion = det.Version

		if len(det.Detections) > 0 {
			db.processAndBroadcast(det)
		}
	}
}

func (db *DetectionBroadcaster) processAndBroadcast(det *DetectionResult) {
	jsonData, err := json.Marshal(detectionEvent(det))
	if err != nil {
		logger.Error("DetectionBroadcaster", "JSON marshal error: %v", err)
		return
	}

	pbData, err := marshalDetectionProto(det)
	if err != nil {
		logger.Error("DetectionBroadcaster", "Protobuf marshal error: %v", err)
		return
	}

	db.broadcast(&SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	})
}

func (db *DetectionBroadcaster) broadcast(event *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, ch := range db.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

func detectionEvent(det *DetectionResult) map[string]interface{} {
	dets := make([]interface{}, len(det.Detections))
	for i, d := range det.Detections {
		dets[i] = map[string]interface{}{
			"bbox": map[string]interface{}{
				"x": d.BBox.X,
				"y": d.BBox.Y,
				"w": d.BBox.W,
				"h": d.BBox.H,
			},
			"confidence": d.Confidence,
			"class_id":   d.ClassID,
			"class_name": d.ClassName,
		}
	}
	return map[string]interface{}{
		"frame_number": det.FrameNumber,
		"timestamp":    det.Timestamp,
		"version":      det.Version,
		"detections":   dets,
	}
}

// marshalDetectionProto encodes a result as a google.protobuf.Struct, so
// clients can decode it with any protobuf runtime and no schema.
func marshalDetectionProto(det *DetectionResult) ([]byte, error) {
	st, err := structpb.NewStruct(detectionEvent(det))
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}
