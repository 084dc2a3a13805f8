package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/postprocess"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// ErrNoResponse is returned when the detection server closes the connection
// or times out before answering a frame.
var ErrNoResponse = errors.New("no response from detection server")

// RemoteConfig configures a websocket detection server client.
type RemoteConfig struct {
	URL         string // e.g. ws://localhost:8765/ws
	Width       int    // Model input size advertised to the pipeline
	Height      int
	Convention  postprocess.BoxConvention
	Timeout     time.Duration // Per-frame deadline when ctx has none
	JPEGQuality int
	Classes     []int
}

// Remote sends each frame as a binary JPEG message and reads back a JSON
// array of raw detections. One request is in flight at a time; a broken
// connection is redialled on the next call.
type Remote struct {
	cfg    RemoteConfig
	dialer *websocket.Dialer
	log    *logger.Module

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRemote creates a client. No connection is made until the first Infer.
func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	return &Remote{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		log:    logger.For("Remote"),
	}
}

func (r *Remote) connect(ctx context.Context) (*websocket.Conn, error) {
	if r.conn != nil {
		return r.conn, nil
	}
	r.log.Info("Connecting to detection server %s", r.cfg.URL)
	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.cfg.URL, err)
	}
	r.conn = conn
	return conn, nil
}

func (r *Remote) drop() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *Remote) Infer(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(r.cfg.Timeout)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		r.drop()
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		r.drop()
		return nil, fmt.Errorf("send frame: %w", err)
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		r.drop()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		r.drop()
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}

	var dets []types.RawDetection
	if err := json.Unmarshal(msg, &dets); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return dets, nil
}

// Close closes the current connection, if any.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err != nil {
		r.log.Debug("Close frame not sent: %v", err)
	}
	r.drop()
	return nil
}

func (r *Remote) InputDimensions() (int, int)           { return r.cfg.Width, r.cfg.Height }
func (r *Remote) UsesInstanceMasks() bool               { return false }
func (r *Remote) Convention() postprocess.BoxConvention { return r.cfg.Convention }
func (r *Remote) ClassIDs() []int                       { return r.cfg.Classes }
