package backend

import (
	"context"
	"image"
	"sync"

	"github.com/JdeRobot/dl-objecttracker/internal/postprocess"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// Static returns the same candidates for every frame. It backs the demo
// binaries and most tests.
type Static struct {
	mu         sync.Mutex
	detections []types.RawDetection
	err        error
	calls      int

	width, height int
	conv          postprocess.BoxConvention
	classes       []int
}

// NewStatic creates a static backend emitting dets in convention conv.
func NewStatic(conv postprocess.BoxConvention, dets ...types.RawDetection) *Static {
	return &Static{
		detections: dets,
		conv:       conv,
		width:      300,
		height:     300,
	}
}

// WithInputSize overrides the advertised model input size.
func (s *Static) WithInputSize(w, h int) *Static {
	s.width, s.height = w, h
	return s
}

// WithClasses makes the backend advertise its class ids.
func (s *Static) WithClasses(ids ...int) *Static {
	s.classes = ids
	return s
}

// Set replaces the candidates returned by later calls.
func (s *Static) Set(dets ...types.RawDetection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = dets
}

// Fail makes later calls return err (nil clears it).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many times Infer ran.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Static) Infer(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]types.RawDetection, len(s.detections))
	copy(out, s.detections)
	return out, nil
}

func (s *Static) InputDimensions() (int, int)           { return s.width, s.height }
func (s *Static) UsesInstanceMasks() bool               { return false }
func (s *Static) Convention() postprocess.BoxConvention { return s.conv }

// ClassIDs is only meaningful after WithClasses.
func (s *Static) ClassIDs() []int { return s.classes }
