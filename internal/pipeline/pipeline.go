// Package pipeline ties one inference backend to post-processing, rendering
// and result logging, and holds the latest input and output frames.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/JdeRobot/dl-objecttracker/internal/backend"
	"github.com/JdeRobot/dl-objecttracker/internal/labels"
	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/metrics"
	"github.com/JdeRobot/dl-objecttracker/internal/postprocess"
	"github.com/JdeRobot/dl-objecttracker/internal/render"
	"github.com/JdeRobot/dl-objecttracker/internal/resultlog"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// Placeholder size, matching the display area of the original viewer.
const (
	PlaceholderWidth  = 320
	PlaceholderHeight = 480
)

// DefaultThreshold is the minimum score a detection must exceed.
const DefaultThreshold = 0.5

var placeholder = &types.FrameResult{
	Detections: []types.Detection{},
	Image:      imaging.New(PlaceholderWidth, PlaceholderHeight, color.Black),
	IsEmpty:    true,
}

// Placeholder returns the shared sentinel published while no input exists.
// Callers must not modify it.
func Placeholder() *types.FrameResult { return placeholder }

type inputFrame struct {
	img           image.Image
	index         int
	width, height int
}

// Pipeline runs the detect, render and log pass. The input, output and
// enabled state are independent atomic slots; readers never block.
type Pipeline struct {
	backend   backend.Backend
	processor *postprocess.Processor
	renderer  *render.Renderer
	results   *resultlog.Logger
	metrics   *metrics.Metrics
	log       *logger.Module
	now       func() time.Time

	threshold float64
	scale     types.Scale

	input   atomic.Pointer[inputFrame]
	output  atomic.Pointer[types.FrameResult]
	enabled atomic.Bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithThreshold sets the score threshold (default 0.5).
func WithThreshold(t float64) Option {
	return func(p *Pipeline) { p.threshold = t }
}

// WithDisplayScale sets the factor applied to logged boxes.
func WithDisplayScale(s types.Scale) Option {
	return func(p *Pipeline) { p.scale = s }
}

func WithRenderer(r *render.Renderer) Option {
	return func(p *Pipeline) { p.renderer = r }
}

func WithResultLogger(l *resultlog.Logger) Option {
	return func(p *Pipeline) { p.results = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(m *logger.Module) Option {
	return func(p *Pipeline) { p.log = m }
}

// WithNow replaces time.Now for throughput measurement.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New validates that table covers every class the backend advertises and
// builds a pipeline in the Enabled state.
func New(b backend.Backend, table *labels.Table, opts ...Option) (*Pipeline, error) {
	if b == nil {
		return nil, errors.New("pipeline: nil backend")
	}
	if table == nil {
		return nil, errors.New("pipeline: nil label table")
	}
	if cl, ok := b.(backend.ClassLister); ok {
		if err := table.Covers(cl.ClassIDs()); err != nil {
			return nil, fmt.Errorf("pipeline: label table does not cover backend classes: %w", err)
		}
	}

	p := &Pipeline{
		backend:   b,
		threshold: DefaultThreshold,
		scale:     types.Scale{X: 1, Y: 1},
		log:       logger.For("Pipeline"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.renderer == nil {
		p.renderer = render.New(table)
	}
	if p.results == nil {
		p.results = resultlog.New(nil)
	}
	p.processor = postprocess.New(table,
		postprocess.WithLogger(logger.For("PostProcess")),
		postprocess.WithMetrics(p.metrics))

	p.output.Store(placeholder)
	p.enabled.Store(true)
	return p, nil
}

// Enabled reports whether the scheduler should run inference each cycle.
func (p *Pipeline) Enabled() bool { return p.enabled.Load() }

// SetEnabled switches continuous inference on or off.
func (p *Pipeline) SetEnabled(enabled bool) {
	if p.enabled.Swap(enabled) != enabled {
		p.log.Info("Continuous detection %s", onOff(enabled))
	}
}

// Toggle flips the enabled state and returns the new value.
func (p *Pipeline) Toggle() bool {
	for {
		old := p.enabled.Load()
		if p.enabled.CompareAndSwap(old, !old) {
			p.log.Info("Continuous detection %s", onOff(!old))
			return !old
		}
	}
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

// SetInput publishes the next frame. The latest call wins; nil clears the
// input so the next pass publishes the placeholder.
func (p *Pipeline) SetInput(img image.Image, frameIndex int) {
	if img == nil {
		p.input.Store(nil)
		return
	}
	b := img.Bounds()
	p.input.Store(&inputFrame{img: img, index: frameIndex, width: b.Dx(), height: b.Dy()})
}

// Output returns the last published result. It is never nil.
func (p *Pipeline) Output() *types.FrameResult { return p.output.Load() }

// Detections returns the detections of the last published result.
func (p *Pipeline) Detections() []types.Detection { return p.Output().Detections }

// ProcessedFrame returns the rendered image of the last published result.
func (p *Pipeline) ProcessedFrame() image.Image { return p.Output().Image }

// Threshold returns the configured score threshold.
func (p *Pipeline) Threshold() float64 { return p.threshold }

// Backend returns the inference backend.
func (p *Pipeline) Backend() backend.Backend { return p.backend }

// SetLoggerStatus switches result logging on or off at runtime.
func (p *Pipeline) SetLoggerStatus(enabled bool) {
	p.results.SetEnabled(enabled)
}

// LoggerStatus reports whether result logging is on.
func (p *Pipeline) LoggerStatus() bool { return p.results.Enabled() }

// FinalizeLog persists the result log. Only the first call with data writes.
func (p *Pipeline) FinalizeLog() (resultlog.Status, error) {
	return p.results.Finalize()
}

// RunOnce performs one full pass over the input current at its start.
// On a backend or post-processing error, or a panic in either, the published
// frame is the plain input with no detections, and the error is returned.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	start := p.now()

	in := p.input.Load()
	if in == nil {
		p.output.Store(placeholder)
		if p.metrics != nil {
			p.metrics.PlaceholderFrames.Add(1)
		}
		return nil
	}
	_, err := p.process(ctx, in, start)
	return err
}

// RunFrame performs one pass over img instead of the input slot and returns
// the published result, so a caller sees its own frame even when SetInput
// races it. Errors degrade the frame as in RunOnce.
func (p *Pipeline) RunFrame(ctx context.Context, img image.Image, frameIndex int) (*types.FrameResult, error) {
	if img == nil {
		return nil, errors.New("pipeline: nil frame")
	}
	start := p.now()
	b := img.Bounds()
	return p.process(ctx, &inputFrame{img: img, index: frameIndex, width: b.Dx(), height: b.Dy()}, start)
}

func (p *Pipeline) process(ctx context.Context, in *inputFrame, start time.Time) (out *types.FrameResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = p.fail(in, fmt.Errorf("panic on frame %d: %v", in.index, r))
		}
	}()

	raw, err := p.backend.Infer(ctx, in.img)
	if err != nil {
		return p.fail(in, fmt.Errorf("inference on frame %d: %w", in.index, err))
	}

	mw, mh := p.backend.InputDimensions()
	dets, err := p.processor.FilterAndRescale(raw, p.threshold, postprocess.Geometry{
		Width:       in.width,
		Height:      in.height,
		ModelWidth:  mw,
		ModelHeight: mh,
		Convention:  p.backend.Convention(),
	})
	if err != nil {
		return p.fail(in, fmt.Errorf("post-process frame %d: %w", in.index, err))
	}

	rendered := p.renderer.Draw(in.img, dets)

	elapsed := p.now().Sub(start)
	var sample float64
	if elapsed > 0 {
		sample = float64(time.Second) / float64(elapsed)
	}
	p.results.Record(in.index, dets, sample, p.scale)

	out = &types.FrameResult{
		FrameIndex: in.index,
		Detections: dets,
		Image:      rendered,
	}
	p.output.Store(out)

	if p.metrics != nil {
		p.metrics.FramesProcessed.Add(1)
		p.metrics.UpdateInferenceLatency(elapsed)
	}
	p.log.Debug("Frame %d: %d/%d detections kept in %v", in.index, len(dets), len(raw), elapsed)
	return out, nil
}

func (p *Pipeline) fail(in *inputFrame, err error) (*types.FrameResult, error) {
	out := &types.FrameResult{
		FrameIndex: in.index,
		Detections: []types.Detection{},
		Image:      p.renderer.Draw(in.img, nil),
	}
	p.output.Store(out)
	return out, err
}
