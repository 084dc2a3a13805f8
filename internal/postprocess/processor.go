package postprocess

import (
	"fmt"
	"math"

	"github.com/JdeRobot/dl-objecttracker/internal/labels"
	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/metrics"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// Geometry describes the frame a batch of raw detections belongs to.
type Geometry struct {
	Width, Height           int // Original image size
	ModelWidth, ModelHeight int // Backend input size, used by ModelPixelXYXY
	Convention              BoxConvention
}

// Processor filters raw candidates and maps them into image pixels.
type Processor struct {
	table   *labels.Table
	log     *logger.Module
	metrics *metrics.Metrics
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the module logger used for dropped-box warnings.
func WithLogger(l *logger.Module) Option {
	return func(p *Processor) { p.log = l }
}

// WithMetrics enables the raw/kept/invalid counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New creates a processor resolving labels through table.
func New(table *labels.Table, opts ...Option) *Processor {
	p := &Processor{
		table: table,
		log:   logger.For("PostProcess"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FilterAndRescale keeps candidates with score strictly above threshold,
// converts their boxes to original-image pixels and resolves labels.
// Input order is preserved. An unknown class id fails the whole batch.
func (p *Processor) FilterAndRescale(raw []types.RawDetection, threshold float64, g Geometry) ([]types.Detection, error) {
	out := make([]types.Detection, 0, len(raw))
	if g.Width <= 0 || g.Height <= 0 {
		return out, fmt.Errorf("invalid frame size %dx%d", g.Width, g.Height)
	}
	sx, sy, err := scaleFactors(g)
	if err != nil {
		return out, err
	}
	if p.metrics != nil {
		p.metrics.DetectionsRaw.Add(uint64(len(raw)))
	}

	for i, r := range raw {
		if !(r.Score > threshold) {
			continue
		}

		label, err := p.table.Label(r.ClassID)
		if err != nil {
			return nil, err
		}

		box := rescale(r.Box, g.Convention, sx, sy, g.Width, g.Height)
		if !box.Valid() {
			p.log.Warn("Dropping candidate %d (%s, score %.2f): inverted box %s", i, label, r.Score, box)
			if p.metrics != nil {
				p.metrics.InvalidBoxes.Add(1)
			}
			continue
		}

		out = append(out, types.Detection{
			Label:   label,
			ClassID: r.ClassID,
			Score:   r.Score,
			Box:     box,
		})
	}

	if p.metrics != nil {
		p.metrics.DetectionsKept.Add(uint64(len(out)))
	}
	return out, nil
}

func scaleFactors(g Geometry) (float64, float64, error) {
	switch g.Convention {
	case NormalizedYXYX, NormalizedXYXY:
		return float64(g.Width), float64(g.Height), nil
	case ModelPixelXYXY:
		if g.ModelWidth <= 0 || g.ModelHeight <= 0 {
			return 0, 0, fmt.Errorf("%s needs the model input size, got %dx%d", g.Convention, g.ModelWidth, g.ModelHeight)
		}
		return float64(g.Width) / float64(g.ModelWidth), float64(g.Height) / float64(g.ModelHeight), nil
	default:
		return 0, 0, fmt.Errorf("unsupported box convention %s", g.Convention)
	}
}

func rescale(b [4]float64, c BoxConvention, sx, sy float64, w, h int) types.Box {
	var xmin, ymin, xmax, ymax float64
	if c == NormalizedYXYX {
		ymin, xmin, ymax, xmax = b[0], b[1], b[2], b[3]
	} else {
		xmin, ymin, xmax, ymax = b[0], b[1], b[2], b[3]
	}
	return types.Box{
		XMin: toPixel(xmin, sx, w),
		YMin: toPixel(ymin, sy, h),
		XMax: toPixel(xmax, sx, w),
		YMax: toPixel(ymax, sy, h),
	}
}

func toPixel(v, scale float64, limit int) int {
	px := math.Round(v * scale)
	if math.IsNaN(px) || px < 0 {
		return 0
	}
	if px > float64(limit) {
		return limit
	}
	return int(px)
}
