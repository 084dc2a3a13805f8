package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdeRobot/dl-objecttracker/internal/backend"
	"github.com/JdeRobot/dl-objecttracker/internal/labels"
	"github.com/JdeRobot/dl-objecttracker/internal/metrics"
	"github.com/JdeRobot/dl-objecttracker/internal/postprocess"
	"github.com/JdeRobot/dl-objecttracker/internal/render"
	"github.com/JdeRobot/dl-objecttracker/internal/resultlog"
	"github.com/JdeRobot/dl-objecttracker/internal/scheduler"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

var grey = color.NRGBA{R: 100, G: 110, B: 120, A: 255}

func table(t *testing.T) *labels.Table {
	t.Helper()
	tbl, err := labels.New("test", map[int]string{1: "person", 2: "dog"})
	require.NoError(t, err)
	return tbl
}

func personBackend() *backend.Static {
	return backend.NewStatic(postprocess.NormalizedYXYX,
		types.RawDetection{ClassID: 1, Score: 0.9, Box: [4]float64{0.1, 0.1, 0.5, 0.5}})
}

// steppingNow advances by step on every call.
func steppingNow(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Unix(0, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

func TestPlaceholderBeforeInput(t *testing.T) {
	p, err := New(personBackend(), table(t))
	require.NoError(t, err)

	out := p.Output()
	require.NotNil(t, out)
	assert.True(t, out.IsEmpty)
	assert.Same(t, Placeholder(), out)
	assert.Equal(t, image.Rect(0, 0, 320, 480), out.Image.Bounds())
	assert.NotNil(t, out.Detections)
	assert.Empty(t, out.Detections)

	r, g, b, a := out.Image.At(10, 10).RGBA()
	assert.Equal(t, [4]uint32{0, 0, 0, 0xffff}, [4]uint32{r, g, b, a})

	m := metrics.New()
	p, err = New(personBackend(), table(t), WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, p.RunOnce(context.Background()))
	assert.Same(t, Placeholder(), p.Output())
	assert.Equal(t, uint64(1), m.PlaceholderFrames.Load())
}

func TestEndToEndSingleDetection(t *testing.T) {
	tbl := table(t)
	rdr := render.New(tbl)
	m := metrics.New()
	p, err := New(personBackend(), tbl, WithThreshold(0.5), WithRenderer(rdr), WithMetrics(m))
	require.NoError(t, err)

	src := imaging.New(640, 480, grey)
	p.SetInput(src, 12)
	require.NoError(t, p.RunOnce(context.Background()))

	out := p.Output()
	assert.False(t, out.IsEmpty)
	assert.Equal(t, 12, out.FrameIndex)
	require.Len(t, out.Detections, 1)
	d := out.Detections[0]
	assert.Equal(t, "person", d.Label)
	assert.Equal(t, types.Box{XMin: 64, YMin: 48, XMax: 320, YMax: 240}, d.Box)

	// Only the outline band and the label may differ from the input.
	img, ok := out.Image.(*image.NRGBA)
	require.True(t, ok)
	outline := rdr.OutlineRect(d.Box)
	inner := image.Rect(d.Box.XMin+2, d.Box.YMin+2, d.Box.XMax-1, d.Box.YMax-1)
	label := rdr.LabelRect(d)
	changed := 0
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			if img.NRGBAAt(x, y) == grey {
				continue
			}
			changed++
			pt := image.Pt(x, y)
			if !pt.In(label) && !(pt.In(outline) && !pt.In(inner)) {
				t.Fatalf("pixel %v changed outside the overlay", pt)
			}
		}
	}
	assert.Greater(t, changed, 0)

	// The input is untouched.
	assert.Equal(t, grey, src.NRGBAAt(100, 48))
	assert.Equal(t, uint64(1), m.FramesProcessed.Load())
	assert.Equal(t, uint64(1), m.DetectionsKept.Load())
}

func TestBackendErrorDegradesToPlainFrame(t *testing.T) {
	be := personBackend()
	p, err := New(be, table(t))
	require.NoError(t, err)

	src := imaging.New(64, 48, grey)
	p.SetInput(src, 3)
	require.NoError(t, p.RunOnce(context.Background()))
	require.Len(t, p.Detections(), 1)

	boom := errors.New("session lost")
	be.Fail(boom)
	err = p.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)

	out := p.Output()
	assert.False(t, out.IsEmpty)
	assert.Equal(t, 3, out.FrameIndex)
	assert.NotNil(t, out.Detections)
	assert.Empty(t, out.Detections)
	img := out.Image.(*image.NRGBA)
	assert.Equal(t, src.Pix, img.Pix)
}

func TestUnknownClassIsReturned(t *testing.T) {
	be := backend.NewStatic(postprocess.NormalizedYXYX,
		types.RawDetection{ClassID: 9, Score: 0.9, Box: [4]float64{0, 0, 1, 1}})
	p, err := New(be, table(t))
	require.NoError(t, err)

	p.SetInput(imaging.New(10, 10, grey), 0)
	err = p.RunOnce(context.Background())
	var uce *labels.UnknownClassError
	require.ErrorAs(t, err, &uce)
	assert.Empty(t, p.Detections())
}

func TestNewValidatesAdvertisedClasses(t *testing.T) {
	_, err := New(personBackend().WithClasses(1, 2), table(t))
	require.NoError(t, err)

	_, err = New(personBackend().WithClasses(1, 7), table(t))
	var uce *labels.UnknownClassError
	require.ErrorAs(t, err, &uce)
	assert.Equal(t, 7, uce.ClassID)

	_, err = New(nil, table(t))
	assert.Error(t, err)
	_, err = New(personBackend(), nil)
	assert.Error(t, err)
}

func TestToggleAndSetEnabled(t *testing.T) {
	p, err := New(personBackend(), table(t))
	require.NoError(t, err)

	assert.True(t, p.Enabled())
	assert.False(t, p.Toggle())
	assert.False(t, p.Enabled())
	assert.True(t, p.Toggle())
	p.SetEnabled(false)
	assert.False(t, p.Enabled())
}

func TestDisabledKeepsOutputUntilRunOnce(t *testing.T) {
	be := personBackend()
	p, err := New(be, table(t))
	require.NoError(t, err)
	s := scheduler.New(p, scheduler.WithClock(&instantClock{}))

	p.SetInput(imaging.New(64, 48, grey), 1)
	s.Step(context.Background())
	first := p.Output()
	assert.Equal(t, 1, first.FrameIndex)

	p.SetEnabled(false)
	p.SetInput(imaging.New(64, 48, grey), 2)
	for i := 0; i < 3; i++ {
		s.Step(context.Background())
	}
	assert.Same(t, first, p.Output())
	assert.Equal(t, 0.0, s.State().ObservedFPS)
	assert.Equal(t, 1, be.Calls())

	ran, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, p.Output().FrameIndex)
	assert.False(t, p.Enabled())
}

func TestLatestInputWins(t *testing.T) {
	p, err := New(personBackend(), table(t))
	require.NoError(t, err)

	p.SetInput(imaging.New(64, 48, grey), 1)
	p.SetInput(imaging.New(32, 24, grey), 2)
	require.NoError(t, p.RunOnce(context.Background()))
	assert.Equal(t, 2, p.Output().FrameIndex)
	assert.Equal(t, 32, p.ProcessedFrame().Bounds().Dx())

	p.SetInput(nil, 3)
	require.NoError(t, p.RunOnce(context.Background()))
	assert.True(t, p.Output().IsEmpty)
}

func TestResultLoggingThroughPipeline(t *testing.T) {
	dir := t.TempDir()
	results := resultlog.New(resultlog.NewYAMLSink(dir), resultlog.WithEnabled(false))
	p, err := New(personBackend(), table(t),
		WithResultLogger(results),
		WithDisplayScale(types.Scale{X: 0.5, Y: 0.5}),
		WithNow(steppingNow(100*time.Millisecond)))
	require.NoError(t, err)

	p.SetInput(imaging.New(640, 480, grey), 5)
	require.NoError(t, p.RunOnce(context.Background()))
	assert.False(t, p.LoggerStatus())

	p.SetLoggerStatus(true)
	require.NoError(t, p.RunOnce(context.Background()))

	status, err := p.FinalizeLog()
	require.NoError(t, err)
	assert.Equal(t, resultlog.StatusWritten, status)

	records, mean, err := resultlog.ReadYAML(dir)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 5, records[0].FrameIndex)
	assert.Equal(t, types.Point{X: 32, Y: 24}, records[0].TopLeft)
	assert.Equal(t, types.Point{X: 160, Y: 120}, records[0].BottomRight)
	assert.Equal(t, 10.0, mean)

	status, err = p.FinalizeLog()
	require.NoError(t, err)
	assert.Equal(t, resultlog.StatusAlreadyFinalized, status)
}

func TestFinalizeWithoutResultLogger(t *testing.T) {
	p, err := New(personBackend(), table(t))
	require.NoError(t, err)
	status, err := p.FinalizeLog()
	require.NoError(t, err)
	assert.Equal(t, resultlog.StatusDisabled, status)
}

func TestConcurrentReadersDuringRuns(t *testing.T) {
	p, err := New(personBackend(), table(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			p.SetInput(imaging.New(32, 32, grey), i)
		}
	}()
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			out := p.Output()
			if out == nil || out.Detections == nil {
				t.Error("output must never be nil")
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, p.RunOnce(context.Background()))
	}
	cancel()
	wg.Wait()
}

func TestBackendPanicDegradesToPlainFrame(t *testing.T) {
	be := &backend.Func{
		Width:  300,
		Height: 300,
		Conv:   postprocess.NormalizedYXYX,
		Fn: func(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
			if img.Bounds().Dx() == 33 {
				panic("tensor shape mismatch")
			}
			return []types.RawDetection{{ClassID: 1, Score: 0.9, Box: [4]float64{0.1, 0.1, 0.5, 0.5}}}, nil
		},
	}
	m := metrics.New()
	p, err := New(be, table(t))
	require.NoError(t, err)
	var reported []error
	s := scheduler.New(p,
		scheduler.WithClock(&instantClock{}),
		scheduler.WithMetrics(m),
		scheduler.WithErrorHandler(func(err error) { reported = append(reported, err) }))

	p.SetInput(imaging.New(64, 48, grey), 1)
	s.Step(context.Background())
	require.Len(t, p.Detections(), 1)

	src := imaging.New(33, 48, grey)
	p.SetInput(src, 2)
	s.Step(context.Background())

	out := p.Output()
	assert.Equal(t, 2, out.FrameIndex)
	assert.NotNil(t, out.Detections)
	assert.Empty(t, out.Detections)
	assert.Equal(t, src.Pix, out.Image.(*image.NRGBA).Pix)
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0].Error(), "panic on frame 2: tensor shape mismatch")
	assert.Equal(t, uint64(1), m.InferenceErrors.Load())

	// Called directly, without the scheduler.
	err = p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, p.Detections())
}

func TestRunFrameIgnoresInputSlot(t *testing.T) {
	p, err := New(personBackend(), table(t))
	require.NoError(t, err)

	p.SetInput(imaging.New(64, 48, grey), 1)
	out, err := p.RunFrame(context.Background(), imaging.New(100, 100, grey), 9)
	require.NoError(t, err)
	assert.Equal(t, 9, out.FrameIndex)
	assert.Same(t, out, p.Output())
	require.Len(t, out.Detections, 1)
	assert.Equal(t, types.Box{XMin: 10, YMin: 10, XMax: 50, YMax: 50}, out.Detections[0].Box)

	// The input slot is untouched.
	require.NoError(t, p.RunOnce(context.Background()))
	assert.Equal(t, 1, p.Output().FrameIndex)

	_, err = p.RunFrame(context.Background(), nil, 2)
	assert.Error(t, err)
}

// instantClock never blocks.
type instantClock struct{ now time.Time }

func (c *instantClock) Now() time.Time        { return c.now }
func (c *instantClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }
