package backend

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/JdeRobot/dl-objecttracker/internal/postprocess"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// Resizing scales every frame to the wrapped backend's input size before
// inference. Keras SSD models expect this; their boxes come back in model
// pixels (ModelPixelXYXY) and the post-processor maps them back.
type Resizing struct {
	inner  Backend
	filter imaging.ResampleFilter
}

// NewResizing wraps inner. The zero filter defaults to bilinear.
func NewResizing(inner Backend, filter imaging.ResampleFilter) *Resizing {
	if filter.Support == 0 && filter.Kernel == nil {
		filter = imaging.Linear
	}
	return &Resizing{inner: inner, filter: filter}
}

func (r *Resizing) Infer(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	w, h := r.inner.InputDimensions()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("backend advertises invalid input size %dx%d", w, h)
	}
	b := img.Bounds()
	if b.Dx() != w || b.Dy() != h {
		img = imaging.Resize(img, w, h, r.filter)
	}
	return r.inner.Infer(ctx, img)
}

func (r *Resizing) InputDimensions() (int, int)           { return r.inner.InputDimensions() }
func (r *Resizing) UsesInstanceMasks() bool               { return r.inner.UsesInstanceMasks() }
func (r *Resizing) Convention() postprocess.BoxConvention { return r.inner.Convention() }

// ClassIDs forwards to the wrapped backend when it lists classes.
func (r *Resizing) ClassIDs() []int {
	if cl, ok := r.inner.(ClassLister); ok {
		return cl.ClassIDs()
	}
	return nil
}

// Close closes the wrapped backend if it holds resources.
func (r *Resizing) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
