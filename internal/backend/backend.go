// Package backend defines the inference collaborator the pipeline calls once
// per cycle, plus a few concrete implementations.
package backend

import (
	"context"
	"image"

	"github.com/JdeRobot/dl-objecttracker/internal/postprocess"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// Backend runs one inference pass over an image.
type Backend interface {
	// Infer returns raw candidates with boxes in Convention() layout.
	Infer(ctx context.Context, img image.Image) ([]types.RawDetection, error)
	// InputDimensions is the model input size (width, height).
	InputDimensions() (int, int)
	// UsesInstanceMasks reports whether the model also emits masks.
	// Masks are never rendered.
	UsesInstanceMasks() bool
	Convention() postprocess.BoxConvention
}

// ClassLister is implemented by backends that know which class ids they can
// emit, so label table coverage can be checked at startup.
type ClassLister interface {
	ClassIDs() []int
}

// Func adapts a plain function to Backend.
type Func struct {
	Fn            func(ctx context.Context, img image.Image) ([]types.RawDetection, error)
	Width, Height int
	Conv          postprocess.BoxConvention
	Masks         bool
}

func (f *Func) Infer(ctx context.Context, img image.Image) ([]types.RawDetection, error) {
	return f.Fn(ctx, img)
}

func (f *Func) InputDimensions() (int, int)           { return f.Width, f.Height }
func (f *Func) UsesInstanceMasks() bool               { return f.Masks }
func (f *Func) Convention() postprocess.BoxConvention { return f.Conv }
