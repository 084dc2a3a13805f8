// Package render draws detection overlays onto a copy of a frame.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/JdeRobot/dl-objecttracker/internal/labels"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

var (
	black = color.NRGBA{A: 0xff}
	white = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	red   = color.NRGBA{R: 0xff, A: 0xff}
)

// Renderer draws box outlines and score labels. It holds no per-frame
// state and is safe for concurrent use.
type Renderer struct {
	table     *labels.Table
	face      font.Face
	thickness int

	caption      string
	captionAt    image.Point
	captionColor color.Color
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithThickness sets the outline thickness in pixels (default 3).
func WithThickness(px int) Option {
	return func(r *Renderer) {
		if px > 0 {
			r.thickness = px
		}
	}
}

// WithCaption draws a fixed caption on every frame, baseline at at.
func WithCaption(text string, at image.Point, c color.Color) Option {
	return func(r *Renderer) {
		r.caption = text
		r.captionAt = at
		if c == nil {
			c = red
		}
		r.captionColor = c
	}
}

// New creates a renderer colouring boxes through table.
func New(table *labels.Table, opts ...Option) *Renderer {
	r := &Renderer{
		table:     table,
		face:      basicfont.Face7x13,
		thickness: 3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LabelText is the string drawn above a detection.
func LabelText(d types.Detection) string {
	return fmt.Sprintf("%s (%d %%)", d.Label, int(d.Score*100))
}

// Draw returns a copy of img with every detection drawn in order.
// img is never modified.
func (r *Renderer) Draw(img image.Image, dets []types.Detection) *image.NRGBA {
	dst := imaging.Clone(img)
	for _, d := range dets {
		r.drawOutline(dst, d.Box, r.table.Color(d.Label))
		r.drawLabel(dst, d.Box, LabelText(d))
	}
	if r.caption != "" {
		r.drawText(dst, r.captionAt, r.caption, r.captionColor)
	}
	return dst
}

// LabelRect returns the background rectangle of a detection label.
func (r *Renderer) LabelRect(d types.Detection) image.Rectangle {
	return r.labelRect(d.Box, LabelText(d))
}

// OutlineRect returns the area an outline of box can touch.
func (r *Renderer) OutlineRect(b types.Box) image.Rectangle {
	lo := r.thickness / 2
	hi := r.thickness - lo
	return image.Rect(b.XMin-lo, b.YMin-lo, b.XMax+hi, b.YMax+hi)
}

func (r *Renderer) drawOutline(dst *image.NRGBA, b types.Box, c color.Color) {
	lo := r.thickness / 2
	hi := r.thickness - lo
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(b.XMin-lo, b.YMin-lo, b.XMax+hi, b.YMin+hi), // top
		image.Rect(b.XMin-lo, b.YMax-lo, b.XMax+hi, b.YMax+hi), // bottom
		image.Rect(b.XMin-lo, b.YMin-lo, b.XMin+hi, b.YMax+hi), // left
		image.Rect(b.XMax-lo, b.YMin-lo, b.XMax+hi, b.YMax+hi), // right
	}
	for _, e := range edges {
		fill(dst, e, src)
	}
}

func (r *Renderer) labelRect(b types.Box, text string) image.Rectangle {
	m := r.face.Metrics()
	w := font.MeasureString(r.face, text).Ceil()
	return image.Rect(b.XMin, b.YMin-m.Ascent.Ceil(), b.XMin+w, b.YMin+m.Descent.Ceil())
}

func (r *Renderer) drawLabel(dst *image.NRGBA, b types.Box, text string) {
	fill(dst, r.labelRect(b, text), image.NewUniform(black))
	r.drawText(dst, image.Pt(b.XMin, b.YMin), text, white)
}

func (r *Renderer) drawText(dst *image.NRGBA, dot image.Point, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: r.face,
		Dot:  fixed.P(dot.X, dot.Y),
	}
	d.DrawString(text)
}

func fill(dst *image.NRGBA, rect image.Rectangle, src image.Image) {
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(dst, rect, src, image.Point{}, draw.Src)
}
