package types

import (
	"fmt"
	"image"
	"time"
)

// RawDetection is one unfiltered candidate returned by an inference backend.
// Box is in the backend's own coordinate convention.
type RawDetection struct {
	ClassID int        `json:"class_id" yaml:"class_id"`
	Score   float64    `json:"score" yaml:"score"`
	Box     [4]float64 `json:"box" yaml:"box"`
}

// Box is an axis-aligned rectangle in original-image pixel coordinates.
type Box struct {
	XMin int `json:"xmin" yaml:"xmin"`
	YMin int `json:"ymin" yaml:"ymin"`
	XMax int `json:"xmax" yaml:"xmax"`
	YMax int `json:"ymax" yaml:"ymax"`
}

// Valid reports whether the box corners are ordered.
func (b Box) Valid() bool {
	return b.XMin <= b.XMax && b.YMin <= b.YMax
}

// Rect converts the box to an image.Rectangle (Max exclusive).
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

func (b Box) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.XMin, b.YMin, b.XMax, b.YMax)
}

// Detection is a thresholded, rescaled and labelled detection.
type Detection struct {
	Label   string  `json:"label"`
	ClassID int     `json:"class_id"`
	Score   float64 `json:"score"`
	Box     Box     `json:"box"`
}

// FrameResult is the output of one completed pipeline pass.
type FrameResult struct {
	FrameIndex int         // Index supplied with the input image
	Detections []Detection // Never nil
	Image      image.Image // Rendered copy of the input, or the placeholder
	IsEmpty    bool        // True when no input was available
}

// Point is a pixel position used by log records.
type Point struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// LogRecord is one persisted detection entry.
type LogRecord struct {
	FrameIndex  int     `yaml:"frame"`
	Label       string  `yaml:"label"`
	Score       float64 `yaml:"score"`
	TopLeft     Point   `yaml:"top_left"`
	BottomRight Point   `yaml:"bottom_right"`
}

// Scale is the display rescale factor pair applied to logged boxes.
type Scale struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// CycleState is the scheduler status visible to callers.
type CycleState struct {
	Enabled           bool          `json:"enabled"`
	LastCycleDuration time.Duration `json:"last_cycle_duration"`
	ObservedFPS       float64       `json:"observed_fps"`
	Cycles            uint64        `json:"cycles"`
}
