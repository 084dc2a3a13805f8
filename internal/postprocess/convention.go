package postprocess

import (
	"fmt"
	"strings"
)

// BoxConvention names the coordinate layout a backend uses for raw boxes.
type BoxConvention int

const (
	// NormalizedYXYX is (ymin, xmin, ymax, xmax) in [0,1], as emitted by the
	// TensorFlow object detection API.
	NormalizedYXYX BoxConvention = iota
	// NormalizedXYXY is (xmin, ymin, xmax, ymax) in [0,1].
	NormalizedXYXY
	// ModelPixelXYXY is (xmin, ymin, xmax, ymax) in model-input pixels, as
	// emitted by Keras SSD decoders.
	ModelPixelXYXY
)

var conventionNames = map[BoxConvention]string{
	NormalizedYXYX: "normalized_yxyx",
	NormalizedXYXY: "normalized_xyxy",
	ModelPixelXYXY: "model_pixel_xyxy",
}

func (c BoxConvention) String() string {
	if name, ok := conventionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("BoxConvention(%d)", int(c))
}

// ParseConvention accepts the String form plus the framework aliases
// "tensorflow" and "keras".
func ParseConvention(s string) (BoxConvention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normalized_yxyx", "tensorflow", "tf":
		return NormalizedYXYX, nil
	case "normalized_xyxy":
		return NormalizedXYXY, nil
	case "model_pixel_xyxy", "keras":
		return ModelPixelXYXY, nil
	default:
		return NormalizedYXYX, fmt.Errorf("unknown box convention: %q", s)
	}
}

// MarshalText lets the convention round-trip through YAML and JSON.
func (c BoxConvention) MarshalText() ([]byte, error) {
	if _, ok := conventionNames[c]; !ok {
		return nil, fmt.Errorf("unknown box convention %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *BoxConvention) UnmarshalText(b []byte) error {
	v, err := ParseConvention(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
