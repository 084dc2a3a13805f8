package monitor

import "github.com/JdeRobot/dl-objecttracker/pkg/types"

// BoundingBox is the x/y/w/h shape served to browsers.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one detection as served by the JSON APIs.
type Detection struct {
	ClassName  string      `json:"class_name"`
	ClassID    int         `json:"class_id"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// DetectionResult is one published pipeline output.
type DetectionResult struct {
	FrameNumber   int         `json:"frame_number"`
	Timestamp     float64     `json:"timestamp"`
	NumDetections int         `json:"num_detections"`
	Version       int         `json:"version"`
	Detections    []Detection `json:"detections"`
}

// MonitorStats summarises pipeline activity for /api/status.
type MonitorStats struct {
	FramesProcessed int     `json:"frames_processed"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	TargetFPS       float64 `json:"target_fps"`
	Cycles          uint64  `json:"cycles"`
	Enabled         bool    `json:"enabled"`
	LoggerEnabled   bool    `json:"logger_enabled"`
}

func convertDetections(dets []types.Detection) []Detection {
	out := make([]Detection, len(dets))
	for i, d := range dets {
		out[i] = Detection{
			ClassName:  d.Label,
			ClassID:    d.ClassID,
			Confidence: d.Score,
			BBox: BoundingBox{
				X: d.Box.XMin,
				Y: d.Box.YMin,
				W: d.Box.XMax - d.Box.XMin,
				H: d.Box.YMax - d.Box.YMin,
			},
		}
	}
	return out
}
