package monitor

import "time"

// Config defines the runtime configuration for the monitor server.
type Config struct {
	Addr           string
	TargetFPS      float64 // Scheduler rate the pipeline aims for, reported in status
	MJPEGInterval  time.Duration
	EventInterval  time.Duration
	JPEGQuality    int
	HistorySize    int
	MaxUploadBytes int64
}

// DefaultConfig returns a config matching the default 150 ms cycle.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		TargetFPS:      1000.0 / 150,
		MJPEGInterval:  100 * time.Millisecond,
		EventInterval:  50 * time.Millisecond,
		JPEGQuality:    80,
		HistorySize:    8,
		MaxUploadBytes: 16 << 20,
	}
}
