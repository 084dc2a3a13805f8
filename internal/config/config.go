// Package config holds the runtime configuration of the tracker binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JdeRobot/dl-objecttracker/internal/labels"
	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/postprocess"
	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

// Backend kinds.
const (
	BackendStatic = "static"
	BackendRemote = "remote"
)

// Result log sinks.
const (
	SinkYAML   = "yaml"
	SinkSQLite = "sqlite"
)

// Config is the full runtime configuration.
type Config struct {
	Dataset      string        `yaml:"dataset"`
	LabelMap     string        `yaml:"label_map"` // pbtxt file; required for oid
	Threshold    float64       `yaml:"threshold"`
	CyclePeriod  time.Duration `yaml:"cycle_period"`
	DisplayScale types.Scale   `yaml:"display_scale"`
	Caption      string        `yaml:"caption"`
	Paused       bool          `yaml:"paused"` // start with continuous detection off

	Backend BackendConfig `yaml:"backend"`
	Source  SourceConfig  `yaml:"source"`
	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogColor    bool   `yaml:"log_color"`
}

// BackendConfig selects and configures the inference backend.
type BackendConfig struct {
	Kind        string                    `yaml:"kind"`
	URL         string                    `yaml:"url"`
	InputWidth  int                       `yaml:"input_width"`
	InputHeight int                       `yaml:"input_height"`
	Convention  postprocess.BoxConvention `yaml:"convention"`
	Resize      bool                      `yaml:"resize"`
	Timeout     time.Duration             `yaml:"timeout"`
	Classes     []int                     `yaml:"classes"`

	// Canned output for the static backend.
	Detections []types.RawDetection `yaml:"detections"`
}

// SourceConfig configures the directory image source.
type SourceConfig struct {
	Dir  string  `yaml:"dir"`
	FPS  float64 `yaml:"fps"`
	Loop bool    `yaml:"loop"`
}

// LogConfig configures the result log.
type LogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Sink       string `yaml:"sink"`
	Dir        string `yaml:"dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// MonitorConfig configures the HTTP monitor.
type MonitorConfig struct {
	Addr          string        `yaml:"addr"`
	MJPEGInterval time.Duration `yaml:"mjpeg_interval"`
	JPEGQuality   int           `yaml:"jpeg_quality"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Dataset:      "coco",
		Threshold:    0.5,
		CyclePeriod:  150 * time.Millisecond,
		DisplayScale: types.Scale{X: 1, Y: 1},
		Backend: BackendConfig{
			Kind:        BackendStatic,
			InputWidth:  300,
			InputHeight: 300,
			Convention:  postprocess.NormalizedYXYX,
			Timeout:     2 * time.Second,
		},
		Source: SourceConfig{
			FPS:  10,
			Loop: true,
		},
		Log: LogConfig{
			Sink:       SinkYAML,
			Dir:        ".",
			SQLitePath: "results.db",
		},
		Monitor: MonitorConfig{
			Addr:          ":8080",
			MJPEGInterval: 100 * time.Millisecond,
			JPEGQuality:   80,
		},
		MetricsAddr: ":9090",
		LogLevel:    "info",
		LogColor:    true,
	}
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults; unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("Config", "%s not found, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Decode reads YAML from r into cfg, keeping values r does not mention.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	if _, err := labels.Resolve(c.Dataset, c.LabelMap); err != nil {
		if c.LabelMap != "" {
			return invalid("label_map", "%v", err)
		}
		return invalid("dataset", "%v", err)
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		return invalid("threshold", "must be in [0, 1), got %v", c.Threshold)
	}
	if c.CyclePeriod <= 0 {
		return invalid("cycle_period", "must be positive, got %v", c.CyclePeriod)
	}
	if c.DisplayScale.X <= 0 || c.DisplayScale.Y <= 0 {
		return invalid("display_scale", "factors must be positive, got %v,%v", c.DisplayScale.X, c.DisplayScale.Y)
	}

	switch c.Backend.Kind {
	case BackendStatic:
	case BackendRemote:
		if c.Backend.URL == "" {
			return invalid("backend.url", "required for the remote backend")
		}
	default:
		return invalid("backend.kind", "unknown kind %q", c.Backend.Kind)
	}
	if c.Backend.InputWidth <= 0 || c.Backend.InputHeight <= 0 {
		return invalid("backend.input_width", "model input size must be positive, got %dx%d",
			c.Backend.InputWidth, c.Backend.InputHeight)
	}
	if c.Backend.Timeout <= 0 {
		return invalid("backend.timeout", "must be positive, got %v", c.Backend.Timeout)
	}

	if c.Source.Dir != "" && c.Source.FPS <= 0 {
		return invalid("source.fps", "must be positive, got %v", c.Source.FPS)
	}

	switch c.Log.Sink {
	case SinkYAML, SinkSQLite:
	default:
		return invalid("log.sink", "unknown sink %q", c.Log.Sink)
	}

	if c.Monitor.MJPEGInterval <= 0 {
		return invalid("monitor.mjpeg_interval", "must be positive, got %v", c.Monitor.MJPEGInterval)
	}
	if q := c.Monitor.JPEGQuality; q < 1 || q > 100 {
		return invalid("monitor.jpeg_quality", "must be in [1, 100], got %d", q)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", "%v", err)
	}
	return nil
}
