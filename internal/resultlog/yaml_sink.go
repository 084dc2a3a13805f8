package resultlog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/JdeRobot/dl-objecttracker/pkg/types"
)

const (
	DefaultRecordsFile = "log_network.yaml"
	DefaultFPSFile     = "fps_network.yaml"
)

// YAMLSink writes the records and the mean throughput as two YAML documents.
type YAMLSink struct {
	Dir         string
	RecordsFile string
	FPSFile     string
}

// NewYAMLSink writes the default file names into dir.
func NewYAMLSink(dir string) *YAMLSink {
	return &YAMLSink{Dir: dir, RecordsFile: DefaultRecordsFile, FPSFile: DefaultFPSFile}
}

func (s *YAMLSink) Write(records []types.LogRecord, meanFPS float64) error {
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	if records == nil {
		records = []types.LogRecord{}
	}
	if err := writeYAML(filepath.Join(s.Dir, s.RecordsFile), records); err != nil {
		return err
	}
	return writeYAML(filepath.Join(s.Dir, s.FPSFile), meanFPS)
}

func writeYAML(path string, v any) error {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadYAML loads a log written by YAMLSink.
func ReadYAML(dir string) ([]types.LogRecord, float64, error) {
	var records []types.LogRecord
	var mean float64

	data, err := os.ReadFile(filepath.Join(dir, DefaultRecordsFile))
	if err != nil {
		return nil, 0, err
	}
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, 0, fmt.Errorf("decode records: %w", err)
	}
	data, err = os.ReadFile(filepath.Join(dir, DefaultFPSFile))
	if err != nil {
		return nil, 0, err
	}
	if err := yaml.Unmarshal(data, &mean); err != nil {
		return nil, 0, fmt.Errorf("decode mean fps: %w", err)
	}
	return records, mean, nil
}
