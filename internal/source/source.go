// Package source feeds still images from disk into a pipeline at a fixed rate.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/JdeRobot/dl-objecttracker/internal/logger"
)

// ErrNoImages is returned when a directory holds no decodable image files.
var ErrNoImages = errors.New("no images found")

// Sink receives frames. *pipeline.Pipeline implements it.
type Sink interface {
	SetInput(img image.Image, frameIndex int)
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".tif": true, ".tiff": true,
}

// Config controls a directory source.
type Config struct {
	Dir  string
	FPS  float64
	Loop bool
}

// Directory plays the images of a directory in lexical order.
type Directory struct {
	cfg   Config
	files []string
	log   *logger.Module
}

// NewDirectory lists the images in cfg.Dir.
func NewDirectory(cfg Config) (*Directory, error) {
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("source fps must be positive, got %v", cfg.FPS)
	}
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(cfg.Dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, cfg.Dir)
	}
	sort.Strings(files)

	return &Directory{cfg: cfg, files: files, log: logger.For("Source")}, nil
}

// Files returns the image paths in playback order.
func (d *Directory) Files() []string {
	return append([]string(nil), d.files...)
}

// Run publishes one image per tick until the files run out (without Loop)
// or ctx is cancelled. Frame indices keep increasing across loops.
// Unreadable files are skipped with a warning.
func (d *Directory) Run(ctx context.Context, sink Sink) error {
	interval := time.Duration(float64(time.Second) / d.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info("Playing %d images from %s at %.1f fps (loop=%v)", len(d.files), d.cfg.Dir, d.cfg.FPS, d.cfg.Loop)

	frame := 0
	for {
		published := 0
		for _, path := range d.files {
			img, err := imaging.Open(path)
			if err != nil {
				d.log.Warn("Skipping %s: %v", path, err)
				continue
			}
			sink.SetInput(img, frame)
			frame++
			published++

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		if !d.cfg.Loop {
			d.log.Info("Finished after %d frames", frame)
			return nil
		}
		if published == 0 {
			return fmt.Errorf("%w: every file in %s failed to decode", ErrNoImages, d.cfg.Dir)
		}
	}
}
