// detect_once runs a single detection pass over one image and writes the
// annotated result next to it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/JdeRobot/dl-objecttracker/internal/backend"
	"github.com/JdeRobot/dl-objecttracker/internal/config"
	"github.com/JdeRobot/dl-objecttracker/internal/labels"
	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/pipeline"
	"github.com/JdeRobot/dl-objecttracker/internal/resultlog"
)

var (
	configPath = flag.String("config", "objecttracker.yaml", "YAML config file (missing file means defaults)")
	imagePath  = flag.String("image", "", "Image to run detection on (required)")
	outPath    = flag.String("out", "", "Annotated output path (default <image>_detections.png)")
	logDir     = flag.String("log-dir", "", "Also write the YAML result log to this directory")
	logLevel   = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	if *imagePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	table, err := labels.Resolve(cfg.Dataset, cfg.LabelMap)
	if err != nil {
		log.Fatalf("Failed to load labels: %v", err)
	}

	var be backend.Backend
	if cfg.Backend.Kind == config.BackendRemote {
		remote := backend.NewRemote(backend.RemoteConfig{
			URL:        cfg.Backend.URL,
			Width:      cfg.Backend.InputWidth,
			Height:     cfg.Backend.InputHeight,
			Convention: cfg.Backend.Convention,
			Timeout:    cfg.Backend.Timeout,
			Classes:    cfg.Backend.Classes,
		})
		defer remote.Close()
		be = remote
	} else {
		be = backend.NewStatic(cfg.Backend.Convention, cfg.Backend.Detections...).
			WithInputSize(cfg.Backend.InputWidth, cfg.Backend.InputHeight)
	}
	if cfg.Backend.Resize {
		be = backend.NewResizing(be, imaging.Linear)
	}

	var results *resultlog.Logger
	if *logDir != "" {
		results = resultlog.New(resultlog.NewYAMLSink(*logDir), resultlog.WithEnabled(true))
	}

	opts := []pipeline.Option{
		pipeline.WithThreshold(cfg.Threshold),
		pipeline.WithDisplayScale(cfg.DisplayScale),
	}
	if results != nil {
		opts = append(opts, pipeline.WithResultLogger(results))
	}
	p, err := pipeline.New(be, table, opts...)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	img, err := imaging.Open(*imagePath, imaging.AutoOrientation(true))
	if err != nil {
		log.Fatalf("Failed to open image: %v", err)
	}
	p.SetInput(img, 0)
	if err := p.RunOnce(context.Background()); err != nil {
		log.Fatalf("Detection failed: %v", err)
	}

	out := *outPath
	if out == "" {
		ext := filepath.Ext(*imagePath)
		out = strings.TrimSuffix(*imagePath, ext) + "_detections.png"
	}
	if err := imaging.Save(p.ProcessedFrame(), out); err != nil {
		log.Fatalf("Failed to save %s: %v", out, err)
	}

	if results != nil {
		if status, err := p.FinalizeLog(); err != nil {
			log.Fatalf("Failed to write result log: %v", err)
		} else {
			log.Printf("Result log: %s", status)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p.Detections()); err != nil {
		log.Fatalf("Failed to print detections: %v", err)
	}
	log.Printf("Saved %s", out)
}
