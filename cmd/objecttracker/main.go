package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/disintegration/imaging"

	"github.com/JdeRobot/dl-objecttracker/internal/backend"
	"github.com/JdeRobot/dl-objecttracker/internal/config"
	"github.com/JdeRobot/dl-objecttracker/internal/labels"
	"github.com/JdeRobot/dl-objecttracker/internal/logger"
	"github.com/JdeRobot/dl-objecttracker/internal/metrics"
	"github.com/JdeRobot/dl-objecttracker/internal/monitor"
	"github.com/JdeRobot/dl-objecttracker/internal/pipeline"
	"github.com/JdeRobot/dl-objecttracker/internal/render"
	"github.com/JdeRobot/dl-objecttracker/internal/resultlog"
	"github.com/JdeRobot/dl-objecttracker/internal/scheduler"
	"github.com/JdeRobot/dl-objecttracker/internal/source"
)

var (
	// Command-line flags. Flags that are set explicitly override the config file.
	configPath  = flag.String("config", "objecttracker.yaml", "YAML config file (missing file means defaults)")
	dataset     = flag.String("dataset", "", "Label dataset (voc, coco, kitti, pet, oid)")
	labelMap    = flag.String("label-map", "", "Label map pbtxt file (required for oid)")
	threshold   = flag.Float64("threshold", 0, "Score threshold in [0, 1)")
	sourceDir   = flag.String("source", "", "Directory of images to play")
	backendKind = flag.String("backend", "", "Inference backend (static, remote)")
	backendURL  = flag.String("url", "", "Detection server websocket URL for the remote backend")
	httpAddr    = flag.String("http", "", "Monitor server address")
	metricsAddr = flag.String("metrics", "", "Metrics server address (empty disables)")
	logResults  = flag.Bool("log-results", false, "Start with result logging enabled")
	paused      = flag.Bool("paused", false, "Start with continuous detection disabled")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// App wires the pipeline, its scheduler, the frame source and the monitor.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfg        config.Config
	metrics    *metrics.Metrics
	backend    backend.Backend
	pipeline   *pipeline.Pipeline
	scheduler  *scheduler.Scheduler
	source     *source.Directory
	monitor    *monitor.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	logger.Info("Main", "Object tracker starting...")
	logger.Info("Main", "Log level: %s", level)

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to create tracker: %v", err)
	}
	app.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Tracker stopped")
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dataset":
			cfg.Dataset = *dataset
		case "label-map":
			cfg.LabelMap = *labelMap
		case "paused":
			cfg.Paused = *paused
		case "threshold":
			cfg.Threshold = *threshold
		case "source":
			cfg.Source.Dir = *sourceDir
		case "backend":
			cfg.Backend.Kind = *backendKind
		case "url":
			cfg.Backend.URL = *backendURL
		case "http":
			cfg.Monitor.Addr = *httpAddr
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "log-results":
			cfg.Log.Enabled = *logResults
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-color":
			cfg.LogColor = *logColor
		}
	})
}

// NewApp builds every component from cfg without starting anything.
func NewApp(cfg config.Config) (*App, error) {
	table, err := labels.Resolve(cfg.Dataset, cfg.LabelMap)
	if err != nil {
		return nil, err
	}
	m := metrics.New()

	be, err := newBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	var sink resultlog.Sink
	switch cfg.Log.Sink {
	case config.SinkSQLite:
		s := resultlog.NewSQLiteSink(cfg.Log.SQLitePath)
		logger.Info("Main", "Result log run id: %s", s.RunID)
		sink = s
	default:
		sink = resultlog.NewYAMLSink(cfg.Log.Dir)
	}
	results := resultlog.New(sink, resultlog.WithEnabled(cfg.Log.Enabled), resultlog.WithMetrics(m))

	var renderOpts []render.Option
	if cfg.Caption != "" {
		renderOpts = append(renderOpts, render.WithCaption(cfg.Caption, image.Pt(10, 20), nil))
	}

	p, err := pipeline.New(be, table,
		pipeline.WithThreshold(cfg.Threshold),
		pipeline.WithDisplayScale(cfg.DisplayScale),
		pipeline.WithRenderer(render.New(table, renderOpts...)),
		pipeline.WithResultLogger(results),
		pipeline.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		p.SetEnabled(false)
	}

	sched := scheduler.New(p, scheduler.WithPeriod(cfg.CyclePeriod), scheduler.WithMetrics(m))

	var src *source.Directory
	if cfg.Source.Dir != "" {
		src, err = source.NewDirectory(source.Config{Dir: cfg.Source.Dir, FPS: cfg.Source.FPS, Loop: cfg.Source.Loop})
		if err != nil {
			return nil, err
		}
	}

	monCfg := monitor.DefaultConfig()
	monCfg.Addr = cfg.Monitor.Addr
	monCfg.TargetFPS = float64(time.Second) / float64(cfg.CyclePeriod)
	monCfg.MJPEGInterval = cfg.Monitor.MJPEGInterval
	monCfg.JPEGQuality = cfg.Monitor.JPEGQuality
	mon := monitor.NewServer(monCfg, p, sched, m)

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		metrics:   m,
		backend:   be,
		pipeline:  p,
		scheduler: sched,
		source:    src,
		monitor:   mon,
		httpServer: &http.Server{
			Addr:    monCfg.Addr,
			Handler: mon.Handler(),
		},
	}, nil
}

func newBackend(cfg config.BackendConfig) (backend.Backend, error) {
	var be backend.Backend
	switch cfg.Kind {
	case config.BackendStatic:
		be = backend.NewStatic(cfg.Convention, cfg.Detections...).
			WithInputSize(cfg.InputWidth, cfg.InputHeight).
			WithClasses(cfg.Classes...)
	case config.BackendRemote:
		be = backend.NewRemote(backend.RemoteConfig{
			URL:        cfg.URL,
			Width:      cfg.InputWidth,
			Height:     cfg.InputHeight,
			Convention: cfg.Convention,
			Timeout:    cfg.Timeout,
			Classes:    cfg.Classes,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Kind)
	}
	logger.Info("Main", "Backend: %s (%s, %dx%d)", cfg.Kind, cfg.Convention, cfg.InputWidth, cfg.InputHeight)

	if cfg.Resize {
		be = backend.NewResizing(be, imaging.Linear)
	}
	return be, nil
}

// Start launches the scheduler, the source and the HTTP servers.
func (a *App) Start() {
	logger.Info("Main", "Configuration:")
	logger.Info("Main", "  Dataset: %s, threshold %.2f", a.cfg.Dataset, a.cfg.Threshold)
	logger.Info("Main", "  Cycle period: %v", a.scheduler.Period())
	logger.Info("Main", "  Monitor: %s", a.httpServer.Addr)
	logger.Info("Main", "  Result log: %s (enabled=%v)", a.cfg.Log.Sink, a.cfg.Log.Enabled)

	if a.cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", a.cfg.MetricsAddr)
			if err := a.metrics.StartServer(a.cfg.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting monitor on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "Monitor server error: %v", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.scheduler.Run(a.ctx)
	}()

	if a.source != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.source.Run(a.ctx, a.pipeline); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Main", "Source stopped: %v", err)
			}
		}()
	}

	logger.Info("Main", "Tracker started")
}

// Shutdown stops every goroutine and writes the result log.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("monitor shutdown: %w", err))
	}
	a.monitor.Close()

	a.cancel()
	a.wg.Wait()

	status, err := a.pipeline.FinalizeLog()
	logger.Info("Main", "Result log: %s", status)
	if err != nil {
		errs = append(errs, err)
	}

	if c, ok := a.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}

	logger.Info("Main", "Cycles: %d, frames processed: %d, inference errors: %d",
		a.metrics.Cycles.Load(), a.metrics.FramesProcessed.Load(), a.metrics.InferenceErrors.Load())
	return errors.Join(errs...)
}
