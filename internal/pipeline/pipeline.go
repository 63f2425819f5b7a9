// Package pipeline assembles a filter session from configuration: the
// landmark detector, render target, compositor and style state.
package pipeline

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dudu/lipfilter/internal/capture"
	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/config"
	"github.com/dudu/lipfilter/internal/detector"
	"github.com/dudu/lipfilter/internal/inference"
	"github.com/dudu/lipfilter/internal/monitor"
	"github.com/dudu/lipfilter/internal/scheduler"
)

// Parts overrides what New would otherwise build from configuration
type Parts struct {
	// Opener is required
	Opener scheduler.Opener
	// Detector defaults to the SCRFD and face-mesh models named in the
	// config. The pipeline closes it either way.
	Detector Detector
	// Metrics is optional
	Metrics *monitor.Metrics
}

// Pipeline owns everything one filter session needs
type Pipeline struct {
	Session *scheduler.Session
	Styles  *compositor.StyleStore
	Palette compositor.Palette
	Target  RenderTarget
	Metrics *monitor.Metrics

	cfg         *config.Config
	capture     capture.Options
	detector    Detector
	ownsRuntime bool
	log         *zap.SugaredLogger
}

// New creates a new idle pipeline
func New(cfg *config.Config, parts Parts, log *zap.SugaredLogger) (*Pipeline, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if parts.Opener == nil {
		return nil, errors.New("pipeline: video opener is required")
	}

	palette, err := cfg.Style.Palette()
	if err != nil {
		return nil, err
	}
	style, err := cfg.Style.Resolve(palette)
	if err != nil {
		return nil, err
	}
	format, err := capture.ParseFormat(cfg.Capture.Format)
	if err != nil {
		return nil, err
	}

	target, err := NewTarget(Backend(cfg.Render.Backend), cfg.Render.Width, cfg.Render.Height, cfg.Camera.Mirror)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Styles:   compositor.NewStyleStore(style),
		Palette:  palette,
		Target:   target,
		Metrics:  parts.Metrics,
		cfg:      cfg,
		detector: parts.Detector,
		log:      log,
		capture: capture.Options{
			Format:   format,
			Quality:  cfg.Capture.Quality,
			Mirrored: target.Mirrored(),
		},
	}

	if p.detector == nil {
		if err := p.loadDetector(); err != nil {
			target.Close()
			return nil, err
		}
	}

	var comp *compositor.Compositor
	if cfg.Render.Seed != 0 {
		comp = compositor.NewSeeded(cfg.Render.CompositorConfig(), cfg.Render.Seed)
	} else {
		comp = compositor.New(cfg.Render.CompositorConfig(), nil)
	}

	deps := scheduler.Deps{
		Opener:     parts.Opener,
		Detector:   p.detector,
		Target:     target,
		Compositor: comp,
		Styles:     p.Styles,
		Logger:     log,
	}
	if parts.Metrics != nil {
		deps.Metrics = parts.Metrics
	}
	p.Session, err = scheduler.New(scheduler.Config{
		MinDetectInterval: cfg.Detector.MinInterval,
		RenderInterval:    cfg.Render.Interval(),
	}, deps)
	if err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// loadDetector initializes ONNX Runtime and loads both models
func (p *Pipeline) loadDetector() error {
	dc := p.cfg.Detector
	provider, err := inference.ParseProvider(dc.Provider)
	if err != nil {
		return err
	}
	if err := inference.Initialize(dc.Library); err != nil {
		return errors.Wrap(err, "failed to initialize inference")
	}
	p.ownsRuntime = true

	opts := detector.DefaultOptions()
	opts.FaceModel = dc.FaceModel
	opts.MeshModel = dc.MeshModel
	opts.Provider = provider
	opts.DetectionSize = dc.DetectionSize
	opts.MinConfidence = float32(dc.MinConfidence)
	opts.NMSThreshold = float32(dc.NMSThreshold)

	p.log.Infow("loading models", "face", opts.FaceModel, "mesh", opts.MeshModel, "provider", provider)
	det, err := detector.NewFaceMesh(opts, p.log)
	if err != nil {
		_ = inference.Shutdown()
		p.ownsRuntime = false
		return errors.Wrap(err, "failed to create detector")
	}
	p.detector = det
	return nil
}

// SwatchName names the active color
func (p *Pipeline) SwatchName() string {
	return p.Palette.NameOf(p.Styles.Load().Color)
}

// CaptureOptions returns how captures are encoded
func (p *Pipeline) CaptureOptions() capture.Options {
	return p.capture
}

// Capture encodes the presented frame and writes it to the capture
// directory, returning the file path
func (p *Pipeline) Capture() (string, error) {
	img, err := capture.Snapshot(p.Target, p.SwatchName(), p.capture)
	if err != nil {
		return "", err
	}
	path, err := capture.Save(p.cfg.Capture.Dir, img)
	if err != nil {
		return "", err
	}
	p.log.Infow("frame captured", "path", path)
	return path, nil
}

// ApplyStyle replaces the current look with sc and refreshes the overlay
// when the color changed
func (p *Pipeline) ApplyStyle(ctx context.Context, sc config.StyleConfig) error {
	style, err := sc.Resolve(p.Palette)
	if err != nil {
		return err
	}
	prev := p.Styles.Load()
	p.Styles.Store(style)
	if prev.Color == style.Color {
		return nil
	}
	err = p.Session.Refresh(ctx)
	if errors.Is(err, scheduler.ErrNotRunning) {
		return nil
	}
	return err
}

// Close stops the session and releases the models and target
func (p *Pipeline) Close() error {
	var errs error
	if p.Session != nil {
		errs = errors.CombineErrors(errs, p.Session.Stop())
	}
	if p.detector != nil {
		errs = errors.CombineErrors(errs, p.detector.Close())
	}
	if p.Target != nil {
		errs = errors.CombineErrors(errs, p.Target.Close())
	}
	if p.ownsRuntime {
		errs = errors.CombineErrors(errs, inference.Shutdown())
	}
	return errs
}
