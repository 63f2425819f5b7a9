package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dudu/lipfilter/internal/camera"
	"github.com/dudu/lipfilter/internal/config"
	"github.com/dudu/lipfilter/internal/logger"
	"github.com/dudu/lipfilter/internal/monitor"
	"github.com/dudu/lipfilter/internal/pipeline"
	"github.com/dudu/lipfilter/internal/server"
	"github.com/dudu/lipfilter/internal/ui"
)

var headless bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the camera and show the filtered preview",
	Long: `Opens the webcam, tracks the lips and draws the selected shade over them.

Keys in the preview window:
  n ]  next shade        p [  previous shade     0  no effect
  + -  opacity           b    brightness         c  capture
  q    quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFilter(cmd.Context())
	},
}

func init() {
	runCmd.Flags().Int("camera", 0, "camera device index")
	runCmd.Flags().String("backend", config.BackendVector, "render backend: gg or opencv")
	runCmd.Flags().String("color", "", "starting shade name, none or #RRGGBB")
	runCmd.Flags().Float64("opacity", 0.7, "lip fill opacity")
	runCmd.Flags().String("provider", "cpu", "inference provider: cpu, coreml or cuda")
	runCmd.Flags().Bool("server", false, "serve the HTTP control API")
	runCmd.Flags().String("addr", "", "HTTP listen address")
	runCmd.Flags().String("out", "", "capture directory")
	runCmd.Flags().BoolVar(&headless, "headless", false, "no preview window; use with --server")
	rootCmd.AddCommand(runCmd)
}

func cameraOpener(log *zap.SugaredLogger) camera.Opener {
	return camera.Opener{
		Config: camera.Config{
			DeviceID:  cfg.Camera.Device,
			Width:     cfg.Camera.Width,
			Height:    cfg.Camera.Height,
			TargetFPS: cfg.Camera.FPS,
		},
		Log: log.Named("camera"),
	}
}

func runFilter(ctx context.Context) error {
	log := logger.Named("lipfilter")
	if headless && !cfg.Server.Enabled {
		return errors.WithHint(errors.New("nothing to show"), "pass --server with --headless")
	}

	metrics := monitor.New()
	p, err := pipeline.New(cfg, pipeline.Parts{
		Opener:  cameraOpener(log),
		Metrics: metrics,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warnw("shutdown", "error", err)
		}
	}()

	if err := p.Session.Start(ctx); err != nil {
		return err
	}
	log.Infow("filter running", "swatch", p.SwatchName(), "backend", cfg.Render.Backend)

	if v.ConfigFileUsed() != "" {
		config.Watch(v, func(c *config.Config) {
			if err := p.ApplyStyle(ctx, c.Style); err != nil {
				log.Warnw("config reload rejected", "error", err)
				return
			}
			log.Infow("style reloaded", "swatch", p.SwatchName())
		}, func(err error) {
			log.Warnw("config reload failed", "error", err)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		metrics.Run(gctx, time.Second, log)
		return nil
	})
	if cfg.Server.Enabled {
		srv, err := server.New(server.Config{
			Addr:         cfg.Server.Addr,
			CaptureRate:  cfg.Server.CaptureRate,
			CaptureBurst: cfg.Server.CaptureBurst,
			PreviewFPS:   cfg.Server.PreviewFPS,
			Capture:      p.CaptureOptions(),
		}, server.Deps{
			Session: p.Session,
			Palette: p.Palette,
			Metrics: metrics.Handler(),
			Logger:  log,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if headless {
		g.Go(func() error { return awaitFailure(gctx, p.Session.Failed()) })
	} else {
		// the window must stay on the main goroutine
		err = preview(gctx, p, log)
		if err == nil {
			err = errStopped
		}
		g.Go(func() error { return err })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infow("filter stopped")
	return nil
}

var (
	// errStopped ends the errgroup once the preview or session is over
	errStopped       = errors.New("stopped")
	errCameraStopped = errors.New("camera stopped delivering frames")
)

func cameraStopped(err error) error {
	return errors.Mark(errors.Wrap(err, "camera stopped delivering frames"), errCameraStopped)
}

// awaitFailure blocks until ctx is done or a session run fails on its own.
// A session stopped through the API stays idle and can be started again.
func awaitFailure(ctx context.Context, failed <-chan error) error {
	select {
	case <-ctx.Done():
		return errStopped
	case err := <-failed:
		return cameraStopped(err)
	}
}

// preview shows the presented frame and handles keys until quit or until
// ctx is done. A camera failure also ends it.
func preview(ctx context.Context, p *pipeline.Pipeline, log *zap.SugaredLogger) error {
	w, h := p.Target.Size()
	window := ui.NewWindow("Lipstick Filter", w, h)
	defer window.Close()

	controls := &ui.Controls{
		Styles:  p.Styles,
		Palette: p.Palette,
		Refresh: p.Session.Refresh,
		Capture: func(string) error {
			_, err := p.Capture()
			return err
		},
		Log: log,
	}

	failed := p.Session.Failed()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return cameraStopped(err)
		default:
		}

		window.SetStatus(controls.Status())
		if err := window.Show(p.Target.Snapshot()); err != nil {
			log.Debugw("preview frame dropped", "error", err)
		}
		// WaitKey must be called to process window events on macOS
		if controls.Apply(ctx, ui.KeyAction(window.WaitKey(10))) {
			log.Infow("quit requested")
			return nil
		}
	}
}
