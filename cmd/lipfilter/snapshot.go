package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dudu/lipfilter/internal/camera"
	"github.com/dudu/lipfilter/internal/config"
	"github.com/dudu/lipfilter/internal/logger"
	"github.com/dudu/lipfilter/internal/pipeline"
	"github.com/dudu/lipfilter/internal/scheduler"
)

var (
	snapshotImage string
	snapshotWait  time.Duration
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Render one filtered frame to a file",
	Example: `  lipfilter snapshot --image face.jpg --color "Fiery Crimson"
  lipfilter snapshot --camera 1 --format jpeg --out shots`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSnapshot(cmd.Context())
	},
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotImage, "image", "i", "", "filter a still image instead of the camera")
	snapshotCmd.Flags().DurationVar(&snapshotWait, "wait", 5*time.Second, "how long to wait for a face")
	snapshotCmd.Flags().Int("camera", 0, "camera device index")
	snapshotCmd.Flags().String("backend", config.BackendVector, "render backend: gg or opencv")
	snapshotCmd.Flags().String("color", "", "shade name, none or #RRGGBB")
	snapshotCmd.Flags().Float64("opacity", 0.7, "lip fill opacity")
	snapshotCmd.Flags().String("provider", "cpu", "inference provider: cpu, coreml or cuda")
	snapshotCmd.Flags().String("out", "", "output directory")
	snapshotCmd.Flags().String("format", "", "png or jpeg")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(ctx context.Context) error {
	log := logger.Named("snapshot")

	var opener scheduler.Opener = cameraOpener(log)
	if snapshotImage != "" {
		opener = camera.StillOpener{Path: snapshotImage}
		// a still is never mirrored
		cfg.Camera.Mirror = false
	}

	p, err := pipeline.New(cfg, pipeline.Parts{Opener: opener}, log)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Session.Start(ctx); err != nil {
		return err
	}
	if err := waitForOverlay(ctx, p, snapshotWait, log); err != nil {
		return err
	}

	path, err := p.Capture()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

// waitForOverlay returns once a frame rendered after a face was found has
// been presented. Without a face before timeout it settles for any frame.
func waitForOverlay(ctx context.Context, p *pipeline.Pipeline, timeout time.Duration, log *zap.SugaredLogger) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	var faceAt uint64
	found := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Session.Done():
			return errCameraStopped
		case <-deadline:
			if p.Session.LastTiming().Renders == 0 {
				return errors.Newf("no frame rendered within %s", timeout)
			}
			log.Warnw("no face found, saving the unfiltered frame", "waited", timeout)
			return nil
		case <-ticker.C:
		}

		if err := p.Session.Refresh(ctx); err != nil {
			log.Debugw("detection failed", "error", err)
		}
		renders := p.Session.LastTiming().Renders
		if !found && p.Session.Result().Found() {
			found, faceAt = true, renders
		}
		if found && renders > faceAt {
			return nil
		}
	}
}
