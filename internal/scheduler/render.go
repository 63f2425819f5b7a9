package scheduler

import (
	"context"
	"time"

	"github.com/dudu/lipfilter/internal/landmark"
)

// renderLoop renders once per source frame, or every RenderInterval when
// the source does not announce frames
func (s *Session) renderLoop(ctx context.Context, src VideoSource) error {
	var frames <-chan struct{}
	if n, ok := src.(FrameNotifier); ok {
		frames = n.Frames()
	}

	var tick <-chan time.Time
	if frames == nil {
		ticker := time.NewTicker(s.cfg.RenderInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-frames:
			if !ok {
				return ErrSourceClosed
			}
			s.renderOnce(src)
		case <-tick:
			s.renderOnce(src)
		}
	}
}

// renderOnce draws the current frame and the latest landmarks onto the
// target. It never blocks on detection.
func (s *Session) renderOnce(src VideoSource) {
	if !src.Ready() {
		return
	}
	frame := src.Frame()
	if frame == nil {
		return
	}

	start := time.Now()
	style := s.styles.Load()

	tw, th := s.target.Size()
	sw, sh := src.Size()
	area, changed := s.resolver.Resolve(tw, th, sw, sh)
	if changed {
		s.log.Debugw("draw area changed", "x", area.X, "y", area.Y, "w", area.W, "h", area.H)
	}
	if area.Empty() {
		return
	}

	s.target.Begin()
	s.target.DrawFrame(frame, area, style.VideoAlpha())

	var set landmark.Set
	if res := s.slot.Load(); res != nil {
		set = res.Landmarks
	}
	s.comp.Draw(s.target.Overlay(), set, area, style)
	s.target.Present()

	elapsed := time.Since(start)
	s.recordRender(elapsed)
	s.metrics.ObserveRender(elapsed)
}
