package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dudu/lipfilter/internal/landmark"
)

// detectLoop wakes every DetectPoll and attempts one detection
func (s *Session) detectLoop(ctx context.Context, src VideoSource) error {
	ticker := time.NewTicker(s.cfg.DetectPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = s.detectOnce(ctx, src)
		}
	}
}

// detectKey is the single flight every detection attempt joins, so a
// Refresh arriving while the loop's detection runs waits for that call
// instead of issuing another
const detectKey = "detect"

// detectOnce runs the detector on the current frame unless the source is
// not ready or the last successful detection began less than
// MinDetectInterval ago. Callers arriving while a detection runs share its
// outcome. Errors are logged here and returned for Refresh; the loop
// ignores them.
func (s *Session) detectOnce(ctx context.Context, src VideoSource) error {
	if ctx.Err() != nil || !src.Ready() {
		return nil
	}

	_, err, _ := s.flight.Do(detectKey, func() (any, error) {
		return nil, s.detect(ctx, src)
	})
	if err == nil || errors.Is(err, errSkipped) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}

	if errors.Is(err, ErrTimestampOrder) {
		s.metrics.DetectionError("timestamp")
		s.log.Debugw("detector rejected timestamp", "error", err)
		return nil
	}
	s.metrics.DetectionError("detect")
	s.log.Warnw("detection failed", "error", err)
	return err
}

// errSkipped marks an attempt inside the throttle interval or at a
// timestamp that is not newer than one already issued
var errSkipped = errors.New("detection skipped")

func (s *Session) detect(ctx context.Context, src VideoSource) error {
	now := s.clock.Now()
	s.detMu.Lock()
	if !s.lastSuccess.IsZero() && now.Sub(s.lastSuccess) < s.cfg.MinDetectInterval {
		s.detMu.Unlock()
		return errSkipped
	}
	ts := now.Sub(s.epoch).Milliseconds()
	if ts <= s.lastIssued {
		s.detMu.Unlock()
		return errSkipped
	}
	s.lastIssued = ts
	s.detMu.Unlock()

	frame := src.Frame()
	if frame == nil {
		return errSkipped
	}

	start := time.Now()
	set, err := s.det.Detect(ctx, frame, ts)
	elapsed := time.Since(start)
	if err != nil {
		return errors.Wrapf(err, "detect at %dms", ts)
	}

	s.slot.Store(&landmark.Result{Landmarks: set, Timestamp: ts})
	s.detMu.Lock()
	if now.After(s.lastSuccess) {
		s.lastSuccess = now
	}
	s.detMu.Unlock()

	s.recordDetection(elapsed)
	s.metrics.ObserveDetection(elapsed, set != nil)
	return nil
}
