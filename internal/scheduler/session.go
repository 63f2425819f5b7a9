// Package scheduler runs the detection and render loops of a filter session
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/geometry"
	"github.com/dudu/lipfilter/internal/landmark"
)

// DefaultMinDetectInterval caps detection at roughly 30 per second
const DefaultMinDetectInterval = 33 * time.Millisecond

// State is the session lifecycle state
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Config holds scheduler configuration
type Config struct {
	// MinDetectInterval is the minimum time between successful detections
	MinDetectInterval time.Duration
	// DetectPoll is how often the detection loop wakes
	DetectPoll time.Duration
	// RenderInterval paces rendering for sources without frame notifications
	RenderInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		MinDetectInterval: DefaultMinDetectInterval,
		DetectPoll:        5 * time.Millisecond,
		RenderInterval:    time.Second / 60,
	}
}

// Deps are the collaborators a Session drives
type Deps struct {
	Opener     Opener
	Detector   Detector
	Target     Target
	Compositor *compositor.Compositor
	Styles     *compositor.StyleStore
	Clock      Clock   // optional, defaults to wall time
	Metrics    Metrics // optional
	Logger     *zap.SugaredLogger
}

// Timing holds performance timing information
type Timing struct {
	Detection  time.Duration
	Render     time.Duration
	Detections uint64
	Renders    uint64
}

// run holds everything owned by one Running period
type run struct {
	ctx       context.Context
	cancel    context.CancelFunc
	src       VideoSource
	done      chan struct{}
	err       error
	refreshes sync.WaitGroup
}

// Session owns the video source for the duration of a run and drives
// detection and rendering against it
type Session struct {
	cfg     Config
	det     Detector
	opener  Opener
	target  Target
	comp    *compositor.Compositor
	styles  *compositor.StyleStore
	clock   Clock
	metrics Metrics
	log     *zap.SugaredLogger

	lifecycle sync.Mutex // serializes Start and Stop
	mu        sync.Mutex // guards state and cur
	state     State
	cur       *run
	failed    chan error

	slot   Slot
	flight singleflight.Group

	// epoch is fixed for the session's lifetime so timestamps keep
	// increasing across runs; a detector may outlive any single run
	epoch time.Time

	detMu       sync.Mutex // guards the fields below
	lastIssued  int64
	lastSuccess time.Time

	resolver geometry.Resolver // render loop only

	timingMu sync.Mutex
	timing   Timing
}

// New creates an idle session
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Opener == nil || deps.Detector == nil || deps.Target == nil {
		return nil, errors.New("scheduler: opener, detector and target are required")
	}
	if deps.Compositor == nil {
		deps.Compositor = compositor.New(compositor.DefaultConfig(), nil)
	}
	if deps.Styles == nil {
		deps.Styles = compositor.NewStyleStore(compositor.DefaultStyle())
	}
	if deps.Clock == nil {
		deps.Clock = realClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	def := DefaultConfig()
	if cfg.MinDetectInterval <= 0 {
		cfg.MinDetectInterval = def.MinDetectInterval
	}
	if cfg.DetectPoll <= 0 {
		cfg.DetectPoll = def.DetectPoll
	}
	if cfg.RenderInterval <= 0 {
		cfg.RenderInterval = def.RenderInterval
	}

	return &Session{
		cfg:        cfg,
		det:        deps.Detector,
		opener:     deps.Opener,
		target:     deps.Target,
		comp:       deps.Compositor,
		styles:     deps.Styles,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		log:        deps.Logger.Named("scheduler"),
		failed:     make(chan error, 1),
		epoch:      deps.Clock.Now(),
		lastIssued: -1,
	}, nil
}

// Start acquires the video source and launches the detection and render
// loops. Cancelling ctx stops the loops; Stop must still be called to
// release the source. On acquisition failure the session stays idle and
// the error matches ErrAcquisition.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() == StateRunning {
		return ErrAlreadyRunning
	}

	src, err := s.opener.Open(ctx)
	if err != nil {
		err = errors.WithHint(errors.Wrap(err, "failed to open video source"),
			"check that a camera is connected and not used by another program")
		return errors.Mark(err, ErrAcquisition)
	}

	s.detMu.Lock()
	s.lastSuccess = time.Time{}
	s.detMu.Unlock()
	s.slot.Clear()
	s.resolver.Reset()

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	r := &run{ctx: gctx, cancel: cancel, src: src, done: make(chan struct{})}

	g.Go(func() error { return s.detectLoop(gctx, src) })
	g.Go(func() error { return s.renderLoop(gctx, src) })
	go func() {
		r.err = g.Wait()
		if r.err != nil {
			s.log.Warnw("session loops stopped", "error", r.err)
			select {
			case s.failed <- r.err:
			default:
			}
		}
		close(r.done)
	}()

	s.mu.Lock()
	s.cur = r
	s.state = StateRunning
	s.mu.Unlock()

	s.log.Infow("session started")
	return nil
}

// Stop cancels both loops, waits for them, releases the video source and
// clears the target. It is safe to call on an idle session.
func (s *Session) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.state = StateIdle
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	r.cancel()
	<-r.done
	r.refreshes.Wait()

	err := r.src.Close()
	s.target.Clear()
	s.slot.Clear()
	s.resolver.Reset()

	s.log.Infow("session stopped")
	if err != nil {
		return errors.Wrap(err, "failed to release video source")
	}
	return nil
}

// State returns the lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the current run's loops have ended,
// or nil when idle
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.done
}

// Failed delivers the error that ended a run on its own, such as the video
// source closing. Runs ended by Stop or by cancelling the Start context
// deliver nothing, so callers can keep waiting across Stop and Start.
func (s *Session) Failed() <-chan error {
	return s.failed
}

// Refresh runs one detection immediately, subject to the same throttle
// and ordering rules as the detection loop. Style changes call it so the
// new look appears without waiting for the next tick.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	r := s.cur
	if r == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	r.refreshes.Add(1)
	s.mu.Unlock()
	defer r.refreshes.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.ctx, cancel)
	defer stop()

	return s.detectOnce(ctx, r.src)
}

// Result returns the most recent detection result, or nil
func (s *Session) Result() *landmark.Result {
	return s.slot.Load()
}

// Target returns the render target
func (s *Session) Target() Target {
	return s.target
}

// Styles returns the style store the render loop reads
func (s *Session) Styles() *compositor.StyleStore {
	return s.styles
}

// LastTiming returns timing from the most recent detection and render
func (s *Session) LastTiming() Timing {
	s.timingMu.Lock()
	defer s.timingMu.Unlock()
	return s.timing
}

func (s *Session) recordDetection(d time.Duration) {
	s.timingMu.Lock()
	s.timing.Detection = d
	s.timing.Detections++
	s.timingMu.Unlock()
}

func (s *Session) recordRender(d time.Duration) {
	s.timingMu.Lock()
	s.timing.Render = d
	s.timing.Renders++
	s.timingMu.Unlock()
}
