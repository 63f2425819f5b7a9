package scheduler

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/landmark"
	"github.com/dudu/lipfilter/internal/landmark/landmarktest"
	"github.com/dudu/lipfilter/internal/surface"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	frame  image.Image
	ready  atomic.Bool
	closed atomic.Bool
	frames chan struct{}
}

func newFakeSource(w, h int) *fakeSource {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.RGBA{R: 90, G: 90, B: 90, A: 255}), image.Point{}, draw.Src)
	src := &fakeSource{frame: frame}
	src.ready.Store(true)
	return src
}

func (f *fakeSource) Ready() bool { return f.ready.Load() }
func (f *fakeSource) Size() (int, int) {
	b := f.frame.Bounds()
	return b.Dx(), b.Dy()
}
func (f *fakeSource) Frame() image.Image       { return f.frame }
func (f *fakeSource) Frames() <-chan struct{} { return f.frames }
func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeDetector struct {
	mu       sync.Mutex
	calls    []int64
	errs     []error
	set      landmark.Set
	strict   bool // reject timestamps that do not increase, like FaceMesh
	rejected int

	entered chan struct{} // when set, Detect signals here and waits on release
	release chan struct{}
}

func (d *fakeDetector) Detect(_ context.Context, _ image.Image, ts int64) (landmark.Set, error) {
	d.mu.Lock()
	if d.strict && len(d.calls) > 0 && ts <= d.calls[len(d.calls)-1] {
		d.rejected++
		d.mu.Unlock()
		return nil, errors.Wrapf(ErrTimestampOrder, "timestamp %d", ts)
	}
	d.calls = append(d.calls, ts)
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	entered, release := d.entered, d.release
	d.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if err != nil {
		return nil, err
	}
	return d.set, nil
}

func (d *fakeDetector) Rejected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rejected
}

func (d *fakeDetector) Calls() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.calls...)
}

type fixture struct {
	session  *Session
	source   *fakeSource
	detector *fakeDetector
	clock    *fakeClock
	target   *surface.VectorTarget
	logs     *observer.ObservedLogs
}

// newFixture builds a session whose loops effectively never fire on their
// own, so tests drive detection through Refresh
func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		source:   newFakeSource(600, 600),
		detector: &fakeDetector{set: landmarktest.DefaultMouth.Set()},
		clock:    &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		target:   surface.NewVectorTarget(600, 600, false),
		logs:     logs,
	}
	if cfg.DetectPoll == 0 {
		cfg.DetectPoll = time.Hour
	}
	if cfg.RenderInterval == 0 {
		cfg.RenderInterval = time.Hour
	}

	s, err := New(cfg, Deps{
		Opener: OpenerFunc(func(context.Context) (VideoSource, error) {
			return f.source, nil
		}),
		Detector:   f.detector,
		Target:     f.target,
		Compositor: compositor.NewSeeded(compositor.DefaultConfig(), 7),
		Clock:      f.clock,
		Logger:     zap.New(core).Sugar(),
	})
	require.NoError(t, err)
	f.session = s
	t.Cleanup(func() { _ = s.Stop() })
	return f
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func TestStartAcquisitionFailureStaysIdle(t *testing.T) {
	s, err := New(DefaultConfig(), Deps{
		Opener: OpenerFunc(func(context.Context) (VideoSource, error) {
			return nil, errors.New("device busy")
		}),
		Detector: &fakeDetector{},
		Target:   surface.NewVectorTarget(10, 10, false),
	})
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAcquisition))
	assert.Contains(t, err.Error(), "device busy")
	assert.Equal(t, StateIdle, s.State())
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrNotRunning)
	assert.NoError(t, s.Stop())
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.session.Start(context.Background()))
	assert.Equal(t, StateRunning, f.session.State())
	assert.ErrorIs(t, f.session.Start(context.Background()), ErrAlreadyRunning)
}

func TestDetectionThrottle(t *testing.T) {
	f := newFixture(t, Config{MinDetectInterval: 33 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))

	require.NoError(t, f.session.Refresh(ctx))
	f.clock.Advance(10 * time.Millisecond)
	require.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, []int64{0}, f.detector.Calls(), "second tick inside the interval is skipped")

	f.clock.Advance(23 * time.Millisecond)
	require.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, []int64{0, 33}, f.detector.Calls())

	res := f.session.Result()
	require.NotNil(t, res)
	assert.Equal(t, int64(33), res.Timestamp)
	assert.True(t, res.Found())
	assert.Equal(t, uint64(2), f.session.LastTiming().Detections)
}

func TestDetectionSkipsWhenSourceNotReady(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.session.Start(context.Background()))
	f.source.ready.Store(false)

	require.NoError(t, f.session.Refresh(context.Background()))
	assert.Empty(t, f.detector.Calls())
	assert.Nil(t, f.session.Result())
}

func TestDetectionFailureIsRetriedWithNewTimestamp(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.detector.errs = []error{errors.New("inference exploded")}
	require.NoError(t, f.session.Start(ctx))

	err := f.session.Refresh(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference exploded")
	assert.Equal(t, 1, f.logs.FilterMessage("detection failed").Len())
	assert.Nil(t, f.session.Result(), "failed detection publishes nothing")

	// failure does not count as success, but the same timestamp is never reissued
	require.NoError(t, f.session.Refresh(ctx))
	assert.Len(t, f.detector.Calls(), 1)

	f.clock.Advance(time.Millisecond)
	require.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, []int64{0, 1}, f.detector.Calls())
	assert.NotNil(t, f.session.Result())
}

func TestTimestampOrderErrorIsSwallowed(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.detector.errs = []error{errors.Wrap(ErrTimestampOrder, "mesh")}
	require.NoError(t, f.session.Start(ctx))

	assert.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, 0, f.logs.FilterMessage("detection failed").Len())
	assert.Equal(t, 1, f.logs.FilterMessage("detector rejected timestamp").Len())
}

func TestRefreshRequiresRunning(t *testing.T) {
	f := newFixture(t, Config{})
	assert.ErrorIs(t, f.session.Refresh(context.Background()), ErrNotRunning)
}

func TestStopReleasesEverything(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	src := newFakeSource(60, 60)
	det := &fakeDetector{set: landmarktest.DefaultMouth.Set()}
	target := surface.NewVectorTarget(60, 60, false)
	s, err := New(Config{
		MinDetectInterval: time.Millisecond,
		DetectPoll:        time.Millisecond,
		RenderInterval:    time.Millisecond,
	}, Deps{
		Opener:   OpenerFunc(func(context.Context) (VideoSource, error) { return src, nil }),
		Detector: det,
		Target:   target,
		Logger:   zap.New(core).Sugar(),
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(det.Calls()) > 1 && s.LastTiming().Renders > 1
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, StateIdle, s.State())
	assert.True(t, src.closed.Load())
	assert.Nil(t, s.Result())

	snap := target.Snapshot().(*image.RGBA)
	for _, v := range snap.Pix {
		require.Zero(t, v, "target is cleared")
	}

	n := len(det.Calls())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, det.Calls(), n, "no detector calls after stop")

	assert.NoError(t, s.Stop(), "stop is idempotent")
}

func TestRestartAfterStop(t *testing.T) {
	f := newFixture(t, Config{})
	f.detector.strict = true
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))
	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.session.Refresh(ctx))
	require.NoError(t, f.session.Stop())

	f.source.closed.Store(false)
	require.NoError(t, f.session.Start(ctx))
	require.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, []int64{5000}, f.detector.Calls(), "a timestamp already issued is not reused by the next run")

	for i := 0; i < 10; i++ {
		f.clock.Advance(100 * time.Millisecond)
		require.NoError(t, f.session.Refresh(ctx))
	}
	calls := f.detector.Calls()
	require.Len(t, calls, 11)
	assert.Equal(t, int64(6000), calls[10])
	assert.Zero(t, f.detector.Rejected())

	res := f.session.Result()
	require.NotNil(t, res)
	assert.True(t, res.Found())
	assert.Equal(t, int64(6000), res.Timestamp)
}

func TestRefreshJoinsDetectionInFlight(t *testing.T) {
	f := newFixture(t, Config{MinDetectInterval: 33 * time.Millisecond})
	f.detector.entered = make(chan struct{}, 4)
	f.detector.release = make(chan struct{})
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))

	first := make(chan error, 1)
	go func() { first <- f.session.Refresh(ctx) }()
	select {
	case <-f.detector.entered:
	case <-time.After(time.Second):
		t.Fatal("detector was not called")
	}

	f.clock.Advance(10 * time.Millisecond)
	second := make(chan error, 1)
	go func() { second <- f.session.Refresh(ctx) }()
	select {
	case <-f.detector.entered:
		t.Fatal("a second detection started while the first was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.detector.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.Equal(t, []int64{0}, f.detector.Calls())

	f.clock.Advance(5 * time.Millisecond)
	require.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, []int64{0}, f.detector.Calls(), "throttle counts from when the detection began")

	f.clock.Advance(18 * time.Millisecond)
	require.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, []int64{0, 33}, f.detector.Calls())
}

func TestRenderOnFrameNotification(t *testing.T) {
	f := newFixture(t, Config{})
	f.source.frames = make(chan struct{}, 1)
	require.NoError(t, f.session.Start(context.Background()))
	require.NoError(t, f.session.Refresh(context.Background()))

	f.source.frames <- struct{}{}
	require.Eventually(t, func() bool {
		return f.session.LastTiming().Renders >= 1
	}, time.Second, time.Millisecond)

	snap := f.target.Snapshot().(*image.RGBA)
	m := landmarktest.DefaultMouth
	cx, cy := int(m.CX*600), int(m.CY*600)

	background := snap.RGBAAt(10, 10)
	assert.InDelta(t, 242, int(background.A), 2, "video drawn at the brightness alpha")
	assert.NotEqual(t, background, snap.RGBAAt(cx, cy+25), "lower lip is tinted")
	assert.Less(t, background.R, uint8(90), "video is dimmed by brightness")
}

func TestRenderWithNoEffectShowsVideoOnly(t *testing.T) {
	f := newFixture(t, Config{})
	f.source.frames = make(chan struct{}, 1)
	require.NoError(t, f.session.Start(context.Background()))
	require.NoError(t, f.session.Refresh(context.Background()))
	f.session.Styles().SetColor(compositor.NoEffect)

	f.source.frames <- struct{}{}
	require.Eventually(t, func() bool {
		return f.session.LastTiming().Renders >= 1
	}, time.Second, time.Millisecond)

	snap := f.target.Snapshot().(*image.RGBA)
	m := landmarktest.DefaultMouth
	assert.Equal(t, snap.RGBAAt(10, 10), snap.RGBAAt(int(m.CX*600), int(m.CY*600)+25))
}

func TestClosedFrameChannelEndsRun(t *testing.T) {
	f := newFixture(t, Config{})
	f.source.frames = make(chan struct{})
	require.NoError(t, f.session.Start(context.Background()))
	done := f.session.Done()
	require.NotNil(t, done)

	close(f.source.frames)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not end")
	}
	assert.Equal(t, 1, f.logs.FilterMessage("session loops stopped").Len())
	select {
	case err := <-f.session.Failed():
		assert.ErrorIs(t, err, ErrSourceClosed)
	case <-time.After(time.Second):
		t.Fatal("source loss was not reported")
	}
	assert.NoError(t, f.session.Stop())
	assert.Nil(t, f.session.Done())
}

func TestStopIsNotAFailure(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx))
	done := f.session.Done()
	require.NoError(t, f.session.Stop())
	<-done

	f.source.closed.Store(false)
	require.NoError(t, f.session.Start(ctx))
	require.NoError(t, f.session.Stop())

	select {
	case err := <-f.session.Failed():
		t.Fatalf("stop reported as failure: %v", err)
	default:
	}
}

func TestSlot(t *testing.T) {
	var s Slot
	assert.Nil(t, s.Load())
	r := &landmark.Result{Timestamp: 5}
	s.Store(r)
	assert.Same(t, r, s.Load())
	s.Clear()
	assert.Nil(t, s.Load())
}
