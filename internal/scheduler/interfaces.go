package scheduler

import (
	"context"
	"image"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/geometry"
	"github.com/dudu/lipfilter/internal/landmark"
)

var (
	// ErrAcquisition marks a failure to open the video source
	ErrAcquisition = errors.New("video source unavailable")
	// ErrAlreadyRunning is returned by Start on a running session
	ErrAlreadyRunning = errors.New("session already running")
	// ErrNotRunning is returned by operations that need a running session
	ErrNotRunning = errors.New("session not running")
	// ErrTimestampOrder is returned by detectors that received a timestamp
	// not greater than the previous one. It is never surfaced to users.
	ErrTimestampOrder = errors.New("detector timestamp out of order")
	// ErrSourceClosed is returned when the video source stops delivering frames
	ErrSourceClosed = errors.New("video source closed")
)

// Detector finds face landmarks in a frame. It returns a nil set when no
// face is present. Timestamps must not decrease between calls.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, timestampMs int64) (landmark.Set, error)
}

// VideoSource is an open camera stream
type VideoSource interface {
	// Ready reports whether a frame is available
	Ready() bool
	// Size returns the native frame size, or zeros before Ready
	Size() (w, h int)
	// Frame returns the latest frame. The image must not be modified.
	Frame() image.Image
	Close() error
}

// FrameNotifier is implemented by sources that signal each new frame.
// The channel is closed when the source stops.
type FrameNotifier interface {
	Frames() <-chan struct{}
}

// Opener acquires the video source when a session starts
type Opener interface {
	Open(ctx context.Context) (VideoSource, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context) (VideoSource, error)

// Open calls f
func (f OpenerFunc) Open(ctx context.Context) (VideoSource, error) {
	return f(ctx)
}

// Target is the surface frames are rendered onto
type Target interface {
	Size() (w, h int)
	// Begin clears the layers for a new frame, keeping the last presented one
	Begin()
	// Clear resets every pixel, including the presented frame
	Clear()
	DrawFrame(frame image.Image, area geometry.DrawArea, alpha float64)
	Overlay() compositor.Canvas
	// Present publishes the composited frame
	Present() image.Image
	// Snapshot returns the last presented frame
	Snapshot() image.Image
}

// Clock abstracts time for the detection throttle
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Metrics receives per-tick measurements
type Metrics interface {
	ObserveDetection(d time.Duration, found bool)
	DetectionError(kind string)
	ObserveRender(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDetection(time.Duration, bool) {}
func (nopMetrics) DetectionError(string)                {}
func (nopMetrics) ObserveRender(time.Duration)          {}
