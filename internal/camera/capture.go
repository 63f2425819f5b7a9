package camera

import (
	"context"
	"image"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dudu/lipfilter/internal/scheduler"
)

// maxReadFailures is how many consecutive empty reads end the stream
const maxReadFailures = 30

// Config holds camera settings
type Config struct {
	DeviceID  int
	Width     int
	Height    int
	TargetFPS int
}

// DefaultConfig returns 720p at 30 fps from the first device
func DefaultConfig() Config {
	return Config{Width: 1280, Height: 720, TargetFPS: 30}
}

// Capture manages webcam capture. A reader goroutine keeps the latest
// frame, so consumers never wait on the device.
type Capture struct {
	webcam *gocv.VideoCapture
	cfg    Config
	width  int
	height int
	log    *zap.SugaredLogger

	latest atomic.Pointer[image.RGBA]
	frames chan struct{}

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// Open opens the device and starts reading
func Open(cfg Config, log *zap.SugaredLogger) (*Capture, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	webcam, err := gocv.OpenVideoCapture(cfg.DeviceID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open camera %d", cfg.DeviceID)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, errors.Newf("camera %d is not available", cfg.DeviceID)
	}

	// Set camera properties
	if cfg.Width > 0 && cfg.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.TargetFPS > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(cfg.TargetFPS))
	}

	// Get actual dimensions (camera may not support requested resolution)
	c := &Capture{
		webcam: webcam,
		cfg:    cfg,
		width:  int(webcam.Get(gocv.VideoCaptureFrameWidth)),
		height: int(webcam.Get(gocv.VideoCaptureFrameHeight)),
		log:    log.Named("camera"),
		frames: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.log.Infow("camera opened", "device", cfg.DeviceID, "width", c.width, "height", c.height)

	go c.readLoop()
	return c, nil
}

// readLoop converts each frame to RGBA and publishes it
func (c *Capture) readLoop() {
	defer close(c.done)
	defer close(c.frames)

	mat := gocv.NewMat()
	defer mat.Close()

	failures := 0
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		if ok := c.webcam.Read(&mat); !ok || mat.Empty() {
			failures++
			if failures >= maxReadFailures {
				c.log.Warnw("camera stopped delivering frames", "failures", failures)
				return
			}
			continue
		}
		failures = 0

		// ToImage reads the BGR mat into an opaque RGBA image
		img, err := mat.ToImage()
		if err != nil {
			c.log.Debugw("frame conversion failed", "error", err)
			continue
		}
		frame, ok := img.(*image.RGBA)
		if !ok {
			continue
		}
		c.latest.Store(frame)

		select {
		case c.frames <- struct{}{}:
		default:
		}
	}
}

// Ready reports whether a frame has arrived
func (c *Capture) Ready() bool {
	return c.latest.Load() != nil
}

// Size returns the frame size, or zeros before the first frame
func (c *Capture) Size() (int, int) {
	f := c.latest.Load()
	if f == nil {
		return 0, 0
	}
	b := f.Bounds()
	return b.Dx(), b.Dy()
}

// Frame returns the latest frame, or nil
func (c *Capture) Frame() image.Image {
	f := c.latest.Load()
	if f == nil {
		return nil
	}
	return f
}

// Frames signals each new frame and is closed when reading stops
func (c *Capture) Frames() <-chan struct{} {
	return c.frames
}

// Width returns the negotiated frame width
func (c *Capture) Width() int {
	return c.width
}

// Height returns the negotiated frame height
func (c *Capture) Height() int {
	return c.height
}

// Close stops the reader and releases the camera. It is safe to call twice.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stop)
	<-c.done

	err := c.webcam.Close()
	c.log.Infow("camera released", "device", c.cfg.DeviceID)
	return err
}

// Opener opens a Capture for each session run
type Opener struct {
	Config Config
	Log    *zap.SugaredLogger
}

// Open implements scheduler.Opener
func (o Opener) Open(ctx context.Context) (scheduler.VideoSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Open(o.Config, o.Log)
}

var (
	_ scheduler.VideoSource   = (*Capture)(nil)
	_ scheduler.FrameNotifier = (*Capture)(nil)
	_ scheduler.Opener        = Opener{}
)
