package camera

import (
	"context"
	"image"
	"image/draw"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"

	"github.com/dudu/lipfilter/internal/scheduler"
)

// Still is a video source that shows one image forever. It stands in for
// the camera when rendering a photo.
type Still struct {
	frame *image.RGBA
}

// NewStill copies img into a still source
func NewStill(img image.Image) *Still {
	b := img.Bounds()
	frame := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(frame, frame.Bounds(), img, b.Min, draw.Src)
	return &Still{frame: frame}
}

// LoadStill decodes an image file
func LoadStill(path string) (*Still, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, errors.Newf("failed to load image: %s", path)
	}
	defer mat.Close()

	img, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to convert %s", path)
	}
	return NewStill(img), nil
}

// Ready is always true
func (s *Still) Ready() bool { return true }

// Size returns the image size
func (s *Still) Size() (int, int) {
	return s.frame.Rect.Dx(), s.frame.Rect.Dy()
}

// Frame returns the image
func (s *Still) Frame() image.Image { return s.frame }

// Close is a no-op
func (s *Still) Close() error { return nil }

// StillOpener opens the same image for every run
type StillOpener struct {
	Path string
}

// Open implements scheduler.Opener
func (o StillOpener) Open(ctx context.Context) (scheduler.VideoSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return LoadStill(o.Path)
}
