// Package capture turns the presented preview into a downloadable image
package capture

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gocv.io/x/gocv"

	"github.com/dudu/lipfilter/internal/compositor"
)

// BaseName is the file name stem of every capture
const BaseName = "lipstick-filter"

// ErrNoFrame is returned when nothing has been presented yet
var ErrNoFrame = errors.New("no frame to capture")

// Format is an output image encoding
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// ParseFormat accepts png, jpeg or jpg in any case
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	}
	return "", errors.Newf("unsupported capture format %q", s)
}

// Ext returns the file extension including the dot
func (f Format) Ext() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return ".png"
}

// ContentType returns the MIME type
func (f Format) ContentType() string {
	if f == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}

// Options controls encoding
type Options struct {
	Format Format
	// Quality is the JPEG quality, 1 to 100
	Quality int
	// Mirrored tells Encode the image was presented flipped; it is
	// flipped back so the saved picture is not a mirror image
	Mirrored bool
}

// DefaultOptions returns PNG output of a mirrored preview
func DefaultOptions() Options {
	return Options{Format: FormatPNG, Quality: 92, Mirrored: true}
}

// Image is an encoded capture
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Snapshotter is anything that can hand out its last presented frame
type Snapshotter interface {
	Snapshot() image.Image
}

// Filename names a capture after the active swatch; the no-effect swatch
// and an empty name give the bare base name
func Filename(swatch string, f Format) string {
	slug := compositor.Swatch{Name: swatch}.Slug()
	if swatch == "" || strings.EqualFold(swatch, compositor.NoneSwatch) || slug == "" {
		return BaseName + f.Ext()
	}
	return BaseName + "-" + slug + f.Ext()
}

// Snapshot captures what src last presented
func Snapshot(src Snapshotter, swatch string, opts Options) (*Image, error) {
	img := src.Snapshot()
	if img == nil || img.Bounds().Empty() {
		return nil, ErrNoFrame
	}
	data, err := Encode(img, opts)
	if err != nil {
		return nil, err
	}
	return &Image{
		Name:        Filename(swatch, opts.Format),
		ContentType: opts.Format.ContentType(),
		Data:        data,
	}, nil
}

// Encode flattens img onto black and encodes it. Transparent areas of
// the preview show as black, as they do on screen.
func Encode(img image.Image, opts Options) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrNoFrame
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert capture")
	}
	defer mat.Close()

	if opts.Mirrored {
		gocv.Flip(mat, &mat, 1)
	}

	var buf *gocv.NativeByteBuffer
	switch opts.Format {
	case FormatJPEG:
		q := opts.Quality
		if q <= 0 || q > 100 {
			q = DefaultOptions().Quality
		}
		buf, err = gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, q})
	default:
		buf, err = gocv.IMEncode(gocv.PNGFileExt, mat)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", opts.Format)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}

// Save writes c into dir and returns the full path
func Save(dir string, c *Image) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create %s", dir)
	}
	path := filepath.Join(dir, c.Name)
	if err := os.WriteFile(path, c.Data, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", path)
	}
	return path, nil
}
