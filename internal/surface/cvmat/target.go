package cvmat

import (
	"image"
	"image/draw"
	"math"
	"sync/atomic"

	"gocv.io/x/gocv"

	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/geometry"
	"github.com/dudu/lipfilter/internal/surface"
)

// Target is a render target with a BGRA video mat and a Canvas overlay
type Target struct {
	w, h    int
	mirror  bool
	base    gocv.Mat
	overlay *Canvas
	shown   atomic.Pointer[image.RGBA]
}

// NewTarget creates a w x h target. With mirror set, presented frames
// are flipped horizontally.
func NewTarget(w, h int, mirror bool) *Target {
	t := &Target{
		w:       w,
		h:       h,
		mirror:  mirror,
		base:    gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC4),
		overlay: NewCanvas(w, h),
	}
	t.Clear()
	return t
}

// Size returns the target dimensions
func (t *Target) Size() (int, int) {
	return t.w, t.h
}

// Mirrored reports whether presented frames are flipped
func (t *Target) Mirrored() bool {
	return t.mirror
}

// Begin clears both layers for a new frame; the presented frame stays
func (t *Target) Begin() {
	t.base.SetTo(gocv.NewScalar(0, 0, 0, 0))
	t.overlay.Clear()
}

// Clear resets both layers and the presented frame
func (t *Target) Clear() {
	t.Begin()
	t.shown.Store(image.NewRGBA(image.Rect(0, 0, t.w, t.h)))
}

// DrawFrame scales frame into area on the video layer at the given opacity
func (t *Target) DrawFrame(frame image.Image, area geometry.DrawArea, alpha float64) {
	if frame == nil || area.Empty() {
		return
	}
	src, err := gocv.ImageToMatRGBA(frame)
	if err != nil {
		return
	}
	defer src.Close()

	dw, dh := int(math.Round(area.W)), int(math.Round(area.H))
	ox, oy := int(math.Round(area.X)), int(math.Round(area.Y))
	if dw <= 0 || dh <= 0 {
		return
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(src, &scaled, image.Pt(dw, dh), 0, 0, gocv.InterpolationLinear)

	dst := image.Rect(ox, oy, ox+dw, oy+dh).Intersect(image.Rect(0, 0, t.w, t.h))
	if dst.Empty() {
		return
	}
	from := scaled.Region(dst.Sub(image.Pt(ox, oy)))
	defer from.Close()
	to := t.base.Region(dst)
	defer to.Close()
	from.CopyTo(&to)

	if alpha < 1 {
		if pix, err := t.base.DataPtrUint8(); err == nil {
			surface.ScalePix(pix, alpha)
		}
	}
}

// Overlay returns the layer the compositor draws on
func (t *Target) Overlay() compositor.Canvas {
	return t.overlay
}

// Present flattens the overlay onto the video layer and publishes the result
func (t *Target) Present() image.Image {
	out := t.base.Clone()
	defer out.Close()

	dst, err := out.DataPtrUint8()
	if err != nil {
		return t.Snapshot()
	}
	src, err := t.overlay.mat.DataPtrUint8()
	if err != nil {
		return t.Snapshot()
	}
	surface.CompositePix(dst, src, compositor.BlendSourceOver)
	if t.mirror {
		gocv.Flip(out, &out, 1)
	}

	img, err := out.ToImage()
	if err != nil {
		return t.Snapshot()
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(img.Bounds())
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	}
	t.shown.Store(rgba)
	return rgba
}

// Snapshot returns the last presented frame. Callers must not modify it.
func (t *Target) Snapshot() image.Image {
	return t.shown.Load()
}

// Close releases the mats
func (t *Target) Close() error {
	t.overlay.Close()
	return t.base.Close()
}
