package surface

import (
	"image"
	"math"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/geometry"
)

// VectorTarget is a render target made of a video layer and a Vector
// overlay. Present flattens both into a new image that Snapshot returns.
type VectorTarget struct {
	w, h    int
	mirror  bool
	base    *image.RGBA
	overlay *Vector
	shown   atomic.Pointer[image.RGBA]
}

// NewVectorTarget creates a w x h target. With mirror set, presented
// frames are flipped horizontally like a looking glass.
func NewVectorTarget(w, h int, mirror bool) *VectorTarget {
	t := &VectorTarget{
		w:       w,
		h:       h,
		mirror:  mirror,
		base:    image.NewRGBA(image.Rect(0, 0, w, h)),
		overlay: NewVector(w, h),
	}
	t.shown.Store(image.NewRGBA(t.base.Bounds()))
	return t
}

// Size returns the target dimensions
func (t *VectorTarget) Size() (int, int) {
	return t.w, t.h
}

// Mirrored reports whether presented frames are flipped
func (t *VectorTarget) Mirrored() bool {
	return t.mirror
}

// Begin clears both layers for a new frame; the presented frame stays
func (t *VectorTarget) Begin() {
	clear(t.base.Pix)
	t.overlay.Clear()
}

// Clear resets both layers and the presented frame
func (t *VectorTarget) Clear() {
	t.Begin()
	t.shown.Store(image.NewRGBA(t.base.Bounds()))
}

// DrawFrame scales frame into area on the video layer at the given opacity
func (t *VectorTarget) DrawFrame(frame image.Image, area geometry.DrawArea, alpha float64) {
	if frame == nil || area.Empty() {
		return
	}
	dr := image.Rect(
		int(math.Floor(area.X)),
		int(math.Floor(area.Y)),
		int(math.Ceil(area.X+area.W)),
		int(math.Ceil(area.Y+area.H)),
	)
	xdraw.ApproxBiLinear.Scale(t.base, dr, frame, frame.Bounds(), xdraw.Src, nil)
	ScalePix(t.base.Pix, alpha)
}

// Overlay returns the layer the compositor draws on
func (t *VectorTarget) Overlay() compositor.Canvas {
	return t.overlay
}

// Present flattens the overlay onto the video layer and publishes the result
func (t *VectorTarget) Present() image.Image {
	out := image.NewRGBA(t.base.Bounds())
	copy(out.Pix, t.base.Pix)
	CompositePix(out.Pix, t.overlay.im.Pix, compositor.BlendSourceOver)
	if t.mirror {
		FlipPix(out.Pix, t.w, t.h, out.Stride)
	}
	t.shown.Store(out)
	return out
}

// Snapshot returns the last presented frame. Callers must not modify it.
func (t *VectorTarget) Snapshot() image.Image {
	return t.shown.Load()
}

// Close is a no-op; it lets VectorTarget stand in wherever a Mat target is closed
func (t *VectorTarget) Close() error {
	return nil
}
