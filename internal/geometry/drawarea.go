package geometry

import "math"

// DrawArea is the rectangle, in surface pixels, that the source video
// covers after a cover fit. It may extend past the surface on one axis.
type DrawArea struct {
	X, Y float64
	W, H float64
}

// Empty reports whether nothing can be drawn into the area
func (a DrawArea) Empty() bool {
	return a.W <= 0 || a.H <= 0
}

// Scale returns the uniform scale from source pixels to surface pixels
func (a DrawArea) Scale(sourceW int) float64 {
	if sourceW <= 0 {
		return 0
	}
	return a.W / float64(sourceW)
}

// Resolve computes the cover-fit area for a source of sourceW x sourceH
// drawn onto a surface of surfaceW x surfaceH. The source is scaled
// uniformly until it covers the surface and centered on both axes.
// Any non-positive dimension yields the zero area.
func Resolve(surfaceW, surfaceH, sourceW, sourceH int) DrawArea {
	if surfaceW <= 0 || surfaceH <= 0 || sourceW <= 0 || sourceH <= 0 {
		return DrawArea{}
	}
	sw, sh := float64(surfaceW), float64(surfaceH)
	vw, vh := float64(sourceW), float64(sourceH)

	scale := math.Max(sw/vw, sh/vh)
	w := vw * scale
	h := vh * scale
	return DrawArea{
		X: (sw - w) / 2,
		Y: (sh - h) / 2,
		W: w,
		H: h,
	}
}

type dims struct {
	surfaceW, surfaceH, sourceW, sourceH int
}

// Resolver caches the last resolved area and recomputes it only when the
// surface or source dimensions change. Not safe for concurrent use.
type Resolver struct {
	last  dims
	area  DrawArea
	valid bool
}

// Resolve returns the cover-fit area and whether it changed since the last call
func (r *Resolver) Resolve(surfaceW, surfaceH, sourceW, sourceH int) (DrawArea, bool) {
	d := dims{surfaceW, surfaceH, sourceW, sourceH}
	if r.valid && d == r.last {
		return r.area, false
	}
	r.last = d
	r.area = Resolve(surfaceW, surfaceH, sourceW, sourceH)
	r.valid = true
	return r.area, true
}

// Reset forgets the cached area
func (r *Resolver) Reset() {
	*r = Resolver{}
}
