// Package cvmat implements the overlay canvas and render target on OpenCV
// mats. Shapes are rasterized by OpenCV into a coverage mask and blended
// with the shared premultiplied pixel routines.
package cvmat

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/geometry"
	"github.com/dudu/lipfilter/internal/surface"
)

// curveSteps is how many polygon points each cubic segment is flattened into
const curveSteps = 8

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Canvas is a premultiplied BGRA overlay backed by a gocv.Mat
type Canvas struct {
	w, h    int
	mat     gocv.Mat // CV_8UC4
	mask    gocv.Mat // CV_8UC1 coverage scratch
	scratch *Canvas
}

// NewCanvas creates a transparent w x h canvas
func NewCanvas(w, h int) *Canvas {
	c := &Canvas{
		w:    w,
		h:    h,
		mat:  gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC4),
		mask: gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1),
	}
	c.Clear()
	return c
}

// Mat returns the backing mat
func (c *Canvas) Mat() *gocv.Mat {
	return &c.mat
}

// Size returns the canvas dimensions
func (c *Canvas) Size() (int, int) {
	return c.w, c.h
}

// Clear resets every pixel to transparent
func (c *Canvas) Clear() {
	c.mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

// FillRing fills paths together; OpenCV's polygon fill alternates at
// every edge crossing, which is the even-odd rule
func (c *Canvas) FillRing(paths []geometry.Path, fill color.NRGBA) {
	polys := polygons(paths...)
	if len(polys) == 0 {
		return
	}
	c.resetMask()
	pv := gocv.NewPointsVectorFromPoints(polys)
	defer pv.Close()
	gocv.FillPoly(&c.mask, pv, white)
	c.cover(fill)
}

// StrokeRing outlines p. OpenCV thick lines always have round ends.
func (c *Canvas) StrokeRing(p geometry.Path, s compositor.Stroke) {
	polys := polygons(p)
	if len(polys) == 0 || s.Width <= 0 {
		return
	}
	c.resetMask()
	pv := gocv.NewPointsVectorFromPoints(polys)
	defer pv.Close()
	gocv.Polylines(&c.mask, pv, true, white, max(1, int(math.Round(s.Width))))
	c.cover(s.Color)
}

// FillEllipse fills e; soft ellipses have their mask blurred
func (c *Canvas) FillEllipse(e compositor.Ellipse, fill color.NRGBA) {
	if e.RX <= 0 || e.RY <= 0 {
		return
	}
	c.resetMask()
	gocv.Ellipse(&c.mask,
		image.Pt(int(math.Round(e.Center.X)), int(math.Round(e.Center.Y))),
		image.Pt(max(1, int(math.Round(e.RX))), max(1, int(math.Round(e.RY)))),
		e.Angle*180/math.Pi, 0, 360,
		white,
		-1,
	)
	if e.Soft {
		k := int(math.Round(math.Min(e.RX, e.RY)))*2 + 1
		gocv.GaussianBlur(c.mask, &c.mask, image.Pt(k, k), 0, 0, gocv.BorderDefault)
	}
	c.cover(fill)
}

// FillGradientRegion fills p with a linear gradient
func (c *Canvas) FillGradientRegion(p geometry.Path, g compositor.LinearGradient) {
	polys := polygons(p)
	if len(polys) == 0 {
		return
	}
	c.resetMask()
	pv := gocv.NewPointsVectorFromPoints(polys)
	defer pv.Close()
	gocv.FillPoly(&c.mask, pv, white)

	dst, cov, ok := c.buffers()
	if !ok {
		return
	}
	min, max := p.Bounds()
	rect := image.Rect(
		int(math.Floor(min.X)), int(math.Floor(min.Y)),
		int(math.Ceil(max.X))+1, int(math.Ceil(max.Y))+1,
	).Intersect(image.Rect(0, 0, c.w, c.h))
	surface.GradientPix(dst, cov, c.w, rect, g, surface.BGRA)
}

// CompositeWith draws onto a scratch canvas and blends it onto c
func (c *Canvas) CompositeWith(mode compositor.BlendMode, draw func(compositor.Canvas)) {
	if c.scratch == nil {
		c.scratch = NewCanvas(c.w, c.h)
	}
	c.scratch.Clear()
	draw(c.scratch)

	dst, err := c.mat.DataPtrUint8()
	if err != nil {
		return
	}
	src, err := c.scratch.mat.DataPtrUint8()
	if err != nil {
		return
	}
	surface.CompositePix(dst, src, mode)
}

// Close releases the mats
func (c *Canvas) Close() error {
	if c.scratch != nil {
		c.scratch.Close()
		c.scratch = nil
	}
	c.mask.Close()
	return c.mat.Close()
}

func (c *Canvas) resetMask() {
	c.mask.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

func (c *Canvas) buffers() (dst, cov []uint8, ok bool) {
	dst, err := c.mat.DataPtrUint8()
	if err != nil {
		return nil, nil, false
	}
	cov, err = c.mask.DataPtrUint8()
	if err != nil {
		return nil, nil, false
	}
	return dst, cov, true
}

// cover paints fill wherever the mask is set
func (c *Canvas) cover(fill color.NRGBA) {
	dst, cov, ok := c.buffers()
	if !ok {
		return
	}
	surface.CoverPix(dst, cov, fill, float64(fill.A)/255, surface.BGRA)
}

// polygons flattens paths into integer point lists for OpenCV
func polygons(paths ...geometry.Path) [][]image.Point {
	out := make([][]image.Point, 0, len(paths))
	for _, p := range paths {
		flat := p.Flatten(curveSteps)
		if len(flat) < 2 {
			continue
		}
		pts := make([]image.Point, len(flat))
		for i, v := range flat {
			pts[i] = image.Pt(int(math.Round(v.X)), int(math.Round(v.Y)))
		}
		out = append(out, pts)
	}
	return out
}
