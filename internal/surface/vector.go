package surface

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"github.com/dudu/lipfilter/internal/compositor"
	"github.com/dudu/lipfilter/internal/geometry"
)

// Vector is an anti-aliased canvas backed by an *image.RGBA
type Vector struct {
	im      *image.RGBA
	dc      *gg.Context
	scratch *Vector
}

// NewVector creates a transparent canvas of w x h pixels
func NewVector(w, h int) *Vector {
	im := image.NewRGBA(image.Rect(0, 0, w, h))
	return &Vector{im: im, dc: gg.NewContextForRGBA(im)}
}

// Image returns the backing image; it changes as the canvas is drawn on
func (v *Vector) Image() *image.RGBA {
	return v.im
}

// Size returns the canvas dimensions
func (v *Vector) Size() (int, int) {
	b := v.im.Bounds()
	return b.Dx(), b.Dy()
}

// Clear resets every pixel to transparent
func (v *Vector) Clear() {
	clear(v.im.Pix)
	v.dc.ClearPath()
}

// FillRing fills paths together with the even-odd rule
func (v *Vector) FillRing(paths []geometry.Path, fill color.NRGBA) {
	for _, p := range paths {
		appendPath(v.dc, p)
	}
	v.dc.SetFillRule(gg.FillRuleEvenOdd)
	v.dc.SetColor(fill)
	v.dc.Fill()
	v.dc.SetFillRule(gg.FillRuleWinding)
}

// StrokeRing outlines p
func (v *Vector) StrokeRing(p geometry.Path, s compositor.Stroke) {
	if p.Empty() || s.Width <= 0 {
		return
	}
	appendPath(v.dc, p)
	v.dc.SetLineWidth(s.Width)
	if s.Round {
		v.dc.SetLineJoin(gg.LineJoinRound)
		v.dc.SetLineCap(gg.LineCapRound)
	} else {
		v.dc.SetLineJoin(gg.LineJoinBevel)
		v.dc.SetLineCap(gg.LineCapButt)
	}
	v.dc.SetColor(s.Color)
	v.dc.Stroke()
}

// FillEllipse fills e; soft ellipses get a radial falloff to transparent
func (v *Vector) FillEllipse(e compositor.Ellipse, fill color.NRGBA) {
	if e.RX <= 0 || e.RY <= 0 {
		return
	}
	if e.Soft {
		r := math.Max(e.RX, e.RY)
		grad := gg.NewRadialGradient(e.Center.X, e.Center.Y, 0, e.Center.X, e.Center.Y, r)
		edge := fill
		edge.A = 0
		grad.AddColorStop(0, fill)
		grad.AddColorStop(1, edge)
		v.dc.SetFillStyle(grad)
	} else {
		v.dc.SetColor(fill)
	}

	v.dc.Push()
	v.dc.Translate(e.Center.X, e.Center.Y)
	v.dc.Rotate(e.Angle)
	v.dc.DrawEllipse(0, 0, e.RX, e.RY)
	v.dc.Fill()
	v.dc.Pop()
}

// FillGradientRegion fills p with a linear gradient
func (v *Vector) FillGradientRegion(p geometry.Path, g compositor.LinearGradient) {
	if p.Empty() {
		return
	}
	grad := gg.NewLinearGradient(g.From.X, g.From.Y, g.To.X, g.To.Y)
	grad.AddColorStop(0, g.FromColor)
	grad.AddColorStop(1, g.ToColor)
	appendPath(v.dc, p)
	v.dc.SetFillStyle(grad)
	v.dc.Fill()
}

// CompositeWith draws onto a scratch layer and blends it onto v
func (v *Vector) CompositeWith(mode compositor.BlendMode, draw func(compositor.Canvas)) {
	w, h := v.Size()
	if v.scratch == nil {
		v.scratch = NewVector(w, h)
	}
	v.scratch.Clear()
	draw(v.scratch)
	CompositePix(v.im.Pix, v.scratch.im.Pix, mode)
}

func appendPath(dc *gg.Context, p geometry.Path) {
	if p.Empty() {
		return
	}
	dc.MoveTo(p.Start.X, p.Start.Y)
	for _, s := range p.Segments {
		if s.Curve {
			dc.CubicTo(s.C1.X, s.C1.Y, s.C2.X, s.C2.Y, s.To.X, s.To.Y)
		} else {
			dc.LineTo(s.To.X, s.To.Y)
		}
	}
	dc.ClosePath()
}
