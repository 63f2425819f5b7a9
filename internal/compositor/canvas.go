package compositor

import (
	"image/color"

	"github.com/dudu/lipfilter/internal/geometry"
)

// BlendMode selects how a composited layer combines with what is below it
type BlendMode int

const (
	BlendSourceOver BlendMode = iota
	BlendLighter              // additive
	BlendScreen
	BlendOverlay
	BlendSoftLight
)

// String returns the canvas-style name of the mode
func (m BlendMode) String() string {
	switch m {
	case BlendSourceOver:
		return "source-over"
	case BlendLighter:
		return "lighter"
	case BlendScreen:
		return "screen"
	case BlendOverlay:
		return "overlay"
	case BlendSoftLight:
		return "soft-light"
	default:
		return "unknown"
	}
}

// Stroke describes an outline
type Stroke struct {
	Color color.NRGBA
	Width float64
	Round bool // round joins and caps
}

// Ellipse is a filled ellipse rotated by Angle radians around Center.
// Soft ellipses fade to transparent at their edge.
type Ellipse struct {
	Center geometry.Vec
	RX, RY float64
	Angle  float64
	Soft   bool
}

// LinearGradient runs from FromColor at From to ToColor at To
type LinearGradient struct {
	From, To           geometry.Vec
	FromColor, ToColor color.NRGBA
}

// Canvas is the drawing capability the compositor needs from a backend
type Canvas interface {
	// Clear resets every pixel to transparent
	Clear()
	// FillRing fills the paths together using the even-odd rule
	FillRing(paths []geometry.Path, fill color.NRGBA)
	StrokeRing(p geometry.Path, s Stroke)
	FillEllipse(e Ellipse, fill color.NRGBA)
	FillGradientRegion(p geometry.Path, g LinearGradient)
	// CompositeWith runs draw on a transparent layer and blends the
	// result onto this canvas with mode
	CompositeWith(mode BlendMode, draw func(Canvas))
}
