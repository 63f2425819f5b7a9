package compositor

import (
	"image/color"
	"math"
	"sync/atomic"
)

// NoEffect is the sentinel color meaning "draw nothing"
var NoEffect = color.NRGBA{}

// Default style values
const (
	DefaultFillOpacity         = 0.7
	DefaultStrokeOpacityFactor = 0.35
	DefaultBrightness          = 0.1
)

// Style is the user-controlled look of the overlay. It is passed by value
// so a render tick works from one consistent snapshot.
type Style struct {
	Color               color.NRGBA
	FillOpacity         float64
	StrokeOpacityFactor float64
	Brightness          float64 // dims the video under the overlay
}

// DefaultStyle returns the startup style
func DefaultStyle() Style {
	return Style{
		Color:               DefaultPalette[0].Color(),
		FillOpacity:         DefaultFillOpacity,
		StrokeOpacityFactor: DefaultStrokeOpacityFactor,
		Brightness:          DefaultBrightness,
	}
}

// Disabled reports whether the style draws nothing
func (s Style) Disabled() bool {
	return s.Color.A == 0 || s.FillOpacity <= 0
}

// VideoAlpha is the opacity the video frame is drawn at
func (s Style) VideoAlpha() float64 {
	return 1 - clamp01(s.Brightness)*0.5
}

// Normalize clamps every ratio into [0,1]
func (s Style) Normalize() Style {
	s.FillOpacity = clamp01(s.FillOpacity)
	s.StrokeOpacityFactor = clamp01(s.StrokeOpacityFactor)
	s.Brightness = clamp01(s.Brightness)
	return s
}

// StyleStore holds the current style. Writers replace it whole and readers
// always get a complete copy.
type StyleStore struct {
	v atomic.Pointer[Style]
}

// NewStyleStore returns a store holding s
func NewStyleStore(s Style) *StyleStore {
	st := &StyleStore{}
	st.Store(s)
	return st
}

// Load returns the current style
func (st *StyleStore) Load() Style {
	if p := st.v.Load(); p != nil {
		return *p
	}
	return DefaultStyle()
}

// Store replaces the current style
func (st *StyleStore) Store(s Style) {
	s = s.Normalize()
	st.v.Store(&s)
}

// Update applies fn to a copy of the current style and stores the result
func (st *StyleStore) Update(fn func(*Style)) Style {
	for {
		old := st.v.Load()
		next := DefaultStyle()
		if old != nil {
			next = *old
		}
		fn(&next)
		next = next.Normalize()
		if st.v.CompareAndSwap(old, &next) {
			return next
		}
	}
}

// SetColor changes only the color
func (st *StyleStore) SetColor(c color.NRGBA) Style {
	return st.Update(func(s *Style) { s.Color = c })
}

// SetOpacity changes only the fill opacity
func (st *StyleStore) SetOpacity(v float64) Style {
	return st.Update(func(s *Style) { s.FillOpacity = v })
}

// SetBrightness changes only the brightness
func (st *StyleStore) SetBrightness(v float64) Style {
	return st.Update(func(s *Style) { s.Brightness = v })
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func withAlpha(c color.NRGBA, a float64) color.NRGBA {
	c.A = uint8(math.Round(clamp01(a) * 255))
	return c
}
