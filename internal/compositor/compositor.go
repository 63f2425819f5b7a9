package compositor

import (
	"image/color"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dudu/lipfilter/internal/geometry"
	"github.com/dudu/lipfilter/internal/landmark"
)

// Config holds the fixed rendering parameters
type Config struct {
	Tension               float64
	StrokeWidth           float64
	HighlightCount        int
	HighlightMinThickness float64 // surface pixels
	HighlightAlphaMin     float64
	HighlightAlphaMax     float64
	GlossOpacity          float64
}

// DefaultConfig returns the standard rendering parameters
func DefaultConfig() Config {
	return Config{
		Tension:               geometry.DefaultTension,
		StrokeWidth:           1.25,
		HighlightCount:        6,
		HighlightMinThickness: 4,
		HighlightAlphaMin:     0.05,
		HighlightAlphaMax:     0.20,
		GlossOpacity:          0.35,
	}
}

// Compositor draws the lipstick overlay for one frame
type Compositor struct {
	cfg Config

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// New creates a compositor. A nil rng gets a time-seeded source.
func New(cfg Config, rng *rand.Rand) *Compositor {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	if cfg.Tension == 0 {
		cfg.Tension = geometry.DefaultTension
	}
	if cfg.HighlightAlphaMax < cfg.HighlightAlphaMin {
		cfg.HighlightAlphaMax = cfg.HighlightAlphaMin
	}
	return &Compositor{cfg: cfg, rng: rng}
}

// NewSeeded creates a compositor with a deterministic random source
func NewSeeded(cfg Config, seed uint64) *Compositor {
	return New(cfg, rand.New(rand.NewPCG(seed, seed)))
}

// Config returns the compositor's parameters
func (c *Compositor) Config() Config {
	return c.cfg
}

// Draw clears cv and paints the overlay for set mapped through area.
// Nothing is drawn when set is nil, the area is empty or the style is
// disabled. Missing landmark indices panic.
func (c *Compositor) Draw(cv Canvas, set landmark.Set, area geometry.DrawArea, style Style) {
	cv.Clear()
	if set == nil || area.Empty() || style.Disabled() {
		return
	}

	outer := geometry.ClosedSpline(geometry.MapRing(set, landmark.OuterMouth, area), c.cfg.Tension)
	inner := geometry.ClosedSpline(geometry.MapRing(set, landmark.InnerMouth, area), c.cfg.Tension)

	// base fill, inner mouth carved out
	cv.FillRing([]geometry.Path{outer, inner}, withAlpha(style.Color, style.FillOpacity))

	// soft edge
	cv.StrokeRing(outer, Stroke{
		Color: withAlpha(style.Color, style.FillOpacity*style.StrokeOpacityFactor),
		Width: c.cfg.StrokeWidth,
		Round: true,
	})

	if ellipses := c.highlights(set, area); len(ellipses) > 0 {
		cv.CompositeWith(BlendLighter, func(layer Canvas) {
			for _, h := range ellipses {
				layer.FillEllipse(h.Ellipse, h.Color)
			}
		})
	}

	if g, ok := c.gloss(set, area); ok {
		cv.CompositeWith(BlendSoftLight, func(layer Canvas) {
			layer.FillGradientRegion(g.path, g.gradient)
		})
	}
}

// Highlight is one specular ellipse
type Highlight struct {
	Ellipse
	Color color.NRGBA
}

// LipThickness estimates lip thickness in surface pixels from the upper
// and lower centerline pairs
func LipThickness(set landmark.Set, area geometry.DrawArea) float64 {
	dist := func(pair [2]int) float64 {
		a := geometry.MapPoint(set.At(pair[0]), area)
		b := geometry.MapPoint(set.At(pair[1]), area)
		return a.Dist(b)
	}
	return (dist(landmark.UpperLipPair) + dist(landmark.LowerLipPair)) / 2
}

// MouthAngle returns the rotation of the corner-to-corner line in radians
func MouthAngle(set landmark.Set, area geometry.DrawArea) float64 {
	l := geometry.MapPoint(set.At(landmark.LeftMouthCorner), area)
	r := geometry.MapPoint(set.At(landmark.RightMouthCorner), area)
	return math.Atan2(r.Y-l.Y, r.X-l.X)
}

// Highlights returns the specular ellipses for one frame, consuming
// random numbers. It returns nil when the lips are too thin.
func (c *Compositor) Highlights(set landmark.Set, area geometry.DrawArea) []Highlight {
	return c.highlights(set, area)
}

func (c *Compositor) highlights(set landmark.Set, area geometry.DrawArea) []Highlight {
	if c.cfg.HighlightCount <= 0 {
		return nil
	}
	thickness := LipThickness(set, area)
	if thickness < c.cfg.HighlightMinThickness {
		return nil
	}

	left := geometry.MapPoint(set.At(landmark.LeftMouthCorner), area)
	right := geometry.MapPoint(set.At(landmark.RightMouthCorner), area)
	angle := MouthAngle(set, area)
	center := left.Mid(right)
	halfWidth := left.Dist(right) / 2

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Highlight, 0, c.cfg.HighlightCount)
	for i := 0; i < c.cfg.HighlightCount; i++ {
		// local frame: x along the mouth line, y toward the chin, in thickness units
		lx := (c.rng.Float64()*2 - 1) * 0.6 * halfWidth / thickness
		ly := -0.5
		if c.rng.Float64() < 2.0/3 {
			ly = 0.5 // favour the lower lip
		}
		ly += (c.rng.Float64() - 0.5) * 0.5

		rx := (0.15 + c.rng.Float64()*0.30) * thickness
		ry := (0.05 + c.rng.Float64()*0.10) * thickness
		alpha := c.cfg.HighlightAlphaMin + c.rng.Float64()*(c.cfg.HighlightAlphaMax-c.cfg.HighlightAlphaMin)

		offset := geometry.Vec{X: lx, Y: ly}.Scale(thickness).Rotate(angle)
		out = append(out, Highlight{
			Ellipse: Ellipse{
				Center: center.Add(offset),
				RX:     rx,
				RY:     ry,
				Angle:  angle,
				Soft:   true,
			},
			Color: withAlpha(color.NRGBA{R: 0xff, G: 0xff, B: 0xff}, alpha),
		})
	}
	return out
}

type glossRegion struct {
	path     geometry.Path
	gradient LinearGradient
}

func (c *Compositor) gloss(set landmark.Set, area geometry.DrawArea) (glossRegion, bool) {
	if c.cfg.GlossOpacity <= 0 {
		return glossRegion{}, false
	}
	pts := geometry.MapRing(set, landmark.GlossRing(), area)
	path := geometry.ClosedSpline(pts, c.cfg.Tension)

	n := len(landmark.LowerOuterLip)
	innerEdge := centroid(pts[n:])
	outerEdge := centroid(pts[:n])
	if innerEdge == outerEdge {
		return glossRegion{}, false
	}

	white := color.NRGBA{R: 0xff, G: 0xff, B: 0xff}
	return glossRegion{
		path: path,
		gradient: LinearGradient{
			From:      innerEdge,
			To:        outerEdge,
			FromColor: withAlpha(white, c.cfg.GlossOpacity),
			ToColor:   withAlpha(white, 0),
		},
	}, true
}

func centroid(pts []geometry.Vec) geometry.Vec {
	var sum geometry.Vec
	for _, p := range pts {
		sum = sum.Add(p)
	}
	return sum.Scale(1 / float64(len(pts)))
}
