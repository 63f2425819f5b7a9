// Package landmarktest builds synthetic face-mesh landmark sets for tests.
package landmarktest

import (
	"math"

	"github.com/dudu/lipfilter/internal/landmark"
)

// Mouth describes an elliptical mouth in normalized coordinates
type Mouth struct {
	CX, CY float64 // mouth center
	W, H   float64 // outer lip half-width and half-height
	Open   float64 // inner opening as a fraction of H, 0..1
	Tilt   float64 // radians
}

// DefaultMouth is a relaxed, slightly open mouth near the bottom center
var DefaultMouth = Mouth{CX: 0.5, CY: 0.65, W: 0.12, H: 0.06, Open: 0.4}

// Set returns a full mesh with the lip contours laid out on ellipses.
// Every other landmark sits on the mouth center.
func (m Mouth) Set() landmark.Set {
	set := make(landmark.Set, landmark.MeshSize)
	for i := range set {
		set[i] = landmark.Point{X: m.CX, Y: m.CY}
	}

	place := func(idx int, theta, rx, ry float64) {
		x := rx * math.Cos(theta)
		y := ry * math.Sin(theta)
		sin, cos := math.Sincos(m.Tilt)
		set[idx] = landmark.Point{
			X: m.CX + x*cos - y*sin,
			Y: m.CY + x*sin + y*cos,
		}
	}

	// outer ring: left corner, over the top, right corner, along the bottom
	n := len(landmark.OuterMouth)
	for i, idx := range landmark.OuterMouth {
		place(idx, math.Pi+float64(i)*2*math.Pi/float64(n), m.W, m.H)
	}

	// inner ring: left corner, along the bottom to the right corner, back over the top
	innerW := m.W * 0.75
	innerH := m.H * (0.05 + 0.6*m.Open)
	for k, idx := range landmark.InnerMouth {
		var theta float64
		if k <= 10 {
			theta = math.Pi - float64(k)*math.Pi/10
		} else {
			theta = -float64(k-10) * math.Pi / 8
		}
		place(idx, theta, innerW, innerH)
	}
	return set
}
