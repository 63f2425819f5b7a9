package geometry

import "github.com/dudu/lipfilter/internal/landmark"

// MapPoint converts one normalized landmark into surface pixels
func MapPoint(p landmark.Point, area DrawArea) Vec {
	return Vec{
		X: p.X*area.W + area.X,
		Y: p.Y*area.H + area.Y,
	}
}

// MapRing converts the landmarks addressed by ring into surface pixels,
// preserving ring order. An index outside the set panics.
func MapRing(set landmark.Set, ring landmark.Ring, area DrawArea) []Vec {
	pts := make([]Vec, len(ring))
	for i, idx := range ring {
		pts[i] = MapPoint(set.At(idx), area)
	}
	return pts
}
