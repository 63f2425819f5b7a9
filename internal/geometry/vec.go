package geometry

import "math"

// Vec is a point or offset in render-surface pixels
type Vec struct {
	X, Y float64
}

// Add returns v+o
func (v Vec) Add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y} }

// Sub returns v-o
func (v Vec) Sub(o Vec) Vec { return Vec{v.X - o.X, v.Y - o.Y} }

// Scale returns v*k
func (v Vec) Scale(k float64) Vec { return Vec{v.X * k, v.Y * k} }

// Dist returns the euclidean distance between v and o
func (v Vec) Dist(o Vec) float64 { return math.Hypot(v.X-o.X, v.Y-o.Y) }

// Mid returns the midpoint of v and o
func (v Vec) Mid(o Vec) Vec { return Vec{(v.X + o.X) / 2, (v.Y + o.Y) / 2} }

// Rotate returns v rotated by angle radians around the origin
func (v Vec) Rotate(angle float64) Vec {
	sin, cos := math.Sincos(angle)
	return Vec{v.X*cos - v.Y*sin, v.X*sin + v.Y*cos}
}
