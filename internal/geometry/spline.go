package geometry

// DefaultTension is the cardinal spline tension used for lip contours
const DefaultTension = 0.55

// Segment is one piece of a path. A straight segment ignores C1 and C2.
type Segment struct {
	C1, C2 Vec
	To     Vec
	Curve  bool
}

// Path is a sequence of segments starting at Start
type Path struct {
	Start    Vec
	Segments []Segment
}

// Empty reports whether the path draws nothing
func (p Path) Empty() bool {
	return len(p.Segments) == 0
}

// End returns the point the last segment finishes at
func (p Path) End() Vec {
	if len(p.Segments) == 0 {
		return p.Start
	}
	return p.Segments[len(p.Segments)-1].To
}

// Closed reports whether the path returns to its start
func (p Path) Closed() bool {
	return !p.Empty() && p.End() == p.Start
}

// ClosedSpline builds a closed cardinal spline through every point of the
// cyclic ring pts. Each pair (p1, p2) becomes one cubic segment whose
// control points come from the neighbours p0 and p3:
//
//	c1 = p1 + (p2-p0)*tension/6
//	c2 = p2 - (p3-p1)*tension/6
//
// Fewer than three points fall back to straight segments, still closed.
func ClosedSpline(pts []Vec, tension float64) Path {
	n := len(pts)
	if n == 0 {
		return Path{}
	}
	if n < 3 {
		return ClosedPolyline(pts)
	}

	wrap := func(i int) Vec { return pts[((i%n)+n)%n] }
	k := tension / 6

	path := Path{Start: pts[0], Segments: make([]Segment, 0, n)}
	for i := 0; i < n; i++ {
		p0, p1, p2, p3 := wrap(i-1), wrap(i), wrap(i+1), wrap(i+2)
		path.Segments = append(path.Segments, Segment{
			C1:    p1.Add(p2.Sub(p0).Scale(k)),
			C2:    p2.Sub(p3.Sub(p1).Scale(k)),
			To:    p2,
			Curve: true,
		})
	}
	return path
}

// ClosedPolyline joins pts with straight segments and returns to the first point
func ClosedPolyline(pts []Vec) Path {
	if len(pts) == 0 {
		return Path{}
	}
	path := Path{Start: pts[0], Segments: make([]Segment, 0, len(pts))}
	for _, p := range pts[1:] {
		path.Segments = append(path.Segments, Segment{To: p})
	}
	path.Segments = append(path.Segments, Segment{To: pts[0]})
	return path
}

// At evaluates segment i at parameter t in [0,1]
func (p Path) At(i int, t float64) Vec {
	from := p.Start
	if i > 0 {
		from = p.Segments[i-1].To
	}
	s := p.Segments[i]
	if !s.Curve {
		return from.Add(s.To.Sub(from).Scale(t))
	}
	u := 1 - t
	a := u * u * u
	b := 3 * u * u * t
	c := 3 * u * t * t
	d := t * t * t
	return Vec{
		X: a*from.X + b*s.C1.X + c*s.C2.X + d*s.To.X,
		Y: a*from.Y + b*s.C1.Y + c*s.C2.Y + d*s.To.Y,
	}
}

// Flatten samples the path into a polygon, using steps samples per curve.
// The closing point is not repeated.
func (p Path) Flatten(steps int) []Vec {
	if p.Empty() {
		return nil
	}
	if steps < 1 {
		steps = 1
	}
	out := []Vec{p.Start}
	for i, s := range p.Segments {
		if !s.Curve {
			out = append(out, s.To)
			continue
		}
		for j := 1; j <= steps; j++ {
			out = append(out, p.At(i, float64(j)/float64(steps)))
		}
	}
	if len(out) > 1 && out[len(out)-1] == p.Start {
		out = out[:len(out)-1]
	}
	return out
}

// Bounds returns the min and max corners of the path's control hull
func (p Path) Bounds() (min, max Vec) {
	min, max = p.Start, p.Start
	grow := func(v Vec) {
		if v.X < min.X {
			min.X = v.X
		}
		if v.Y < min.Y {
			min.Y = v.Y
		}
		if v.X > max.X {
			max.X = v.X
		}
		if v.Y > max.Y {
			max.Y = v.Y
		}
	}
	for _, s := range p.Segments {
		grow(s.To)
		if s.Curve {
			grow(s.C1)
			grow(s.C2)
		}
	}
	return min, max
}
