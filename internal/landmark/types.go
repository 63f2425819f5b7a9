package landmark

import "github.com/cockroachdb/errors"

// MeshSize is the number of points in a face-mesh landmark set
const MeshSize = 468

// Point is a detector landmark normalized to the input frame.
// Z is carried through but unused by the overlay.
type Point struct {
	X, Y, Z float64
}

// Set is a fixed-length face-mesh landmark list; index i always
// refers to the same anatomical point.
type Set []Point

// At returns the landmark at index i, panicking on an invalid index
func (s Set) At(i int) Point {
	if i < 0 || i >= len(s) {
		panic(errors.AssertionFailedf("landmark index %d out of range for set of %d", i, len(s)))
	}
	return s[i]
}

// Clone returns a copy that shares nothing with s
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// Result is one completed detection. Landmarks is nil when no face was found.
type Result struct {
	Landmarks Set
	Timestamp int64 // milliseconds, monotonically increasing per session
}

// Found reports whether the result carries a face
func (r *Result) Found() bool {
	return r != nil && len(r.Landmarks) > 0
}
