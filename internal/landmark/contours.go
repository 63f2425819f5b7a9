package landmark

import "github.com/cockroachdb/errors"

// Ring is a cyclic list of landmark indices describing a closed boundary
type Ring []int

// Face-mesh lip contours. The outer ring runs clockwise on screen starting
// at the left mouth corner; the inner ring runs the other way so an even-odd
// fill of both leaves the mouth opening empty.
var (
	OuterMouth = Ring{61, 185, 40, 39, 37, 0, 267, 269, 270, 409, 291, 375, 321, 405, 314, 17, 84, 181, 91, 146}
	InnerMouth = Ring{78, 95, 88, 178, 87, 14, 317, 402, 318, 324, 308, 415, 310, 311, 312, 13, 82, 81}
)

// LowerOuterLip is the lower half of OuterMouth, right corner to left.
var LowerOuterLip = Ring{291, 375, 321, 405, 314, 17, 84, 181, 91, 146}

// LowerInnerLip is the lower half of InnerMouth, left to right.
// Appended to LowerOuterLip it closes into a crescent over the lower lip.
var LowerInnerLip = Ring{95, 88, 178, 87, 14, 317, 402, 318}

// Centerline pairs used to estimate lip thickness
var (
	UpperLipPair = [2]int{0, 13}
	LowerLipPair = [2]int{14, 17}
)

// Mouth corners
const (
	LeftMouthCorner  = 61
	RightMouthCorner = 291
)

// GlossRing returns the crescent outline over the lower lip
func GlossRing() Ring {
	out := make(Ring, 0, len(LowerOuterLip)+len(LowerInnerLip))
	out = append(out, LowerOuterLip...)
	return append(out, LowerInnerLip...)
}

// Validate checks that every index is addressable in a set of size n
func (r Ring) Validate(n int) error {
	if len(r) == 0 {
		return errors.New("empty contour ring")
	}
	for pos, idx := range r {
		if idx < 0 || idx >= n {
			return errors.Newf("ring position %d: index %d out of range [0,%d)", pos, idx, n)
		}
	}
	return nil
}
