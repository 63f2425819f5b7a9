package landmark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMouthRingsAreValid(t *testing.T) {
	for name, ring := range map[string]Ring{
		"outer": OuterMouth,
		"inner": InnerMouth,
		"gloss": GlossRing(),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, ring.Validate(MeshSize))

			seen := make(map[int]bool, len(ring))
			for _, idx := range ring {
				assert.False(t, seen[idx], "duplicate index %d", idx)
				seen[idx] = true
			}
		})
	}
}

func TestLowerLipHalvesComeFromRings(t *testing.T) {
	contains := func(r Ring, idx int) bool {
		for _, v := range r {
			if v == idx {
				return true
			}
		}
		return false
	}
	for _, idx := range LowerOuterLip {
		assert.True(t, contains(OuterMouth, idx), "outer lower index %d", idx)
	}
	for _, idx := range LowerInnerLip {
		assert.True(t, contains(InnerMouth, idx), "inner lower index %d", idx)
	}
	assert.Equal(t, RightMouthCorner, LowerOuterLip[0])
	assert.Len(t, GlossRing(), len(LowerOuterLip)+len(LowerInnerLip))
}

func TestRingValidate(t *testing.T) {
	tests := []struct {
		name    string
		ring    Ring
		size    int
		wantErr bool
	}{
		{"ok", Ring{0, 1, 2}, 3, false},
		{"empty", Ring{}, 3, true},
		{"too large", Ring{0, 3}, 3, true},
		{"negative", Ring{-1}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ring.Validate(tt.size)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSetAtPanicsOnInvalidIndex(t *testing.T) {
	s := make(Set, 3)
	assert.NotPanics(t, func() { s.At(2) })
	assert.Panics(t, func() { s.At(3) })
}

func TestResultFound(t *testing.T) {
	var nilResult *Result
	assert.False(t, nilResult.Found())
	assert.False(t, (&Result{Timestamp: 1}).Found())
	assert.True(t, (&Result{Landmarks: make(Set, MeshSize)}).Found())
}
