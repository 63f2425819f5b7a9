package scheduler

import (
	"sync/atomic"

	"github.com/dudu/lipfilter/internal/landmark"
)

// Slot holds the latest detection result. The detection side replaces it
// whole; the render side reads whatever is current.
type Slot struct {
	p atomic.Pointer[landmark.Result]
}

// Store publishes r
func (s *Slot) Store(r *landmark.Result) {
	s.p.Store(r)
}

// Load returns the latest result, or nil
func (s *Slot) Load() *landmark.Result {
	return s.p.Load()
}

// Clear drops the stored result
func (s *Slot) Clear() {
	s.p.Store(nil)
}
