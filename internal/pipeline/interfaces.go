package pipeline

import (
	"github.com/cockroachdb/errors"

	"github.com/dudu/lipfilter/internal/config"
	"github.com/dudu/lipfilter/internal/scheduler"
	"github.com/dudu/lipfilter/internal/surface"
	"github.com/dudu/lipfilter/internal/surface/cvmat"
)

// Backend names a render target implementation
type Backend string

const (
	BackendVector Backend = config.BackendVector
	BackendOpenCV Backend = config.BackendOpenCV
)

// RenderTarget is a scheduler.Target that may own native memory
type RenderTarget interface {
	scheduler.Target
	Mirrored() bool
	Close() error
}

// Detector is a scheduler.Detector holding loaded models
type Detector interface {
	scheduler.Detector
	Close() error
}

// NewTarget builds the render target for backend
func NewTarget(backend Backend, w, h int, mirror bool) (RenderTarget, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.Newf("invalid render size %dx%d", w, h)
	}
	switch backend {
	case BackendVector, "":
		return surface.NewVectorTarget(w, h, mirror), nil
	case BackendOpenCV:
		return cvmat.NewTarget(w, h, mirror), nil
	}
	return nil, errors.Newf("unknown render backend %q (use %q or %q)", backend, BackendVector, BackendOpenCV)
}

var (
	_ RenderTarget = (*surface.VectorTarget)(nil)
	_ RenderTarget = (*cvmat.Target)(nil)
)
