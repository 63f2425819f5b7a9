// Package detector finds the face landmarks the overlay is drawn from.
// SCRFD locates the face and a face-mesh model places 468 points on it.
package detector

import (
	"context"
	"image"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dudu/lipfilter/internal/inference"
	"github.com/dudu/lipfilter/internal/landmark"
	"github.com/dudu/lipfilter/internal/scheduler"
)

// FaceFinder interface for face detection
type FaceFinder interface {
	Detect(img gocv.Mat) ([]Face, error)
	Close() error
}

// MeshRunner interface for face-mesh landmark detection
type MeshRunner interface {
	Detect(img gocv.Mat, face Face) ([]MeshPoint, float32, error)
	Close() error
}

// Options configures NewFaceMesh
type Options struct {
	FaceModel     string
	MeshModel     string
	Mesh          MeshSpec
	Provider      inference.Provider
	DetectionSize int
	MinConfidence float32
	NMSThreshold  float32
}

// DefaultOptions returns single-face detection at 0.5 confidence
func DefaultOptions() Options {
	return Options{
		FaceModel:     "models/det_10g.onnx",
		MeshModel:     "models/face_mesh_192.onnx",
		Mesh:          DefaultMeshSpec(),
		Provider:      inference.ProviderCPU,
		DetectionSize: 640,
		MinConfidence: 0.5,
		NMSThreshold:  0.4,
	}
}

// FaceMesh implements scheduler.Detector for the largest face in frame
type FaceMesh struct {
	faces         FaceFinder
	mesh          MeshRunner
	minConfidence float32
	log           *zap.SugaredLogger

	mu      sync.Mutex
	lastTS  int64
	started bool
}

// NewFaceMesh loads both models. inference.Initialize must have been called.
func NewFaceMesh(opts Options, log *zap.SugaredLogger) (*FaceMesh, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("detector")

	faces, err := NewSCRFD(opts.FaceModel, opts.DetectionSize, opts.MinConfidence, opts.NMSThreshold, opts.Provider, log)
	if err != nil {
		return nil, errors.WithHint(err, "download the SCRFD model or set detector.face_model")
	}
	mesh, err := NewMesh(opts.MeshModel, opts.Mesh, opts.Provider, log)
	if err != nil {
		faces.Close()
		return nil, errors.WithHint(err, "download the face mesh model or set detector.mesh_model")
	}
	return NewFaceMeshFrom(faces, mesh, opts.MinConfidence, log), nil
}

// NewFaceMeshFrom assembles a FaceMesh from its stages
func NewFaceMeshFrom(faces FaceFinder, mesh MeshRunner, minConfidence float32, log *zap.SugaredLogger) *FaceMesh {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FaceMesh{faces: faces, mesh: mesh, minConfidence: minConfidence, log: log}
}

// Detect returns normalized landmarks for the largest face, or nil when
// no face is found. Timestamps must strictly increase; an older or equal
// one fails with scheduler.ErrTimestampOrder.
func (f *FaceMesh) Detect(ctx context.Context, frame image.Image, timestampMs int64) (landmark.Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started && timestampMs <= f.lastTS {
		return nil, errors.Wrapf(scheduler.ErrTimestampOrder, "timestamp %d after %d", timestampMs, f.lastTS)
	}
	f.started = true
	f.lastTS = timestampMs

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert frame")
	}
	defer img.Close()

	faces, err := f.faces.Detect(img)
	if err != nil {
		return nil, errors.Wrap(err, "face detection failed")
	}
	face, ok := Largest(faces)
	if !ok {
		return nil, nil
	}

	points, score, err := f.mesh.Detect(img, face)
	if err != nil {
		return nil, errors.Wrap(err, "face mesh failed")
	}
	if score < f.minConfidence {
		f.log.Debugw("mesh rejected face", "score", score)
		return nil, nil
	}
	return normalize(points, img.Cols(), img.Rows())
}

// normalize scales pixel points into [0,1] frame coordinates
func normalize(points []MeshPoint, w, h int) (landmark.Set, error) {
	if len(points) < landmark.MeshSize {
		return nil, errors.Newf("face mesh returned %d points, want %d", len(points), landmark.MeshSize)
	}
	if w <= 0 || h <= 0 {
		return nil, errors.New("empty frame")
	}
	fw, fh := float64(w), float64(h)
	set := make(landmark.Set, landmark.MeshSize)
	for i := range set {
		p := points[i]
		set[i] = landmark.Point{X: float64(p.X) / fw, Y: float64(p.Y) / fh, Z: float64(p.Z) / fw}
	}
	return set, nil
}

// Close releases both models
func (f *FaceMesh) Close() error {
	return errors.CombineErrors(f.faces.Close(), f.mesh.Close())
}

var _ scheduler.Detector = (*FaceMesh)(nil)
