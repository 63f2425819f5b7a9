package detector

import (
	"image"

	"github.com/cockroachdb/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dudu/lipfilter/internal/inference"
	"github.com/dudu/lipfilter/internal/landmark"
)

// MeshSpec describes the tensors of a face-mesh model
type MeshSpec struct {
	InputName     string
	LandmarksName string
	ScoreName     string
	InputSize     int
	// NCHW is set for models that take planar input; MediaPipe exports
	// are interleaved (NHWC)
	NCHW bool
	// CropScale is how much larger than the detector box the crop is
	CropScale float32
}

// DefaultMeshSpec matches the MediaPipe face_landmark ONNX export
func DefaultMeshSpec() MeshSpec {
	return MeshSpec{
		InputName:     "input_1",
		LandmarksName: "conv2d_21",
		ScoreName:     "conv2d_31",
		InputSize:     192,
		CropScale:     1.5,
	}
}

// Mesh runs a 468-point face-mesh model on a square crop around a face
type Mesh struct {
	session *inference.Session
	spec    MeshSpec
}

// NewMesh creates a new face-mesh landmark model
func NewMesh(modelPath string, spec MeshSpec, provider inference.Provider, log *zap.SugaredLogger) (*Mesh, error) {
	session, err := inference.NewSession(modelPath,
		[]string{spec.InputName},
		[]string{spec.LandmarksName, spec.ScoreName},
		provider, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create face mesh session")
	}
	return &Mesh{session: session, spec: spec}, nil
}

// Detect returns the mesh points of face in img pixels and the model's
// face presence score in [0,1]
func (m *Mesh) Detect(img gocv.Mat, face Face) ([]MeshPoint, float32, error) {
	size := m.spec.InputSize
	crop := face.BoundingBox.Square(m.spec.CropScale)
	if crop.Width() <= 0 {
		return nil, 0, errors.New("empty face box")
	}
	center := crop.Center()
	scale := float32(size) / crop.Width()

	// Warp image to get the face crop
	M := cropTransform(center, scale, size)
	aligned := gocv.NewMat()
	defer aligned.Close()
	gocv.WarpAffine(img, &aligned, M, image.Pt(size, size))
	M.Close()

	input, err := m.prepare(aligned)
	if err != nil {
		return nil, 0, err
	}
	inputTensor, err := inference.CreateTensor(m.inputShape(), input)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create input tensor")
	}
	defer inputTensor.Destroy()

	// 468 landmarks * (x, y, z), plus one presence logit
	pointsTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 1, 1, landmark.MeshSize * 3})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create output tensor")
	}
	defer pointsTensor.Destroy()
	scoreTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 1, 1, 1})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create output tensor")
	}
	defer scoreTensor.Destroy()

	if err := m.session.Run([]ort.Value{inputTensor}, []ort.Value{pointsTensor, scoreTensor}); err != nil {
		return nil, 0, errors.Wrap(err, "face mesh inference failed")
	}

	points := decodeMesh(pointsTensor.GetData(), center, scale, size)
	return points, sigmoid(scoreTensor.GetData()[0]), nil
}

func (m *Mesh) inputShape() []int64 {
	s := int64(m.spec.InputSize)
	if m.spec.NCHW {
		return []int64{1, 3, s, s}
	}
	return []int64{1, s, s, 3}
}

// prepare converts the BGR crop to RGB floats in [0,1]
func (m *Mesh) prepare(aligned gocv.Mat) ([]float32, error) {
	size := m.spec.InputSize
	if m.spec.NCHW {
		blob := gocv.BlobFromImage(aligned, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
		defer blob.Close()
		data, err := blob.DataPtrFloat32()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read input blob")
		}
		return append([]float32(nil), data...), nil
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(aligned, &rgb, gocv.ColorBGRToRGB)

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	rgb.ConvertToWithParams(&floatMat, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	data, err := floatMat.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read input crop")
	}
	return append([]float32(nil), data...), nil
}

// Close releases model resources
func (m *Mesh) Close() error {
	return m.session.Destroy()
}

// cropTransform scales by scale about center and moves center to the
// middle of a size x size output
func cropTransform(center Point, scale float32, size int) gocv.Mat {
	M := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	half := float64(size) / 2
	M.SetDoubleAt(0, 0, float64(scale))
	M.SetDoubleAt(0, 1, 0)
	M.SetDoubleAt(0, 2, half-float64(center.X*scale))
	M.SetDoubleAt(1, 0, 0)
	M.SetDoubleAt(1, 1, float64(scale))
	M.SetDoubleAt(1, 2, half-float64(center.Y*scale))
	return M
}

// decodeMesh maps crop-pixel mesh output back to image pixels
func decodeMesh(output []float32, center Point, scale float32, size int) []MeshPoint {
	n := len(output) / 3
	half := float32(size) / 2
	points := make([]MeshPoint, n)
	for i := range points {
		points[i] = MeshPoint{
			X: (output[i*3]-half)/scale + center.X,
			Y: (output[i*3+1]-half)/scale + center.Y,
			Z: output[i*3+2] / scale,
		}
	}
	return points
}
