package detector

import (
	"image"
	"math"

	"github.com/cockroachdb/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/dudu/lipfilter/internal/inference"
)

// scrfdStrides are the feature map strides of the three output levels
var scrfdStrides = [3]int{8, 16, 32}

// scrfdAnchors is the number of anchors per feature map position
const scrfdAnchors = 2

// SCRFD implements the SCRFD face detector
type SCRFD struct {
	session       *inference.Session
	inputSize     int
	confThreshold float32
	nmsThreshold  float32
}

// NewSCRFD creates a new SCRFD detector
func NewSCRFD(modelPath string, inputSize int, confThreshold, nmsThreshold float32, provider inference.Provider, log *zap.SugaredLogger) (*SCRFD, error) {
	// SCRFD has 1 input and 9 outputs (3 levels × 3 outputs each: score, bbox, kps)
	inputNames := []string{"input.1"}
	outputNames := []string{
		"score_8", "score_16", "score_32",
		"bbox_8", "bbox_16", "bbox_32",
		"kps_8", "kps_16", "kps_32",
	}

	session, err := inference.NewSession(modelPath, inputNames, outputNames, provider, log)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create SCRFD session")
	}

	return &SCRFD{
		session:       session,
		inputSize:     inputSize,
		confThreshold: confThreshold,
		nmsThreshold:  nmsThreshold,
	}, nil
}

// Detect finds faces in a BGR image
func (s *SCRFD) Detect(img gocv.Mat) ([]Face, error) {
	origWidth, origHeight := img.Cols(), img.Rows()

	// Preprocess: resize and normalize
	inputBlob, scale := s.preprocess(img)
	defer inputBlob.Close()

	floatData, err := inputBlob.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read input blob")
	}
	inputTensor, err := inference.CreateTensor([]int64{1, 3, int64(s.inputSize), int64(s.inputSize)}, floatData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer inputTensor.Destroy()

	// Create output tensors
	outputs := make([]ort.Value, 9)
	outputTensors := make([]*ort.Tensor[float32], 9)
	defer func() {
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}()
	for level, stride := range scrfdStrides {
		fm := s.inputSize / stride
		n := int64(fm * fm * scrfdAnchors)
		for k, width := range []int64{1, 4, 10} {
			t, err := inference.CreateEmptyTensor[float32]([]int64{n, width})
			if err != nil {
				return nil, errors.Wrap(err, "failed to create output tensor")
			}
			outputs[level+3*k] = t
			outputTensors[level+3*k] = t
		}
	}

	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	var levels [3]scrfdLevel
	for i := range levels {
		levels[i] = scrfdLevel{
			scores: outputTensors[i].GetData(),
			boxes:  outputTensors[i+3].GetData(),
			kps:    outputTensors[i+6].GetData(),
		}
	}
	faces := decodeSCRFD(levels, s.inputSize, s.confThreshold, scale, origWidth, origHeight)
	return nms(faces, s.nmsThreshold), nil
}

// preprocess letterboxes the image into the input square and returns an
// NCHW float blob normalized to (x - 127.5) / 128
func (s *SCRFD) preprocess(img gocv.Mat) (gocv.Mat, float32) {
	scale := float32(s.inputSize) / float32(max(img.Rows(), img.Cols()))
	newWidth := int(float32(img.Cols()) * scale)
	newHeight := int(float32(img.Rows()) * scale)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(newWidth, newHeight), 0, 0, gocv.InterpolationLinear)

	// Create padded image (letterbox, top-left aligned)
	padded := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), s.inputSize, s.inputSize, gocv.MatTypeCV8UC3)
	defer padded.Close()
	roi := padded.Region(image.Rect(0, 0, newWidth, newHeight))
	resized.CopyTo(&roi)
	roi.Close()

	// BlobFromImage applies the mean, scale and BGR->RGB swap in one pass
	blob := gocv.BlobFromImage(padded, 1.0/128.0, image.Pt(s.inputSize, s.inputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	return blob, scale
}

// Close releases detector resources
func (s *SCRFD) Close() error {
	return s.session.Destroy()
}

// scrfdLevel holds the raw outputs of one stride
type scrfdLevel struct {
	scores []float32 // n x 1
	boxes  []float32 // n x 4, distances to the edges in strides
	kps    []float32 // n x 10
}

// decodeSCRFD turns raw outputs into faces in original image pixels
func decodeSCRFD(levels [3]scrfdLevel, inputSize int, confThreshold, scale float32, origWidth, origHeight int) []Face {
	var faces []Face

	for level, stride := range scrfdStrides {
		out := levels[level]
		fm := inputSize / stride
		st := float32(stride)

		anchorIdx := 0
		for y := 0; y < fm; y++ {
			for x := 0; x < fm; x++ {
				for a := 0; a < scrfdAnchors; a++ {
					idx := anchorIdx
					anchorIdx++
					if idx >= len(out.scores) {
						continue
					}
					// some exports emit logits instead of probabilities
					score := out.scores[idx]
					if score < 0 || score > 1 {
						score = sigmoid(score)
					}
					if score < confThreshold {
						continue
					}

					// Anchor center
					cx := (float32(x) + 0.5) * st
					cy := (float32(y) + 0.5) * st

					b := out.boxes[idx*4 : idx*4+4]
					box := BoundingBox{
						X1: clamp((cx-b[0]*st)/scale, 0, float32(origWidth)),
						Y1: clamp((cy-b[1]*st)/scale, 0, float32(origHeight)),
						X2: clamp((cx+b[2]*st)/scale, 0, float32(origWidth)),
						Y2: clamp((cy+b[3]*st)/scale, 0, float32(origHeight)),
					}

					var pts [5]Point
					if len(out.kps) >= idx*10+10 {
						k := out.kps[idx*10 : idx*10+10]
						for i := range pts {
							pts[i] = Point{X: (cx + k[i*2]*st) / scale, Y: (cy + k[i*2+1]*st) / scale}
						}
					}

					faces = append(faces, Face{
						BoundingBox: box,
						Keypoints: Keypoints{
							LeftEye: pts[0], RightEye: pts[1], Nose: pts[2],
							LeftMouth: pts[3], RightMouth: pts[4],
						},
						Score: score,
					})
				}
			}
		}
	}
	return faces
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

func clamp(x, lo, hi float32) float32 {
	return min(max(x, lo), hi)
}
