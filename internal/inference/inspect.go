package inference

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/tsawler/go-metal/checkpoints"
	ort "github.com/yalue/onnxruntime_go"
)

// ModelInfo describes an ONNX model file
type ModelInfo struct {
	Path        string
	Inputs      []ort.InputOutputInfo
	Outputs     []ort.InputOutputInfo
	Producer    string
	Version     int64
	Domain      string
	Description string
}

// Layer is one layer of a model as go-metal sees it
type Layer struct {
	Name string
	Type string
}

func checkFile(modelPath string) error {
	if _, err := os.Stat(modelPath); err != nil {
		return errors.WithHint(errors.Wrapf(err, "model %s", modelPath),
			"download the models into ./models or fix the path in the config")
	}
	return nil
}

// Inspect reads the tensors and metadata of a model. Initialize must have
// been called.
func Inspect(modelPath string) (*ModelInfo, error) {
	if err := checkFile(modelPath); err != nil {
		return nil, err
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model info from %s", modelPath)
	}
	info := &ModelInfo{Path: modelPath, Inputs: inputs, Outputs: outputs}

	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		// tensor info is enough to wire a model
		return info, nil
	}
	defer metadata.Destroy()
	if v, err := metadata.GetProducerName(); err == nil {
		info.Producer = v
	}
	if v, err := metadata.GetVersion(); err == nil {
		info.Version = v
	}
	if v, err := metadata.GetDomain(); err == nil {
		info.Domain = v
	}
	if v, err := metadata.GetDescription(); err == nil {
		info.Description = v
	}
	return info, nil
}

// Input returns the named input, if present
func (m *ModelInfo) Input(name string) (ort.InputOutputInfo, bool) {
	return findTensor(m.Inputs, name)
}

// Output returns the named output, if present
func (m *ModelInfo) Output(name string) (ort.InputOutputInfo, bool) {
	return findTensor(m.Outputs, name)
}

func findTensor(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, bool) {
	for _, info := range infos {
		if info.Name == name {
			return info, true
		}
	}
	return ort.InputOutputInfo{}, false
}

// MetalLayers imports the model with go-metal and lists its layers. It
// fails for models using operations go-metal does not support, which
// includes most detection heads.
func MetalLayers(modelPath string) ([]Layer, error) {
	if err := checkFile(modelPath); err != nil {
		return nil, err
	}
	checkpoint, err := checkpoints.NewONNXImporter().ImportFromONNX(modelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "go-metal cannot import %s", modelPath)
	}
	layers := make([]Layer, 0, len(checkpoint.ModelSpec.Layers))
	for _, l := range checkpoint.ModelSpec.Layers {
		layers = append(layers, Layer{Name: l.Name, Type: fmt.Sprint(l.Type)})
	}
	return layers, nil
}
