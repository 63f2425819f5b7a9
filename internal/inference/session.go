// Package inference wraps ONNX Runtime sessions
package inference

import (
	"runtime"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Provider names an execution provider
type Provider string

const (
	ProviderCPU    Provider = "cpu"
	ProviderCoreML Provider = "coreml"
	ProviderCUDA   Provider = "cuda"
)

// ParseProvider accepts a provider name in any case; empty means cpu
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProviderCPU, nil
	case ProviderCPU, ProviderCoreML, ProviderCUDA:
		return p, nil
	}
	return "", errors.Newf("unknown execution provider %q", s)
}

var (
	initialized bool
	initMu      sync.Mutex
)

// DefaultLibraryPath returns the platform's usual ONNX Runtime library name
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "lib/libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// Initialize sets up ONNX Runtime environment (call once at startup).
// An empty libraryPath uses DefaultLibraryPath.
func Initialize(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	if libraryPath == "" {
		libraryPath = DefaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libraryPath)

	if err := ort.InitializeEnvironment(); err != nil {
		return errors.WithHint(
			errors.Wrapf(err, "failed to initialize ONNX Runtime from %s", libraryPath),
			"set detector.library to the onnxruntime shared library path")
	}

	initialized = true
	return nil
}

// Initialized reports whether the environment is ready
func Initialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// Shutdown cleans up ONNX Runtime environment
func Shutdown() error {
	initMu.Lock()
	defer initMu.Unlock()

	if !initialized {
		return nil
	}

	if err := ort.DestroyEnvironment(); err != nil {
		return err
	}

	initialized = false
	return nil
}

// Session wraps an ONNX Runtime inference session
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
}

// NewSession creates a session for modelPath. If the requested provider
// cannot be attached the session falls back to CPU and logs why.
func NewSession(modelPath string, inputNames, outputNames []string, provider Provider, log *zap.SugaredLogger) (*Session, error) {
	if !Initialized() {
		return nil, errors.New("ONNX Runtime not initialized, call Initialize() first")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	if err := appendProvider(options, provider); err != nil {
		log.Warnw("execution provider unavailable, using CPU", "model", modelPath, "provider", provider, "error", err)
	} else {
		log.Infow("model loaded", "model", modelPath, "provider", provider)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		outputNames,
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %s", modelPath)
	}

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputNames:  inputNames,
		outputNames: outputNames,
	}, nil
}

func appendProvider(options *ort.SessionOptions, provider Provider) error {
	switch provider {
	case ProviderCoreML:
		// Flag 0 = default settings, use Neural Engine + GPU
		return options.AppendExecutionProviderCoreML(0)
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		return options.AppendExecutionProviderCUDA(cuda)
	default:
		return nil
	}
}

// ModelPath returns the model file the session was built from
func (s *Session) ModelPath() string {
	return s.modelPath
}

// Run executes inference with the given inputs
func (s *Session) Run(inputs []ort.Value, outputs []ort.Value) error {
	return s.session.Run(inputs, outputs)
}

// Destroy releases session resources
func (s *Session) Destroy() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}

// CreateTensor creates a tensor with the given shape and data
func CreateTensor[T ort.TensorData](shape []int64, data []T) (*ort.Tensor[T], error) {
	return ort.NewTensor(ort.NewShape(shape...), data)
}

// CreateEmptyTensor creates a zeroed tensor for output
func CreateEmptyTensor[T ort.TensorData](shape []int64) (*ort.Tensor[T], error) {
	return ort.NewEmptyTensor[T](ort.NewShape(shape...))
}
