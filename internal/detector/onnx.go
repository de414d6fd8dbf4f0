package detector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions configures LoadONNX.
type ONNXOptions struct {
	BundleDir    string
	MaxDimension int
	MaxPixels    int64

	// SharedLibrary overrides onnxruntime library discovery.
	SharedLibrary string
}

// ONNXModel runs an image classifier exported to ONNX. A single session is
// shared; Infer serializes access to its bound tensors.
type ONNXModel struct {
	bundle    Bundle
	aiIndex   int
	maxDim    int
	maxPixels int64

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]

	mu sync.Mutex
}

// LoadONNX initializes the runtime and creates a session for the bundle.
func LoadONNX(opts ONNXOptions) (*ONNXModel, error) {
	bundle, err := LoadBundle(opts.BundleDir)
	if err != nil {
		return nil, err
	}

	libPath := strings.TrimSpace(opts.SharedLibrary)
	if libPath == "" {
		libPath = resolveSharedLibraryPath(bundle.Dir)
	}
	if libPath == "" {
		return nil, errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	modelPath := bundle.ModelPath()
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", modelPath, err)
	}

	size := int64(bundle.ImageSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("allocate %s tensor: %w", bundle.InputName, err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(bundle.Labels))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate %s tensor: %w", bundle.OutputName, err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{bundle.InputName},
		[]string{bundle.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXModel{
		bundle:    bundle,
		aiIndex:   bundle.AIIndex(),
		maxDim:    opts.MaxDimension,
		maxPixels: opts.MaxPixels,
		session:   session,
		input:     input,
		output:    output,
	}, nil
}

// Labels returns the class labels in output order.
func (m *ONNXModel) Labels() []string {
	return append([]string(nil), m.bundle.Labels...)
}

// Infer implements Inferer.
func (m *ONNXModel) Infer(data []byte) (float64, error) {
	if m == nil || m.session == nil {
		return 0, ErrUnavailable
	}
	pixels, err := pixelValues(data, m.bundle.ImageSize, m.maxDim, m.maxPixels, m.bundle.Mean, m.bundle.Std)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copy(m.input.GetData(), pixels)
	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("onnx run: %w", err)
	}
	probs := softmax(m.output.GetData())
	if m.aiIndex >= len(probs) {
		return 0, fmt.Errorf("ai class %d outside model output of %d", m.aiIndex, len(probs))
	}
	return probs[m.aiIndex], nil
}

// Close releases the session and its tensors.
func (m *ONNXModel) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	if m.input != nil {
		errs = append(errs, m.input.Destroy())
	}
	if m.output != nil {
		errs = append(errs, m.output.Destroy())
	}
	return errors.Join(errs...)
}

// resolveSharedLibraryPath locates a platform-specific onnxruntime library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins; otherwise common locations are searched.
func resolveSharedLibraryPath(bundleDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{
		"libonnxruntime.so",
		"onnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		bundleDir,
		filepath.Join(bundleDir, "lib"),
		".",
		"/opt/homebrew/lib",
		"/usr/local/lib",
		"/usr/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
