package detector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the bundle manifest inside a model directory.
const ManifestFile = "model.yaml"

// Bundle describes an exported image classifier.
type Bundle struct {
	Dir        string     `yaml:"-"`
	Model      string     `yaml:"model"`
	InputName  string     `yaml:"input_name"`
	OutputName string     `yaml:"output_name"`
	ImageSize  int        `yaml:"image_size"`
	Mean       [3]float32 `yaml:"mean"`
	Std        [3]float32 `yaml:"std"`
	Labels     []string   `yaml:"labels"`
}

var aiLabelHints = []string{"ai", "artificial", "fake"}

// LoadBundle reads dir/model.yaml and fills defaults matching a ViT image
// classifier export.
func LoadBundle(dir string) (Bundle, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return Bundle{}, errors.New("bundle dir is empty")
	}
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Bundle{}, fmt.Errorf("read model manifest: %w", err)
	}
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("parse model manifest: %w", err)
	}
	b.Dir = dir
	if b.Model == "" {
		b.Model = "model.onnx"
	}
	if b.InputName == "" {
		b.InputName = "pixel_values"
	}
	if b.OutputName == "" {
		b.OutputName = "logits"
	}
	if b.ImageSize <= 0 {
		b.ImageSize = 224
	}
	if b.Mean == [3]float32{} {
		b.Mean = [3]float32{0.5, 0.5, 0.5}
	}
	if b.Std == [3]float32{} {
		b.Std = [3]float32{0.5, 0.5, 0.5}
	}
	for i, s := range b.Std {
		if s <= 0 {
			return Bundle{}, fmt.Errorf("model manifest: std[%d] must be positive", i)
		}
	}
	if len(b.Labels) < 2 {
		return Bundle{}, errors.New("model manifest: at least two labels are required")
	}
	return b, nil
}

// ModelPath returns the absolute path of the ONNX file.
func (b Bundle) ModelPath() string {
	if filepath.IsAbs(b.Model) {
		return b.Model
	}
	return filepath.Join(b.Dir, b.Model)
}

// AIIndex returns the class index representing AI-generated images: the first
// label mentioning "ai", "artificial" or "fake", else the last label.
func (b Bundle) AIIndex() int {
	for i, label := range b.Labels {
		folded := cases.Fold().String(label)
		for _, hint := range aiLabelHints {
			if strings.Contains(folded, hint) {
				return i
			}
		}
	}
	return len(b.Labels) - 1
}
