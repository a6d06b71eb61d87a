// Package model owns the trained network. A Model is loaded once at start-up
// and only read afterwards, so one handle serves every request.
package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// Model is a deterministic forward pass returning one raw score per class.
// Scores need not be normalized. Implementations must be safe for
// concurrent Forward calls.
type Model interface {
	Forward(in tensor.Input) ([]float32, error)
	InputShape() []int64
	Close() error
}

var (
	_ Model = (*ONNXModel)(nil)
	_ Model = (*LinearModel)(nil)
)

// LoadConfig locates a model artifact.
type LoadConfig struct {
	ModelPath    string
	MetadataPath string
	// LibraryPath points at the onnxruntime shared library; empty uses the
	// runtime's default lookup.
	LibraryPath string
}

// Load opens the artifact at cfg.ModelPath, choosing the backend by file
// extension: ".onnx" runs through ONNX Runtime and requires metadata;
// ".json" is a LinearModel whose metadata is optional.
func Load(cfg LoadConfig) (Model, Metadata, error) {
	if cfg.ModelPath == "" {
		return nil, Metadata{}, errors.New("model path is empty")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Metadata{}, fmt.Errorf("model artifact %s not found: export the trained network to it or point MODEL_PATH at an .onnx or linear .json artifact: %w",
				cfg.ModelPath, err)
		}
		return nil, Metadata{}, fmt.Errorf("model artifact: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(cfg.ModelPath)); ext {
	case ".onnx":
		meta, err := ReadMetadata(cfg.MetadataPath)
		if err != nil {
			return nil, Metadata{}, err
		}
		m, err := NewONNXModel(cfg.ModelPath, meta, cfg.LibraryPath)
		if err != nil {
			return nil, Metadata{}, err
		}
		return m, meta, nil

	case ".json":
		meta := DefaultMetadata()
		if cfg.MetadataPath != "" {
			if _, err := os.Stat(cfg.MetadataPath); err == nil {
				if meta, err = ReadMetadata(cfg.MetadataPath); err != nil {
					return nil, Metadata{}, err
				}
			}
		}
		m, err := LoadLinearModel(cfg.ModelPath, meta.InputShape)
		if err != nil {
			return nil, Metadata{}, err
		}
		return m, meta, nil

	default:
		return nil, Metadata{}, fmt.Errorf("unsupported model format %q", ext)
	}
}

// Encoder returns the tensor encoder matching the model's input shape.
func Encoder(m Model) (*tensor.Encoder, error) {
	return tensor.NewEncoder(m.InputShape())
}
