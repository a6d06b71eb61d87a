package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/Brownie44l1/digit-api/internal/raster"
	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// NumClasses is the number of digit classes the model must score.
const NumClasses = 10

// Metadata describes a model artifact. It ships as JSON next to the model.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
	Mean        *float64 `json:"mean,omitempty"`
	Std         *float64 `json:"std,omitempty"`
	Version     string   `json:"version,omitempty"`
}

// DefaultMetadata matches the reference MNIST export: NCHW input named
// "input", ten logits named "output".
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  append([]int64(nil), tensor.ShapeNCHW...),
		OutputShape: []int64{1, NumClasses},
		Classes:     []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"},
		ImageSize:   raster.Size,
		InputName:   "input",
		OutputName:  "output",
	}
}

// ReadMetadata loads and validates a metadata file, filling unset fields
// from DefaultMetadata.
func ReadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	meta := DefaultMetadata()
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata %s: %w", path, err)
	}
	return meta, nil
}

// Validate rejects artifacts whose preprocessing contract differs from the
// one this service implements.
func (m Metadata) Validate() error {
	if len(m.Classes) != NumClasses {
		return fmt.Errorf("expected %d classes, got %d", NumClasses, len(m.Classes))
	}
	if m.ImageSize != raster.Size {
		return fmt.Errorf("expected image size %d, got %d", raster.Size, m.ImageSize)
	}
	if _, err := tensor.NewEncoder(m.InputShape); err != nil {
		return err
	}
	if n := product(m.OutputShape); n != NumClasses {
		return fmt.Errorf("output shape %v holds %d values, want %d", m.OutputShape, n, NumClasses)
	}
	if m.Mean != nil && math.Abs(*m.Mean-float64(tensor.Mean)) > 1e-4 {
		return fmt.Errorf("model trained with mean %v, encoder uses %v", *m.Mean, tensor.Mean)
	}
	if m.Std != nil && math.Abs(*m.Std-float64(tensor.Std)) > 1e-4 {
		return fmt.Errorf("model trained with std %v, encoder uses %v", *m.Std, tensor.Std)
	}
	return nil
}

func product(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
