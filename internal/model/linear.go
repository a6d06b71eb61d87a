package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Brownie44l1/digit-api/internal/raster"
	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// LinearModel is a single dense layer producing NumClasses logits from the
// 784 standardized pixels. Weights are never written after construction.
type LinearModel struct {
	weights    [NumClasses][raster.Cells]float32
	bias       [NumClasses]float32
	inputShape []int64
}

type linearArtifact struct {
	Weights [][]float32 `json:"weights"`
	Bias    []float32   `json:"bias"`
}

// NewLinearModel validates and copies the given parameters. weights must be
// NumClasses rows of raster.Cells values; bias may be nil.
func NewLinearModel(weights [][]float32, bias []float32, inputShape []int64) (*LinearModel, error) {
	if len(weights) != NumClasses {
		return nil, fmt.Errorf("expected %d weight rows, got %d", NumClasses, len(weights))
	}
	if bias != nil && len(bias) != NumClasses {
		return nil, fmt.Errorf("expected %d biases, got %d", NumClasses, len(bias))
	}
	if inputShape == nil {
		inputShape = tensor.ShapeNCHW
	}
	if product(inputShape) != raster.Cells {
		return nil, fmt.Errorf("input shape %v does not hold %d values", inputShape, raster.Cells)
	}

	m := &LinearModel{inputShape: append([]int64(nil), inputShape...)}
	for k, row := range weights {
		if len(row) != raster.Cells {
			return nil, fmt.Errorf("weight row %d has %d values, want %d", k, len(row), raster.Cells)
		}
		copy(m.weights[k][:], row)
	}
	copy(m.bias[:], bias)
	return m, nil
}

// LoadLinearModel reads a JSON artifact of the form
// {"weights": [[...784]...10], "bias": [...10]}.
func LoadLinearModel(path string, inputShape []int64) (*LinearModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	var art linearArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return NewLinearModel(art.Weights, art.Bias, inputShape)
}

func (m *LinearModel) InputShape() []int64 {
	return append([]int64(nil), m.inputShape...)
}

func (m *LinearModel) Forward(in tensor.Input) ([]float32, error) {
	if len(in.Data) != raster.Cells {
		return nil, fmt.Errorf("expected %d inputs, got %d", raster.Cells, len(in.Data))
	}
	out := make([]float32, NumClasses)
	for k := range m.weights {
		sum := m.bias[k]
		for i, x := range in.Data {
			sum += m.weights[k][i] * x
		}
		out[k] = sum
	}
	return out, nil
}

func (m *LinearModel) Close() error { return nil }
