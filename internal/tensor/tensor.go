// Package tensor encodes normalized grids into the model input format.
package tensor

import (
	"fmt"

	"github.com/Brownie44l1/digit-api/internal/raster"
)

// Standardization constants of the MNIST training set. The model was trained
// on (x - Mean) / Std with x in [0, 1]; both values are fixed.
const (
	Mean float32 = 0.1307
	Std  float32 = 0.3081
)

// Supported input shapes. All of them hold one single-channel 28x28 image in
// row-major order, so the data buffer is identical across layouts.
var (
	ShapeNCHW = []int64{1, 1, raster.Size, raster.Size}
	ShapeNHWC = []int64{1, raster.Size, raster.Size, 1}
	ShapeFlat = []int64{1, raster.Cells}
)

// Input is a batched tensor ready for the forward pass.
type Input struct {
	Shape []int64
	Data  []float32
}

// Validate checks that the buffer length matches the shape.
func (in Input) Validate() error {
	if len(in.Shape) == 0 {
		return fmt.Errorf("tensor has no shape")
	}
	n := int64(1)
	for _, d := range in.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor shape %v has non-positive dimension", in.Shape)
		}
		n *= d
	}
	if int64(len(in.Data)) != n {
		return fmt.Errorf("tensor shape %v needs %d values, got %d", in.Shape, n, len(in.Data))
	}
	return nil
}

// SameShape reports whether a and b are equal shapes.
func SameShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Encoder maps grids to tensors of a fixed shape.
type Encoder struct {
	shape []int64
}

// NewEncoder returns an encoder for shape. A nil shape selects NCHW.
func NewEncoder(shape []int64) (*Encoder, error) {
	if shape == nil {
		shape = ShapeNCHW
	}
	for _, s := range [][]int64{ShapeNCHW, ShapeNHWC, ShapeFlat} {
		if SameShape(shape, s) {
			return &Encoder{shape: append([]int64(nil), shape...)}, nil
		}
	}
	return nil, fmt.Errorf("unsupported input shape %v (want %v, %v or %v)", shape, ShapeNCHW, ShapeNHWC, ShapeFlat)
}

// Shape returns a copy of the encoder's output shape.
func (e *Encoder) Shape() []int64 {
	return append([]int64(nil), e.shape...)
}

// Encode standardizes grid into a fresh tensor.
func (e *Encoder) Encode(grid raster.Grid) Input {
	data := make([]float32, raster.Cells)
	for i, v := range grid {
		data[i] = (v - Mean) / Std
	}
	return Input{Shape: e.Shape(), Data: data}
}
