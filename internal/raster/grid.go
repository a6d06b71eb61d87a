package raster

import "fmt"

// Size is the side length of the normalized grid, matching MNIST digitization.
const Size = 28

// Cells is the number of intensities in a Grid.
const Cells = Size * Size

// Grid is a 28x28 intensity field in row-major order. Values are in [0, 1]
// with 0 for background and 1 for full stroke intensity.
type Grid [Cells]float32

// At returns the intensity at column x, row y.
func (g *Grid) At(x, y int) float32 {
	return g[y*Size+x]
}

// GridFromSlice builds a Grid from a row-major slice of exactly Cells
// values, each within [0, 1].
func GridFromSlice(pixels []float32) (Grid, error) {
	var g Grid
	if len(pixels) != Cells {
		return g, fmt.Errorf("expected %d values, got %d", Cells, len(pixels))
	}
	for i, v := range pixels {
		if !(v >= 0 && v <= 1) {
			return g, fmt.Errorf("value %d out of range [0,1]: %v", i, v)
		}
		g[i] = v
	}
	return g, nil
}
