// Package result derives the reported digit and confidence from a
// probability vector.
package result

import (
	"math"

	dErrors "github.com/Brownie44l1/digit-api/internal/domainerrors"
)

// NumClasses is the required length of a probability vector.
const NumClasses = 10

// SumTolerance bounds how far the probabilities may sum from 1.
const SumTolerance = 1e-3

// Classification is the display-ready outcome of one prediction.
type Classification struct {
	Digit         int       `json:"digit"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
}

// Summarize validates probs and picks the most likely digit. Ties go to the
// lowest index. A vector that fails validation is reported as
// CodeInvariant: it means the classifier is broken, not the input.
func Summarize(probs []float64) (Classification, error) {
	if len(probs) != NumClasses {
		return Classification{}, dErrors.Newf(dErrors.CodeInvariant,
			"probability vector has %d entries, want %d", len(probs), NumClasses)
	}

	var sum float64
	digit := 0
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return Classification{}, dErrors.Newf(dErrors.CodeInvariant,
				"probability %d out of range: %v", i, p)
		}
		sum += p
		if p > probs[digit] {
			digit = i
		}
	}
	if math.Abs(sum-1) > SumTolerance {
		return Classification{}, dErrors.Newf(dErrors.CodeInvariant,
			"probabilities sum to %v", sum)
	}

	return Classification{
		Digit:         digit,
		Confidence:    probs[digit],
		Probabilities: append([]float64(nil), probs...),
	}, nil
}
