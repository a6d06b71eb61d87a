// Package classifier turns a model's raw scores into a probability
// distribution over the ten digit classes.
package classifier

import (
	"context"
	"errors"
	"math"

	dErrors "github.com/Brownie44l1/digit-api/internal/domainerrors"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// Classifier wraps a loaded model. It holds no per-request state, so a single
// instance is shared by every handler goroutine.
type Classifier struct {
	model model.Model
	shape []int64
}

// New returns a Classifier reading from m.
func New(m model.Model) *Classifier {
	return &Classifier{model: m, shape: m.InputShape()}
}

// Classify runs the forward pass and softmax-normalizes its output. A done
// context is reported as CodeCanceled or CodeTimeout; every other failure is
// an upstream defect and reported as CodeInference.
func (c *Classifier) Classify(ctx context.Context, in tensor.Input) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.FromContext(err)
	}
	if err := in.Validate(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInference, "malformed input tensor")
	}
	if !tensor.SameShape(in.Shape, c.shape) {
		return nil, dErrors.Newf(dErrors.CodeInference, "input shape %v, model expects %v", in.Shape, c.shape)
	}

	scores, err := c.model.Forward(in)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInference, "forward pass failed")
	}
	if len(scores) != model.NumClasses {
		return nil, dErrors.Newf(dErrors.CodeInference, "model returned %d scores, want %d", len(scores), model.NumClasses)
	}
	probs, err := Softmax(scores)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInference, "invalid model output")
	}
	return probs, nil
}

// Softmax is the max-shifted exponential normalization. It rejects NaN and
// infinite scores instead of propagating them into the distribution.
func Softmax(scores []float32) ([]float64, error) {
	if len(scores) == 0 {
		return nil, errEmptyScores
	}
	peak := math.Inf(-1)
	for _, s := range scores {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errNonFinite
		}
		if v > peak {
			peak = v
		}
	}

	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		out[i] = math.Exp(float64(s) - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out, nil
}

var (
	errEmptyScores = errors.New("no scores")
	errNonFinite   = errors.New("non-finite score")
)
