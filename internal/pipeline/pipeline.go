// Package pipeline chains the stages that turn an uploaded drawing into a
// classification: decode, normalize, encode, classify, summarize.
//
// Each call owns all of its intermediate values. The only shared state is the
// read-only classifier, so Predict may run on any number of goroutines.
package pipeline

import (
	"context"
	"image"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Brownie44l1/digit-api/internal/platform/metrics"
	"github.com/Brownie44l1/digit-api/internal/raster"
	"github.com/Brownie44l1/digit-api/internal/result"
	"github.com/Brownie44l1/digit-api/internal/tensor"
)

const tracerName = "github.com/Brownie44l1/digit-api/internal/pipeline"

// Classifier produces a probability vector for an encoded tensor.
type Classifier interface {
	Classify(ctx context.Context, in tensor.Input) ([]float64, error)
}

// Pipeline runs one prediction end to end.
type Pipeline struct {
	normalizer *raster.Normalizer
	encoder    *tensor.Encoder
	classifier Classifier
	limits     raster.Limits
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records per-stage latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer(tracerName) }
}

// New assembles a pipeline from its stages.
func New(n *raster.Normalizer, e *tensor.Encoder, c Classifier, limits raster.Limits, opts ...Option) *Pipeline {
	p := &Pipeline{
		normalizer: n,
		encoder:    e,
		classifier: c,
		limits:     limits,
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict classifies a raw uploaded image.
func (p *Pipeline) Predict(ctx context.Context, data []byte) (result.Classification, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Predict",
		trace.WithAttributes(attribute.Int("image.bytes", len(data))))
	defer span.End()

	var (
		img    image.Image
		format string
		grid   raster.Grid
	)
	err := p.stage(ctx, "decode", func(context.Context) error {
		var err error
		img, format, err = raster.Decode(data, p.limits)
		return err
	})
	if err != nil {
		return result.Classification{}, fail(span, err)
	}
	b := img.Bounds()
	span.SetAttributes(
		attribute.String("image.format", format),
		attribute.Int("image.width", b.Dx()),
		attribute.Int("image.height", b.Dy()),
	)

	err = p.stage(ctx, "normalize", func(context.Context) error {
		var err error
		grid, err = p.normalizer.Normalize(img)
		return err
	})
	if err != nil {
		return result.Classification{}, fail(span, err)
	}

	res, err := p.classify(ctx, grid)
	if err != nil {
		return result.Classification{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int("digit", res.Digit), attribute.Float64("confidence", res.Confidence))
	return res, nil
}

// PredictGrid classifies an already normalized grid.
func (p *Pipeline) PredictGrid(ctx context.Context, grid raster.Grid) (result.Classification, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.PredictGrid")
	defer span.End()

	res, err := p.classify(ctx, grid)
	if err != nil {
		return result.Classification{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int("digit", res.Digit), attribute.Float64("confidence", res.Confidence))
	return res, nil
}

func (p *Pipeline) classify(ctx context.Context, grid raster.Grid) (result.Classification, error) {
	var (
		in    tensor.Input
		probs []float64
		res   result.Classification
	)
	err := p.stage(ctx, "encode", func(context.Context) error {
		in = p.encoder.Encode(grid)
		return nil
	})
	if err == nil {
		err = p.stage(ctx, "classify", func(ctx context.Context) error {
			var err error
			probs, err = p.classifier.Classify(ctx, in)
			return err
		})
	}
	if err == nil {
		err = p.stage(ctx, "summarize", func(context.Context) error {
			var err error
			res, err = result.Summarize(probs)
			return err
		})
	}
	return res, err
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
