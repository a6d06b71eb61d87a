package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the prediction pipeline.
type Metrics struct {
	// Predictions by reported digit
	Predictions *prometheus.CounterVec

	// Rejected or failed requests by error code
	Errors *prometheus.CounterVec

	// Pipeline latency by stage: decode, normalize, encode, classify, summarize
	StageLatency *prometheus.HistogramVec

	// End-to-end request latency by route
	RequestLatency *prometheus.HistogramVec

	Confidence prometheus.Histogram
}

// New creates the pipeline metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Predictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "digit_predictions_total",
			Help: "Total successful predictions by reported digit",
		}, []string{"digit"}),

		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "digit_prediction_errors_total",
			Help: "Total failed prediction requests by error code",
		}, []string{"code"}),

		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digit_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"stage"}),

		RequestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "digit_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and status",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),

		Confidence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "digit_prediction_confidence",
			Help:    "Confidence of successful predictions",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.99},
		}),
	}
}

// ObservePrediction records a successful prediction.
func (m *Metrics) ObservePrediction(digit int, confidence float64) {
	if m != nil {
		m.Predictions.WithLabelValues(strconv.Itoa(digit)).Inc()
		m.Confidence.Observe(confidence)
	}
}

// IncrementError records a failed request.
func (m *Metrics) IncrementError(code string) {
	if m != nil {
		m.Errors.WithLabelValues(code).Inc()
	}
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// ObserveRequest records the total duration of an HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m != nil {
		m.RequestLatency.WithLabelValues(route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}
