package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "github.com/Brownie44l1/digit-api/internal/domainerrors"
	"github.com/Brownie44l1/digit-api/internal/platform/metrics"
	"github.com/Brownie44l1/digit-api/internal/platform/middleware"
	"github.com/Brownie44l1/digit-api/internal/raster"
	"github.com/Brownie44l1/digit-api/internal/result"
)

// FileField is the multipart field carrying the drawing.
const FileField = "file"

// Predictor runs the classification pipeline.
type Predictor interface {
	Predict(ctx context.Context, data []byte) (result.Classification, error)
	PredictGrid(ctx context.Context, grid raster.Grid) (result.Classification, error)
}

// Handler is the HTTP boundary of the pipeline.
type Handler struct {
	predictor      Predictor
	logger         *slog.Logger
	metrics        *metrics.Metrics
	maxUploadBytes int64
}

// NewHandler wires the prediction endpoints to p.
func NewHandler(p Predictor, logger *slog.Logger, m *metrics.Metrics, maxUploadBytes int64) *Handler {
	return &Handler{
		predictor:      p,
		logger:         logger,
		metrics:        m,
		maxUploadBytes: maxUploadBytes,
	}
}

// Register mounts the prediction and health endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Post("/predict", h.PredictFromImage)
	r.Post("/predict/grid", h.PredictFromGrid)
}

// PredictionResponse is the success payload.
type PredictionResponse struct {
	Digit         int       `json:"digit"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
}

// ErrorResponse is the failure payload. Its presence is authoritative.
type ErrorResponse struct {
	Error string `json:"error"`
}

// GridRequest carries a pre-normalized 28x28 grid in row-major order.
type GridRequest struct {
	Pixels []float32 `json:"pixels"`
}

var acceptedContentTypes = map[string]bool{
	"image/png":                true,
	"image/jpeg":               true,
	"image/jpg":                true,
	"image/webp":               true,
	"image/gif":                true,
	"image/bmp":                true,
	"application/octet-stream": true,
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	data, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	res, err := h.predictor.Predict(ctx, data)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeResult(ctx, w, res, start)
}

func (h *Handler) PredictFromGrid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req GridRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(ctx, w, requestBodyError(err, "invalid JSON"))
		return
	}
	grid, err := raster.GridFromSlice(req.Pixels)
	if err != nil {
		h.writeError(ctx, w, dErrors.Wrap(err, dErrors.CodeBadRequest, err.Error()))
		return
	}

	res, err := h.predictor.PredictGrid(ctx, grid)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	h.writeResult(ctx, w, res, start)
}

// readUpload extracts the drawing from the multipart body, enforcing the
// upload cap before anything is buffered.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.ContentLength > h.maxUploadBytes {
		return nil, dErrors.Newf(dErrors.CodePayloadTooLarge, "request body exceeds %d bytes", h.maxUploadBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return nil, requestBodyError(err, "failed to parse multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(FileField)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest,
			"no image file provided, use '"+FileField+"' as the form field name")
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !acceptedContentTypes[mediaType] {
			return nil, dErrors.New(dErrors.CodeBadRequest, "invalid image type")
		}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read image file")
	}
	if len(data) == 0 {
		return nil, dErrors.New(dErrors.CodeDecode, "image file is empty")
	}
	return data, nil
}

func requestBodyError(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return dErrors.Newf(dErrors.CodePayloadTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
	}
	return dErrors.Wrap(err, dErrors.CodeBadRequest, msg)
}

func (h *Handler) writeResult(ctx context.Context, w http.ResponseWriter, res result.Classification, start time.Time) {
	h.metrics.ObservePrediction(res.Digit, res.Confidence)
	h.logger.InfoContext(ctx, "prediction served",
		"request_id", middleware.GetRequestID(ctx),
		"digit", res.Digit,
		"confidence", res.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, PredictionResponse{
		Digit:         res.Digit,
		Confidence:    res.Confidence,
		Probabilities: res.Probabilities,
	})
}

// writeError maps a pipeline error to its status and a caller-safe message.
// Defects are logged in full at error level; abandoned requests are not
// defects.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := dErrors.ToHTTPStatus(code)
	h.metrics.IncrementError(string(code))

	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"code", code,
		"error", err,
	}
	switch {
	case dErrors.IsDefect(code):
		h.logger.ErrorContext(ctx, "prediction failed", attrs...)
	case code == dErrors.CodeCanceled || code == dErrors.CodeTimeout:
		h.logger.WarnContext(ctx, "prediction abandoned", attrs...)
	default:
		h.logger.WarnContext(ctx, "prediction rejected", attrs...)
	}
	writeJSON(w, status, ErrorResponse{Error: dErrors.SafeMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
