package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "github.com/Brownie44l1/digit-api/internal/domainerrors"
	"github.com/Brownie44l1/digit-api/internal/pipeline"
	"github.com/Brownie44l1/digit-api/internal/platform/metrics"
	"github.com/Brownie44l1/digit-api/internal/raster"
	"github.com/Brownie44l1/digit-api/internal/tensor"
)

// stubClassifier returns a fixed distribution, or err when set.
type stubClassifier struct {
	probs   []float64
	err     error
	panicky bool
}

func (s *stubClassifier) Classify(context.Context, tensor.Input) ([]float64, error) {
	if s.panicky {
		panic("session handle freed")
	}
	return s.probs, s.err
}

func sevenish() []float64 {
	return []float64{0.01, 0.01, 0.02, 0.03, 0.01, 0.01, 0.01, 0.85, 0.03, 0.02}
}

func drawingPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for x := w / 4; x < 3*w/4; x++ {
		img.SetGray(x, h/4, color.Gray{Y: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="digit.png"`)
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

// HandlerSuite exercises the HTTP boundary against the real pipeline with a
// stubbed classifier.
type HandlerSuite struct {
	suite.Suite
	classifier *stubClassifier
	metrics    *metrics.Metrics
	router     http.Handler
	logs       *bytes.Buffer
	maxUpload  int64
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.classifier = &stubClassifier{probs: sevenish()}
	s.logs = &bytes.Buffer{}
	s.maxUpload = 1 << 20

	n, err := raster.NewNormalizer("")
	s.Require().NoError(err)
	enc, err := tensor.NewEncoder(nil)
	s.Require().NoError(err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s.metrics = m
	logger := slog.New(slog.NewTextHandler(s.logs, nil))
	p := pipeline.New(n, enc, s.classifier, raster.DefaultLimits(), pipeline.WithMetrics(m))

	h := NewHandler(p, logger, m, s.maxUpload)
	s.router = NewRouter(h, logger, m, RouterConfig{CORSAllowedOrigin: "*", Gatherer: reg})
}

func (s *HandlerSuite) upload(field, contentType string, data []byte) *httptest.ResponseRecorder {
	body, ct := multipartBody(s.T(), field, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) decodeError(rec *httptest.ResponseRecorder) string {
	var resp map[string]any
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.NotContains(resp, "digit")
	msg, ok := resp["error"].(string)
	s.Require().True(ok, "expected error field")
	return msg
}

func (s *HandlerSuite) TestPredictSuccess() {
	rec := s.upload(FileField, "image/png", drawingPNG(s.T(), 280, 280))

	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("application/json", rec.Header().Get("Content-Type"))
	s.NotEmpty(rec.Header().Get("X-Request-ID"))

	var resp PredictionResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal(7, resp.Digit)
	s.InDelta(0.85, resp.Confidence, 1e-9)
	s.Len(resp.Probabilities, 10)
}

func (s *HandlerSuite) TestPredictAcceptsOctetStream() {
	rec := s.upload(FileField, "application/octet-stream", drawingPNG(s.T(), 64, 64))
	s.Equal(http.StatusOK, rec.Code)
}

func (s *HandlerSuite) TestPredictMissingFileField() {
	rec := s.upload("image", "image/png", drawingPNG(s.T(), 64, 64))
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(s.decodeError(rec), "'file'")
}

func (s *HandlerSuite) TestPredictEmptyFile() {
	rec := s.upload(FileField, "image/png", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("image file is empty", s.decodeError(rec))
}

func (s *HandlerSuite) TestPredictNotAnImage() {
	rec := s.upload(FileField, "image/png", []byte("just some text, not pixels"))
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("could not read image", s.decodeError(rec))
}

func (s *HandlerSuite) TestPredictRejectsWrongContentType() {
	rec := s.upload(FileField, "text/plain", drawingPNG(s.T(), 64, 64))
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal("invalid image type", s.decodeError(rec))
}

func (s *HandlerSuite) TestPredictOnePixelImage() {
	rec := s.upload(FileField, "image/png", drawingPNG(s.T(), 1, 1))
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Contains(s.decodeError(rec), "at least")
}

func (s *HandlerSuite) TestPredictNotMultipart() {
	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(drawingPNG(s.T(), 64, 64)))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestPredictOversizedBody() {
	rec := s.upload(FileField, "image/png", make([]byte, s.maxUpload+1))
	s.Equal(http.StatusRequestEntityTooLarge, rec.Code)
	s.Contains(s.decodeError(rec), "exceeds")
}

func (s *HandlerSuite) TestInferenceFailureHidesDetail() {
	s.classifier.err = dErrors.Wrap(errors.New("/opt/models/mnist.onnx: bad shape"), dErrors.CodeInference, "forward pass failed")

	rec := s.upload(FileField, "image/png", drawingPNG(s.T(), 64, 64))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("prediction failed", s.decodeError(rec))
	s.Contains(s.logs.String(), "bad shape")
}

func (s *HandlerSuite) TestInvariantViolationIs500() {
	s.classifier.probs = []float64{0.9, 0.9}

	rec := s.upload(FileField, "image/png", drawingPNG(s.T(), 64, 64))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.Equal("prediction failed", s.decodeError(rec))
}

func (s *HandlerSuite) TestExpiredDeadlineIsNotADefect() {
	s.classifier.err = dErrors.FromContext(context.DeadlineExceeded)

	rec := s.upload(FileField, "image/png", drawingPNG(s.T(), 64, 64))
	s.Equal(http.StatusGatewayTimeout, rec.Code)
	s.Equal("request timed out", s.decodeError(rec))
	s.Contains(s.logs.String(), "level=WARN")
	s.NotContains(s.logs.String(), "level=ERROR")
}

func (s *HandlerSuite) TestCanceledRequestIsNotADefect() {
	s.classifier.err = dErrors.FromContext(context.Canceled)

	rec := s.upload(FileField, "image/png", drawingPNG(s.T(), 64, 64))
	s.Equal(http.StatusServiceUnavailable, rec.Code)
	s.NotContains(s.logs.String(), "level=ERROR")
}

func (s *HandlerSuite) TestPanicIsCountedAndLogged() {
	s.classifier.panicky = true

	rec := s.upload(FileField, "image/png", drawingPNG(s.T(), 64, 64))
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"error":"internal server error"}`, rec.Body.String())
	s.Contains(s.logs.String(), "session handle freed")
	s.Contains(s.logs.String(), "status=500")

	metricsRec := httptest.NewRecorder()
	s.router.ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Contains(metricsRec.Body.String(),
		`digit_http_request_duration_seconds_count{route="/predict",status="500"} 1`)
}

func (s *HandlerSuite) TestUnknownPathsShareOneLatencySeries() {
	for i := 0; i < 500; i++ {
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/nope-%d", i), nil))
		s.Require().Equal(http.StatusNotFound, rec.Code)
	}
	s.Equal(1, testutil.CollectAndCount(s.metrics.RequestLatency))

	s.router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(2, testutil.CollectAndCount(s.metrics.RequestLatency))
}

func (s *HandlerSuite) TestPredictGrid() {
	pixels := make([]float32, raster.Cells)
	body, err := json.Marshal(GridRequest{Pixels: pixels})
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodPost, "/predict/grid", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	s.Require().Equal(http.StatusOK, rec.Code)
	var resp PredictionResponse
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	s.Equal(7, resp.Digit)
}

func (s *HandlerSuite) TestPredictGridValidation() {
	cases := map[string]string{
		"invalid json": `{"pixels":`,
		"short":        `{"pixels":[0.1,0.2]}`,
		"out of range": `{"pixels":[` + strings.Repeat("2,", raster.Cells-1) + `2]}`,
	}
	for name, body := range cases {
		s.Run(name, func() {
			req := httptest.NewRequest(http.MethodPost, "/predict/grid", bytes.NewReader([]byte(body)))
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			s.Equal(http.StatusBadRequest, rec.Code)
			s.NotEmpty(s.decodeError(rec))
		})
	}
}

func (s *HandlerSuite) TestHealth() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"healthy"}`, rec.Body.String())
}

func (s *HandlerSuite) TestMetricsEndpoint() {
	s.upload(FileField, "image/png", drawingPNG(s.T(), 64, 64))

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	s.Equal(http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	s.Require().NoError(err)
	s.Contains(string(body), `digit_predictions_total{digit="7"} 1`)
}

func (s *HandlerSuite) TestWrongMethod() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict", nil))
	s.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func TestStaticDirServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<canvas></canvas>"), 0o600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(nil, logger, nil, 1<<20)
	router := NewRouter(h, logger, nil, RouterConfig{
		CORSAllowedOrigin: "*",
		StaticDir:         dir,
		Gatherer:          prometheus.NewRegistry(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<canvas>")
}
