package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Brownie44l1/digit-api/internal/platform/metrics"
	"github.com/Brownie44l1/digit-api/internal/platform/middleware"
)

// RouterConfig holds the transport settings around the handler.
type RouterConfig struct {
	CORSAllowedOrigin string
	RequestTimeout    time.Duration
	// StaticDir, when set, is served at / for the browser drawing UI.
	StaticDir string
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewRouter wires the middleware chain, the prediction endpoints, /metrics
// and the optional static UI.
func NewRouter(h *Handler, logger *slog.Logger, m *metrics.Metrics, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger, m))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigin))
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	h.Register(r)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
		} else {
			logger.Warn("static dir not found, UI disabled", "dir", cfg.StaticDir)
		}
	}
	return r
}
