package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/digit-api/internal/classifier"
	"github.com/Brownie44l1/digit-api/internal/handlers"
	"github.com/Brownie44l1/digit-api/internal/model"
	"github.com/Brownie44l1/digit-api/internal/pipeline"
	"github.com/Brownie44l1/digit-api/internal/platform/config"
	"github.com/Brownie44l1/digit-api/internal/platform/httpserver"
	"github.com/Brownie44l1/digit-api/internal/platform/logger"
	"github.com/Brownie44l1/digit-api/internal/platform/metrics"
	"github.com/Brownie44l1/digit-api/internal/raster"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logger configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	log.Info("loading model", "model_path", cfg.ModelPath, "metadata_path", cfg.MetadataPath)

	// The server must not accept requests until the model is in memory.
	m, meta, err := model.Load(model.LoadConfig{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		LibraryPath:  cfg.ORTLibraryPath,
	})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer m.Close()

	encoder, err := model.Encoder(m)
	if err != nil {
		return fmt.Errorf("model input incompatible with encoder: %w", err)
	}
	normalizer, err := raster.NewNormalizer(cfg.ResampleFilter)
	if err != nil {
		return err
	}

	mtr := metrics.New(prometheus.DefaultRegisterer)
	p := pipeline.New(normalizer, encoder, classifier.New(m), cfg.Limits, pipeline.WithMetrics(mtr))

	h := handlers.NewHandler(p, log, mtr, cfg.MaxUploadBytes)
	router := handlers.NewRouter(h, log, mtr, handlers.RouterConfig{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RequestTimeout:    cfg.RequestTimeout,
		StaticDir:         cfg.StaticDir,
	})
	srv := httpserver.New(cfg.Addr, router)

	log.Info("model loaded",
		"version", meta.Version,
		"input_shape", encoder.Shape(),
		"classes", meta.Classes,
		"resample_filter", cfg.ResampleFilter,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "addr", cfg.Addr,
			"endpoints", []string{"GET /health", "POST /predict", "POST /predict/grid", "GET /metrics"})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
