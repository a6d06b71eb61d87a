package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Brownie44l1/digit-api/internal/raster"
)

// Config captures everything the server needs at start-up.
type Config struct {
	Addr string

	ModelPath         string
	MetadataPath      string
	ORTLibraryPath    string
	ResampleFilter    string
	Limits            raster.Limits
	MaxUploadBytes    int64
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	CORSAllowedOrigin string
	StaticDir         string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup so tests can supply their own
// environment.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}
	limits := raster.DefaultLimits()

	// The default MODEL_PATH is not checked in; see models/README.md.
	cfg := Config{
		Addr:              ":" + p.str("PORT", "8080"),
		ModelPath:         p.str("MODEL_PATH", "models/mnist_net.onnx"),
		MetadataPath:      p.str("MODEL_METADATA_PATH", "models/model_metadata.json"),
		ORTLibraryPath:    p.str("ORT_LIBRARY_PATH", ""),
		ResampleFilter:    p.str("RESAMPLE_FILTER", raster.DefaultFilter),
		MaxUploadBytes:    p.integer("MAX_UPLOAD_BYTES", 10<<20),
		RequestTimeout:    p.duration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:   p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		CORSAllowedOrigin: p.str("CORS_ALLOWED_ORIGIN", "*"),
		StaticDir:         p.str("STATIC_DIR", ""),
		LogLevel:          p.str("LOG_LEVEL", "info"),
		LogFormat:         p.str("LOG_FORMAT", "json"),
		Limits: raster.Limits{
			MinSide: int(p.integer("MIN_IMAGE_SIDE", int64(limits.MinSide))),
			MaxSide: int(p.integer("MAX_IMAGE_SIDE", int64(limits.MaxSide))),
		},
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Limits.MinSide < 2 {
		return fmt.Errorf("MIN_IMAGE_SIDE must be at least 2, got %d", c.Limits.MinSide)
	}
	if c.Limits.MaxSide < c.Limits.MinSide {
		return fmt.Errorf("MAX_IMAGE_SIDE (%d) is below MIN_IMAGE_SIDE (%d)", c.Limits.MaxSide, c.Limits.MinSide)
	}
	if c.RequestTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int64) int64 {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d
}
