package raster

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	dErrors "github.com/Brownie44l1/digit-api/internal/domainerrors"
)

// Limits bounds the raster dimensions accepted before a full decode.
type Limits struct {
	MinSide int
	MaxSide int
}

// DefaultLimits rejects degenerate rasters (1x1 and friends) and anything
// larger than a 4K canvas.
func DefaultLimits() Limits {
	return Limits{MinSide: 8, MaxSide: 4096}
}

var acceptedFormats = map[string]bool{
	"png":  true,
	"jpeg": true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
}

// Decode parses an uploaded raster. The header is checked against limits
// first so oversized images are refused without allocating their pixels.
// It returns the decoded image and the sniffed format name.
func Decode(data []byte, limits Limits) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", dErrors.New(dErrors.CodeDecode, "image file is empty")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeDecode, "could not read image")
	}
	if !acceptedFormats[format] {
		return nil, format, dErrors.Newf(dErrors.CodeDecode, "unsupported image format %q", format)
	}
	if err := checkDimensions(cfg.Width, cfg.Height, limits); err != nil {
		return nil, format, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, format, dErrors.Wrap(err, dErrors.CodeDecode, "could not read image")
	}
	return img, format, nil
}

func checkDimensions(w, h int, limits Limits) error {
	if w <= 0 || h <= 0 {
		return dErrors.Newf(dErrors.CodeDimension, "image has zero dimension (%dx%d)", w, h)
	}
	if limits.MinSide > 0 && (w < limits.MinSide || h < limits.MinSide) {
		return dErrors.Newf(dErrors.CodeDimension,
			"image must be at least %dx%d pixels, got %dx%d", limits.MinSide, limits.MinSide, w, h)
	}
	if limits.MaxSide > 0 && (w > limits.MaxSide || h > limits.MaxSide) {
		return dErrors.Newf(dErrors.CodeDimension,
			"image must be at most %dx%d pixels, got %dx%d", limits.MaxSide, limits.MaxSide, w, h)
	}
	return nil
}
