// Package raster turns an uploaded drawing into the 28x28 intensity grid the
// classifier was trained on.
//
// The drawing surface paints light strokes on a dark (or transparent)
// background, so the signal is luminance after compositing over black:
// colour carries nothing, alpha does. The merged channel is then reduced to
// 28x28 with a fixed filter and rescaled to [0, 1].
package raster

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	dErrors "github.com/Brownie44l1/digit-api/internal/domainerrors"
)

// DefaultFilter is the antialiased bilinear reduction used when the training
// images were prepared. Changing it silently shifts model accuracy.
const DefaultFilter = "linear"

// Resampler scales a single-channel image to w x h.
type Resampler interface {
	Resample(src *image.Gray, w, h int) *image.Gray
}

type imagingResampler struct {
	filter imaging.ResampleFilter
}

func (r imagingResampler) Resample(src *image.Gray, w, h int) *image.Gray {
	scaled := imaging.Resize(src, w, h, r.filter)
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Gray input keeps R == G == B and opaque alpha.
			dst.Pix[y*dst.Stride+x] = scaled.Pix[y*scaled.Stride+x*4]
		}
	}
	return dst
}

type nfntResampler struct {
	interp resize.InterpolationFunction
}

func (r nfntResampler) Resample(src *image.Gray, w, h int) *image.Gray {
	scaled := resize.Resize(uint(w), uint(h), src, r.interp)
	if g, ok := scaled.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := scaled.Bounds()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetGray(x, y, color.GrayModel.Convert(scaled.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return dst
}

var resamplers = map[string]Resampler{
	"linear":        imagingResampler{filter: imaging.Linear},
	"box":           imagingResampler{filter: imaging.Box},
	"lanczos":       imagingResampler{filter: imaging.Lanczos},
	"catmullrom":    imagingResampler{filter: imaging.CatmullRom},
	"nfnt-bilinear": nfntResampler{interp: resize.Bilinear},
	"nfnt-lanczos3": nfntResampler{interp: resize.Lanczos3},
}

// Filters lists the accepted resampling filter names.
func Filters() []string {
	names := make([]string, 0, len(resamplers))
	for name := range resamplers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalizer converts decoded drawings into Grids.
type Normalizer struct {
	resampler Resampler
}

// NewNormalizer returns a Normalizer using the named filter. An empty name
// selects DefaultFilter.
func NewNormalizer(filter string) (*Normalizer, error) {
	if filter == "" {
		filter = DefaultFilter
	}
	r, ok := resamplers[filter]
	if !ok {
		return nil, fmt.Errorf("unknown resample filter %q (want one of %v)", filter, Filters())
	}
	return &Normalizer{resampler: r}, nil
}

// NewNormalizerWith builds a Normalizer around a custom Resampler.
func NewNormalizerWith(r Resampler) *Normalizer {
	return &Normalizer{resampler: r}
}

// Normalize merges img to luminance, resamples it to Size x Size and rescales
// the result to [0, 1]. It is a pure function of the pixels.
func (n *Normalizer) Normalize(img image.Image) (Grid, error) {
	var g Grid
	if img == nil {
		return g, dErrors.New(dErrors.CodeDecode, "no image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return g, dErrors.Newf(dErrors.CodeDimension, "image has zero dimension (%dx%d)", b.Dx(), b.Dy())
	}

	small := n.resampler.Resample(Luminance(img), Size, Size)
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			g[y*Size+x] = float32(small.Pix[y*small.Stride+x]) / 255
		}
	}
	return g, nil
}

// Luminance merges every channel of img into one 8-bit plane anchored at the
// origin. Colours are alpha-premultiplied before the ITU-R 601-2 luma
// transform, which is the same as compositing the drawing over black.
func Luminance(img image.Image) *image.Gray {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			srcRow := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()], srcRow[:b.Dx()])
		}
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			dst.Pix[y*dst.Stride+x] = luma(r>>8, gg>>8, bb>>8)
		}
	}
	return dst
}

// luma uses fixed-point weights so the result is exact and platform stable.
func luma(r, g, b uint32) uint8 {
	return uint8((r*19595 + g*38470 + b*7471 + 1<<15) >> 16)
}
