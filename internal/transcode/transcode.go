// Package transcode turns an uploaded raster image into normalized WebP derivatives using libvips (bimg).
package transcode

import (
	"errors"
	"fmt"
	"math"

	"github.com/h2non/bimg"

	"github.com/petermazzocco/recipe-media/internal/mediaerr"
)

// OutputFormat is the container every derivative is encoded into.
const (
	OutputFormat    = "webp"
	OutputExtension = ".webp"
	OutputMimeType  = "image/webp"
)

// Spec describes one derivative. Capped specs fit inside MaxWidth×MaxHeight and
// never upscale; Crop specs fill exactly MaxWidth×MaxHeight, centre-anchored.
type Spec struct {
	MaxWidth  int
	MaxHeight int
	Crop      bool
	Quality   int
}

var (
	OriginalSpec  = Spec{MaxWidth: 1200, MaxHeight: 1200, Quality: 90}
	ThumbnailSpec = Spec{MaxWidth: 300, MaxHeight: 300, Crop: true, Quality: 80}
	OptimizedSpec = Spec{MaxWidth: 800, MaxHeight: 800, Quality: 85}
)

// Metadata is what Probe learns about a source image.
type Metadata struct {
	Width  int
	Height int
	Format string
}

type Output struct {
	Data   []byte
	Width  int
	Height int
}

// Bimg is the libvips-backed transcoder. It holds no per-image state and is safe for concurrent use.
type Bimg struct {
	maxPixels int
}

// New returns a transcoder that rejects sources with more than maxPixels pixels (0 disables the check).
func New(maxPixels int) *Bimg {
	return &Bimg{maxPixels: maxPixels}
}

// Probe validates that src is a decodable image and returns its dimensions.
func (b *Bimg) Probe(src []byte) (Metadata, error) {
	const op = "transcode.probe"

	if len(src) == 0 {
		return Metadata{}, mediaerr.New(mediaerr.UnsupportedFormat, op, errors.New("empty buffer"))
	}
	kind := bimg.DetermineImageType(src)
	if kind == bimg.UNKNOWN || !bimg.IsTypeSupported(kind) {
		return Metadata{}, mediaerr.New(mediaerr.UnsupportedFormat, op, errors.New("unrecognized image data"))
	}

	size, err := bimg.NewImage(src).Size()
	if err != nil {
		return Metadata{}, mediaerr.New(mediaerr.UnsupportedFormat, op, err)
	}
	if size.Width <= 0 || size.Height <= 0 {
		return Metadata{}, mediaerr.New(mediaerr.InvalidMetadata, op,
			fmt.Errorf("missing dimensions (%dx%d)", size.Width, size.Height))
	}
	if b.maxPixels > 0 && size.Width*size.Height > b.maxPixels {
		return Metadata{}, mediaerr.New(mediaerr.ResourceExhausted, op,
			fmt.Errorf("%dx%d exceeds %d pixels", size.Width, size.Height, b.maxPixels))
	}

	return Metadata{
		Width:  size.Width,
		Height: size.Height,
		Format: bimg.ImageTypeName(kind),
	}, nil
}

// Transform renders one derivative of src. meta must come from Probe on the same buffer.
// src is only read, so several Transform calls may share it concurrently.
func (b *Bimg) Transform(src []byte, meta Metadata, spec Spec) (Output, error) {
	const op = "transcode.transform"

	opts := bimg.Options{
		Type:          bimg.WEBP,
		Quality:       spec.Quality,
		StripMetadata: true,
		NoAutoRotate:  true,
	}

	var width, height int
	if spec.Crop {
		width, height = spec.MaxWidth, spec.MaxHeight
		opts.Width = width
		opts.Height = height
		opts.Crop = true
		opts.Enlarge = true
		opts.Gravity = bimg.GravityCentre
	} else {
		width, height = Fit(meta.Width, meta.Height, spec.MaxWidth, spec.MaxHeight)
		if width != meta.Width || height != meta.Height {
			opts.Width = width
			opts.Height = height
			opts.Force = true
		}
	}

	out, err := bimg.NewImage(src).Process(opts)
	if err != nil {
		return Output{}, mediaerr.New(mediaerr.ProcessingFailed, op, err)
	}
	if len(out) == 0 {
		return Output{}, mediaerr.New(mediaerr.ProcessingFailed, op, errors.New("encoder produced no data"))
	}

	return Output{Data: out, Width: width, Height: height}, nil
}

// Fit scales w×h down to fit inside maxW×maxH, preserving aspect ratio. It never upscales.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	return max(nw, 1), max(nh, 1)
}

// Dimensions decodes just enough of data to report its size.
func Dimensions(data []byte) (int, int, error) {
	size, err := bimg.NewImage(data).Size()
	if err != nil {
		return 0, 0, err
	}
	return size.Width, size.Height, nil
}
