// Package photos normalises customer photos before they are forwarded to the backend.
package photos

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	defaultMaxDimension = 2048
	defaultQuality      = 85
	// 40 megapixels decodes to roughly 160 MiB of RGBA.
	defaultMaxPixels = 40_000_000
)

var (
	// ErrEmpty is returned for zero-length uploads.
	ErrEmpty = errors.New("photos: empty upload")
	// ErrUnsupportedFormat is returned when the bytes are not a JPEG, PNG or GIF image.
	ErrUnsupportedFormat = errors.New("photos: unsupported image format")
	// ErrTooManyPixels is returned when the declared dimensions exceed the pixel budget.
	ErrTooManyPixels = errors.New("photos: image dimensions too large")
)

var supportedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
}

// Options bound the normalised output.
type Options struct {
	MaxDimension int
	Quality      int
	// MaxPixels caps width*height as declared by the image header.
	MaxPixels int64
}

// Prepared is a re-encoded JPEG ready to upload.
type Prepared struct {
	FileName    string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

// Prepare sniffs the image type, checks the declared size against MaxPixels
// before any pixel data is decoded, applies EXIF orientation, fits the image
// within MaxDimension and re-encodes it as JPEG. Images already within bounds
// are still re-encoded so metadata is stripped.
func Prepare(data []byte, fileName string, opts Options) (Prepared, error) {
	if len(data) == 0 {
		return Prepared{}, ErrEmpty
	}
	sniffed := http.DetectContentType(data)
	if _, ok := supportedTypes[sniffed]; !ok {
		return Prepared{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, sniffed)
	}
	maxDim := opts.MaxDimension
	if maxDim <= 0 {
		maxDim = defaultMaxDimension
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}

	maxPixels := opts.MaxPixels
	if maxPixels <= 0 {
		maxPixels = defaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return Prepared{}, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Prepared{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Prepared{}, fmt.Errorf("photos: encode jpeg: %w", err)
	}

	out := img.Bounds()
	return Prepared{
		FileName:    jpegName(fileName),
		ContentType: "image/jpeg",
		Data:        buf.Bytes(),
		Width:       out.Dx(),
		Height:      out.Dy(),
	}, nil
}

func jpegName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" || base == "" {
		base = "photo"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".jpg"
}
