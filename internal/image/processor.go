// Package image normalizes drawn signature images before they are stamped
// into a sealed document.
package image

import (
	"errors"
	"fmt"

	"github.com/h2non/bimg"
)

var (
	// ErrUnsupportedFormat is returned for images that are not PNG, JPEG or WebP.
	ErrUnsupportedFormat = errors.New("unsupported signature image format")
	// ErrImageTooSmall is returned for images with a zero dimension.
	ErrImageTooSmall = errors.New("signature image has no visible area")
)

// ProcessorConfig holds configuration for signature image processing.
type ProcessorConfig struct {
	// MaxWidth limits image width in pixels (0 = no limit)
	MaxWidth int
	// MaxHeight limits image height in pixels (0 = no limit)
	MaxHeight int
	// StripMetadata removes all EXIF/metadata (default: true)
	StripMetadata bool
	// Compression is the PNG zlib level (0-9, default: 6)
	Compression int
}

// DefaultConfig returns the limits used for signature pads.
func DefaultConfig() ProcessorConfig {
	return ProcessorConfig{
		MaxWidth:      1200,
		MaxHeight:     400,
		StripMetadata: true,
		Compression:   6,
	}
}

// Processor re-encodes signature images as PNG.
type Processor struct {
	config ProcessorConfig
}

// NewProcessor creates a new image processor with the given config.
func NewProcessor(config ProcessorConfig) *Processor {
	return &Processor{config: config}
}

// Size is the pixel size of an image.
type Size struct {
	Width  int
	Height int
}

// Normalize validates a drawn signature and returns it as a metadata-free PNG
// that fits within the configured bounds. Aspect ratio is preserved.
func (p *Processor) Normalize(data []byte) ([]byte, error) {
	img := bimg.NewImage(data)
	metadata, err := img.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to read image metadata: %w", err)
	}
	switch metadata.Type {
	case "png", "jpeg", "webp":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, metadata.Type)
	}
	if metadata.Size.Width <= 0 || metadata.Size.Height <= 0 {
		return nil, ErrImageTooSmall
	}

	options := bimg.Options{
		Type:          bimg.PNG,
		StripMetadata: p.config.StripMetadata,
		Compression:   p.config.Compression,
	}
	if w := fitWidth(metadata.Size.Width, metadata.Size.Height, p.config.MaxWidth, p.config.MaxHeight); w != metadata.Size.Width {
		// Width alone keeps the aspect ratio.
		options.Width = w
	}

	out, err := img.Process(options)
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}
	return out, nil
}

// Dimensions returns the pixel size of an encoded image.
func (p *Processor) Dimensions(data []byte) (Size, error) {
	size, err := bimg.NewImage(data).Size()
	if err != nil {
		return Size{}, fmt.Errorf("failed to read image size: %w", err)
	}
	return Size{Width: size.Width, Height: size.Height}, nil
}

// fitWidth returns the width that scales (w, h) down to fit the bounds.
func fitWidth(w, h, maxW, maxH int) int {
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale >= 1 {
		return w
	}
	fitted := int(float64(w) * scale)
	if fitted < 1 {
		fitted = 1
	}
	return fitted
}

// VerifyNoEXIF checks if the image has EXIF metadata.
// Returns true if no EXIF data is present, false otherwise.
func VerifyNoEXIF(imageBytes []byte) (bool, error) {
	img := bimg.NewImage(imageBytes)
	metadata, err := img.Metadata()
	if err != nil {
		return false, fmt.Errorf("failed to read image metadata: %w", err)
	}

	exif := metadata.EXIF
	hasEXIF := exif.Make != "" || exif.Model != "" ||
		exif.GPSLatitude != "" || exif.GPSLongitude != "" ||
		exif.DateTimeOriginal != "" || exif.Software != ""

	return !hasEXIF, nil
}
