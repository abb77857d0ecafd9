package image

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/h2non/bimg"
)

// testSignature draws a dark stroke on a transparent canvas.
func testSignature(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		y := h/2 + (x%20 - 10)
		if y >= 0 && y < h {
			img.Set(x, y, color.NRGBA{R: 10, G: 20, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestNormalize_PNG(t *testing.T) {
	p := NewProcessor(DefaultConfig())

	out, err := p.Normalize(testSignature(t, 300, 100))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got := bimg.NewImage(out).Type(); got != "png" {
		t.Errorf("output type = %q, want png", got)
	}
	size, err := p.Dimensions(out)
	if err != nil {
		t.Fatalf("Dimensions() error = %v", err)
	}
	if size.Width != 300 || size.Height != 100 {
		t.Errorf("Dimensions() = %dx%d, want 300x100", size.Width, size.Height)
	}
}

func TestNormalize_JPEGBecomesPNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 80, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}

	out, err := NewProcessor(DefaultConfig()).Normalize(buf.Bytes())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got := bimg.NewImage(out).Type(); got != "png" {
		t.Errorf("output type = %q, want png", got)
	}
	noEXIF, err := VerifyNoEXIF(out)
	if err != nil {
		t.Fatalf("VerifyNoEXIF() error = %v", err)
	}
	if !noEXIF {
		t.Error("EXIF metadata still present after normalization")
	}
}

func TestNormalize_Downscales(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWidth = 400
	cfg.MaxHeight = 100

	p := NewProcessor(cfg)
	out, err := p.Normalize(testSignature(t, 800, 400))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	size, err := p.Dimensions(out)
	if err != nil {
		t.Fatalf("Dimensions() error = %v", err)
	}
	if size.Width > 400 || size.Height > 100 {
		t.Errorf("Dimensions() = %dx%d, want within 400x100", size.Width, size.Height)
	}
	if size.Width != 200 {
		t.Errorf("Width = %d, want 200 (height bound dominates)", size.Width)
	}
}

func TestNormalize_Invalid(t *testing.T) {
	p := NewProcessor(DefaultConfig())

	if _, err := p.Normalize([]byte("not an image")); err == nil {
		t.Error("Normalize() expected error for invalid image data")
	}

	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><script>alert(1)</script></svg>`)
	_, err := p.Normalize(svg)
	if err == nil {
		t.Fatal("Normalize() expected error for SVG")
	}
	// libvips builds without SVG support fail on metadata instead.
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Logf("SVG rejected with: %v", err)
	}
}

func TestFitWidth(t *testing.T) {
	tests := []struct {
		name             string
		w, h, maxW, maxH int
		want             int
	}{
		{"within bounds", 300, 100, 1200, 400, 300},
		{"width bound", 2400, 400, 1200, 400, 1200},
		{"height bound", 800, 800, 1200, 400, 400},
		{"both bounds", 3000, 500, 1200, 400, 1200},
		{"tall and wide", 3000, 2000, 1200, 400, 600},
		{"no limits", 5000, 5000, 0, 0, 5000},
		{"never zero", 10000, 1, 0, 0, 10000},
		{"tiny result", 1, 10000, 0, 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fitWidth(tt.w, tt.h, tt.maxW, tt.maxH); got != tt.want {
				t.Errorf("fitWidth(%d, %d, %d, %d) = %d, want %d", tt.w, tt.h, tt.maxW, tt.maxH, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if !config.StripMetadata {
		t.Error("Expected StripMetadata to be true by default")
	}
	if config.MaxWidth != 1200 || config.MaxHeight != 400 {
		t.Errorf("DefaultConfig() bounds = %dx%d, want 1200x400", config.MaxWidth, config.MaxHeight)
	}
}

func BenchmarkNormalize(b *testing.B) {
	data := testSignature(b, 1600, 600)
	p := NewProcessor(DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Normalize(data); err != nil {
			b.Fatalf("Normalize failed: %v", err)
		}
	}
}
