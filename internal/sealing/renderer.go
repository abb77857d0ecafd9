package sealing

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Renderer errors.
var (
	ErrNoPages          = errors.New("document has no pages")
	ErrPageOutOfRange   = errors.New("field page is outside the document")
	ErrEmptyStamp       = errors.New("stamp has neither text nor image")
	ErrInvalidImageSize = errors.New("stamp image has no size")
	ErrEmptyAuditReport = errors.New("audit report is empty")
)

// Stamp is one signature to place on a page. Geometry is normalized to the
// page with the origin at the top-left corner.
type Stamp struct {
	Page   int
	X      float64
	Y      float64
	Width  float64
	Height float64

	// Exactly one of Text or Image is set.
	Text        string
	Image       []byte
	ImageWidth  int
	ImageHeight int
}

// Renderer produces the sealed PDF and its audit-trail companion.
type Renderer interface {
	// Stamp returns src with every stamp drawn on top and footer on every page.
	Stamp(src []byte, stamps []Stamp, footer string) ([]byte, error)
	// AuditTrail renders a plain-text audit report as a PDF.
	AuditTrail(title string, report []byte) ([]byte, error)
}

// PDFRenderer renders with pdfcpu.
type PDFRenderer struct {
	// Font is a PDF core font used for typed signatures.
	Font string
	// FooterPoints is the footer font size; 0 disables the footer.
	FooterPoints int
}

var disableConfigDir sync.Once

// NewPDFRenderer returns a renderer with the default fonts.
func NewPDFRenderer() *PDFRenderer {
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFRenderer{Font: "Helvetica-Oblique", FooterPoints: 7}
}

func (r *PDFRenderer) configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages in a PDF.
func (r *PDFRenderer) PageCount(src []byte) (int, error) {
	dims, err := api.PageDims(bytes.NewReader(src), r.configuration())
	if err != nil {
		return 0, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	return len(dims), nil
}

// Stamp draws every stamp at its field position.
func (r *PDFRenderer) Stamp(src []byte, stamps []Stamp, footer string) ([]byte, error) {
	conf := r.configuration()
	dims, err := api.PageDims(bytes.NewReader(src), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	if len(dims) == 0 {
		return nil, ErrNoPages
	}

	byPage := make(map[int][]*model.Watermark)
	for i, s := range stamps {
		if s.Page < 1 || s.Page > len(dims) {
			return nil, fmt.Errorf("%w: stamp %d on page %d of %d", ErrPageOutOfRange, i, s.Page, len(dims))
		}
		wm, err := r.watermark(s, dims[s.Page-1])
		if err != nil {
			return nil, fmt.Errorf("stamp %d: %w", i, err)
		}
		byPage[s.Page] = append(byPage[s.Page], wm)
	}

	if footer != "" && r.FooterPoints > 0 {
		desc := fmt.Sprintf("fontname:Helvetica, points:%d, position:bc, offset:0 12, scalefactor:1 abs, rotation:0, opacity:1, fillcolor:#555555",
			r.FooterPoints)
		for page := 1; page <= len(dims); page++ {
			wm, err := api.TextWatermark(footer, desc, true, false, types.POINTS)
			if err != nil {
				return nil, fmt.Errorf("failed to build footer: %w", err)
			}
			byPage[page] = append(byPage[page], wm)
		}
	}

	var out bytes.Buffer
	if err := api.AddWatermarksSliceMap(bytes.NewReader(src), &out, byPage, conf); err != nil {
		return nil, fmt.Errorf("failed to stamp document: %w", err)
	}
	return out.Bytes(), nil
}

// watermark converts a stamp to a pdfcpu stamp anchored at the field's
// bottom-left corner in PDF user space.
func (r *PDFRenderer) watermark(s Stamp, page types.Dim) (*model.Watermark, error) {
	boxW := s.Width * page.Width
	boxH := s.Height * page.Height
	offX := s.X * page.Width
	offY := (1 - s.Y - s.Height) * page.Height

	switch {
	case len(s.Image) > 0:
		if s.ImageWidth <= 0 || s.ImageHeight <= 0 {
			return nil, ErrInvalidImageSize
		}
		scale := math.Min(boxW/float64(s.ImageWidth), boxH/float64(s.ImageHeight))
		desc := fmt.Sprintf("position:bl, offset:%.2f %.2f, scalefactor:%.4f abs, rotation:0, opacity:1", offX, offY, scale)
		return api.ImageWatermarkForReader(bytes.NewReader(s.Image), desc, true, false, types.POINTS)
	case s.Text != "":
		desc := fmt.Sprintf("fontname:%s, points:%d, position:bl, offset:%.2f %.2f, scalefactor:1 abs, rotation:0, opacity:1, fillcolor:#0b1f5c",
			r.Font, fitPoints(s.Text, boxW, boxH), offX, offY)
		return api.TextWatermark(s.Text, desc, true, false, types.POINTS)
	}
	return nil, ErrEmptyStamp
}

// fitPoints picks a font size that keeps text inside a w by h box.
// Glyph widths are approximated at 0.55em.
func fitPoints(text string, w, h float64) int {
	n := len([]rune(text))
	if n == 0 {
		n = 1
	}
	points := math.Min(h*0.75, w/(0.55*float64(n)))
	switch {
	case points < 4:
		return 4
	case points > 36:
		return 36
	}
	return int(points)
}
