package sealing

import (
	"bytes"
	"errors"
	stdimage "image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func auditSource(t *testing.T, r *PDFRenderer, lines int) []byte {
	t.Helper()
	var report strings.Builder
	for i := 0; i < lines; i++ {
		report.WriteString("event line\n")
	}
	pdf, err := r.AuditTrail("Audit trail: Test", []byte(report.String()))
	if err != nil {
		t.Fatalf("AuditTrail() error = %v", err)
	}
	return pdf
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.NRGBA{A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestPDFRenderer_AuditTrailPaginates(t *testing.T) {
	r := NewPDFRenderer()

	single := auditSource(t, r, 10)
	if !bytes.HasPrefix(single, []byte("%PDF-")) {
		t.Fatalf("AuditTrail() output is not a PDF: %q", single[:min(len(single), 16)])
	}
	if n, err := r.PageCount(single); err != nil || n != 1 {
		t.Errorf("PageCount() = %d, %v, want 1", n, err)
	}

	multi := auditSource(t, r, 150)
	if n, err := r.PageCount(multi); err != nil || n != 3 {
		t.Errorf("PageCount() = %d, %v, want 3", n, err)
	}

	if _, err := r.AuditTrail("x", []byte(" \n")); !errors.Is(err, ErrEmptyAuditReport) {
		t.Errorf("AuditTrail(blank) error = %v, want %v", err, ErrEmptyAuditReport)
	}
}

func TestPDFRenderer_Stamp(t *testing.T) {
	r := NewPDFRenderer()
	src := auditSource(t, r, 5)

	stamps := []Stamp{
		{Page: 1, X: 0.1, Y: 0.8, Width: 0.3, Height: 0.05, Text: "Grace Hopper"},
		{Page: 1, X: 0.5, Y: 0.8, Width: 0.3, Height: 0.05, Image: testPNG(t, 300, 100), ImageWidth: 300, ImageHeight: 100},
	}
	out, err := r.Stamp(src, stamps, "Electronically signed. Request req-1")
	if err != nil {
		t.Fatalf("Stamp() error = %v", err)
	}
	if bytes.Equal(out, src) {
		t.Error("Stamp() returned the source unchanged")
	}
	if n, err := r.PageCount(out); err != nil || n != 1 {
		t.Errorf("PageCount() = %d, %v, want 1", n, err)
	}
}

func TestPDFRenderer_StampErrors(t *testing.T) {
	r := NewPDFRenderer()
	src := auditSource(t, r, 5)

	tests := []struct {
		name    string
		stamp   Stamp
		wantErr error
	}{
		{"page zero", Stamp{Page: 0, Width: 0.1, Height: 0.1, Text: "x"}, ErrPageOutOfRange},
		{"page past end", Stamp{Page: 2, Width: 0.1, Height: 0.1, Text: "x"}, ErrPageOutOfRange},
		{"empty", Stamp{Page: 1, Width: 0.1, Height: 0.1}, ErrEmptyStamp},
		{"image without size", Stamp{Page: 1, Width: 0.1, Height: 0.1, Image: []byte{1}}, ErrInvalidImageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Stamp(src, []Stamp{tt.stamp}, ""); !errors.Is(err, tt.wantErr) {
				t.Errorf("Stamp() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := r.Stamp([]byte("not a pdf"), nil, ""); err == nil {
		t.Error("Stamp() expected error for invalid PDF")
	}
}

func TestFitPoints(t *testing.T) {
	tests := []struct {
		name string
		text string
		w, h float64
		want int
	}{
		{"height bound", "Ada", 300, 20, 15},
		{"width bound", "Augusta Ada King, Countess of Lovelace", 110, 40, 5},
		{"floor", "a very long typed name that cannot possibly fit", 20, 20, 4},
		{"ceiling", "A", 1000, 1000, 36},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fitPoints(tt.text, tt.w, tt.h); got != tt.want {
				t.Errorf("fitPoints(%q, %v, %v) = %d, want %d", tt.text, tt.w, tt.h, got, tt.want)
			}
		})
	}
}

func TestWrapLines(t *testing.T) {
	long := "   Device: " + strings.Repeat("x", 30)
	got := wrapLines("header\n\n"+long+"\n", 20)
	want := []string{
		"header",
		"",
		"   Device: xxxxxxxxx",
		"   xxxxxxxxxxxxxxxxx",
		"   xxxx",
	}
	if len(got) != len(want) {
		t.Fatalf("wrapLines() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLayoutAuditTrail(t *testing.T) {
	lines := make([]string, 140)
	for i := range lines {
		lines[i] = "line"
	}
	doc := layoutAuditTrail("Title", lines)

	if len(doc.Pages) != 3 {
		t.Fatalf("pages = %d, want 3", len(doc.Pages))
	}
	first := doc.Pages["1"].Content.Text
	if first[0].Value != "Title" || first[0].Font.Name != "Helvetica-Bold" {
		t.Errorf("first element = %+v, want bold title", first[0])
	}
	for page, p := range doc.Pages {
		for _, txt := range p.Content.Text {
			if txt.Pos[1] < auditMargin || txt.Pos[1] > auditPageHeight-auditMargin {
				t.Errorf("page %s: y = %d outside margins", page, txt.Pos[1])
			}
		}
	}
}
