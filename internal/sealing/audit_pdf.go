package sealing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Audit trail page layout, in points on A4 portrait with an upper-left origin.
const (
	auditMargin     = 40
	auditTitleSize  = 12
	auditFontSize   = 8
	auditLineHeight = 11
	auditPageHeight = 842
	auditWrapAt     = 100
)

type pdfFont struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type pdfText struct {
	Value string  `json:"value"`
	Pos   [2]int  `json:"pos"`
	Font  pdfFont `json:"font"`
}

type pdfContent struct {
	Text []pdfText `json:"text"`
}

type pdfPage struct {
	Content pdfContent `json:"content"`
}

type pdfDocument struct {
	Paper  string             `json:"paper"`
	Origin string             `json:"origin"`
	Pages  map[string]pdfPage `json:"pages"`
}

// AuditTrail renders the report one line per text element, paginated.
func (r *PDFRenderer) AuditTrail(title string, report []byte) ([]byte, error) {
	if len(bytes.TrimSpace(report)) == 0 {
		return nil, ErrEmptyAuditReport
	}
	doc := layoutAuditTrail(title, wrapLines(string(report), auditWrapAt))

	desc, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page description: %w", err)
	}
	var out bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(desc), &out, r.configuration()); err != nil {
		return nil, fmt.Errorf("failed to create audit trail: %w", err)
	}
	return out.Bytes(), nil
}

// layoutAuditTrail places the title and lines, starting a new page whenever
// the bottom margin is reached.
func layoutAuditTrail(title string, lines []string) pdfDocument {
	doc := pdfDocument{Paper: "A4P", Origin: "UpperLeft", Pages: map[string]pdfPage{}}

	pageNum := 1
	page := pdfPage{}
	y := auditMargin
	if title != "" {
		page.Content.Text = append(page.Content.Text, pdfText{
			Value: title, Pos: [2]int{auditMargin, y},
			Font: pdfFont{Name: "Helvetica-Bold", Size: auditTitleSize},
		})
		y += 2 * auditLineHeight
	}
	for _, line := range lines {
		if y > auditPageHeight-auditMargin {
			doc.Pages[strconv.Itoa(pageNum)] = page
			pageNum++
			page = pdfPage{}
			y = auditMargin
		}
		if line != "" {
			page.Content.Text = append(page.Content.Text, pdfText{
				Value: line, Pos: [2]int{auditMargin, y},
				Font: pdfFont{Name: "Courier", Size: auditFontSize},
			})
		}
		y += auditLineHeight
	}
	doc.Pages[strconv.Itoa(pageNum)] = page
	return doc
}

// wrapLines splits s into lines of at most width runes. Continuations keep
// the indentation of the line they came from.
func wrapLines(s string, width int) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		runes := []rune(line)
		indent := len(runes) - len([]rune(strings.TrimLeft(line, " ")))
		if indent > width/2 {
			indent = 0
		}
		prefix := strings.Repeat(" ", indent)
		first := true
		for len(runes) > width {
			out = append(out, string(runes[:width]))
			runes = append([]rune(prefix), runes[width:]...)
			first = false
		}
		if first || len(runes) > indent {
			out = append(out, string(runes))
		}
	}
	return out
}
