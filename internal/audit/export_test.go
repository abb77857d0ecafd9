package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sampleEvents() []*Event {
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	return []*Event{
		{Sequence: 1, ID: "e1", RequestID: "r", RecipientID: "a", Type: EventView, CreatedAt: base, Hash: "h1"},
		{Sequence: 2, ID: "e2", RequestID: "r", RecipientID: "b", Type: EventView, CreatedAt: base.Add(time.Hour), Hash: "h2"},
		{Sequence: 3, ID: "e3", RequestID: "r", RecipientID: "a", Type: EventSign, CreatedAt: base.Add(2 * time.Hour), Hash: "h3",
			UserAgent: `Agent "quoted", with comma`},
	}
}

func TestExport_CSV(t *testing.T) {
	data, err := Export(sampleEvents(), ExportOptions{Format: ExportFormatCSV})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("exported CSV does not parse: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("CSV rows = %d, want 4 (header + 3)", len(records))
	}
	if records[3][8] != `Agent "quoted", with comma` {
		t.Errorf("user agent column = %q, special characters not preserved", records[3][8])
	}
}

func TestExport_JSONWithFilters(t *testing.T) {
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		opts    ExportOptions
		wantIDs []string
	}{
		{"all", ExportOptions{}, []string{"e1", "e2", "e3"}},
		{"by recipient", ExportOptions{RecipientID: "a"}, []string{"e1", "e3"}},
		{"from", ExportOptions{From: base.Add(30 * time.Minute)}, []string{"e2", "e3"}},
		{"to", ExportOptions{To: base.Add(time.Hour)}, []string{"e1", "e2"}},
		{"limit", ExportOptions{Limit: 1}, []string{"e1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Format = ExportFormatJSON
			data, err := Export(sampleEvents(), tt.opts)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			var got []struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("exported JSON does not parse: %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Export() returned %d events, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("event[%d].ID = %q, want %q", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestExport_InvalidFormat(t *testing.T) {
	if _, err := Export(sampleEvents(), ExportOptions{Format: "xml"}); err == nil {
		t.Error("Export() with xml format should fail")
	}
}
