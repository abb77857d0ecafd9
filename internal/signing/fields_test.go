package signing

import (
	"math"
	"testing"
)

func TestValidateGeometry(t *testing.T) {
	base := Field{ID: "f1", RecipientID: "r1", Type: FieldSignature, Page: 1, X: 0.1, Y: 0.1, Width: 0.3, Height: 0.1}

	tests := []struct {
		name   string
		mutate func(f *Field)
		want   []string
	}{
		{"valid", func(f *Field) {}, nil},
		{"touches bottom right", func(f *Field) { f.X, f.Y, f.Width, f.Height = 0.7, 0.9, 0.3, 0.1 }, nil},
		{"page zero", func(f *Field) { f.Page = 0 }, []string{RuleInvalidPage}},
		{"negative x", func(f *Field) { f.X = -0.01 }, []string{RuleInvalidGeometry}},
		{"zero width", func(f *Field) { f.Width = 0 }, []string{RuleInvalidGeometry}},
		{"overflows width", func(f *Field) { f.X = 0.8 }, []string{RuleInvalidGeometry}},
		{"overflows height", func(f *Field) { f.Y, f.Height = 0.95, 0.1 }, []string{RuleInvalidGeometry}},
		{"nan y", func(f *Field) { f.Y = math.NaN() }, []string{RuleInvalidGeometry}},
		{"nan height", func(f *Field) { f.Height = math.NaN() }, []string{RuleInvalidGeometry}},
		{"unknown type", func(f *Field) { f.Type = "initials" }, []string{RuleInvalidFieldType}},
		{"page and type", func(f *Field) { f.Page, f.Type = -1, "" }, []string{RuleInvalidPage, RuleInvalidFieldType}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			tt.mutate(&f)
			got := ValidateGeometry(&f)
			if len(got) != len(tt.want) {
				t.Fatalf("ValidateGeometry() = %v, want rules %v", got, tt.want)
			}
			for i, v := range got {
				if v.Rule != tt.want[i] {
					t.Errorf("violation[%d].Rule = %s, want %s", i, v.Rule, tt.want[i])
				}
				if v.FieldID != "f1" {
					t.Errorf("violation[%d].FieldID = %q, want f1", i, v.FieldID)
				}
			}
		})
	}
}

func TestValidatePlacement(t *testing.T) {
	ada := &Recipient{ID: "r1", RequestID: "req1", Email: "ada@example.com"}
	grace := &Recipient{ID: "r2", RequestID: "req1", Email: "grace@example.com"}
	stranger := &Recipient{ID: "r3", RequestID: "req2", Email: "linus@example.com"}

	field := func(id, recipientID string) *Field {
		return &Field{ID: id, RequestID: "req1", RecipientID: recipientID, Type: FieldSignature, Page: 1, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.1}
	}

	tests := []struct {
		name       string
		fields     []*Field
		recipients []*Recipient
		want       []string
	}{
		{
			name:       "every recipient has a field",
			fields:     []*Field{field("f1", "r1"), field("f2", "r2")},
			recipients: []*Recipient{ada, grace},
		},
		{
			name: "no recipients",
			want: []string{RuleNoRecipients},
		},
		{
			name:       "recipient without fields",
			fields:     []*Field{field("f1", "r1")},
			recipients: []*Recipient{ada, grace},
			want:       []string{RuleRecipientNoFields},
		},
		{
			name:       "field for unknown recipient",
			fields:     []*Field{field("f1", "r1"), field("f2", "nobody")},
			recipients: []*Recipient{ada},
			want:       []string{RuleUnknownRecipient},
		},
		{
			name:       "recipient from another request",
			fields:     []*Field{field("f1", "r1"), field("f2", "r3")},
			recipients: []*Recipient{ada, stranger},
			want:       []string{RuleRequestMismatch, RuleRecipientNoFields},
		},
		{
			name: "collects every violation",
			fields: []*Field{
				{ID: "f1", RequestID: "req1", RecipientID: "r1", Type: FieldSignature, Page: 0, X: 0.1, Y: 0.1, Width: 0.2, Height: 0.1},
				{ID: "f2", RequestID: "req1", RecipientID: "r1", Type: FieldSignature, Page: 1, X: 0.9, Y: 0.1, Width: 0.2, Height: 0.1},
			},
			recipients: []*Recipient{ada, grace},
			want:       []string{RuleInvalidPage, RuleInvalidGeometry, RuleRecipientNoFields},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidatePlacement(tt.fields, tt.recipients)
			if len(got) != len(tt.want) {
				t.Fatalf("ValidatePlacement() = %v, want rules %v", got, tt.want)
			}
			for i, v := range got {
				if v.Rule != tt.want[i] {
					t.Errorf("violation[%d].Rule = %s, want %s", i, v.Rule, tt.want[i])
				}
			}
		})
	}
}

func TestValidatePageRange(t *testing.T) {
	fields := []*Field{
		{ID: "f1", RecipientID: "r1", Page: 1},
		{ID: "f2", RecipientID: "r1", Page: 3},
		{ID: "f3", RecipientID: "r2", Page: 4},
	}
	tests := []struct {
		pages int
		want  []string
	}{
		{4, nil},
		{3, []string{"f3"}},
		{1, []string{"f2", "f3"}},
	}
	for _, tt := range tests {
		got := ValidatePageRange(fields, tt.pages)
		if len(got) != len(tt.want) {
			t.Errorf("ValidatePageRange(%d) = %v, want fields %v", tt.pages, got, tt.want)
			continue
		}
		for i, v := range got {
			if v.FieldID != tt.want[i] || v.Rule != RuleInvalidPage {
				t.Errorf("ValidatePageRange(%d)[%d] = %+v, want %s %s", tt.pages, i, v, tt.want[i], RuleInvalidPage)
			}
		}
	}
}

func TestSortFields(t *testing.T) {
	fields := []*Field{
		{ID: "c", Page: 2, OrderIndex: 0},
		{ID: "a", Page: 1, OrderIndex: 1},
		{ID: "b", Page: 1, OrderIndex: 0},
		{ID: "d", Page: 1, OrderIndex: 1},
	}
	got := SortFields(fields)
	want := []string{"b", "a", "d", "c"}
	for i, f := range got {
		if f.ID != want[i] {
			t.Errorf("SortFields()[%d] = %s, want %s", i, f.ID, want[i])
		}
	}
	if fields[0].ID != "c" {
		t.Error("SortFields() modified its input")
	}
}
