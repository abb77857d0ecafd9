package signing

import (
	"fmt"
	"sort"
)

// Violation rules.
const (
	RuleNoRecipients       = "no_recipients"
	RuleUnknownRecipient   = "unknown_recipient"
	RuleRequestMismatch    = "request_mismatch"
	RuleInvalidPage        = "invalid_page"
	RuleInvalidGeometry    = "invalid_geometry"
	RuleInvalidFieldType   = "invalid_field_type"
	RuleRecipientNoFields  = "recipient_without_fields"
	RuleInvalidEmail       = "invalid_email"
	RuleDuplicateRecipient = "duplicate_recipient"
	RuleInvalidValue       = "invalid_value"
)

// Violation is one problem found while validating a request.
type Violation struct {
	FieldID     string `json:"field_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	Rule        string `json:"rule"`
	Message     string `json:"message"`
}

// ValidateGeometry checks a single field's page and normalized bounds.
func ValidateGeometry(f *Field) []Violation {
	var out []Violation
	if f.Page < 1 {
		out = append(out, Violation{
			FieldID: f.ID, RecipientID: f.RecipientID, Rule: RuleInvalidPage,
			Message: fmt.Sprintf("field %s: page must be >= 1, got %d", f.ID, f.Page),
		})
	}
	if !f.Type.Valid() {
		out = append(out, Violation{
			FieldID: f.ID, RecipientID: f.RecipientID, Rule: RuleInvalidFieldType,
			Message: fmt.Sprintf("field %s: unknown type %q", f.ID, f.Type),
		})
	}

	var problem string
	switch {
	case !inUnit(f.X) || !inUnit(f.Y):
		problem = "x and y must lie within [0,1]"
	case !(f.Width > 0) || !(f.Height > 0):
		problem = "width and height must be positive"
	case f.X+f.Width > 1:
		problem = "x + width exceeds page width"
	case f.Y+f.Height > 1:
		problem = "y + height exceeds page height"
	}
	if problem != "" {
		out = append(out, Violation{
			FieldID: f.ID, RecipientID: f.RecipientID, Rule: RuleInvalidGeometry,
			Message: fmt.Sprintf("field %s: %s", f.ID, problem),
		})
	}
	return out
}

// inUnit is false for NaN.
func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// ValidatePlacement checks every field against the request's recipients and
// returns all violations found. An empty result means the request can be
// activated.
func ValidatePlacement(fields []*Field, recipients []*Recipient) []Violation {
	var out []Violation
	if len(recipients) == 0 {
		out = append(out, Violation{Rule: RuleNoRecipients, Message: "request has no recipients"})
	}

	byID := make(map[string]*Recipient, len(recipients))
	for _, r := range recipients {
		byID[r.ID] = r
	}
	owned := make(map[string]int, len(recipients))

	for _, f := range fields {
		out = append(out, ValidateGeometry(f)...)

		r, ok := byID[f.RecipientID]
		if !ok {
			out = append(out, Violation{
				FieldID: f.ID, RecipientID: f.RecipientID, Rule: RuleUnknownRecipient,
				Message: fmt.Sprintf("field %s: recipient %s is not on this request", f.ID, f.RecipientID),
			})
			continue
		}
		if r.RequestID != f.RequestID {
			out = append(out, Violation{
				FieldID: f.ID, RecipientID: f.RecipientID, Rule: RuleRequestMismatch,
				Message: fmt.Sprintf("field %s: recipient %s belongs to a different request", f.ID, f.RecipientID),
			})
			continue
		}
		owned[f.RecipientID]++
	}

	for _, r := range recipients {
		if owned[r.ID] == 0 {
			out = append(out, Violation{
				RecipientID: r.ID, Rule: RuleRecipientNoFields,
				Message: fmt.Sprintf("recipient %s has no fields to sign", r.Email),
			})
		}
	}
	return out
}

// ValidatePageRange reports fields placed beyond the last page of a document
// with pages pages.
func ValidatePageRange(fields []*Field, pages int) []Violation {
	var out []Violation
	for _, f := range fields {
		if f.Page > pages {
			out = append(out, Violation{
				FieldID: f.ID, RecipientID: f.RecipientID, Rule: RuleInvalidPage,
				Message: fmt.Sprintf("field %s: page %d exceeds the document's %d pages", f.ID, f.Page, pages),
			})
		}
	}
	return out
}

// SortFields orders fields for rendering: page, then order index, then the
// order they were added (the input order).
func SortFields(fields []*Field) []*Field {
	out := append([]*Field(nil), fields...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out
}
