package validate

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		constraints StringConstraints
		wantErr     error
		wantOutput  string
	}{
		{
			name:  "valid string within length constraints",
			input: "Hello World",
			constraints: StringConstraints{
				MinLength: 5,
				MaxLength: 20,
				TrimSpace: true,
			},
			wantOutput: "Hello World",
		},
		{
			name:  "string too short",
			input: "Hi",
			constraints: StringConstraints{
				MinLength: 5,
				MaxLength: 20,
			},
			wantErr: ErrStringTooShort,
		},
		{
			name:  "string too long",
			input: strings.Repeat("a", 101),
			constraints: StringConstraints{
				MinLength: 1,
				MaxLength: 100,
			},
			wantErr: ErrStringTooLong,
		},
		{
			name:        "empty string not allowed",
			input:       "",
			constraints: StringConstraints{},
			wantErr:     ErrEmpty,
		},
		{
			name:        "empty string allowed",
			input:       "",
			constraints: StringConstraints{AllowEmpty: true},
			wantOutput:  "",
		},
		{
			name:        "whitespace trimmed to empty",
			input:       "   ",
			constraints: StringConstraints{TrimSpace: true},
			wantErr:     ErrEmpty,
		},
		{
			name:        "length counts runes not bytes",
			input:       "Zoë Müller",
			constraints: StringConstraints{MaxLength: 10},
			wantOutput:  "Zoë Müller",
		},
		{
			name:        "newline rejected in single line",
			input:       "line one\nline two",
			constraints: StringConstraints{SingleLine: true},
			wantErr:     ErrInvalidCharacters,
		},
		{
			name:        "invalid utf8",
			input:       "bad\xff",
			constraints: StringConstraints{},
			wantErr:     ErrInvalidCharacters,
		},
		{
			name:  "pattern mismatch",
			input: "abc!",
			constraints: StringConstraints{
				AllowedPattern: regexp.MustCompile(`^[a-z]+$`),
			},
			wantErr: ErrInvalidCharacters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := String(tt.input, tt.constraints)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("String() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && got != tt.wantOutput {
				t.Errorf("String() = %q, want %q", got, tt.wantOutput)
			}
		})
	}
}

func TestRequestName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple", "Engagement letter 2026", "Engagement letter 2026", false},
		{"trimmed", "  NDA  ", "NDA", false},
		{"empty", "", "", true},
		{"too long", strings.Repeat("x", 201), "", true},
		{"multi line", "NDA\nsecond", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RequestName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RequestName() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RequestName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPersonName(t *testing.T) {
	if got, err := PersonName(" Ada Lovelace "); err != nil || got != "Ada Lovelace" {
		t.Errorf("PersonName() = %q, %v, want %q, nil", got, err, "Ada Lovelace")
	}
	if _, err := PersonName("Ada\tLovelace"); !errors.Is(err, ErrInvalidCharacters) {
		t.Errorf("PersonName(tab) error = %v, want ErrInvalidCharacters", err)
	}
	if _, err := PersonName(strings.Repeat("a", 121)); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("PersonName(long) error = %v, want ErrStringTooLong", err)
	}
}

func TestOptionalText(t *testing.T) {
	if got, err := FieldLabel(""); err != nil || got != "" {
		t.Errorf("FieldLabel(\"\") = %q, %v, want empty, nil", got, err)
	}
	if _, err := FieldLabel(strings.Repeat("a", 101)); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("FieldLabel(long) error = %v, want ErrStringTooLong", err)
	}
	if _, err := EmailSubject("Please sign\r\n"); err != nil {
		t.Errorf("EmailSubject(trailing newline) error = %v, want nil after trim", err)
	}
	if _, err := EmailSubject("Please\r\nBcc: x@example.com"); !errors.Is(err, ErrInvalidCharacters) {
		t.Errorf("EmailSubject(header injection) error = %v, want ErrInvalidCharacters", err)
	}
	if got, err := Message("Line one\nLine two"); err != nil || got != "Line one\nLine two" {
		t.Errorf("Message() = %q, %v, want multi-line text accepted", got, err)
	}
	if _, err := Message(strings.Repeat("a", 5001)); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("Message(long) error = %v, want ErrStringTooLong", err)
	}
}
