// Package validate provides input validation for the signing API: request and
// signer names, free-text fields, uploaded documents and configured URLs.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length (0 = no minimum)
	MaxLength      int            // Maximum length (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional regex pattern for allowed characters
	AllowEmpty     bool           // Whether empty strings are allowed
	TrimSpace      bool           // Whether to trim whitespace before validation
	SingleLine     bool           // Reject control characters, including newlines
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidCharacters)
	}

	// Character count, not byte count
	length := utf8.RuneCountInString(s)

	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	if constraints.SingleLine {
		for _, r := range s {
			if unicode.IsControl(r) {
				return "", fmt.Errorf("%w: control character %U", ErrInvalidCharacters, r)
			}
		}
	}

	if constraints.AllowedPattern != nil && !constraints.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}

	return s, nil
}

// RequestName validates the friendly name of a signature request:
// - 1-200 characters
// - single line
func RequestName(name string) (string, error) {
	return String(name, StringConstraints{
		MinLength:  1,
		MaxLength:  200,
		TrimSpace:  true,
		SingleLine: true,
	})
}

// PersonName validates a signer's display name. It ends up stamped into the
// sealed document, so it must be a single printable line.
func PersonName(name string) (string, error) {
	return String(name, StringConstraints{
		MinLength:  1,
		MaxLength:  120,
		TrimSpace:  true,
		SingleLine: true,
	})
}

// FieldLabel validates an optional field label (max 100 characters).
func FieldLabel(label string) (string, error) {
	return String(label, StringConstraints{
		MaxLength:  100,
		AllowEmpty: true,
		TrimSpace:  true,
		SingleLine: true,
	})
}

// EmailSubject validates an optional notification subject line.
func EmailSubject(subject string) (string, error) {
	return String(subject, StringConstraints{
		MaxLength:  200,
		AllowEmpty: true,
		TrimSpace:  true,
		SingleLine: true,
	})
}

// Message validates free text such as an email message or a cancellation
// reason:
// - Optional (can be empty)
// - Max 5000 characters
func Message(text string) (string, error) {
	return String(text, StringConstraints{
		MaxLength:  5000,
		AllowEmpty: true,
		TrimSpace:  true,
	})
}
