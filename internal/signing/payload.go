package signing

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/esign/internal/validate"
)

// ErrInvalidDataURL is returned for a drawn signature that is not a base64 data URL.
var ErrInvalidDataURL = errors.New("signature payload must be a base64 data URL")

// MaxTypedSignatureLength bounds typed signatures, in characters.
const MaxTypedSignatureLength = 200

// DecodeDataURL splits "data:<mime>;base64,<data>" into its MIME type and bytes.
func DecodeDataURL(payload string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(payload, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURL
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok || mimeType == "" {
		return "", nil, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return mimeType, data, nil
}

// validatePayload checks a signature against the field it is for.
func validatePayload(f *Field, t SignatureType, payload string) error {
	if !t.Valid() {
		return &ValidationError{Violations: []Violation{{
			FieldID: f.ID, Rule: RuleInvalidValue,
			Message: fmt.Sprintf("unknown signature type %q", t),
		}}}
	}
	if f.Type == FieldTypedName && t != SignatureTyped {
		return &ValidationError{Violations: []Violation{{
			FieldID: f.ID, Rule: RuleInvalidValue,
			Message: "typed name fields require a typed signature",
		}}}
	}

	switch t {
	case SignatureTyped:
		if _, err := validate.String(payload, validate.StringConstraints{
			MinLength:  1,
			MaxLength:  MaxTypedSignatureLength,
			TrimSpace:  true,
			SingleLine: true,
		}); err != nil {
			return &ValidationError{Violations: []Violation{{
				FieldID: f.ID, Rule: RuleInvalidValue,
				Message: fmt.Sprintf("typed signature: %v", err),
			}}}
		}
	case SignatureDrawn:
		mimeType, data, err := DecodeDataURL(payload)
		if err == nil {
			_, err = validate.SignatureImage(mimeType, data)
		}
		if err != nil {
			return &ValidationError{Violations: []Violation{{
				FieldID: f.ID, Rule: RuleInvalidValue,
				Message: fmt.Sprintf("drawn signature: %v", err),
			}}}
		}
	}
	return nil
}
