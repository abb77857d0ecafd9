package signing

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Structured errors below unwrap to one of these.
var (
	ErrValidation      = errors.New("validation failed")
	ErrInvalidState    = errors.New("operation not allowed in current state")
	ErrTokenNotFound   = errors.New("access token not found")
	ErrTokenExpired    = errors.New("access token expired")
	ErrTokenRevoked    = errors.New("access token revoked")
	ErrSessionInvalid  = errors.New("signing session invalid or expired")
	ErrOutOfOrder      = errors.New("recipient is not next in signing order")
	ErrAlreadySigned   = errors.New("field already signed")
	ErrSealingFailed   = errors.New("document sealing failed")
	ErrConsentRequired = errors.New("consent to sign electronically is required")
	ErrReminderNotDue  = errors.New("reminder not due")
	ErrIncomplete      = errors.New("not all fields are signed")

	ErrRequestNotFound        = errors.New("signature request not found")
	ErrRecipientNotFound      = errors.New("recipient not found")
	ErrFieldNotFound          = errors.New("field not found")
	ErrSignedDocumentNotFound = errors.New("signed document not found")

	// Persistence-level conflicts.
	ErrDuplicateSignature   = errors.New("signature already exists for field")
	ErrSignedDocumentExists = errors.New("signed document already exists for request")
)

// ValidationError carries every violation found, so callers can report all
// problems at once.
type ValidationError struct {
	Violations []Violation
}

// Error implements error.
func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return ErrValidation.Error()
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(msgs, "; "))
}

// Unwrap returns ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func validationError(rule, message string) *ValidationError {
	return &ValidationError{Violations: []Violation{{Rule: rule, Message: message}}}
}

// ReasonSealingPending is the InvalidStateError reason given when a request
// is fully signed but not yet sealed.
const ReasonSealingPending = "all fields are signed and sealing is pending"

// InvalidStateError reports an operation attempted from the wrong lifecycle state.
type InvalidStateError struct {
	Op     string
	Status Status
	Reason string
}

// Error implements error.
func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s request in status %s: %s", e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("cannot %s request in status %s", e.Op, e.Status)
}

// Unwrap returns ErrInvalidState.
func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// SealingFailedError reports that every signature is recorded but the sealed
// artifact could not be produced. Retrying is always safe.
type SealingFailedError struct {
	RequestID string
	Err       error
}

// Error implements error.
func (e *SealingFailedError) Error() string {
	return fmt.Sprintf("sealing request %s: %v", e.RequestID, e.Err)
}

// Unwrap returns both the sentinel and the cause.
func (e *SealingFailedError) Unwrap() []error { return []error{ErrSealingFailed, e.Err} }

// IsAccessError reports whether err means the recipient's link or session can
// no longer be used.
func IsAccessError(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrSessionInvalid)
}
