// Package api provides the HTTP surface of the signing service: staff request
// management, the recipient signing portal, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/middleware"
	"github.com/onnwee/esign/internal/signing"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden = "forbidden"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeInvalidState indicates the request's lifecycle state forbids the operation.
	ErrCodeInvalidState = "invalid_state"

	// ErrCodeAccessInvalid indicates the recipient's link or session can no longer be used.
	ErrCodeAccessInvalid = "access_invalid"

	// ErrCodeOutOfOrder indicates an earlier signer in a sequential request has not finished.
	ErrCodeOutOfOrder = "out_of_order"

	// ErrCodeConsentRequired indicates the recipient has not consented to sign electronically.
	ErrCodeConsentRequired = "consent_required"

	// ErrCodeAlreadySigned indicates the field already carries a signature.
	ErrCodeAlreadySigned = "already_signed"

	// ErrCodeSealingPending indicates every signature is recorded but sealing has not succeeded yet.
	ErrCodeSealingPending = "sealing_pending"
)

// accessInvalidMessage is shared by every token failure so the
// portal does not reveal whether a token ever existed.
const accessInvalidMessage = "This signing link is no longer valid"

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Violations []signing.Violation `json:"violations,omitempty"`
}

// WriteError writes a standardized JSON error response.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
//
// The code is also recorded on ctx so the logging middleware reports it.
//
//	WriteError(w, r.Context(), http.StatusNotFound, api.ErrCodeNotFound, "Request not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	writeErrorResponse(w, ctx, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func writeErrorResponse(w http.ResponseWriter, ctx context.Context, status int, errResp ErrorResponse) {
	middleware.SetErrorCode(ctx, errResp.Error.Code)

	data, err := json.Marshal(errResp)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for common error codes.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeForbidden, ErrCodeAccessInvalid, ErrCodeOutOfOrder, ErrCodeConsentRequired:
		return http.StatusForbidden
	case ErrCodeInvalidState, ErrCodeAlreadySigned:
		return http.StatusConflict
	case ErrCodeSealingPending:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// classify maps a domain error to an error code and a client-safe message.
func classify(err error) (string, string) {
	var stateErr *signing.InvalidStateError
	switch {
	case signing.IsAccessError(err):
		return ErrCodeAccessInvalid, accessInvalidMessage
	case errors.Is(err, signing.ErrValidation):
		return ErrCodeValidation, err.Error()
	case errors.As(err, &stateErr):
		if stateErr.Reason == signing.ReasonSealingPending {
			return ErrCodeInvalidState, stateErr.Error() + "; retry sealing with POST /v1/requests/{id}/seal"
		}
		return ErrCodeInvalidState, stateErr.Error()
	case errors.Is(err, signing.ErrIncomplete):
		return ErrCodeInvalidState, err.Error()
	case errors.Is(err, signing.ErrOutOfOrder):
		return ErrCodeOutOfOrder, "Another recipient must sign before you"
	case errors.Is(err, signing.ErrConsentRequired):
		return ErrCodeConsentRequired, "Consent to sign electronically is required"
	case errors.Is(err, signing.ErrAlreadySigned):
		return ErrCodeAlreadySigned, "Field already signed"
	case errors.Is(err, signing.ErrSealingFailed):
		return ErrCodeSealingPending, "Your signature was recorded; finalization is in progress"
	case errors.Is(err, signing.ErrRequestNotFound):
		return ErrCodeNotFound, "Signature request not found"
	case errors.Is(err, signing.ErrRecipientNotFound):
		return ErrCodeNotFound, "Recipient not found"
	case errors.Is(err, signing.ErrFieldNotFound):
		return ErrCodeNotFound, "Field not found"
	case errors.Is(err, signing.ErrSignedDocumentNotFound), errors.Is(err, docstore.ErrNotFound):
		return ErrCodeNotFound, "Signed document not found"
	case errors.Is(err, docstore.ErrTooLarge), errors.Is(err, docstore.ErrEmpty), errors.Is(err, docstore.ErrUnsupportedType):
		return ErrCodeValidation, err.Error()
	}
	return ErrCodeInternal, "Internal server error"
}

// writeDomainError maps err onto the error envelope. Violations of a
// *signing.ValidationError are returned in full.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	code, message := classify(err)
	status := StatusCodeMapping(code)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed",
			"error", err,
			"path", middleware.RoutePath(r),
			"request_id", middleware.GetRequestID(ctx))
	}

	resp := ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
	var verr *signing.ValidationError
	if errors.As(err, &verr) {
		resp.Error.Violations = verr.Violations
	}
	writeErrorResponse(w, ctx, status, resp)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// decodeJSON decodes a bounded JSON body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}
