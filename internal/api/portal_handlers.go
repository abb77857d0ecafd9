package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/middleware"
	"github.com/onnwee/esign/internal/signing"
)

// Portal signing outcomes reported in SignResponse.Status.
const (
	SignStatusSigned         = "signed"
	SignStatusCompleted      = "completed"
	SignStatusAlreadySigned  = "already_signed"
	SignStatusSealingPending = "sealing_pending"
)

// SignBody is the body of POST /v1/sign/{token}/fields/{fieldID}.
// Payload is the typed name, or a data URL of the drawn image.
type SignBody struct {
	Type    signing.SignatureType `json:"type"`
	Payload string                `json:"payload"`
}

// SignResponse reports the outcome of a signing action.
type SignResponse struct {
	Status            string         `json:"status"`
	Message           string         `json:"message,omitempty"`
	Signature         *SignatureView `json:"signature,omitempty"`
	RecipientComplete bool           `json:"recipient_complete,omitempty"`
	RequestStatus     signing.Status `json:"request_status,omitempty"`
}

// ConsentResponse reports recorded consent.
type ConsentResponse struct {
	Status      string     `json:"status"`
	ConsentedAt *time.Time `json:"consented_at"`
}

// PortalHandlers serves the recipient endpoints under /v1/sign/{token}. The
// access token is the only credential; the session token travels in the
// X-Signing-Session header.
type PortalHandlers struct {
	signing SigningService
}

// NewPortalHandlers creates a new PortalHandlers instance.
func NewPortalHandlers(svc SigningService) *PortalHandlers {
	return &PortalHandlers{signing: svc}
}

// View handles GET /v1/sign/{token}. It opens or refreshes the recipient's
// session and returns the new session token in the response header and body.
func (h *PortalHandlers) View(w http.ResponseWriter, r *http.Request) {
	view, err := h.signing.ValidateAccess(r.Context(),
		chi.URLParam(r, "token"),
		r.Header.Get(middleware.SessionHeader),
		audit.ClientFromRequest(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(middleware.SessionHeader, view.SessionToken)
	writeJSON(w, r.Context(), http.StatusOK, newPortalResponse(view))
}

// Consent handles POST /v1/sign/{token}/consent.
func (h *PortalHandlers) Consent(w http.ResponseWriter, r *http.Request) {
	rec, err := h.signing.RecordConsent(r.Context(),
		chi.URLParam(r, "token"),
		r.Header.Get(middleware.SessionHeader),
		audit.ClientFromRequest(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, ConsentResponse{Status: "consented", ConsentedAt: rec.ConsentedAt})
}

// Sign handles POST /v1/sign/{token}/fields/{fieldID}.
//
// A repeated submission for a signed field answers 200 already_signed. When
// the signature completes the request but sealing fails, the signature stands
// and the response is 202 sealing_pending.
func (h *PortalHandlers) Sign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body SignBody
	if !decodeJSON(w, r, maxSignatureBody, &body) {
		return
	}

	res, err := h.signing.RecordSignature(ctx, signing.SignInput{
		Token:        chi.URLParam(r, "token"),
		SessionToken: r.Header.Get(middleware.SessionHeader),
		FieldID:      chi.URLParam(r, "fieldID"),
		Type:         body.Type,
		Payload:      body.Payload,
		Client:       audit.ClientFromRequest(r),
	})
	switch {
	case errors.Is(err, signing.ErrAlreadySigned):
		writeJSON(w, ctx, http.StatusOK, SignResponse{Status: SignStatusAlreadySigned})
		return
	case errors.Is(err, signing.ErrSealingFailed) && res != nil:
		middleware.SetErrorCode(ctx, ErrCodeSealingPending)
		resp := newSignResponse(res, SignStatusSealingPending)
		_, resp.Message = classify(err)
		writeJSON(w, ctx, http.StatusAccepted, resp)
		return
	case err != nil:
		writeDomainError(w, r, err)
		return
	}

	status := SignStatusSigned
	if res.SignedDocument != nil {
		status = SignStatusCompleted
	}
	writeJSON(w, ctx, http.StatusCreated, newSignResponse(res, status))
}

func newSignResponse(res *signing.SignResult, status string) SignResponse {
	resp := SignResponse{
		Status:            status,
		RecipientComplete: res.RecipientSigned,
	}
	if res.Signature != nil {
		sig := newSignatureView(res.Signature)
		resp.Signature = &sig
	}
	if res.Request != nil {
		resp.RequestStatus = res.Request.Status
	}
	return resp
}
