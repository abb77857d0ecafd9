package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/middleware"
	"github.com/onnwee/esign/internal/signing"
)

// Request body limits.
const (
	// maxDocumentBody fits a base64 encoded document of docstore.DefaultMaxSizeBytes.
	maxDocumentBody  = docstore.DefaultMaxSizeBytes/3*4 + 64<<10
	maxJSONBody      = 64 << 10
	maxSignatureBody = 2 << 20
)

// SigningService is the engine surface used by the HTTP layer.
type SigningService interface {
	CreateRequest(ctx context.Context, in signing.CreateRequestInput) (*signing.SignatureRequest, error)
	GetRequestDetail(ctx context.Context, requestID string) (*signing.RequestDetail, error)
	AddRecipient(ctx context.Context, requestID string, in signing.RecipientInput) (*signing.Recipient, error)
	AddField(ctx context.Context, requestID string, in signing.FieldInput) (*signing.Field, error)
	DeleteDraft(ctx context.Context, requestID string) error
	Activate(ctx context.Context, requestID string) (*signing.ActivationResult, error)
	Cancel(ctx context.Context, requestID, cancelledBy, reason string) (*signing.SignatureRequest, error)
	RetrySealing(ctx context.Context, requestID string) (*signing.SignedDocument, error)
	ReissueToken(ctx context.Context, recipientID string) (*signing.Recipient, string, error)
	SignedDocument(ctx context.Context, requestID string) (*signing.SignedDocument, error)

	ValidateAccess(ctx context.Context, token, sessionToken string, client audit.ClientInfo) (*signing.PortalView, error)
	RecordConsent(ctx context.Context, token, sessionToken string, client audit.ClientInfo) (*signing.Recipient, error)
	RecordSignature(ctx context.Context, in signing.SignInput) (*signing.SignResult, error)
}

var _ SigningService = (*signing.Engine)(nil)

// AuditLog is the read side of the audit trail.
type AuditLog interface {
	Events(ctx context.Context, requestID string) ([]*audit.Event, error)
	RenderReport(ctx context.Context, requestID string) ([]byte, error)
	Verify(ctx context.Context, requestID string) error
}

var _ AuditLog = (*audit.Recorder)(nil)

// CreateRequestBody is the body of POST /v1/requests. Document is the base64
// encoded PDF; DocumentPath references an already stored one instead.
type CreateRequestBody struct {
	ClientID             string               `json:"client_id"`
	Name                 string               `json:"name"`
	Document             []byte               `json:"document,omitempty"`
	DocumentPath         string               `json:"document_path,omitempty"`
	DocumentVersion      string               `json:"document_version,omitempty"`
	EmailSubject         string               `json:"email_subject,omitempty"`
	EmailMessage         string               `json:"email_message,omitempty"`
	SigningOrder         signing.SigningOrder `json:"signing_order,omitempty"`
	ReminderEnabled      bool                 `json:"reminder_enabled"`
	ReminderIntervalDays int                  `json:"reminder_interval_days,omitempty"`
}

// AddRecipientBody is the body of POST /v1/requests/{id}/recipients.
type AddRecipientBody struct {
	PersonID   string `json:"person_id,omitempty"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	OrderIndex int    `json:"order_index,omitempty"`
}

// AddFieldBody is the body of POST /v1/requests/{id}/fields.
type AddFieldBody struct {
	RecipientID string            `json:"recipient_id"`
	Type        signing.FieldType `json:"type"`
	Page        int               `json:"page"`
	X           float64           `json:"x"`
	Y           float64           `json:"y"`
	Width       float64           `json:"width"`
	Height      float64           `json:"height"`
	Label       string            `json:"label,omitempty"`
	OrderIndex  int               `json:"order_index,omitempty"`
}

// CancelBody is the optional body of POST /v1/requests/{id}/cancel.
type CancelBody struct {
	Reason string `json:"reason"`
}

// ActivationResponse lists the recipients that were sent a link. Raw tokens
// are delivered only through the notification channel.
type ActivationResponse struct {
	Request    RequestView     `json:"request"`
	Recipients []RecipientView `json:"recipients"`
}

// RequestHandlers serves the staff endpoints under /v1/requests.
type RequestHandlers struct {
	signing   SigningService
	audit     AuditLog
	documents docstore.Store
	logger    *slog.Logger
}

// NewRequestHandlers creates a new RequestHandlers instance.
func NewRequestHandlers(svc SigningService, auditLog AuditLog, documents docstore.Store, logger *slog.Logger) *RequestHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestHandlers{signing: svc, audit: auditLog, documents: documents, logger: logger}
}

// CreateRequest handles POST /v1/requests.
func (h *RequestHandlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if !decodeJSON(w, r, maxDocumentBody, &body) {
		return
	}

	req, err := h.signing.CreateRequest(r.Context(), signing.CreateRequestInput{
		ClientID:             body.ClientID,
		Name:                 body.Name,
		CreatedBy:            middleware.GetSubject(r.Context()),
		Document:             body.Document,
		DocumentPath:         body.DocumentPath,
		DocumentVersion:      body.DocumentVersion,
		EmailSubject:         body.EmailSubject,
		EmailMessage:         body.EmailMessage,
		SigningOrder:         body.SigningOrder,
		ReminderEnabled:      body.ReminderEnabled,
		ReminderIntervalDays: body.ReminderIntervalDays,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusCreated, newRequestView(req))
}

// GetRequest handles GET /v1/requests/{id}.
func (h *RequestHandlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	detail, err := h.signing.GetRequestDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newDetailView(detail))
}

// DeleteRequest handles DELETE /v1/requests/{id}. Only drafts can be deleted.
func (h *RequestHandlers) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.signing.DeleteDraft(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddRecipient handles POST /v1/requests/{id}/recipients.
func (h *RequestHandlers) AddRecipient(w http.ResponseWriter, r *http.Request) {
	var body AddRecipientBody
	if !decodeJSON(w, r, maxJSONBody, &body) {
		return
	}
	rec, err := h.signing.AddRecipient(r.Context(), chi.URLParam(r, "id"), signing.RecipientInput{
		PersonID:   body.PersonID,
		Name:       body.Name,
		Email:      body.Email,
		OrderIndex: body.OrderIndex,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusCreated, newRecipientView(rec))
}

// AddField handles POST /v1/requests/{id}/fields.
func (h *RequestHandlers) AddField(w http.ResponseWriter, r *http.Request) {
	var body AddFieldBody
	if !decodeJSON(w, r, maxJSONBody, &body) {
		return
	}
	field, err := h.signing.AddField(r.Context(), chi.URLParam(r, "id"), signing.FieldInput{
		RecipientID: body.RecipientID,
		Type:        body.Type,
		Page:        body.Page,
		X:           body.X,
		Y:           body.Y,
		Width:       body.Width,
		Height:      body.Height,
		Label:       body.Label,
		OrderIndex:  body.OrderIndex,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusCreated, newFieldView(field))
}

// Activate handles POST /v1/requests/{id}/activate.
func (h *RequestHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	res, err := h.signing.Activate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, ActivationResponse{
		Request:    newRequestView(res.Request),
		Recipients: recipientViews(res.Recipients),
	})
}

// Cancel handles POST /v1/requests/{id}/cancel. The body is optional.
func (h *RequestHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	var body CancelBody
	if r.ContentLength != 0 && !decodeJSON(w, r, maxJSONBody, &body) {
		return
	}
	req, err := h.signing.Cancel(r.Context(), chi.URLParam(r, "id"), middleware.GetSubject(r.Context()), body.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newRequestView(req))
}

// Seal handles POST /v1/requests/{id}/seal, retrying sealing of a fully
// signed request. An already sealed request returns its document.
func (h *RequestHandlers) Seal(w http.ResponseWriter, r *http.Request) {
	doc, err := h.signing.RetrySealing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newSignedDocumentView(doc))
}

// ReissueToken handles POST /v1/recipients/{id}/reissue. The new link is sent
// to the recipient; the previous one stops working.
func (h *RequestHandlers) ReissueToken(w http.ResponseWriter, r *http.Request) {
	rec, _, err := h.signing.ReissueToken(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, newRecipientView(rec))
}

// AuditTrail handles GET /v1/requests/{id}/audit?format=text|csv|json.
// The X-Audit-Chain header reports whether the hash chain verified.
func (h *RequestHandlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "id")
	if _, err := h.signing.GetRequestDetail(ctx, requestID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	chain := "valid"
	if err := h.audit.Verify(ctx, requestID); err != nil {
		chain = "broken"
		h.logger.ErrorContext(ctx, "audit chain verification failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case "", "text":
		format = "txt"
		contentType = "text/plain; charset=utf-8"
		data, err = h.audit.RenderReport(ctx, requestID)
	case string(audit.ExportFormatCSV), string(audit.ExportFormatJSON):
		contentType = "text/csv; charset=utf-8"
		if format == string(audit.ExportFormatJSON) {
			contentType = "application/json"
		}
		var events []*audit.Event
		events, err = h.audit.Events(ctx, requestID)
		if err == nil {
			data, err = audit.Export(events, audit.ExportOptions{
				Format:      audit.ExportFormat(format),
				RecipientID: r.URL.Query().Get("recipient_id"),
			})
		}
	default:
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "format must be text, csv or json")
		return
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-%s.%s"`, requestID, format))
	w.Header().Set("X-Audit-Chain", chain)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.ErrorContext(ctx, "failed to write audit export", slog.String("error", err.Error()))
	}
}

// SignedDocument handles GET /v1/requests/{id}/signed-document?artifact=signed|audit.
func (h *RequestHandlers) SignedDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.signing.SignedDocument(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	path, hash, filename := doc.SignedPath, doc.SignedHash, doc.Filename
	switch r.URL.Query().Get("artifact") {
	case "", "signed":
	case "audit":
		path, hash = doc.AuditTrailPath, doc.AuditTrailHash
		filename = strings.TrimSuffix(doc.Filename, ".pdf") + "-audit-trail.pdf"
	default:
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "artifact must be signed or audit")
		return
	}
	if path == "" {
		writeDomainError(w, r, signing.ErrSignedDocumentNotFound)
		return
	}

	data, err := h.documents.Get(ctx, path)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			err = fmt.Errorf("failed to load %s: %w", path, err)
		}
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", docstore.ContentTypePDF)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	w.Header().Set("X-Content-Hash", hash)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.ErrorContext(ctx, "failed to write signed document", slog.String("error", err.Error()))
	}
}
