package api

import (
	"time"

	"github.com/onnwee/esign/internal/signing"
)

// RequestView is the staff representation of a signature request.
type RequestView struct {
	ID                   string               `json:"id"`
	ClientID             string               `json:"client_id"`
	Name                 string               `json:"name"`
	Status               signing.Status       `json:"status"`
	DocumentPath         string               `json:"document_path"`
	DocumentHash         string               `json:"document_hash,omitempty"`
	DocumentVersion      string               `json:"document_version,omitempty"`
	CreatedBy            string               `json:"created_by"`
	EmailSubject         string               `json:"email_subject,omitempty"`
	EmailMessage         string               `json:"email_message,omitempty"`
	SigningOrder         signing.SigningOrder `json:"signing_order"`
	ReminderEnabled      bool                 `json:"reminder_enabled"`
	ReminderIntervalDays int                  `json:"reminder_interval_days"`
	RemindersSentCount   int                  `json:"reminders_sent_count"`
	NextReminderAt       *time.Time           `json:"next_reminder_at,omitempty"`
	ActivatedAt          *time.Time           `json:"activated_at,omitempty"`
	CompletedAt          *time.Time           `json:"completed_at,omitempty"`
	CancelledAt          *time.Time           `json:"cancelled_at,omitempty"`
	CancelledBy          string               `json:"cancelled_by,omitempty"`
	CancellationReason   string               `json:"cancellation_reason,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
	Recipients           []RecipientView      `json:"recipients,omitempty"`
	Fields               []FieldView          `json:"fields,omitempty"`
	Signatures           []SignatureView      `json:"signatures,omitempty"`
	SignedDocument       *SignedDocumentView  `json:"signed_document,omitempty"`
}

// RecipientView omits the token hash and session secrets.
type RecipientView struct {
	ID             string             `json:"id"`
	PersonID       string             `json:"person_id,omitempty"`
	Name           string             `json:"name"`
	Email          string             `json:"email"`
	OrderIndex     int                `json:"order_index"`
	SendStatus     signing.SendStatus `json:"send_status,omitempty"`
	SendError      string             `json:"send_error,omitempty"`
	TokenExpiresAt *time.Time         `json:"token_expires_at,omitempty"`
	ViewedAt       *time.Time         `json:"viewed_at,omitempty"`
	ConsentedAt    *time.Time         `json:"consented_at,omitempty"`
	SignedAt       *time.Time         `json:"signed_at,omitempty"`
	ReminderSentAt *time.Time         `json:"reminder_sent_at,omitempty"`
}

// FieldView is a field placement.
type FieldView struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Type        signing.FieldType `json:"type"`
	Page        int               `json:"page"`
	X           float64           `json:"x"`
	Y           float64           `json:"y"`
	Width       float64           `json:"width"`
	Height      float64           `json:"height"`
	Label       string            `json:"label,omitempty"`
	OrderIndex  int               `json:"order_index"`
}

// SignatureView reports a captured signature without its payload.
type SignatureView struct {
	ID          string                `json:"id"`
	FieldID     string                `json:"field_id"`
	RecipientID string                `json:"recipient_id"`
	Type        signing.SignatureType `json:"type"`
	SignedAt    time.Time             `json:"signed_at"`
}

// SignedDocumentView describes the sealed artifact.
type SignedDocumentView struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	OriginalHash   string    `json:"original_hash"`
	SignedHash     string    `json:"signed_hash"`
	AuditTrailHash string    `json:"audit_trail_hash,omitempty"`
	Size           int64     `json:"size"`
	CompletedAt    time.Time `json:"completed_at"`
}

// PortalResponse is what a recipient sees when opening their link.
type PortalResponse struct {
	RequestName      string          `json:"request_name"`
	Message          string          `json:"message,omitempty"`
	Status           signing.Status  `json:"status"`
	DocumentHash     string          `json:"document_hash"`
	RecipientName    string          `json:"recipient_name"`
	Consented        bool            `json:"consented"`
	CanSign          bool            `json:"can_sign"`
	Fields           []FieldView     `json:"fields"`
	Signatures       []SignatureView `json:"signatures"`
	SessionToken     string          `json:"session_token"`
	SessionExpiresAt time.Time       `json:"session_expires_at"`
}

func newRequestView(req *signing.SignatureRequest) RequestView {
	return RequestView{
		ID:                   req.ID,
		ClientID:             req.ClientID,
		Name:                 req.Name,
		Status:               req.Status,
		DocumentPath:         req.DocumentPath,
		DocumentHash:         req.DocumentHash,
		DocumentVersion:      req.DocumentVersion,
		CreatedBy:            req.CreatedBy,
		EmailSubject:         req.EmailSubject,
		EmailMessage:         req.EmailMessage,
		SigningOrder:         req.SigningOrder,
		ReminderEnabled:      req.ReminderEnabled,
		ReminderIntervalDays: req.ReminderIntervalDays,
		RemindersSentCount:   req.RemindersSentCount,
		NextReminderAt:       req.NextReminderAt,
		ActivatedAt:          req.ActivatedAt,
		CompletedAt:          req.CompletedAt,
		CancelledAt:          req.CancelledAt,
		CancelledBy:          req.CancelledBy,
		CancellationReason:   req.CancellationReason,
		CreatedAt:            req.CreatedAt,
		UpdatedAt:            req.UpdatedAt,
	}
}

func newDetailView(d *signing.RequestDetail) RequestView {
	v := newRequestView(d.Request)
	v.Recipients = recipientViews(d.Recipients)
	v.Fields = fieldViews(signing.SortFields(d.Fields))
	v.Signatures = signatureViews(d.Signatures)
	if d.SignedDocument != nil {
		doc := newSignedDocumentView(d.SignedDocument)
		v.SignedDocument = &doc
	}
	return v
}

func newRecipientView(r *signing.Recipient) RecipientView {
	return RecipientView{
		ID:             r.ID,
		PersonID:       r.PersonID,
		Name:           r.Name,
		Email:          r.Email,
		OrderIndex:     r.OrderIndex,
		SendStatus:     r.SendStatus,
		SendError:      r.SendError,
		TokenExpiresAt: r.TokenExpiresAt,
		ViewedAt:       r.ViewedAt,
		ConsentedAt:    r.ConsentedAt,
		SignedAt:       r.SignedAt,
		ReminderSentAt: r.ReminderSentAt,
	}
}

func recipientViews(rs []*signing.Recipient) []RecipientView {
	out := make([]RecipientView, 0, len(rs))
	for _, r := range rs {
		out = append(out, newRecipientView(r))
	}
	return out
}

func newFieldView(f *signing.Field) FieldView {
	return FieldView{
		ID:          f.ID,
		RecipientID: f.RecipientID,
		Type:        f.Type,
		Page:        f.Page,
		X:           f.X,
		Y:           f.Y,
		Width:       f.Width,
		Height:      f.Height,
		Label:       f.Label,
		OrderIndex:  f.OrderIndex,
	}
}

func fieldViews(fs []*signing.Field) []FieldView {
	out := make([]FieldView, 0, len(fs))
	for _, f := range fs {
		out = append(out, newFieldView(f))
	}
	return out
}

func newSignatureView(s *signing.Signature) SignatureView {
	return SignatureView{
		ID:          s.ID,
		FieldID:     s.FieldID,
		RecipientID: s.RecipientID,
		Type:        s.Type,
		SignedAt:    s.SignedAt,
	}
}

func signatureViews(ss []*signing.Signature) []SignatureView {
	out := make([]SignatureView, 0, len(ss))
	for _, s := range ss {
		out = append(out, newSignatureView(s))
	}
	return out
}

func newSignedDocumentView(d *signing.SignedDocument) SignedDocumentView {
	return SignedDocumentView{
		ID:             d.ID,
		Filename:       d.Filename,
		OriginalHash:   d.OriginalHash,
		SignedHash:     d.SignedHash,
		AuditTrailHash: d.AuditTrailHash,
		Size:           d.Size,
		CompletedAt:    d.CompletedAt,
	}
}

func newPortalResponse(v *signing.PortalView) PortalResponse {
	return PortalResponse{
		RequestName:      v.Request.Name,
		Message:          v.Request.EmailMessage,
		Status:           v.Request.Status,
		DocumentHash:     v.Request.DocumentHash,
		RecipientName:    v.Recipient.Name,
		Consented:        v.Recipient.ConsentedAt != nil,
		CanSign:          v.CanSign,
		Fields:           fieldViews(v.Fields),
		Signatures:       signatureViews(v.Signatures),
		SessionToken:     v.SessionToken,
		SessionExpiresAt: v.SessionExpiresAt,
	}
}
