// Package signing implements the signature request lifecycle: drafting
// requests, issuing per-recipient access, recording consent and signatures,
// and driving completion into document sealing.
package signing

import (
	"time"

	"github.com/onnwee/esign/internal/audit"
)

// Status is the lifecycle state of a SignatureRequest.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPending         Status = "pending"
	StatusPartiallySigned Status = "partially_signed"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusPartiallySigned, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Signable reports whether recipients may act on a request in this state.
func (s Status) Signable() bool {
	return s == StatusPending || s == StatusPartiallySigned
}

// FieldType is the kind of placement a recipient must complete.
type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldTypedName FieldType = "typed_name"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	return t == FieldSignature || t == FieldTypedName
}

// SignatureType is how a signature payload was captured.
type SignatureType string

const (
	SignatureDrawn SignatureType = "drawn"
	SignatureTyped SignatureType = "typed"
)

// Valid reports whether t is a known signature type.
func (t SignatureType) Valid() bool {
	return t == SignatureDrawn || t == SignatureTyped
}

// SendStatus tracks delivery of the most recent notification to a recipient.
type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
)

// SigningOrder selects parallel or sequential signing.
type SigningOrder string

const (
	OrderParallel   SigningOrder = "parallel"
	OrderSequential SigningOrder = "sequential"
)

// Valid reports whether o is a known signing order.
func (o SigningOrder) Valid() bool {
	return o == OrderParallel || o == OrderSequential
}

// SignatureRequest is one document-signing campaign.
type SignatureRequest struct {
	ID              string
	ClientID        string
	Name            string
	DocumentPath    string
	DocumentHash    string
	DocumentVersion string
	CreatedBy       string
	Status          Status

	EmailSubject string
	EmailMessage string
	SigningOrder SigningOrder

	ReminderEnabled      bool
	ReminderIntervalDays int
	RemindersSentCount   int
	NextReminderAt       *time.Time
	LastReminderSentAt   *time.Time

	ActivatedAt        *time.Time
	CompletedAt        *time.Time
	CancelledAt        *time.Time
	CancelledBy        string
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Field is a page-anchored placement owned by one recipient. Geometry is
// normalized to the page: (0,0) is the top-left corner, (1,1) the bottom-right.
type Field struct {
	ID          string
	RequestID   string
	RecipientID string
	Type        FieldType
	Page        int
	X           float64
	Y           float64
	Width       float64
	Height      float64
	Label       string
	OrderIndex  int
	CreatedAt   time.Time
}

// Session is the recipient's single active portal session.
type Session struct {
	TokenHash    string
	StartedAt    time.Time
	LastActiveAt time.Time
	Device       audit.DeviceInfo
	IPAddress    string
}

// Recipient is one person's participation in a request.
type Recipient struct {
	ID         string
	RequestID  string
	PersonID   string
	Name       string
	Email      string
	OrderIndex int

	// Only the hash of the access token is stored.
	TokenHash      string
	TokenIssuedAt  *time.Time
	TokenExpiresAt *time.Time
	TokenRevokedAt *time.Time

	SendStatus SendStatus
	SendError  string

	ViewedAt       *time.Time
	ConsentedAt    *time.Time
	SignedAt       *time.Time
	ReminderSentAt *time.Time

	Session *Session

	CreatedAt time.Time
}

// Signature is the captured act of signing one field. Immutable once stored.
type Signature struct {
	ID          string
	RequestID   string
	FieldID     string
	RecipientID string
	Type        SignatureType
	// Payload is the typed text or a data URL of the drawn image.
	Payload  string
	SignedAt time.Time
}

// SignedDocument is the sealed artifact of a completed request.
type SignedDocument struct {
	ID             string
	RequestID      string
	ClientID       string
	SignedPath     string
	OriginalHash   string
	SignedHash     string
	AuditTrailPath string
	AuditTrailHash string
	Filename       string
	Size           int64
	CompletedAt    time.Time
	EmailSentAt    *time.Time
}

// Clone returns a deep copy.
func (r *SignatureRequest) Clone() *SignatureRequest {
	c := *r
	c.NextReminderAt = cloneTime(r.NextReminderAt)
	c.LastReminderSentAt = cloneTime(r.LastReminderSentAt)
	c.ActivatedAt = cloneTime(r.ActivatedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

// Clone returns a copy.
func (f *Field) Clone() *Field {
	c := *f
	return &c
}

// Clone returns a deep copy.
func (r *Recipient) Clone() *Recipient {
	c := *r
	c.TokenIssuedAt = cloneTime(r.TokenIssuedAt)
	c.TokenExpiresAt = cloneTime(r.TokenExpiresAt)
	c.TokenRevokedAt = cloneTime(r.TokenRevokedAt)
	c.ViewedAt = cloneTime(r.ViewedAt)
	c.ConsentedAt = cloneTime(r.ConsentedAt)
	c.SignedAt = cloneTime(r.SignedAt)
	c.ReminderSentAt = cloneTime(r.ReminderSentAt)
	if r.Session != nil {
		s := *r.Session
		c.Session = &s
	}
	return &c
}

// Clone returns a copy.
func (s *Signature) Clone() *Signature {
	c := *s
	return &c
}

// Clone returns a deep copy.
func (d *SignedDocument) Clone() *SignedDocument {
	c := *d
	c.EmailSentAt = cloneTime(d.EmailSentAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
