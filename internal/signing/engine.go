package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/notify"
)

// Defaults for Config.
const (
	DefaultReminderIntervalDays = 3
	MaxReminderIntervalDays     = 365
)

// Sealer produces the sealed artifact for a fully signed request.
type Sealer interface {
	Seal(ctx context.Context, in SealInput) (*SealResult, error)
}

// PageCounter reads the number of pages of a source document.
type PageCounter interface {
	PageCount(src []byte) (int, error)
}

// SealInput is everything a Sealer needs. AuditReport is the rendered audit
// trail at the moment of sealing.
type SealInput struct {
	Request     *SignatureRequest
	Fields      []*Field
	Recipients  []*Recipient
	Signatures  []*Signature
	AuditReport []byte
}

// SealResult describes persisted sealing output. Hashes are in prefixed form.
type SealResult struct {
	SignedPath     string
	SignedHash     string
	OriginalHash   string
	Size           int64
	AuditTrailPath string
	AuditTrailHash string
}

// StatusEvent is published whenever a request or recipient changes state.
type StatusEvent struct {
	RequestID   string    `json:"request_id"`
	Type        string    `json:"type"`
	Status      Status    `json:"status"`
	RecipientID string    `json:"recipient_id,omitempty"`
	At          time.Time `json:"at"`
}

// Status event types.
const (
	EventActivated     = "activated"
	EventViewed        = "viewed"
	EventConsented     = "consented"
	EventSigned        = "signed"
	EventCompleted     = "completed"
	EventCancelled     = "cancelled"
	EventSealingFailed = "sealing_failed"
	EventReminded      = "reminded"
)

// Publisher receives status events. Publish must not block.
type Publisher interface {
	Publish(ev StatusEvent)
}

// Config holds the engine's collaborators and settings.
type Config struct {
	Store     Store
	Audit     *audit.Recorder
	Documents docstore.Store
	Sealer    Sealer

	// Optional. Pages enables page-range checks at activation.
	Pages     PageCounter
	Notifier  notify.Sender
	Publisher Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time

	TokenTTL                    time.Duration
	SessionIdle                 time.Duration
	DefaultReminderIntervalDays int
	// PortalBaseURL is the prefix of recipient access links.
	PortalBaseURL string
}

// Engine is the signing state machine.
type Engine struct {
	store        Store
	audit        *audit.Recorder
	docs         docstore.Store
	sealer       Sealer
	pages        PageCounter
	notifier     notify.Sender
	publisher    Publisher
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
	tokenTTL     time.Duration
	sessionIdle  time.Duration
	reminderDays int
	portalURL    string
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("signing store is required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("audit recorder is required")
	}
	if cfg.Documents == nil {
		return nil, errors.New("document store is required")
	}
	if cfg.Sealer == nil {
		return nil, errors.New("sealer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogSender(cfg.Logger)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = DefaultSessionIdle
	}
	if cfg.DefaultReminderIntervalDays <= 0 {
		cfg.DefaultReminderIntervalDays = DefaultReminderIntervalDays
	}

	return &Engine{
		store:        cfg.Store,
		audit:        cfg.Audit,
		docs:         cfg.Documents,
		sealer:       cfg.Sealer,
		pages:        cfg.Pages,
		notifier:     cfg.Notifier,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
		tokenTTL:     cfg.TokenTTL,
		sessionIdle:  cfg.SessionIdle,
		reminderDays: cfg.DefaultReminderIntervalDays,
		portalURL:    strings.TrimRight(cfg.PortalBaseURL, "/"),
	}, nil
}

// clock returns the current time truncated to microseconds, the precision
// Postgres keeps.
func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(time.Microsecond)
}

// record appends an audit event. The operation that produced it has already
// committed, so a failure is logged and counted rather than returned.
func (e *Engine) record(ctx context.Context, entry audit.Entry) {
	if _, err := e.audit.Append(ctx, entry); err != nil {
		e.metrics.incAuditFailure()
		e.logger.ErrorContext(ctx, "audit event lost after committed operation",
			slog.String("error", err.Error()),
			slog.String("request_id", entry.RequestID),
			slog.String("recipient_id", entry.RecipientID),
			slog.String("event_type", string(entry.Type)))
	}
}

func (e *Engine) publish(requestID, typ string, status Status, recipientID string) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(StatusEvent{
		RequestID:   requestID,
		Type:        typ,
		Status:      status,
		RecipientID: recipientID,
		At:          e.clock(),
	})
}

// recipientEntry fills the signer and document fields every recipient event carries.
func recipientEntry(req *SignatureRequest, rec *Recipient, typ audit.EventType, client audit.ClientInfo) audit.Entry {
	return audit.Entry{
		RequestID:       req.ID,
		RecipientID:     rec.ID,
		Type:            typ,
		SignerName:      rec.Name,
		SignerEmail:     rec.Email,
		Client:          client,
		DocumentHash:    req.DocumentHash,
		DocumentVersion: req.DocumentVersion,
		AuthMethod:      audit.AuthMethodEmailLink,
	}
}

const reminderBody = "Your signature is still needed. Open the signing link from your original invitation; it stays valid until the expiry date below."

// AccessLink builds the portal URL carrying a raw token.
func (e *Engine) AccessLink(rawToken string) string {
	return e.portalURL + "/sign/" + rawToken
}

func subjectFor(req *SignatureRequest, kind notify.Kind) string {
	switch kind {
	case notify.KindReminder:
		return "Reminder: please sign " + req.Name
	case notify.KindCompleted:
		return "Completed: " + req.Name
	case notify.KindReissue:
		return "New signing link: " + req.Name
	}
	if req.EmailSubject != "" {
		return req.EmailSubject
	}
	return "Please sign: " + req.Name
}

// dispatch sends one notification, stores the recipient's send status and
// records email_sent or email_failed. Failures never propagate.
func (e *Engine) dispatch(ctx context.Context, req *SignatureRequest, rec *Recipient, kind notify.Kind, rawToken string) error {
	msg := notify.Message{
		Kind:        kind,
		To:          rec.Email,
		Name:        rec.Name,
		Subject:     subjectFor(req, kind),
		Body:        req.EmailMessage,
		RequestID:   req.ID,
		RecipientID: rec.ID,
		RequestName: req.Name,
		CreatedAt:   e.clock(),
	}
	if rawToken != "" {
		msg.Link = e.AccessLink(rawToken)
		msg.ExpiresAt = cloneTime(rec.TokenExpiresAt)
	}
	if kind == notify.KindReminder {
		msg.Body = reminderBody
		msg.ExpiresAt = cloneTime(rec.TokenExpiresAt)
	}

	sendErr := e.notifier.Send(ctx, msg)
	outcome := "sent"
	if sendErr != nil {
		outcome = "failed"
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("error", sendErr.Error()),
			slog.String("request_id", req.ID),
			slog.String("recipient_id", rec.ID),
			slog.String("kind", string(kind)))
	}
	e.metrics.incNotification(string(kind), outcome)

	err := e.store.InTx(ctx, func(repo Repository) error {
		current, err := repo.GetRecipient(ctx, rec.ID)
		if err != nil {
			return err
		}
		if sendErr != nil {
			current.SendStatus = SendFailed
			current.SendError = sendErr.Error()
		} else {
			current.SendStatus = SendSent
			current.SendError = ""
		}
		return repo.UpdateRecipient(ctx, current)
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to store send status",
			slog.String("error", err.Error()),
			slog.String("recipient_id", rec.ID))
	}

	entry := recipientEntry(req, rec, audit.EventEmailSent, audit.ClientInfo{})
	entry.AuthMethod = ""
	entry.Details = map[string]string{"kind": string(kind)}
	if sendErr != nil {
		entry.Type = audit.EventEmailFailed
		entry.Details["error"] = sendErr.Error()
	}
	e.record(ctx, entry)
	return sendErr
}

// RequestDetail is a request with everything it owns.
type RequestDetail struct {
	Request        *SignatureRequest
	Recipients     []*Recipient
	Fields         []*Field
	Signatures     []*Signature
	SignedDocument *SignedDocument
}

// GetRequestDetail loads a request and its fields, recipients, signatures and
// signed document (nil until sealed).
func (e *Engine) GetRequestDetail(ctx context.Context, requestID string) (*RequestDetail, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	d := &RequestDetail{Request: req}
	if d.Recipients, err = e.store.ListRecipients(ctx, requestID); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	if d.Fields, err = e.store.ListFields(ctx, requestID); err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	if d.Signatures, err = e.store.ListSignatures(ctx, requestID); err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	doc, err := e.store.GetSignedDocument(ctx, requestID)
	switch {
	case err == nil:
		d.SignedDocument = doc
	case !errors.Is(err, ErrSignedDocumentNotFound):
		return nil, fmt.Errorf("failed to get signed document: %w", err)
	}
	return d, nil
}

// SignedDocument returns the sealed artifact of a completed request.
func (e *Engine) SignedDocument(ctx context.Context, requestID string) (*SignedDocument, error) {
	return e.store.GetSignedDocument(ctx, requestID)
}

// allFieldsSigned reports whether every field has a signature.
func allFieldsSigned(fields []*Field, sigs []*Signature) bool {
	signed := make(map[string]bool, len(sigs))
	for _, s := range sigs {
		signed[s.FieldID] = true
	}
	for _, f := range fields {
		if !signed[f.ID] {
			return false
		}
	}
	return len(fields) > 0
}
