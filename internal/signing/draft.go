package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/integrity"
	"github.com/onnwee/esign/internal/notify"
	"github.com/onnwee/esign/internal/tracing"
	"github.com/onnwee/esign/internal/validate"
)

// CreateRequestInput describes a new draft request. Exactly one of Document
// and DocumentPath must be set.
type CreateRequestInput struct {
	ClientID        string
	Name            string
	CreatedBy       string
	Document        []byte
	DocumentPath    string
	DocumentVersion string

	EmailSubject string
	EmailMessage string
	SigningOrder SigningOrder

	ReminderEnabled      bool
	ReminderIntervalDays int
}

// CreateRequest stores the source document and creates a draft request.
func (e *Engine) CreateRequest(ctx context.Context, in CreateRequestInput) (*SignatureRequest, error) {
	var violations []Violation
	invalid := func(rule, format string, args ...any) {
		violations = append(violations, Violation{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	name, err := validate.RequestName(in.Name)
	if err != nil {
		invalid(RuleInvalidValue, "name: %v", err)
	}
	subject, err := validate.EmailSubject(in.EmailSubject)
	if err != nil {
		invalid(RuleInvalidValue, "email_subject: %v", err)
	}
	message, err := validate.Message(in.EmailMessage)
	if err != nil {
		invalid(RuleInvalidValue, "email_message: %v", err)
	}

	switch {
	case len(in.Document) > 0 && in.DocumentPath != "":
		invalid(RuleInvalidValue, "document: provide either content or a path, not both")
	case len(in.Document) > 0:
		if _, err := validate.Document(validate.MIMEApplicationPDF, in.Document); err != nil {
			invalid(RuleInvalidValue, "document: %v", err)
		}
	case strings.TrimSpace(in.DocumentPath) == "":
		invalid(RuleInvalidValue, "document: required")
	}

	order := in.SigningOrder
	if order == "" {
		order = OrderParallel
	}
	if !order.Valid() {
		invalid(RuleInvalidValue, "signing_order: unknown value %q", in.SigningOrder)
	}

	interval := in.ReminderIntervalDays
	if interval == 0 {
		interval = e.reminderDays
	}
	if interval < 1 || interval > MaxReminderIntervalDays {
		invalid(RuleInvalidValue, "reminder_interval_days: must be between 1 and %d", MaxReminderIntervalDays)
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	path := strings.TrimSpace(in.DocumentPath)
	if len(in.Document) > 0 {
		path, err = e.docs.Put(ctx, "source", in.Document, docstore.ContentTypePDF)
		if err != nil {
			return nil, fmt.Errorf("failed to store source document: %w", err)
		}
	}

	version := strings.TrimSpace(in.DocumentVersion)
	if version == "" {
		version = "v1"
	}

	now := e.clock()
	req := &SignatureRequest{
		ID:                   uuid.New().String(),
		ClientID:             in.ClientID,
		Name:                 name,
		DocumentPath:         path,
		DocumentVersion:      version,
		CreatedBy:            in.CreatedBy,
		Status:               StatusDraft,
		EmailSubject:         subject,
		EmailMessage:         message,
		SigningOrder:         order,
		ReminderEnabled:      in.ReminderEnabled,
		ReminderIntervalDays: interval,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := e.store.InsertRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to insert request: %w", err)
	}

	e.logger.InfoContext(ctx, "signature request created",
		slog.String("request_id", req.ID),
		slog.String("created_by", req.CreatedBy))
	return req, nil
}

// RecipientInput describes a recipient to add to a draft.
type RecipientInput struct {
	PersonID   string
	Name       string
	Email      string
	OrderIndex int
}

// AddRecipient adds a recipient to a draft request.
func (e *Engine) AddRecipient(ctx context.Context, requestID string, in RecipientInput) (*Recipient, error) {
	var violations []Violation
	name, err := validate.PersonName(in.Name)
	if err != nil {
		violations = append(violations, Violation{Rule: RuleInvalidValue, Message: fmt.Sprintf("name: %v", err)})
	}
	email, err := validate.RecipientEmail(in.Email)
	if err != nil {
		violations = append(violations, Violation{Rule: RuleInvalidEmail, Message: fmt.Sprintf("email: %v", err)})
	}
	if in.OrderIndex < 0 {
		violations = append(violations, Violation{Rule: RuleInvalidValue, Message: "order_index: must not be negative"})
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	rec := &Recipient{
		ID:         uuid.New().String(),
		RequestID:  requestID,
		PersonID:   in.PersonID,
		Name:       name,
		Email:      email,
		OrderIndex: in.OrderIndex,
		SendStatus: SendPending,
		CreatedAt:  e.clock(),
	}

	err = e.store.InTx(ctx, func(repo Repository) error {
		req, err := repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return &InvalidStateError{Op: "add recipient to", Status: req.Status}
		}
		existing, err := repo.ListRecipients(ctx, requestID)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.Email == email {
				return &ValidationError{Violations: []Violation{{
					RecipientID: r.ID, Rule: RuleDuplicateRecipient,
					Message: fmt.Sprintf("%s is already a recipient", email),
				}}}
			}
		}
		return repo.InsertRecipient(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FieldInput describes a field to place on a draft request.
type FieldInput struct {
	RecipientID string
	Type        FieldType
	Page        int
	X           float64
	Y           float64
	Width       float64
	Height      float64
	Label       string
	OrderIndex  int
}

// AddField places a field for one of the draft's recipients.
func (e *Engine) AddField(ctx context.Context, requestID string, in FieldInput) (*Field, error) {
	label, err := validate.FieldLabel(in.Label)
	if err != nil {
		return nil, validationError(RuleInvalidValue, fmt.Sprintf("label: %v", err))
	}

	f := &Field{
		ID:          uuid.New().String(),
		RequestID:   requestID,
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Page:        in.Page,
		X:           in.X,
		Y:           in.Y,
		Width:       in.Width,
		Height:      in.Height,
		Label:       label,
		OrderIndex:  in.OrderIndex,
		CreatedAt:   e.clock(),
	}
	if v := ValidateGeometry(f); len(v) > 0 {
		return nil, &ValidationError{Violations: v}
	}

	err = e.store.InTx(ctx, func(repo Repository) error {
		req, err := repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return &InvalidStateError{Op: "add field to", Status: req.Status}
		}
		rec, err := repo.GetRecipient(ctx, in.RecipientID)
		if errors.Is(err, ErrRecipientNotFound) || (err == nil && rec.RequestID != requestID) {
			return &ValidationError{Violations: []Violation{{
				RecipientID: in.RecipientID, Rule: RuleUnknownRecipient,
				Message: fmt.Sprintf("recipient %s is not on this request", in.RecipientID),
			}}}
		}
		if err != nil {
			return err
		}
		return repo.InsertField(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteDraft removes a draft request with its fields and recipients. Drafts
// have no audit events, so nothing append-only is touched.
func (e *Engine) DeleteDraft(ctx context.Context, requestID string) error {
	return e.store.InTx(ctx, func(repo Repository) error {
		req, err := repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return &InvalidStateError{Op: "delete", Status: req.Status}
		}
		return repo.DeleteRequest(ctx, requestID)
	})
}

// ActivationResult is returned by Activate. Tokens maps recipient ID to the
// raw access token; it exists only in memory.
type ActivationResult struct {
	Request    *SignatureRequest
	Recipients []*Recipient
	Tokens     map[string]string
}

// Activate validates a draft, issues one token per recipient, moves the
// request to pending and sends the initial notifications.
func (e *Engine) Activate(ctx context.Context, requestID string) (res *ActivationResult, err error) {
	ctx, endSpan := tracing.StartSigningSpan(ctx, "activate", tracing.Signing{RequestID: requestID})
	defer func() { endSpan(err) }()

	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusDraft {
		return nil, &InvalidStateError{Op: "activate", Status: req.Status}
	}

	source, err := e.docs.Get(ctx, req.DocumentPath)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, validationError(RuleInvalidValue, "source document not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read source document: %w", err)
	}
	digest := integrity.Sum(source)
	pages := 0
	if e.pages != nil {
		if pages, err = e.pages.PageCount(source); err != nil {
			return nil, validationError(RuleInvalidValue, "source document is not a readable PDF")
		}
	}

	now := e.clock()
	res = &ActivationResult{Tokens: make(map[string]string)}
	err = e.store.InTx(ctx, func(repo Repository) error {
		req, err := repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return &InvalidStateError{Op: "activate", Status: req.Status}
		}
		recipients, err := repo.ListRecipients(ctx, requestID)
		if err != nil {
			return err
		}
		fields, err := repo.ListFields(ctx, requestID)
		if err != nil {
			return err
		}
		v := ValidatePlacement(fields, recipients)
		if pages > 0 {
			v = append(v, ValidatePageRange(fields, pages)...)
		}
		if len(v) > 0 {
			return &ValidationError{Violations: v}
		}

		for _, rec := range recipients {
			raw, err := issueToken(rec, now, e.tokenTTL)
			if err != nil {
				return err
			}
			rec.SendStatus = SendPending
			rec.SendError = ""
			if err := repo.UpdateRecipient(ctx, rec); err != nil {
				return err
			}
			res.Tokens[rec.ID] = raw
		}

		req.Status = StatusPending
		req.DocumentHash = digest.String()
		req.ActivatedAt = timePtr(now)
		req.UpdatedAt = now
		if req.ReminderEnabled {
			req.NextReminderAt = timePtr(now.Add(time.Duration(req.ReminderIntervalDays) * 24 * time.Hour))
		}
		if err := repo.UpdateRequest(ctx, req); err != nil {
			return err
		}
		res.Request = req
		res.Recipients = recipients
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.incActivated()
	e.logger.InfoContext(ctx, "signature request activated",
		slog.String("request_id", requestID),
		slog.Int("recipients", len(res.Recipients)))

	for _, rec := range res.Recipients {
		entry := recipientEntry(res.Request, rec, audit.EventTokenIssued, audit.ClientInfo{})
		entry.AuthMethod = ""
		entry.Details = map[string]string{"expires_at": rec.TokenExpiresAt.Format(time.RFC3339)}
		e.record(ctx, entry)
	}
	for _, rec := range res.Recipients {
		_ = e.dispatch(ctx, res.Request, rec, notify.KindInitial, res.Tokens[rec.ID])
	}
	e.publish(requestID, EventActivated, StatusPending, "")

	// Reload so send statuses are current.
	if recipients, err := e.store.ListRecipients(ctx, requestID); err == nil {
		res.Recipients = recipients
	}
	return res, nil
}
