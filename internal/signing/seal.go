package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/notify"
	"github.com/onnwee/esign/internal/tracing"
)

// RetrySealing re-runs sealing for a request whose fields are all signed.
// It returns the existing document if the request is already sealed.
func (e *Engine) RetrySealing(ctx context.Context, requestID string) (*SignedDocument, error) {
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if doc, err := e.store.GetSignedDocument(ctx, requestID); err == nil {
		return doc, nil
	} else if !errors.Is(err, ErrSignedDocumentNotFound) {
		return nil, fmt.Errorf("failed to get signed document: %w", err)
	}
	if !req.Status.Signable() {
		return nil, &InvalidStateError{Op: "seal", Status: req.Status}
	}
	return e.seal(ctx, requestID)
}

// seal produces and records the signed artifact. It is safe to call more than
// once: a request with a SignedDocument is never sealed again, and the
// finalizing transaction rechecks that under the request lock.
func (e *Engine) seal(ctx context.Context, requestID string) (doc *SignedDocument, err error) {
	ctx, endSpan := tracing.StartSigningSpan(ctx, "seal", tracing.Signing{RequestID: requestID})
	defer func() { endSpan(err) }()

	if existing, err := e.store.GetSignedDocument(ctx, requestID); err == nil {
		return existing, nil
	}

	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Status.Signable() {
		return nil, &InvalidStateError{Op: "seal", Status: req.Status}
	}
	fields, err := e.store.ListFields(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	sigs, err := e.store.ListSignatures(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	if !allFieldsSigned(fields, sigs) {
		return nil, &InvalidStateError{Op: "seal", Status: req.Status, Reason: ErrIncomplete.Error()}
	}
	recipients, err := e.store.ListRecipients(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	start := e.now()
	result, err := e.produce(ctx, req, fields, recipients, sigs)
	elapsed := e.now().Sub(start).Seconds()
	if err != nil {
		e.metrics.observeSealing(elapsed, true)
		e.logger.ErrorContext(ctx, "sealing failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		e.record(ctx, audit.Entry{
			RequestID:       req.ID,
			Type:            audit.EventSealingFailed,
			DocumentHash:    req.DocumentHash,
			DocumentVersion: req.DocumentVersion,
			Details:         map[string]string{"error": err.Error()},
		})
		e.publish(req.ID, EventSealingFailed, req.Status, "")
		return nil, &SealingFailedError{RequestID: requestID, Err: err}
	}

	now := e.clock()
	candidate := &SignedDocument{
		ID:             uuid.New().String(),
		RequestID:      req.ID,
		ClientID:       req.ClientID,
		SignedPath:     result.SignedPath,
		OriginalHash:   result.OriginalHash,
		SignedHash:     result.SignedHash,
		AuditTrailPath: result.AuditTrailPath,
		AuditTrailHash: result.AuditTrailHash,
		Filename:       signedFilename(req.Name),
		Size:           result.Size,
		CompletedAt:    now,
	}

	var finalized bool
	err = e.store.InTx(ctx, func(repo Repository) error {
		locked, err := repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if existing, err := repo.GetSignedDocument(ctx, requestID); err == nil {
			doc = existing
			return nil
		} else if !errors.Is(err, ErrSignedDocumentNotFound) {
			return err
		}
		if !locked.Status.Signable() {
			return &InvalidStateError{Op: "complete", Status: locked.Status}
		}

		if err := repo.InsertSignedDocument(ctx, candidate); err != nil {
			return err
		}
		recipients, err := repo.ListRecipients(ctx, requestID)
		if err != nil {
			return err
		}
		for _, rec := range recipients {
			revokeToken(rec, now)
			if err := repo.UpdateRecipient(ctx, rec); err != nil {
				return err
			}
		}
		locked.Status = StatusCompleted
		locked.CompletedAt = timePtr(now)
		locked.NextReminderAt = nil
		locked.UpdatedAt = now
		if err := repo.UpdateRequest(ctx, locked); err != nil {
			return err
		}
		req = locked
		doc = candidate
		finalized = true
		return nil
	})
	if errors.Is(err, ErrSignedDocumentExists) {
		return e.store.GetSignedDocument(ctx, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize sealed request: %w", err)
	}
	if !finalized {
		return doc, nil
	}

	e.metrics.observeSealing(elapsed, false)
	e.metrics.incCompleted()
	e.logger.InfoContext(ctx, "signature request completed",
		slog.String("request_id", req.ID),
		slog.String("signed_hash", doc.SignedHash))

	e.record(ctx, audit.Entry{
		RequestID:       req.ID,
		Type:            audit.EventSealed,
		DocumentHash:    doc.SignedHash,
		DocumentVersion: req.DocumentVersion,
		Details: map[string]string{
			"original_hash":    doc.OriginalHash,
			"signed_hash":      doc.SignedHash,
			"signed_path":      doc.SignedPath,
			"audit_trail_hash": doc.AuditTrailHash,
		},
	})
	e.record(ctx, audit.Entry{
		RequestID:       req.ID,
		Type:            audit.EventCompleted,
		DocumentHash:    doc.SignedHash,
		DocumentVersion: req.DocumentVersion,
	})
	e.publish(req.ID, EventCompleted, StatusCompleted, "")

	e.notifyCompleted(ctx, req, doc, recipients)
	return doc, nil
}

// produce runs the sealer and checks its output.
func (e *Engine) produce(ctx context.Context, req *SignatureRequest, fields []*Field, recipients []*Recipient, sigs []*Signature) (*SealResult, error) {
	report, err := e.audit.RenderReport(ctx, req.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to render audit report: %w", err)
	}
	result, err := e.sealer.Seal(ctx, SealInput{
		Request:     req,
		Fields:      fields,
		Recipients:  recipients,
		Signatures:  sigs,
		AuditReport: report,
	})
	if err != nil {
		return nil, err
	}
	if result.SignedPath == "" || result.SignedHash == "" {
		return nil, errors.New("sealer returned no signed artifact")
	}
	if result.SignedHash == result.OriginalHash {
		return nil, errors.New("signed document hash equals original hash")
	}
	return result, nil
}

func (e *Engine) notifyCompleted(ctx context.Context, req *SignatureRequest, doc *SignedDocument, recipients []*Recipient) {
	allSent := true
	for _, rec := range recipients {
		if err := e.dispatch(ctx, req, rec, notify.KindCompleted, ""); err != nil {
			allSent = false
		}
	}
	if !allSent {
		return
	}
	err := e.store.InTx(ctx, func(repo Repository) error {
		current, err := repo.GetSignedDocument(ctx, req.ID)
		if err != nil {
			return err
		}
		current.EmailSentAt = timePtr(e.clock())
		doc.EmailSentAt = cloneTime(current.EmailSentAt)
		return repo.UpdateSignedDocument(ctx, current)
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to stamp completion email",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
	}
}

// signedFilename derives a download name from the request name.
func signedFilename(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	base := strings.Trim(b.String(), "-")
	if base == "" {
		base = "document"
	}
	return base + "-signed.pdf"
}
