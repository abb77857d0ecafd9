package signing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/notify"
	"github.com/onnwee/esign/internal/tracing"
	"github.com/onnwee/esign/internal/validate"
)

// Cancel moves a non-terminal request to cancelled and revokes every access
// token. A request whose fields are all signed is awaiting sealing and can
// no longer be cancelled.
func (e *Engine) Cancel(ctx context.Context, requestID, cancelledBy, reason string) (req *SignatureRequest, err error) {
	ctx, endSpan := tracing.StartSigningSpan(ctx, "cancel", tracing.Signing{RequestID: requestID})
	defer func() { endSpan(err) }()

	reason, err = validate.Message(reason)
	if err != nil {
		return nil, validationError(RuleInvalidValue, fmt.Sprintf("reason: %v", err))
	}

	now := e.clock()
	var previous Status
	err = e.store.InTx(ctx, func(repo Repository) error {
		locked, err := repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if locked.Status.IsTerminal() {
			return &InvalidStateError{Op: "cancel", Status: locked.Status}
		}
		if locked.Status.Signable() {
			fields, err := repo.ListFields(ctx, requestID)
			if err != nil {
				return err
			}
			sigs, err := repo.ListSignatures(ctx, requestID)
			if err != nil {
				return err
			}
			if allFieldsSigned(fields, sigs) {
				return &InvalidStateError{Op: "cancel", Status: locked.Status, Reason: ReasonSealingPending}
			}
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

		previous = locked.Status
		locked.Status = StatusCancelled
		locked.CancelledAt = timePtr(now)
		locked.CancelledBy = cancelledBy
		locked.CancellationReason = reason
		locked.NextReminderAt = nil
		locked.UpdatedAt = now
		if err := repo.UpdateRequest(ctx, locked); err != nil {
			return err
		}
		req = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.incCancelled()
	e.logger.InfoContext(ctx, "signature request cancelled",
		slog.String("request_id", requestID),
		slog.String("cancelled_by", cancelledBy),
		slog.String("previous_status", string(previous)))

	details := map[string]string{
		"cancelled_by":    cancelledBy,
		"previous_status": string(previous),
	}
	if reason != "" {
		details["reason"] = reason
	}
	e.record(ctx, audit.Entry{
		RequestID:       req.ID,
		Type:            audit.EventCancel,
		DocumentHash:    req.DocumentHash,
		DocumentVersion: req.DocumentVersion,
		Details:         details,
	})
	e.publish(req.ID, EventCancelled, StatusCancelled, "")
	return req, nil
}

// ReissueToken replaces a recipient's access token and sends a new link.
// The previous link stops working immediately.
func (e *Engine) ReissueToken(ctx context.Context, recipientID string) (*Recipient, string, error) {
	now := e.clock()
	var (
		req *SignatureRequest
		rec *Recipient
		raw string
	)
	err := e.store.InTx(ctx, func(repo Repository) error {
		found, err := repo.GetRecipient(ctx, recipientID)
		if err != nil {
			return err
		}
		req, err = repo.LockRequest(ctx, found.RequestID)
		if err != nil {
			return err
		}
		if !req.Status.Signable() {
			return &InvalidStateError{Op: "reissue token for", Status: req.Status}
		}
		rec, err = repo.GetRecipient(ctx, recipientID)
		if err != nil {
			return err
		}
		if rec.SignedAt != nil {
			return &InvalidStateError{Op: "reissue token for", Status: req.Status, Reason: "recipient has already signed"}
		}
		raw, err = issueToken(rec, now, e.tokenTTL)
		if err != nil {
			return err
		}
		rec.SendStatus = SendPending
		rec.SendError = ""
		return repo.UpdateRecipient(ctx, rec)
	})
	if err != nil {
		return nil, "", err
	}

	entry := recipientEntry(req, rec, audit.EventTokenIssued, audit.ClientInfo{})
	entry.AuthMethod = ""
	entry.Details = map[string]string{
		"reason":     "reissue",
		"expires_at": rec.TokenExpiresAt.Format(time.RFC3339),
	}
	e.record(ctx, entry)
	_ = e.dispatch(ctx, req, rec, notify.KindReissue, raw)

	if updated, err := e.store.GetRecipient(ctx, recipientID); err == nil {
		rec = updated
	}
	return rec, raw, nil
}
