package signing

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/notify"
)

// ReminderResult describes one reminder round for a request.
type ReminderResult struct {
	Request  *SignatureRequest
	Reminded []*Recipient
	// Unreachable recipients still owe a signature but hold an expired or
	// revoked link.
	Unreachable []*Recipient
}

// DueReminders lists requests whose next reminder is at or before now.
func (e *Engine) DueReminders(ctx context.Context, now time.Time, limit int) ([]*SignatureRequest, error) {
	return e.store.ListDueReminders(ctx, now.UTC(), limit)
}

// isDue reports whether req should be reminded at now.
func isDue(req *SignatureRequest, now time.Time) bool {
	return req.Status.Signable() &&
		req.ReminderEnabled &&
		req.NextReminderAt != nil &&
		!req.NextReminderAt.After(now)
}

// SendReminder reminds every recipient who can sign now and has not. The
// recipient's token and session are left untouched: raw tokens are never
// stored, so the reminder points back to the original invitation link.
// Recipients whose link has expired or been revoked are skipped; they need a
// reissued token. The due check is repeated under the request lock, so a
// request already reminded in this interval returns ErrReminderNotDue.
func (e *Engine) SendReminder(ctx context.Context, requestID string, now time.Time) (*ReminderResult, error) {
	now = now.UTC().Truncate(time.Microsecond)
	res := &ReminderResult{}

	err := e.store.InTx(ctx, func(repo Repository) error {
		req, err := repo.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if !isDue(req, now) {
			return ErrReminderNotDue
		}
		recipients, err := repo.ListRecipients(ctx, requestID)
		if err != nil {
			return err
		}

		for _, rec := range recipients {
			if !canSign(req, rec, recipients) {
				continue
			}
			if err := checkToken(rec, req, now); err != nil {
				res.Unreachable = append(res.Unreachable, rec)
				continue
			}
			rec.ReminderSentAt = timePtr(now)
			rec.SendStatus = SendPending
			rec.SendError = ""
			if err := repo.UpdateRecipient(ctx, rec); err != nil {
				return err
			}
			res.Reminded = append(res.Reminded, rec)
		}

		req.RemindersSentCount++
		req.LastReminderSentAt = timePtr(now)
		req.NextReminderAt = timePtr(now.Add(time.Duration(req.ReminderIntervalDays) * 24 * time.Hour))
		req.UpdatedAt = now
		if err := repo.UpdateRequest(ctx, req); err != nil {
			return err
		}
		res.Request = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rec := range res.Reminded {
		entry := recipientEntry(res.Request, rec, audit.EventReminderSent, audit.ClientInfo{})
		entry.AuthMethod = ""
		entry.Details = map[string]string{"reminder_number": strconv.Itoa(res.Request.RemindersSentCount)}
		e.record(ctx, entry)
		_ = e.dispatch(ctx, res.Request, rec, notify.KindReminder, "")
	}
	for _, rec := range res.Unreachable {
		e.logger.WarnContext(ctx, "reminder skipped, access link no longer valid",
			slog.String("request_id", requestID),
			slog.String("recipient_id", rec.ID))
	}
	if len(res.Reminded) > 0 {
		e.publish(requestID, EventReminded, res.Request.Status, "")
	}
	e.logger.InfoContext(ctx, "reminder round sent",
		slog.String("request_id", requestID),
		slog.Int("recipients", len(res.Reminded)),
		slog.Int("reminders_sent", res.Request.RemindersSentCount))
	return res, nil
}
