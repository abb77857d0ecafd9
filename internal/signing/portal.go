package signing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/integrity"
	"github.com/onnwee/esign/internal/tracing"
)

// PortalView is what a recipient sees after presenting a valid token.
type PortalView struct {
	Request    *SignatureRequest
	Recipient  *Recipient
	Fields     []*Field
	Signatures []*Signature
	// CanSign is false while an earlier signing tier is still outstanding.
	CanSign bool

	SessionToken     string
	SessionExpiresAt time.Time
}

// resolveToken finds the recipient holding raw. Lookup is by hash; the final
// comparison is constant time.
func resolveToken(ctx context.Context, repo Repository, raw string) (*Recipient, error) {
	if raw == "" {
		return nil, ErrTokenNotFound
	}
	rec, err := repo.GetRecipientByTokenHash(ctx, HashToken(raw))
	if errors.Is(err, ErrRecipientNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if !tokenMatches(rec.TokenHash, raw) {
		return nil, ErrTokenNotFound
	}
	return rec, nil
}

// currentTier is the lowest order index among unsigned recipients. Only that
// tier may sign in sequential mode; equal indices sign in parallel.
func currentTier(recipients []*Recipient) (int, bool) {
	tier, found := 0, false
	for _, r := range recipients {
		if r.SignedAt != nil {
			continue
		}
		if !found || r.OrderIndex < tier {
			tier, found = r.OrderIndex, true
		}
	}
	return tier, found
}

func canSign(req *SignatureRequest, rec *Recipient, recipients []*Recipient) bool {
	if !req.Status.Signable() || rec.SignedAt != nil {
		return false
	}
	if req.SigningOrder != OrderSequential {
		return true
	}
	tier, ok := currentTier(recipients)
	return ok && rec.OrderIndex <= tier
}

// denied records an access_denied event for a failure that can be attributed
// to a recipient.
func (e *Engine) denied(ctx context.Context, req *SignatureRequest, rec *Recipient, op string, client audit.ClientInfo, cause error) {
	if req == nil || rec == nil {
		return
	}
	entry := recipientEntry(req, rec, audit.EventAccessDenied, client)
	entry.Details = map[string]string{"operation": op, "reason": cause.Error()}
	e.record(ctx, entry)
}

// ValidateAccess authenticates a portal visit. On success it stamps the first
// view, opens or refreshes the recipient's session and records a view event.
// A failure attributable to a recipient records access_denied.
func (e *Engine) ValidateAccess(ctx context.Context, token, sessionToken string, client audit.ClientInfo) (*PortalView, error) {
	now := e.clock()
	var (
		req       *SignatureRequest
		rec       *Recipient
		view      *PortalView
		firstView bool
		refreshed bool
	)

	err := e.store.InTx(ctx, func(repo Repository) error {
		var err error
		rec, err = resolveToken(ctx, repo, token)
		if err != nil {
			return err
		}
		req, err = repo.GetRequest(ctx, rec.RequestID)
		if err != nil {
			return err
		}
		if err := checkToken(rec, req, now); err != nil {
			return err
		}

		if rec.ViewedAt == nil {
			rec.ViewedAt = timePtr(now)
			firstView = true
		}
		if sessionToken != "" && checkSession(rec, sessionToken, now, e.sessionIdle) == nil {
			rec.Session.LastActiveAt = now
			refreshed = true
		} else {
			sessionToken, err = openSession(rec, client, now)
			if err != nil {
				return err
			}
		}
		if err := repo.UpdateRecipient(ctx, rec); err != nil {
			return err
		}

		recipients, err := repo.ListRecipients(ctx, req.ID)
		if err != nil {
			return err
		}
		fields, err := repo.ListFields(ctx, req.ID)
		if err != nil {
			return err
		}
		sigs, err := repo.ListSignatures(ctx, req.ID)
		if err != nil {
			return err
		}

		view = &PortalView{
			Request:          req,
			Recipient:        rec,
			CanSign:          canSign(req, rec, recipients),
			SessionToken:     sessionToken,
			SessionExpiresAt: now.Add(e.sessionIdle),
		}
		for _, f := range fields {
			if f.RecipientID == rec.ID {
				view.Fields = append(view.Fields, f)
			}
		}
		view.Fields = SortFields(view.Fields)
		for _, s := range sigs {
			if s.RecipientID == rec.ID {
				view.Signatures = append(view.Signatures, s)
			}
		}
		return nil
	})
	e.metrics.incTokenValidation(tokenOutcome(err))
	if err != nil {
		if IsAccessError(err) {
			e.denied(ctx, req, rec, "view", client, err)
		}
		return nil, err
	}

	entry := recipientEntry(req, rec, audit.EventView, client)
	entry.Details = map[string]string{"session": "opened"}
	if refreshed {
		entry.Details["session"] = "refreshed"
	}
	e.record(ctx, entry)
	if firstView {
		e.publish(req.ID, EventViewed, req.Status, rec.ID)
	}
	return view, nil
}

// authenticate resolves the token and checks the session for a mutating
// portal action.
func (e *Engine) authenticate(ctx context.Context, repo Repository, token, sessionToken string, now time.Time) (*Recipient, *SignatureRequest, error) {
	rec, err := resolveToken(ctx, repo, token)
	if err != nil {
		return nil, nil, err
	}
	req, err := repo.GetRequest(ctx, rec.RequestID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkToken(rec, req, now); err != nil {
		return rec, req, err
	}
	if err := checkSession(rec, sessionToken, now, e.sessionIdle); err != nil {
		return rec, req, err
	}
	return rec, req, nil
}

// RecordConsent stamps the recipient's consent to sign electronically.
// Repeating consent is a no-op.
func (e *Engine) RecordConsent(ctx context.Context, token, sessionToken string, client audit.ClientInfo) (*Recipient, error) {
	now := e.clock()
	var (
		req      *SignatureRequest
		rec      *Recipient
		newlySet bool
	)
	err := e.store.InTx(ctx, func(repo Repository) error {
		var err error
		rec, req, err = e.authenticate(ctx, repo, token, sessionToken, now)
		if err != nil {
			return err
		}
		if rec.ConsentedAt == nil {
			rec.ConsentedAt = timePtr(now)
			newlySet = true
		}
		rec.Session.LastActiveAt = now
		return repo.UpdateRecipient(ctx, rec)
	})
	if err != nil {
		if IsAccessError(err) {
			e.denied(ctx, req, rec, "consent", client, err)
		}
		return nil, err
	}

	if newlySet {
		entry := recipientEntry(req, rec, audit.EventConsent, client)
		entry.Consent = true
		entry.ConsentAt = cloneTime(rec.ConsentedAt)
		e.record(ctx, entry)
		e.publish(req.ID, EventConsented, req.Status, rec.ID)
	}
	return rec, nil
}

// SignInput is one signing action from the portal.
type SignInput struct {
	Token        string
	SessionToken string
	FieldID      string
	Type         SignatureType
	Payload      string
	Client       audit.ClientInfo
}

// SignResult reports a recorded signature. When the signature completed the
// request, SignedDocument is set; if sealing failed, RecordSignature returns
// the result together with a *SealingFailedError.
type SignResult struct {
	Signature       *Signature
	Request         *SignatureRequest
	Recipient       *Recipient
	RecipientSigned bool
	AllFieldsSigned bool
	SignedDocument  *SignedDocument
}

// RecordSignature captures one field signature. Signing the last outstanding
// field of the request triggers sealing before returning.
func (e *Engine) RecordSignature(ctx context.Context, in SignInput) (res *SignResult, err error) {
	ctx, endSpan := tracing.StartSigningSpan(ctx, "record_signature", tracing.Signing{FieldID: in.FieldID})
	defer func() { endSpan(err) }()

	now := e.clock()
	var (
		req   *SignatureRequest
		rec   *Recipient
		field *Field
	)
	res = &SignResult{}

	err = e.store.InTx(ctx, func(repo Repository) error {
		found, err := resolveToken(ctx, repo, in.Token)
		if err != nil {
			return err
		}
		// Serializes with cancel, sealing and other signers of this request.
		req, err = repo.LockRequest(ctx, found.RequestID)
		if err != nil {
			return err
		}
		if !req.Status.Signable() {
			return &InvalidStateError{Op: "sign", Status: req.Status}
		}
		rec, err = repo.GetRecipient(ctx, found.ID)
		if err != nil {
			return err
		}
		if err := checkToken(rec, req, now); err != nil {
			return err
		}
		if err := checkSession(rec, in.SessionToken, now, e.sessionIdle); err != nil {
			return err
		}
		if rec.ConsentedAt == nil {
			return ErrConsentRequired
		}

		field, err = repo.GetField(ctx, in.FieldID)
		if errors.Is(err, ErrFieldNotFound) || (err == nil && field.RecipientID != rec.ID) {
			return &ValidationError{Violations: []Violation{{
				FieldID: in.FieldID, RecipientID: rec.ID, Rule: RuleUnknownRecipient,
				Message: fmt.Sprintf("field %s is not assigned to this recipient", in.FieldID),
			}}}
		}
		if err != nil {
			return err
		}

		sigs, err := repo.ListSignatures(ctx, req.ID)
		if err != nil {
			return err
		}
		for _, s := range sigs {
			if s.FieldID == field.ID {
				return ErrAlreadySigned
			}
		}

		if err := validatePayload(field, in.Type, in.Payload); err != nil {
			return err
		}

		recipients, err := repo.ListRecipients(ctx, req.ID)
		if err != nil {
			return err
		}
		if req.SigningOrder == OrderSequential {
			if tier, ok := currentTier(recipients); ok && rec.OrderIndex > tier {
				return ErrOutOfOrder
			}
		}

		sig := &Signature{
			ID:          uuid.New().String(),
			RequestID:   req.ID,
			FieldID:     field.ID,
			RecipientID: rec.ID,
			Type:        in.Type,
			Payload:     in.Payload,
			SignedAt:    now,
		}
		if err := repo.InsertSignature(ctx, sig); err != nil {
			if errors.Is(err, ErrDuplicateSignature) {
				return ErrAlreadySigned
			}
			return err
		}
		sigs = append(sigs, sig)
		res.Signature = sig

		fields, err := repo.ListFields(ctx, req.ID)
		if err != nil {
			return err
		}
		var owned []*Field
		for _, f := range fields {
			if f.RecipientID == rec.ID {
				owned = append(owned, f)
			}
		}
		if allFieldsSigned(owned, sigs) {
			rec.SignedAt = timePtr(now)
			res.RecipientSigned = true
		}
		rec.Session.LastActiveAt = now
		if err := repo.UpdateRecipient(ctx, rec); err != nil {
			return err
		}

		res.AllFieldsSigned = allFieldsSigned(fields, sigs)
		// The signature completing every field leaves the status to the
		// sealer: completed on success, unchanged on failure.
		if req.Status == StatusPending && !res.AllFieldsSigned {
			req.Status = StatusPartiallySigned
		}
		req.UpdatedAt = now
		return repo.UpdateRequest(ctx, req)
	})
	if err != nil {
		if IsAccessError(err) {
			e.denied(ctx, req, rec, "sign", in.Client, err)
		}
		return nil, err
	}

	res.Request = req
	res.Recipient = rec
	tracing.Annotate(ctx, tracing.Signing{RequestID: req.ID, RecipientID: rec.ID, Status: string(req.Status)})
	e.metrics.incSignature(in.Type)

	entry := recipientEntry(req, rec, audit.EventSign, in.Client)
	entry.Consent = true
	entry.ConsentAt = cloneTime(rec.ConsentedAt)
	entry.SignedAt = timePtr(now)
	entry.Details = map[string]string{
		"field_id":       field.ID,
		"field_type":     string(field.Type),
		"signature_type": string(in.Type),
		"payload_hash":   integrity.Sum([]byte(in.Payload)).String(),
	}
	if res.RecipientSigned {
		entry.Details["recipient_complete"] = "true"
	}
	e.record(ctx, entry)
	e.publish(req.ID, EventSigned, req.Status, rec.ID)

	if !res.AllFieldsSigned {
		return res, nil
	}

	// Sealing is never abandoned half-way, so it ignores caller cancellation.
	doc, err := e.seal(context.WithoutCancel(ctx), req.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "signature recorded, sealing pending retry",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
		return res, err
	}
	res.SignedDocument = doc
	if updated, gerr := e.store.GetRequest(ctx, req.ID); gerr == nil {
		res.Request = updated
	}
	return res, nil
}
