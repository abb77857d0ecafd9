package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/esign/internal/middleware"
)

// Recorder validates entries, stamps them with the current time and client
// fingerprint, and appends them to a Repository.
type Recorder struct {
	repo   Repository
	now    func() time.Time
	logger *slog.Logger
}

// RecorderConfig holds configuration for a Recorder.
type RecorderConfig struct {
	Repository Repository
	Logger     *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Repository == nil {
		return nil, ErrNilRepository
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{repo: cfg.Repository, now: cfg.Now, logger: cfg.Logger}, nil
}

// Append records an event. Appended events are never rolled back by later
// failures of the operation that produced them.
func (r *Recorder) Append(ctx context.Context, entry Entry) (*Event, error) {
	if strings.TrimSpace(entry.RequestID) == "" {
		return nil, ErrMissingRequestID
	}
	if !entry.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, entry.Type)
	}

	device := entry.Client.Device
	if device == (DeviceInfo{}) && entry.Client.UserAgent != "" {
		device = ParseDevice(entry.Client.UserAgent)
	}

	metadata := cloneMap(entry.Metadata)
	if reqID := middleware.GetRequestID(ctx); reqID != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["http_request_id"] = reqID
	}

	e := &Event{
		RequestID:       entry.RequestID,
		RecipientID:     entry.RecipientID,
		Type:            entry.Type,
		Details:         cloneMap(entry.Details),
		SignerName:      entry.SignerName,
		SignerEmail:     entry.SignerEmail,
		IPAddress:       entry.Client.IPAddress,
		UserAgent:       entry.Client.UserAgent,
		Device:          device,
		Geo:             entry.Client.Geo,
		Consent:         entry.Consent,
		ConsentAt:       entry.ConsentAt,
		SignedAt:        entry.SignedAt,
		DocumentHash:    entry.DocumentHash,
		DocumentVersion: entry.DocumentVersion,
		AuthMethod:      entry.AuthMethod,
		Metadata:        metadata,
		CreatedAt:       r.now().UTC(),
	}

	stored, err := r.repo.Append(ctx, e)
	if err != nil {
		r.logger.Error("failed to append audit event",
			slog.String("error", err.Error()),
			slog.String("request_id", entry.RequestID),
			slog.String("event_type", string(entry.Type)))
		return nil, fmt.Errorf("failed to append audit event: %w", err)
	}
	return stored, nil
}

// Events returns the request's events in sequence order.
func (r *Recorder) Events(ctx context.Context, requestID string) ([]*Event, error) {
	events, err := r.repo.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}

// RecipientEvents returns a single recipient's events in sequence order.
func (r *Recorder) RecipientEvents(ctx context.Context, recipientID string) ([]*Event, error) {
	events, err := r.repo.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}

// RenderReport renders the request's audit trail as a chronological text report.
func (r *Recorder) RenderReport(ctx context.Context, requestID string) ([]byte, error) {
	events, err := r.Events(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return RenderReport(requestID, events), nil
}

// Verify checks the request's hash chain.
func (r *Recorder) Verify(ctx context.Context, requestID string) error {
	events, err := r.Events(ctx, requestID)
	if err != nil {
		return err
	}
	return VerifyChain(events)
}
