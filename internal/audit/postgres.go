package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PostgresRepository stores audit events in signature_audit_logs.
// A trigger on the table rejects UPDATE and DELETE.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const eventColumns = `id, seq, request_id, COALESCE(recipient_id::text, ''), event_type, details,
	signer_name, signer_email, ip_address, user_agent,
	device_browser, device_browser_version, device_os, device_platform, device_mobile, device_bot,
	geo_city, geo_country, consent, consent_at, signed_at,
	document_hash, document_version, auth_method, metadata,
	created_at, previous_hash, hash`

// Append links the event to the request's chain under a transaction-scoped
// advisory lock so concurrent appends for one request serialize.
func (r *PostgresRepository) Append(ctx context.Context, e *Event) (*Event, error) {
	ev := e.Clone()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback audit transaction",
				slog.String("error", err.Error()))
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ev.RequestID); err != nil {
		return nil, fmt.Errorf("failed to lock audit chain: %w", err)
	}

	var lastHash string
	var lastCreatedAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT hash, created_at FROM signature_audit_logs
		WHERE request_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, ev.RequestID).Scan(&lastHash, &lastCreatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read audit chain head: %w", err)
	}

	if err := seal(ev, lastHash, lastCreatedAt); err != nil {
		return nil, err
	}

	details, err := marshalMap(ev.Details)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalMap(ev.Metadata)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO signature_audit_logs (
			id, request_id, recipient_id, event_type, details,
			signer_name, signer_email, ip_address, user_agent,
			device_browser, device_browser_version, device_os, device_platform, device_mobile, device_bot,
			geo_city, geo_country, consent, consent_at, signed_at,
			document_hash, document_version, auth_method, metadata,
			created_at, previous_hash, hash
		) VALUES (
			$1, $2, NULLIF($3, '')::uuid, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24,
			$25, $26, $27
		)
		RETURNING seq
	`,
		ev.ID, ev.RequestID, ev.RecipientID, string(ev.Type), details,
		ev.SignerName, ev.SignerEmail, ev.IPAddress, ev.UserAgent,
		ev.Device.Browser, ev.Device.BrowserVersion, ev.Device.OS, ev.Device.Platform, ev.Device.Mobile, ev.Device.Bot,
		ev.Geo.City, ev.Geo.Country, ev.Consent, ev.ConsentAt, ev.SignedAt,
		ev.DocumentHash, ev.DocumentVersion, ev.AuthMethod, metadata,
		ev.CreatedAt, ev.PreviousHash, ev.Hash,
	).Scan(&ev.Sequence)
	if err != nil {
		r.logger.Error("failed to insert audit event",
			slog.String("error", err.Error()),
			slog.String("request_id", ev.RequestID),
			slog.String("event_type", string(ev.Type)))
		return nil, fmt.Errorf("failed to insert audit event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit event: %w", err)
	}
	return ev, nil
}

// ListByRequest returns all events for a request in sequence order.
func (r *PostgresRepository) ListByRequest(ctx context.Context, requestID string) ([]*Event, error) {
	return r.query(ctx, `SELECT `+eventColumns+` FROM signature_audit_logs WHERE request_id = $1 ORDER BY seq`, requestID)
}

// ListByRecipient returns all events for a recipient in sequence order.
func (r *PostgresRepository) ListByRecipient(ctx context.Context, recipientID string) ([]*Event, error) {
	return r.query(ctx, `SELECT `+eventColumns+` FROM signature_audit_logs WHERE recipient_id = $1 ORDER BY seq`, recipientID)
}

func (r *PostgresRepository) query(ctx context.Context, query string, arg string) ([]*Event, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e                   Event
			eventType           string
			details, metadata   []byte
			consentAt, signedAt sql.NullTime
		)
		if err := rows.Scan(
			&e.ID, &e.Sequence, &e.RequestID, &e.RecipientID, &eventType, &details,
			&e.SignerName, &e.SignerEmail, &e.IPAddress, &e.UserAgent,
			&e.Device.Browser, &e.Device.BrowserVersion, &e.Device.OS, &e.Device.Platform, &e.Device.Mobile, &e.Device.Bot,
			&e.Geo.City, &e.Geo.Country, &e.Consent, &consentAt, &signedAt,
			&e.DocumentHash, &e.DocumentVersion, &e.AuthMethod, &metadata,
			&e.CreatedAt, &e.PreviousHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Type = EventType(eventType)
		e.CreatedAt = e.CreatedAt.UTC()
		if consentAt.Valid {
			t := consentAt.Time.UTC()
			e.ConsentAt = &t
		}
		if signedAt.Valid {
			t := signedAt.Time.UTC()
			e.SignedAt = &t
		}
		if e.Details, err = unmarshalMap(details); err != nil {
			return nil, err
		}
		if e.Metadata, err = unmarshalMap(metadata); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

func marshalMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit map: %w", err)
	}
	return b, nil
}

func unmarshalMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode audit map: %w", err)
	}
	return cloneMap(m), nil
}
