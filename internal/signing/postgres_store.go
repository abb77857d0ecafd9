package signing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/tracing"
)

// Postgres error codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Constraint names from migrations/000001_signing.up.sql.
const (
	constraintSignatureField   = "signatures_field_id_key"
	constraintSignedDocRequest = "signed_documents_request_id_key"
	constraintRecipientEmail   = "signature_recipients_request_id_email_key"
)

const (
	tableRequests        = "signature_requests"
	tableRecipients      = "signature_recipients"
	tableFields          = "signature_fields"
	tableSignatures      = "signatures"
	tableSignedDocuments = "signed_documents"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// PostgresStore is a Store backed by the tables in migrations/.
type PostgresStore struct {
	*pgRepo
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pgRepo: &pgRepo{q: db}, db: db, logger: logger}
}

// InTx runs fn inside a read-committed transaction. LockRequest inside fn
// takes a row lock that is held until commit or rollback.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Repository) error) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "", tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("failed to rollback signing transaction",
				slog.String("error", rbErr.Error()))
		}
	}()

	if err := fn(&pgRepo{q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgRepo struct {
	q    querier
	inTx bool
}

// validID reports whether id can be a primary key. Anything else cannot match
// a row, and Postgres would reject it as a uuid literal.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func isPQError(err error, code, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// ---- requests ----

const requestColumns = `id, client_id, name, document_path, document_hash, document_version, created_by, status,
	email_subject, email_message, signing_order,
	reminder_enabled, reminder_interval_days, reminders_sent_count, next_reminder_at, last_reminder_sent_at,
	activated_at, completed_at, cancelled_at, cancelled_by, cancellation_reason,
	created_at, updated_at`

func scanRequest(row scanner) (*SignatureRequest, error) {
	var (
		r                                     SignatureRequest
		status, order                         string
		nextReminder, lastReminder            sql.NullTime
		activatedAt, completedAt, cancelledAt sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.ClientID, &r.Name, &r.DocumentPath, &r.DocumentHash, &r.DocumentVersion, &r.CreatedBy, &status,
		&r.EmailSubject, &r.EmailMessage, &order,
		&r.ReminderEnabled, &r.ReminderIntervalDays, &r.RemindersSentCount, &nextReminder, &lastReminder,
		&activatedAt, &completedAt, &cancelledAt, &r.CancelledBy, &r.CancellationReason,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.SigningOrder = SigningOrder(order)
	r.NextReminderAt = fromNullTime(nextReminder)
	r.LastReminderSentAt = fromNullTime(lastReminder)
	r.ActivatedAt = fromNullTime(activatedAt)
	r.CompletedAt = fromNullTime(completedAt)
	r.CancelledAt = fromNullTime(cancelledAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func (p *pgRepo) InsertRequest(ctx context.Context, r *SignatureRequest) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRequests, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = p.q.ExecContext(ctx, `
		INSERT INTO signature_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`,
		r.ID, r.ClientID, r.Name, r.DocumentPath, r.DocumentHash, r.DocumentVersion, r.CreatedBy, string(r.Status),
		r.EmailSubject, r.EmailMessage, string(r.SigningOrder),
		r.ReminderEnabled, r.ReminderIntervalDays, r.RemindersSentCount, nullTime(r.NextReminderAt), nullTime(r.LastReminderSentAt),
		nullTime(r.ActivatedAt), nullTime(r.CompletedAt), nullTime(r.CancelledAt), r.CancelledBy, r.CancellationReason,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signature request: %w", err)
	}
	return nil
}

func (p *pgRepo) GetRequest(ctx context.Context, id string) (*SignatureRequest, error) {
	return p.getRequest(ctx, id, false)
}

// LockRequest selects FOR UPDATE inside a transaction.
func (p *pgRepo) LockRequest(ctx context.Context, id string) (*SignatureRequest, error) {
	return p.getRequest(ctx, id, p.inTx)
}

func (p *pgRepo) getRequest(ctx context.Context, id string, forUpdate bool) (req *SignatureRequest, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRequests, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if !validID(id) {
		return nil, ErrRequestNotFound
	}
	query := `SELECT ` + requestColumns + ` FROM signature_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	req, err = scanRequest(p.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signature request: %w", err)
	}
	return req, nil
}

func (p *pgRepo) UpdateRequest(ctx context.Context, r *SignatureRequest) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRequests, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := p.q.ExecContext(ctx, `
		UPDATE signature_requests SET
			client_id = $2, name = $3, document_path = $4, document_hash = $5, document_version = $6,
			status = $7, email_subject = $8, email_message = $9, signing_order = $10,
			reminder_enabled = $11, reminder_interval_days = $12, reminders_sent_count = $13,
			next_reminder_at = $14, last_reminder_sent_at = $15,
			activated_at = $16, completed_at = $17, cancelled_at = $18,
			cancelled_by = $19, cancellation_reason = $20, updated_at = $21
		WHERE id = $1
	`,
		r.ID, r.ClientID, r.Name, r.DocumentPath, r.DocumentHash, r.DocumentVersion,
		string(r.Status), r.EmailSubject, r.EmailMessage, string(r.SigningOrder),
		r.ReminderEnabled, r.ReminderIntervalDays, r.RemindersSentCount,
		nullTime(r.NextReminderAt), nullTime(r.LastReminderSentAt),
		nullTime(r.ActivatedAt), nullTime(r.CompletedAt), nullTime(r.CancelledAt),
		r.CancelledBy, r.CancellationReason, r.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update signature request: %w", err)
	}
	return expectOneRow(res, ErrRequestNotFound)
}

func (p *pgRepo) DeleteRequest(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRequests, tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	if !validID(id) {
		return ErrRequestNotFound
	}
	// Fields, recipients, signatures and the signed document cascade.
	res, err := p.q.ExecContext(ctx, `DELETE FROM signature_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete signature request: %w", err)
	}
	return expectOneRow(res, ErrRequestNotFound)
}

func (p *pgRepo) ListDueReminders(ctx context.Context, now time.Time, limit int) (out []*SignatureRequest, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRequests, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if limit < 0 {
		limit = 0
	}
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM signature_requests
		WHERE reminder_enabled
			AND status IN ('pending', 'partially_signed')
			AND next_reminder_at <= $1
		ORDER BY next_reminder_at, seq
		LIMIT NULLIF($2::int, 0)
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signature request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due reminders: %w", err)
	}
	return out, nil
}

// ---- recipients ----

const recipientColumns = `id, request_id, person_id, name, email, order_index,
	COALESCE(token_hash, ''), token_issued_at, token_expires_at, token_revoked_at,
	send_status, send_error, viewed_at, consented_at, signed_at, reminder_sent_at,
	COALESCE(session_token_hash, ''), session_started_at, session_last_active_at, session_device, session_ip_address,
	created_at`

func scanRecipient(row scanner) (*Recipient, error) {
	var (
		r                                     Recipient
		sendStatus, sessionHash, sessionIP    string
		issuedAt, expiresAt, revokedAt        sql.NullTime
		viewedAt, consentedAt, signedAt       sql.NullTime
		reminderAt, sessionStart, sessionLast sql.NullTime
		sessionDevice                         []byte
	)
	err := row.Scan(
		&r.ID, &r.RequestID, &r.PersonID, &r.Name, &r.Email, &r.OrderIndex,
		&r.TokenHash, &issuedAt, &expiresAt, &revokedAt,
		&sendStatus, &r.SendError, &viewedAt, &consentedAt, &signedAt, &reminderAt,
		&sessionHash, &sessionStart, &sessionLast, &sessionDevice, &sessionIP,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.SendStatus = SendStatus(sendStatus)
	r.TokenIssuedAt = fromNullTime(issuedAt)
	r.TokenExpiresAt = fromNullTime(expiresAt)
	r.TokenRevokedAt = fromNullTime(revokedAt)
	r.ViewedAt = fromNullTime(viewedAt)
	r.ConsentedAt = fromNullTime(consentedAt)
	r.SignedAt = fromNullTime(signedAt)
	r.ReminderSentAt = fromNullTime(reminderAt)
	r.CreatedAt = r.CreatedAt.UTC()

	if sessionHash != "" && sessionStart.Valid && sessionLast.Valid {
		s := &Session{
			TokenHash:    sessionHash,
			StartedAt:    sessionStart.Time.UTC(),
			LastActiveAt: sessionLast.Time.UTC(),
			IPAddress:    sessionIP,
		}
		if len(sessionDevice) > 0 {
			if err := json.Unmarshal(sessionDevice, &s.Device); err != nil {
				return nil, fmt.Errorf("failed to decode session device: %w", err)
			}
		}
		r.Session = s
	}
	return &r, nil
}

// sessionArgs flattens the optional session into column values.
func sessionArgs(s *Session) (hash, started, lastActive, device any, ip string, err error) {
	if s == nil {
		return nil, nil, nil, nil, "", nil
	}
	var dev any
	if s.Device != (audit.DeviceInfo{}) {
		b, err := json.Marshal(s.Device)
		if err != nil {
			return nil, nil, nil, nil, "", fmt.Errorf("failed to encode session device: %w", err)
		}
		dev = b
	}
	return s.TokenHash, s.StartedAt.UTC(), s.LastActiveAt.UTC(), dev, s.IPAddress, nil
}

func (p *pgRepo) InsertRecipient(ctx context.Context, r *Recipient) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRecipients, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if !validID(r.RequestID) {
		return ErrRequestNotFound
	}
	sHash, sStart, sLast, sDevice, sIP, err := sessionArgs(r.Session)
	if err != nil {
		return err
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO signature_recipients (
			id, request_id, person_id, name, email, order_index,
			token_hash, token_issued_at, token_expires_at, token_revoked_at,
			send_status, send_error, viewed_at, consented_at, signed_at, reminder_sent_at,
			session_token_hash, session_started_at, session_last_active_at, session_device, session_ip_address,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			NULLIF($7, ''), $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21,
			$22
		)
	`,
		r.ID, r.RequestID, r.PersonID, r.Name, r.Email, r.OrderIndex,
		r.TokenHash, nullTime(r.TokenIssuedAt), nullTime(r.TokenExpiresAt), nullTime(r.TokenRevokedAt),
		string(r.SendStatus), r.SendError, nullTime(r.ViewedAt), nullTime(r.ConsentedAt), nullTime(r.SignedAt), nullTime(r.ReminderSentAt),
		sHash, sStart, sLast, sDevice, sIP,
		r.CreatedAt.UTC(),
	)
	switch {
	case isPQError(err, pgForeignKeyViolation, ""):
		return ErrRequestNotFound
	case isPQError(err, pgUniqueViolation, constraintRecipientEmail):
		return validationError(RuleDuplicateRecipient, fmt.Sprintf("%s is already a recipient", r.Email))
	case err != nil:
		return fmt.Errorf("failed to insert recipient: %w", err)
	}
	return nil
}

func (p *pgRepo) GetRecipient(ctx context.Context, id string) (*Recipient, error) {
	if !validID(id) {
		return nil, ErrRecipientNotFound
	}
	return p.getRecipient(ctx, `WHERE id = $1`, id)
}

func (p *pgRepo) GetRecipientByTokenHash(ctx context.Context, tokenHash string) (*Recipient, error) {
	if tokenHash == "" {
		return nil, ErrRecipientNotFound
	}
	return p.getRecipient(ctx, `WHERE token_hash = $1`, tokenHash)
}

func (p *pgRepo) getRecipient(ctx context.Context, where, arg string) (rec *Recipient, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRecipients, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rec, err = scanRecipient(p.q.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM signature_recipients `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	return rec, nil
}

func (p *pgRepo) UpdateRecipient(ctx context.Context, r *Recipient) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRecipients, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	sHash, sStart, sLast, sDevice, sIP, err := sessionArgs(r.Session)
	if err != nil {
		return err
	}
	res, err := p.q.ExecContext(ctx, `
		UPDATE signature_recipients SET
			person_id = $2, name = $3, email = $4, order_index = $5,
			token_hash = NULLIF($6, ''), token_issued_at = $7, token_expires_at = $8, token_revoked_at = $9,
			send_status = $10, send_error = $11,
			viewed_at = $12, consented_at = $13, signed_at = $14, reminder_sent_at = $15,
			session_token_hash = $16, session_started_at = $17, session_last_active_at = $18,
			session_device = $19, session_ip_address = $20
		WHERE id = $1
	`,
		r.ID, r.PersonID, r.Name, r.Email, r.OrderIndex,
		r.TokenHash, nullTime(r.TokenIssuedAt), nullTime(r.TokenExpiresAt), nullTime(r.TokenRevokedAt),
		string(r.SendStatus), r.SendError,
		nullTime(r.ViewedAt), nullTime(r.ConsentedAt), nullTime(r.SignedAt), nullTime(r.ReminderSentAt),
		sHash, sStart, sLast, sDevice, sIP,
	)
	if err != nil {
		return fmt.Errorf("failed to update recipient: %w", err)
	}
	return expectOneRow(res, ErrRecipientNotFound)
}

func (p *pgRepo) ListRecipients(ctx context.Context, requestID string) (out []*Recipient, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableRecipients, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if !validID(requestID) {
		return nil, nil
	}
	rows, err := p.q.QueryContext(ctx, `
		SELECT `+recipientColumns+` FROM signature_recipients
		WHERE request_id = $1
		ORDER BY order_index, seq
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipients: %w", err)
	}
	return out, nil
}

// ---- fields ----

const fieldColumns = `id, request_id, recipient_id, field_type, page, x, y, width, height, label, order_index, created_at`

func scanField(row scanner) (*Field, error) {
	var (
		f   Field
		typ string
	)
	if err := row.Scan(&f.ID, &f.RequestID, &f.RecipientID, &typ, &f.Page, &f.X, &f.Y, &f.Width, &f.Height, &f.Label, &f.OrderIndex, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Type = FieldType(typ)
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

func (p *pgRepo) InsertField(ctx context.Context, f *Field) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableFields, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if !validID(f.RequestID) || !validID(f.RecipientID) {
		return ErrRequestNotFound
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO signature_fields (`+fieldColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, f.ID, f.RequestID, f.RecipientID, string(f.Type), f.Page, f.X, f.Y, f.Width, f.Height, f.Label, f.OrderIndex, f.CreatedAt.UTC())
	if isPQError(err, pgForeignKeyViolation, "") {
		return ErrRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert field: %w", err)
	}
	return nil
}

func (p *pgRepo) GetField(ctx context.Context, id string) (f *Field, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableFields, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if !validID(id) {
		return nil, ErrFieldNotFound
	}
	f, err = scanField(p.q.QueryRowContext(ctx, `SELECT `+fieldColumns+` FROM signature_fields WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFieldNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get field: %w", err)
	}
	return f, nil
}

func (p *pgRepo) ListFields(ctx context.Context, requestID string) (out []*Field, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableFields, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if !validID(requestID) {
		return nil, nil
	}
	rows, err := p.q.QueryContext(ctx, `SELECT `+fieldColumns+` FROM signature_fields WHERE request_id = $1 ORDER BY seq`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fields: %w", err)
	}
	return out, nil
}

// ---- signatures ----

func (p *pgRepo) InsertSignature(ctx context.Context, s *Signature) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableSignatures, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if !validID(s.FieldID) {
		return ErrFieldNotFound
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO signatures (id, request_id, field_id, recipient_id, signature_type, payload, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.RequestID, s.FieldID, s.RecipientID, string(s.Type), s.Payload, s.SignedAt.UTC())
	switch {
	case isPQError(err, pgUniqueViolation, constraintSignatureField):
		return ErrDuplicateSignature
	case isPQError(err, pgForeignKeyViolation, ""):
		return ErrFieldNotFound
	case err != nil:
		return fmt.Errorf("failed to insert signature: %w", err)
	}
	return nil
}

func (p *pgRepo) ListSignatures(ctx context.Context, requestID string) (out []*Signature, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableSignatures, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if !validID(requestID) {
		return nil, nil
	}
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, request_id, field_id, recipient_id, signature_type, payload, signed_at
		FROM signatures
		WHERE request_id = $1
		ORDER BY seq
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s   Signature
			typ string
		)
		if err := rows.Scan(&s.ID, &s.RequestID, &s.FieldID, &s.RecipientID, &typ, &s.Payload, &s.SignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signature: %w", err)
		}
		s.Type = SignatureType(typ)
		s.SignedAt = s.SignedAt.UTC()
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signatures: %w", err)
	}
	return out, nil
}

// ---- signed documents ----

const signedDocumentColumns = `id, request_id, client_id, signed_path, original_hash, signed_hash,
	audit_trail_path, audit_trail_hash, filename, size_bytes, completed_at, email_sent_at`

func (p *pgRepo) InsertSignedDocument(ctx context.Context, d *SignedDocument) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableSignedDocuments, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if !validID(d.RequestID) {
		return ErrRequestNotFound
	}
	_, err = p.q.ExecContext(ctx, `
		INSERT INTO signed_documents (`+signedDocumentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		d.ID, d.RequestID, d.ClientID, d.SignedPath, d.OriginalHash, d.SignedHash,
		d.AuditTrailPath, d.AuditTrailHash, d.Filename, d.Size, d.CompletedAt.UTC(), nullTime(d.EmailSentAt),
	)
	switch {
	case isPQError(err, pgUniqueViolation, constraintSignedDocRequest):
		return ErrSignedDocumentExists
	case isPQError(err, pgForeignKeyViolation, ""):
		return ErrRequestNotFound
	case err != nil:
		return fmt.Errorf("failed to insert signed document: %w", err)
	}
	return nil
}

func (p *pgRepo) GetSignedDocument(ctx context.Context, requestID string) (doc *SignedDocument, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableSignedDocuments, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	if !validID(requestID) {
		return nil, ErrSignedDocumentNotFound
	}
	var (
		d         SignedDocument
		emailSent sql.NullTime
	)
	err = p.q.QueryRowContext(ctx, `SELECT `+signedDocumentColumns+` FROM signed_documents WHERE request_id = $1`, requestID).Scan(
		&d.ID, &d.RequestID, &d.ClientID, &d.SignedPath, &d.OriginalHash, &d.SignedHash,
		&d.AuditTrailPath, &d.AuditTrailHash, &d.Filename, &d.Size, &d.CompletedAt, &emailSent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSignedDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signed document: %w", err)
	}
	d.CompletedAt = d.CompletedAt.UTC()
	d.EmailSentAt = fromNullTime(emailSent)
	return &d, nil
}

// UpdateSignedDocument only changes EmailSentAt; the sealed artifact itself
// is immutable.
func (p *pgRepo) UpdateSignedDocument(ctx context.Context, d *SignedDocument) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableSignedDocuments, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	if !validID(d.RequestID) {
		return ErrSignedDocumentNotFound
	}
	res, err := p.q.ExecContext(ctx, `UPDATE signed_documents SET email_sent_at = $2 WHERE request_id = $1`,
		d.RequestID, nullTime(d.EmailSentAt))
	if err != nil {
		return fmt.Errorf("failed to update signed document: %w", err)
	}
	return expectOneRow(res, ErrSignedDocumentNotFound)
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
