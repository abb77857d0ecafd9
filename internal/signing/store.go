package signing

import (
	"context"
	"time"
)

// Repository persists the six signing entities. Audit events live in the
// audit package's own append-only store.
//
// Get methods return copies; callers mutate the copy and call the matching
// Update to persist it.
type Repository interface {
	InsertRequest(ctx context.Context, r *SignatureRequest) error
	GetRequest(ctx context.Context, id string) (*SignatureRequest, error)
	// LockRequest reads a request and holds a write lock on it until the
	// enclosing transaction ends. Outside a transaction it behaves like GetRequest.
	LockRequest(ctx context.Context, id string) (*SignatureRequest, error)
	UpdateRequest(ctx context.Context, r *SignatureRequest) error
	// DeleteRequest removes a request with its fields, recipients, signatures
	// and signed document.
	DeleteRequest(ctx context.Context, id string) error
	// ListDueReminders returns signable requests with reminders enabled and
	// NextReminderAt at or before now, earliest first.
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*SignatureRequest, error)

	InsertRecipient(ctx context.Context, r *Recipient) error
	GetRecipient(ctx context.Context, id string) (*Recipient, error)
	GetRecipientByTokenHash(ctx context.Context, tokenHash string) (*Recipient, error)
	UpdateRecipient(ctx context.Context, r *Recipient) error
	// ListRecipients orders by OrderIndex, then insertion.
	ListRecipients(ctx context.Context, requestID string) ([]*Recipient, error)

	InsertField(ctx context.Context, f *Field) error
	GetField(ctx context.Context, id string) (*Field, error)
	// ListFields orders by insertion.
	ListFields(ctx context.Context, requestID string) ([]*Field, error)

	// InsertSignature returns ErrDuplicateSignature if the field already has one.
	InsertSignature(ctx context.Context, s *Signature) error
	ListSignatures(ctx context.Context, requestID string) ([]*Signature, error)

	// InsertSignedDocument returns ErrSignedDocumentExists if the request
	// already has one.
	InsertSignedDocument(ctx context.Context, d *SignedDocument) error
	GetSignedDocument(ctx context.Context, requestID string) (*SignedDocument, error)
	UpdateSignedDocument(ctx context.Context, d *SignedDocument) error
}

// Store is a Repository that can run a function atomically.
type Store interface {
	Repository

	// InTx runs fn in a transaction. fn must only use the Repository it is
	// given. Any error from fn rolls back every write made through it.
	InTx(ctx context.Context, fn func(Repository) error) error
}
