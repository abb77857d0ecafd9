package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to the recorder.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidEventType is returned for an event type outside the known set.
	ErrInvalidEventType = errors.New("invalid audit event type")
	// ErrMissingRequestID is returned when an entry has no request ID.
	ErrMissingRequestID = errors.New("audit entry request ID cannot be empty")
)

// Repository is the append-only store for audit events.
// There is intentionally no update or delete operation.
type Repository interface {
	// Append assigns ID (if empty), Sequence, PreviousHash and Hash, persists
	// the event and returns a copy of what was stored.
	Append(ctx context.Context, e *Event) (*Event, error)

	// ListByRequest returns all events for a request in sequence order.
	ListByRequest(ctx context.Context, requestID string) ([]*Event, error)

	// ListByRecipient returns all events for a recipient in sequence order.
	ListByRecipient(ctx context.Context, recipientID string) ([]*Event, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events map[string]*Event
	// Maintain insertion order for queries
	order []string
	seq   int64
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		events: make(map[string]*Event),
		order:  make([]string, 0),
	}
}

// Append records an event at the end of its request's chain.
func (r *InMemoryRepository) Append(ctx context.Context, e *Event) (*Event, error) {
	ev := e.Clone()
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var lastHash string
	var lastCreatedAt time.Time
	for i := len(r.order) - 1; i >= 0; i-- {
		prev := r.events[r.order[i]]
		if prev.RequestID == ev.RequestID {
			lastHash = prev.Hash
			lastCreatedAt = prev.CreatedAt
			break
		}
	}

	if err := seal(ev, lastHash, lastCreatedAt); err != nil {
		return nil, err
	}

	r.seq++
	ev.Sequence = r.seq
	r.events[ev.ID] = ev
	r.order = append(r.order, ev.ID)

	// Return a copy to prevent external modification
	return ev.Clone(), nil
}

// ListByRequest returns all events for a request in sequence order.
func (r *InMemoryRepository) ListByRequest(ctx context.Context, requestID string) ([]*Event, error) {
	return r.filter(func(e *Event) bool { return e.RequestID == requestID }), nil
}

// ListByRecipient returns all events for a recipient in sequence order.
func (r *InMemoryRepository) ListByRecipient(ctx context.Context, recipientID string) ([]*Event, error) {
	return r.filter(func(e *Event) bool { return e.RecipientID == recipientID }), nil
}

func (r *InMemoryRepository) filter(match func(*Event) bool) []*Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Event
	for _, id := range r.order {
		e := r.events[id]
		if match(e) {
			results = append(results, e.Clone())
		}
	}
	return results
}
