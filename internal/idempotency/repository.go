package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu     sync.RWMutex
	keys   map[string]*Record
	expiry time.Duration
	now    func() time.Time
}

// NewInMemoryRepository creates a new in-memory idempotency key repository.
func NewInMemoryRepository(expiry time.Duration) *InMemoryRepository {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &InMemoryRepository{
		keys:   make(map[string]*Record),
		expiry: expiry,
		now:    time.Now,
	}
}

func scopedKey(scope, key string) string {
	return scope + "\x00" + key
}

// Get retrieves a live record.
func (r *InMemoryRepository) Get(ctx context.Context, scope, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[scopedKey(scope, key)]
	if !ok || r.now().Sub(record.CreatedAt) > r.expiry {
		return nil, ErrKeyNotFound
	}

	// Return a copy to prevent external mutation
	c := *record
	return &c, nil
}

// Store saves a new record unless a live one exists under the same key.
func (r *InMemoryRepository) Store(ctx context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := scopedKey(record.Scope, record.Key)
	if existing, exists := r.keys[k]; exists && r.now().Sub(existing.CreatedAt) <= r.expiry {
		return ErrKeyExists
	}

	c := *record
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	r.keys[k] = &c
	return nil
}

// DeleteExpired removes records older than the expiry. Returns the number removed.
func (r *InMemoryRepository) DeleteExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.expiry)
	deleted := 0
	for k, record := range r.keys {
		if record.CreatedAt.Before(cutoff) {
			delete(r.keys, k)
			deleted++
		}
	}
	return deleted
}
