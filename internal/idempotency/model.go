// Package idempotency caches the response of a mutating staff request under a
// client-supplied key so that a retried request returns the original result
// instead of creating a second signature request.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/esign/internal/integrity"
)

var (
	// ErrKeyNotFound is returned when an idempotency key is not found.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when attempting to create a duplicate key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a cached response is replayed.
const DefaultExpiry = 24 * time.Hour

// Record is a stored idempotency key with its cached response.
type Record struct {
	Key                string    `json:"key"`
	Scope              string    `json:"scope"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	CreatedAt          time.Time `json:"created_at"`
	ResponseHash       string    `json:"response_hash"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
}

// ValidateKey checks if an idempotency key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// ComputeResponseHash hashes a response body for integrity checks on replay.
func ComputeResponseHash(responseBody string) string {
	return integrity.Sum([]byte(responseBody)).String()
}

// Intact reports whether the cached body still matches its recorded hash.
func (r *Record) Intact() bool {
	return integrity.Verify([]byte(r.ResponseBody), r.ResponseHash) == nil
}

// Repository defines methods for idempotency key persistence.
// Keys are namespaced by scope (the authenticated staff subject).
type Repository interface {
	// Get returns ErrKeyNotFound if the key doesn't exist or has expired.
	Get(ctx context.Context, scope, key string) (*Record, error)

	// Store returns ErrKeyExists if the key already exists.
	Store(ctx context.Context, record *Record) error
}
