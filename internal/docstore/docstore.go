// Package docstore is the blob store for source documents, sealed PDFs and
// audit-trail companions. Objects are content addressed: the key of a blob is
// derived from its SHA-256, so writing the same bytes twice is harmless.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/esign/internal/integrity"
)

// Supported content types.
const (
	ContentTypePDF = "application/pdf"
	ContentTypePNG = "image/png"
)

// Errors returned by stores.
var (
	ErrNotFound        = errors.New("document not found")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("document exceeds maximum size")
	ErrEmpty           = errors.New("document is empty")
	ErrInvalidPrefix   = errors.New("invalid key prefix")
)

// DefaultMaxSizeBytes bounds every stored blob.
const DefaultMaxSizeBytes = 25 << 20

var extensions = map[string]string{
	ContentTypePDF: ".pdf",
	ContentTypePNG: ".png",
}

// Store is the document store collaborator.
type Store interface {
	// Get returns the blob at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
	// Put stores data under prefix and returns its content-addressed path.
	Put(ctx context.Context, prefix string, data []byte, contentType string) (string, error)
}

// ObjectKey returns the content-addressed key for data,
// e.g. "sealed/3f2a...c9.pdf".
func ObjectKey(prefix string, data []byte, contentType string) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	clean := sanitizePathComponent(prefix)
	if clean == "" {
		return "", ErrInvalidPrefix
	}
	return clean + "/" + integrity.Sum(data).Hex() + ext, nil
}

// validateBlob checks size and type before any backend call.
func validateBlob(data []byte, contentType string, maxSize int64) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if _, ok := extensions[contentType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return nil
}

// sanitizePathComponent keeps only alphanumerics, hyphens and underscores.
func sanitizePathComponent(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
