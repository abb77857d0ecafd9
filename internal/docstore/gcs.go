package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStore stores blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  *storage.BucketHandle
	maxSize int64
}

// GCSConfig holds configuration for the GCS store.
type GCSConfig struct {
	Bucket string
	// Endpoint overrides the API endpoint, e.g. for a local emulator.
	// Requests to a custom endpoint are sent without credentials.
	Endpoint     string
	MaxSizeBytes int64
}

// NewGCSStore creates a GCSStore using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = DefaultMaxSizeBytes
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(cfg.Bucket), maxSize: cfg.MaxSizeBytes}, nil
}

// Get downloads the object at path.
func (s *GCSStore) Get(ctx context.Context, path string) ([]byte, error) {
	r, err := s.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open object %s: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", path, err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Put writes data with a DoesNotExist precondition. Because keys are content
// addressed, a failed precondition means the identical blob is already stored.
func (s *GCSStore) Put(ctx context.Context, prefix string, data []byte, contentType string) (string, error) {
	if err := validateBlob(data, contentType, s.maxSize); err != nil {
		return "", err
	}
	key, err := ObjectKey(prefix, data, contentType)
	if err != nil {
		return "", err
	}

	w := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			return key, nil
		}
		return "", fmt.Errorf("failed to finalize object %s: %w", key, err)
	}
	return key, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
