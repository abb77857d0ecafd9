package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/onnwee/esign/internal/integrity"
)

// S3Store stores blobs in an S3-compatible bucket (AWS S3 or Cloudflare R2).
type S3Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	maxSize       int64
	urlExpiry     time.Duration
}

// S3Config holds configuration for the S3 store.
type S3Config struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // empty for AWS, account endpoint for R2
	Region          string // "auto" for R2
	MaxSizeBytes    int64
	URLExpiry       time.Duration // presigned download URL lifetime, default 5 minutes
}

// NewS3Store creates an S3Store.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = 5 * time.Minute
	}

	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		// R2 and most S3-compatible endpoints require path-style addressing
		opts.UsePathStyle = true
	}
	client := s3.New(opts)

	return &S3Store{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		maxSize:       cfg.MaxSizeBytes,
		urlExpiry:     cfg.URLExpiry,
	}, nil
}

// Get downloads the object at path.
func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", path, err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Put uploads data under its content-addressed key with a SHA-256 checksum
// the service verifies on receipt.
func (s *S3Store) Put(ctx context.Context, prefix string, data []byte, contentType string) (string, error) {
	if err := validateBlob(data, contentType, s.maxSize); err != nil {
		return "", err
	}
	key, err := ObjectKey(prefix, data, contentType)
	if err != nil {
		return "", err
	}

	digest := integrity.Sum(data)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(data),
		ContentLength:     aws.Int64(int64(len(data))),
		ContentType:       aws.String(contentType),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(digest.Base64()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return key, nil
}

// PresignGet returns a short-lived download URL for path.
func (s *S3Store) PresignGet(ctx context.Context, path, filename string) (string, time.Time, error) {
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(s.bucket),
		Key:                        aws.String(path),
		ResponseContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", filename)),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign object %s: %w", path, err)
	}
	return req.URL, time.Now().Add(s.urlExpiry), nil
}
