// Package sealing merges captured signatures into the source document and
// produces the sealed PDF together with its audit-trail companion.
package sealing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/image"
	"github.com/onnwee/esign/internal/integrity"
	"github.com/onnwee/esign/internal/signing"
	"github.com/onnwee/esign/internal/tracing"
)

// Key prefixes in the document store.
const (
	PrefixSealed = "sealed"
	PrefixAudit  = "audit"
)

// DefaultConcurrency bounds parallel image normalization.
const DefaultConcurrency = 4

var (
	// ErrMissingSignature is returned when a field has no signature at sealing time.
	ErrMissingSignature = errors.New("field has no signature")
	// ErrUnchanged is returned when stamping produced the original bytes.
	ErrUnchanged = errors.New("sealed document is identical to the original")
)

// ImageNormalizer prepares drawn signatures for stamping.
type ImageNormalizer interface {
	Normalize(data []byte) ([]byte, error)
	Dimensions(data []byte) (image.Size, error)
}

// Config holds the service's collaborators.
type Config struct {
	Documents docstore.Store
	Renderer  Renderer
	Images    ImageNormalizer

	// Optional.
	Logger      *slog.Logger
	Concurrency int
}

// Service implements signing.Sealer.
type Service struct {
	docs        docstore.Store
	renderer    Renderer
	images      ImageNormalizer
	logger      *slog.Logger
	concurrency int
}

var _ signing.Sealer = (*Service)(nil)

// NewService creates a sealing service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Documents == nil {
		return nil, errors.New("sealing: document store is required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("sealing: renderer is required")
	}
	if cfg.Images == nil {
		return nil, errors.New("sealing: image normalizer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{
		docs:        cfg.Documents,
		renderer:    cfg.Renderer,
		images:      cfg.Images,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Seal stamps every signature onto the source document, renders the audit
// trail, stores both and verifies the stored sealed copy.
func (s *Service) Seal(ctx context.Context, in signing.SealInput) (res *signing.SealResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "sealing.seal")
	defer func() { endSpan(err) }()
	req := in.Request
	tracing.Annotate(ctx, tracing.Signing{RequestID: req.ID, Status: string(req.Status)})
	tracing.SetAttributes(ctx, attribute.Int("signature_request.fields", len(in.Fields)))

	sigByField := make(map[string]*signing.Signature, len(in.Signatures))
	for _, sig := range in.Signatures {
		sigByField[sig.FieldID] = sig
	}
	for _, f := range in.Fields {
		if _, ok := sigByField[f.ID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, f.ID)
		}
	}

	stamps := make([]Stamp, len(in.Fields))
	var source []byte

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	g.Go(func() error {
		data, err := s.docs.Get(gctx, req.DocumentPath)
		if err != nil {
			return fmt.Errorf("failed to get source document: %w", err)
		}
		if req.DocumentHash != "" {
			if err := integrity.Verify(data, req.DocumentHash); err != nil {
				return fmt.Errorf("source document changed since activation: %w", err)
			}
		}
		source = data
		return nil
	})

	for i, f := range in.Fields {
		sig := sigByField[f.ID]
		stamps[i] = Stamp{Page: f.Page, X: f.X, Y: f.Y, Width: f.Width, Height: f.Height}
		if sig.Type == signing.SignatureTyped {
			stamps[i].Text = sig.Payload
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, raw, err := signing.DecodeDataURL(sig.Payload)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.ID, err)
			}
			normalized, err := s.images.Normalize(raw)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.ID, err)
			}
			size, err := s.images.Dimensions(normalized)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.ID, err)
			}
			stamps[i].Image = normalized
			stamps[i].ImageWidth = size.Width
			stamps[i].ImageHeight = size.Height
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	original := integrity.Sum(source)
	footer := fmt.Sprintf("Electronically signed. Request %s. Original document %s", req.ID, original)
	signed, err := s.renderer.Stamp(source, stamps, footer)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp signatures: %w", err)
	}
	signedDigest := integrity.Sum(signed)
	if signedDigest.Equal(original) {
		return nil, ErrUnchanged
	}

	report := append([]byte(fmt.Sprintf("Original document: %s\nSigned document:   %s\n\n", original, signedDigest)), in.AuditReport...)
	trail, err := s.renderer.AuditTrail("Audit trail: "+req.Name, report)
	if err != nil {
		return nil, fmt.Errorf("failed to render audit trail: %w", err)
	}

	signedPath, err := s.docs.Put(ctx, PrefixSealed, signed, docstore.ContentTypePDF)
	if err != nil {
		return nil, fmt.Errorf("failed to store sealed document: %w", err)
	}
	trailPath, err := s.docs.Put(ctx, PrefixAudit, trail, docstore.ContentTypePDF)
	if err != nil {
		return nil, fmt.Errorf("failed to store audit trail: %w", err)
	}

	stored, err := s.docs.Get(ctx, signedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read back sealed document: %w", err)
	}
	if err := integrity.Verify(stored, signedDigest.String()); err != nil {
		return nil, fmt.Errorf("stored sealed document: %w", err)
	}

	s.logger.InfoContext(ctx, "document sealed",
		slog.String("request_id", req.ID),
		slog.String("signed_path", signedPath),
		slog.String("signed_hash", signedDigest.String()),
		slog.Int("stamps", len(stamps)),
		slog.Int("size_bytes", len(signed)))

	return &signing.SealResult{
		SignedPath:     signedPath,
		SignedHash:     signedDigest.String(),
		OriginalHash:   original.String(),
		Size:           int64(len(signed)),
		AuditTrailPath: trailPath,
		AuditTrailHash: integrity.Sum(trail).String(),
	}, nil
}
