// Package app wires configuration into the stores, transports and engine
// shared by the API server and the reminder job.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/config"
	"github.com/onnwee/esign/internal/db"
	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/health"
	"github.com/onnwee/esign/internal/image"
	"github.com/onnwee/esign/internal/jobs"
	"github.com/onnwee/esign/internal/middleware"
	"github.com/onnwee/esign/internal/notify"
	"github.com/onnwee/esign/internal/sealing"
	"github.com/onnwee/esign/internal/signing"
	"github.com/onnwee/esign/internal/tracing"
)

// Options vary the wiring per binary.
type Options struct {
	// ServiceName labels traces.
	ServiceName string
	// Publisher receives status events, e.g. the websocket broadcaster.
	Publisher signing.Publisher
}

// Services holds every long-lived dependency of a binary.
type Services struct {
	Config *config.Config
	Logger *slog.Logger

	// DB is nil when running on in-memory stores.
	DB *sql.DB
	// Redis is nil without REDIS_URL.
	Redis *redis.Client

	Documents docstore.Store
	Audit     *audit.Recorder
	Engine    *signing.Engine
	Notifier  notify.Sender
	// Outbox relays queued notifications; nil unless the redis queue is used.
	Outbox *notify.Relay

	Registry       *prometheus.Registry
	HTTPMetrics    *middleware.Metrics
	SigningMetrics *signing.Metrics
	JobMetrics     *jobs.Metrics
	Tracing        *tracing.Provider

	closers []func() error
}

// New builds Services from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *Services, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Services{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = s.Close(ctx)
		}
	}()

	if err := s.initMetrics(); err != nil {
		return nil, err
	}

	s.Tracing, err = tracing.NewProvider(tracing.Config{
		ServiceName:  opts.ServiceName,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: !cfg.IsProduction(),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.Redis = redis.NewClient(redisOpts)
		s.closers = append(s.closers, s.Redis.Close)
	}

	var (
		store     signing.Store
		auditRepo audit.Repository
	)
	if cfg.DatabaseURL != "" {
		s.DB, err = db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.DB.Close)
		store = signing.NewPostgresStore(s.DB, logger)
		auditRepo = audit.NewPostgresRepository(s.DB, logger)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		store = signing.NewMemoryStore()
		auditRepo = audit.NewInMemoryRepository()
	}

	s.Audit, err = audit.NewRecorder(audit.RecorderConfig{Repository: auditRepo, Logger: logger})
	if err != nil {
		return nil, err
	}

	s.Documents, err = s.openDocuments(ctx)
	if err != nil {
		return nil, err
	}

	s.Notifier, s.Outbox = s.notifier()

	renderer := sealing.NewPDFRenderer()
	sealer, err := sealing.NewService(sealing.Config{
		Documents: s.Documents,
		Renderer:  renderer,
		Images:    image.NewProcessor(image.DefaultConfig()),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	s.Engine, err = signing.NewEngine(signing.Config{
		Store:                       store,
		Audit:                       s.Audit,
		Documents:                   s.Documents,
		Sealer:                      sealer,
		Pages:                       renderer,
		Notifier:                    s.Notifier,
		Publisher:                   opts.Publisher,
		Metrics:                     s.SigningMetrics,
		Logger:                      logger,
		TokenTTL:                    cfg.TokenTTL(),
		SessionIdle:                 cfg.SessionIdle(),
		DefaultReminderIntervalDays: cfg.DefaultReminderIntervalDays,
		PortalBaseURL:               cfg.PortalBaseURL,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Services) initMetrics() error {
	s.Registry = prometheus.NewRegistry()
	if err := s.Registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}
	if err := s.Registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return err
	}

	s.HTTPMetrics = middleware.NewMetrics()
	if err := s.HTTPMetrics.Register(s.Registry); err != nil {
		return fmt.Errorf("failed to register http metrics: %w", err)
	}
	s.SigningMetrics = signing.NewMetrics()
	if err := s.SigningMetrics.Register(s.Registry); err != nil {
		return fmt.Errorf("failed to register signing metrics: %w", err)
	}
	s.JobMetrics = jobs.NewMetrics()
	if err := s.JobMetrics.Register(s.Registry); err != nil {
		return fmt.Errorf("failed to register job metrics: %w", err)
	}
	return nil
}

func (s *Services) openDocuments(ctx context.Context) (docstore.Store, error) {
	cfg := s.Config
	switch cfg.StorageBackend {
	case config.StorageS3:
		return docstore.NewS3Store(docstore.S3Config{
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
		})
	case config.StorageGCS:
		store, err := docstore.NewGCSStore(ctx, docstore.GCSConfig{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	case config.StorageMemory:
		s.Logger.Warn("using in-memory document storage; documents are lost on restart")
		return docstore.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// notifier returns the sender the engine uses. With the redis queue, messages
// are enqueued and the returned relay hands them to the log transport.
func (s *Services) notifier() (notify.Sender, *notify.Relay) {
	logSender := notify.NewLogSender(s.Logger)
	if s.Config.NotificationQueue != config.QueueRedis || s.Redis == nil {
		return logSender, nil
	}
	queue := notify.NewRedisQueueSender(s.Redis, "")
	return queue, &notify.Relay{Queue: queue, Deliver: logSender, Logger: s.Logger}
}

// HealthCheckers returns readiness probes for the configured dependencies.
// Dependencies that are not configured map to nil.
func (s *Services) HealthCheckers() map[string]health.Checker {
	checkers := map[string]health.Checker{"database": nil, "redis": nil}
	if s.DB != nil {
		checkers["database"] = health.NewDBChecker(s.DB)
	}
	if s.Redis != nil {
		checkers["redis"] = health.NewRedisChecker(s.Redis)
	}
	return checkers
}

// Close flushes traces and releases connections in reverse order of opening.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.Tracing != nil {
		if err := s.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
