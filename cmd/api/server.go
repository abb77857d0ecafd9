package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/esign/internal/api"
	"github.com/onnwee/esign/internal/app"
	"github.com/onnwee/esign/internal/auth"
	"github.com/onnwee/esign/internal/config"
	"github.com/onnwee/esign/internal/events"
	"github.com/onnwee/esign/internal/idempotency"
	"github.com/onnwee/esign/internal/middleware"
	"github.com/onnwee/esign/internal/reminder"
)

// idempotencyTTL is how long a replayable staff response is kept.
const idempotencyTTL = 24 * time.Hour

// server is the API process: HTTP handler plus background jobs.
type server struct {
	services *app.Services
	handler  http.Handler
	logger   *slog.Logger

	// scheduler is nil when REMINDER_TICK_SECONDS is 0.
	scheduler *reminder.Scheduler
	// memIdempotency needs periodic cleanup; nil with Redis.
	memIdempotency *idempotency.InMemoryRepository
	cleanupDone    chan struct{}
}

func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server, error) {
	broadcaster := events.NewBroadcaster(logger)
	services, err := app.New(ctx, cfg, logger, app.Options{
		ServiceName: serviceName,
		Publisher:   broadcaster,
	})
	if err != nil {
		return nil, err
	}
	s := &server{services: services, logger: logger}

	var (
		rateLimits middleware.RateLimitStore
		idem       idempotency.Repository
	)
	if services.Redis != nil {
		rateLimits = middleware.NewRedisRateLimitStore(services.Redis, services.HTTPMetrics, logger)
		idem = idempotency.NewRedisRepository(services.Redis, idempotencyTTL)
	} else {
		rateLimits = middleware.NewInMemoryRateLimitStore()
		s.memIdempotency = idempotency.NewInMemoryRepository(idempotencyTTL)
		idem = s.memIdempotency
	}

	checkers := make(map[string]api.HealthChecker)
	for name, c := range services.HealthCheckers() {
		checkers[name] = c
	}

	var tracingService string
	if services.Tracing.IsEnabled() {
		tracingService = serviceName
	}

	metricsHandler := middleware.InternalToken(cfg.MetricsToken)(
		promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))

	s.handler = api.NewRouter(api.RouterConfig{
		Signing:        services.Engine,
		Audit:          services.Audit,
		Documents:      services.Documents,
		Broadcaster:    broadcaster,
		Tokens:         auth.NewJWTService(cfg.JWTSecret, cfg.JWTPreviousSecret),
		RateLimits:     rateLimits,
		Health:         api.NewHealthHandlers(api.HealthHandlersConfig{Checkers: checkers, MetricsEnabled: true}),
		Idempotency:    idem,
		Metrics:        services.HTTPMetrics,
		MetricsHandler: metricsHandler,
		Logger:         logger,
		PortalOrigin:   cfg.PortalOrigin(),
		TracingService: tracingService,
	})

	if tick := cfg.ReminderTick(); tick > 0 {
		reminderCfg := reminder.Config{
			Interval:   tick,
			Logger:     logger.With("job", "reminder"),
			JobMetrics: services.JobMetrics,
		}
		if services.Outbox != nil {
			reminderCfg.Outbox = services.Outbox
		}
		s.scheduler = reminder.NewScheduler(reminderCfg, services.Engine)
	}
	return s, nil
}

// start launches background jobs. They stop when ctx is cancelled or close
// is called.
func (s *server) start(ctx context.Context) error {
	if s.memIdempotency != nil {
		s.cleanupDone = make(chan struct{})
		go func() {
			defer close(s.cleanupDone)
			idempotency.RunPeriodicCleanup(ctx, s.memIdempotency, time.Hour, s.logger)
		}()
	}
	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return err
		}
		s.logger.Info("reminder job started", "interval", s.services.Config.ReminderTick())
	}
	return nil
}

// close stops background jobs and releases every connection. The context
// passed to start must already be cancelled or cleanup may block.
func (s *server) close(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.cleanupDone != nil {
		select {
		case <-s.cleanupDone:
		case <-ctx.Done():
		}
	}
	return s.services.Close(ctx)
}
