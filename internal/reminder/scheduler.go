// Package reminder periodically re-notifies recipients of signature requests
// that are still waiting on them.
package reminder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/esign/internal/jobs"
	"github.com/onnwee/esign/internal/notify"
	"github.com/onnwee/esign/internal/signing"
	"github.com/onnwee/esign/internal/tracing"
)

// Engine is the part of the signing engine the scheduler drives.
type Engine interface {
	DueReminders(ctx context.Context, now time.Time, limit int) ([]*signing.SignatureRequest, error)
	SendReminder(ctx context.Context, requestID string, now time.Time) (*signing.ReminderResult, error)
}

// Outbox drains queued notifications after each tick.
type Outbox interface {
	Drain(ctx context.Context, limit int) (notify.RelayStats, error)
}

// Config configures the reminder scheduler.
type Config struct {
	// Interval is the duration between ticks.
	Interval time.Duration
	// Timeout for each tick.
	Timeout time.Duration
	// BatchSize caps the requests reminded per tick.
	BatchSize int
	// Logger for job activity.
	Logger *slog.Logger
	// JobMetrics for centralized background job tracking.
	JobMetrics jobs.Reporter
	// Outbox, when set, is drained after every tick.
	Outbox Outbox
	// OutboxBatchSize caps the notifications relayed per tick.
	OutboxBatchSize int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Defaults for Config.
const (
	DefaultInterval        = 15 * time.Minute
	DefaultTimeout         = 2 * time.Minute
	DefaultBatchSize       = 100
	DefaultOutboxBatchSize = 500
)

// TickResult summarizes one tick.
type TickResult struct {
	Due        int
	Reminded   int
	Recipients int
	Skipped    int
	Failed     int
	Outbox     notify.RelayStats

	// Unreachable counts recipients owed a signature whose access link had
	// expired or been revoked.
	Unreachable int
}

// Scheduler runs reminder ticks on an interval.
type Scheduler struct {
	config Config
	engine Engine

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a new reminder scheduler.
func NewScheduler(config Config, engine Engine) *Scheduler {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.OutboxBatchSize <= 0 {
		config.OutboxBatchSize = DefaultOutboxBatchSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Scheduler{config: config, engine: engine}
}

// Start begins the periodic reminder job.
// Returns immediately; the job runs in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	close(stopCh)
	<-doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Info("reminder job stopping due to context cancellation")
			return
		case <-s.stopCh:
			s.config.Logger.Info("reminder job stopping due to stop signal")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx, s.config.Now()); err != nil {
				s.config.Logger.Error("reminder tick failed", "error", err)
			}
		}
	}
}

// Tick sends every reminder due at now. A request reminded concurrently by
// another worker is skipped. Failures on one request do not stop the others.
func (s *Scheduler) Tick(parentCtx context.Context, now time.Time) (res TickResult, err error) {
	ctx, cancel := context.WithTimeout(parentCtx, s.config.Timeout)
	defer cancel()
	ctx, endSpan := tracing.StartSpan(ctx, "reminder.tick")
	defer func() { endSpan(err) }()

	startTime := time.Now()
	defer func() {
		elapsed := time.Since(startTime)
		jobs.RecordRun(s.config.JobMetrics, jobs.JobTypeReminderTick, elapsed, err != nil || res.Failed > 0)
		tracing.SetAttributes(ctx,
			attribute.Int("reminder.due", res.Due),
			attribute.Int("reminder.reminded", res.Reminded),
			attribute.Int("reminder.unreachable", res.Unreachable),
			attribute.Int("reminder.failed", res.Failed))
		s.config.Logger.Info("reminder tick completed",
			"duration_seconds", elapsed.Seconds(),
			"due", res.Due,
			"reminded", res.Reminded,
			"recipients", res.Recipients,
			"unreachable", res.Unreachable,
			"skipped", res.Skipped,
			"failed", res.Failed)
	}()

	due, err := s.engine.DueReminders(ctx, now, s.config.BatchSize)
	if err != nil {
		s.incError(jobs.JobTypeReminderTick, errorType(err))
		return res, err
	}
	res.Due = len(due)

	for i, req := range due {
		if ctx.Err() != nil {
			s.config.Logger.Error("reminder tick timeout exceeded",
				"processed", i,
				"total", len(due),
				"timeout", s.config.Timeout)
			s.incError(jobs.JobTypeReminderTick, jobs.ErrorTypeTimeout)
			res.Failed += len(due) - i
			break
		}

		sent, err := s.engine.SendReminder(ctx, req.ID, now)
		switch {
		case err == nil:
			res.Reminded++
			res.Recipients += len(sent.Reminded)
			res.Unreachable += len(sent.Unreachable)
			for range sent.Unreachable {
				s.incError(jobs.JobTypeReminderSend, jobs.ErrorTypeLinkExpired)
			}
		case errors.Is(err, signing.ErrReminderNotDue), errors.Is(err, signing.ErrRequestNotFound):
			res.Skipped++
		default:
			res.Failed++
			s.incError(jobs.JobTypeReminderSend, errorType(err))
			s.config.Logger.Error("failed to send reminder",
				"request_id", req.ID,
				"error", err)
		}
	}

	if s.config.Outbox != nil && parentCtx.Err() == nil {
		stats, err := s.config.Outbox.Drain(parentCtx, s.config.OutboxBatchSize)
		res.Outbox = stats
		if err != nil {
			s.incError(jobs.JobTypeOutboxDrain, errorType(err))
			s.config.Logger.Error("failed to drain notification outbox", "error", err)
		}
	}
	return res, nil
}

func (s *Scheduler) incError(jobType, errType string) {
	if s.config.JobMetrics != nil {
		s.config.JobMetrics.IncJobErrors(jobType, errType)
	}
}

// errorType classifies an error for the job error metric.
func errorType(err error) string {
	var stateErr *signing.InvalidStateError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return jobs.ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return jobs.ErrorTypeCanceled
	case errors.As(err, &stateErr):
		return jobs.ErrorTypeInvalidState
	default:
		return jobs.ErrorTypeInternal
	}
}
