package notify

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"
)

// Relay defaults.
const (
	DefaultMaxAttempts = 5
	DefaultPopTimeout  = time.Second
	attemptsKey        = "delivery_attempts"
)

// Queue is an outbox of messages awaiting delivery.
type Queue interface {
	Send(ctx context.Context, msg Message) error
	Pop(ctx context.Context, timeout time.Duration) (*Message, error)
}

// RelayStats summarizes one Drain call.
type RelayStats struct {
	Delivered int
	Requeued  int
	Dropped   int
}

// Relay moves messages from a queue to the transport that delivers them.
// Failed deliveries are requeued until MaxAttempts is reached, then dropped.
type Relay struct {
	Queue       Queue
	Deliver     Sender
	Logger      *slog.Logger
	MaxAttempts int
	PopTimeout  time.Duration
}

// Drain delivers up to limit queued messages, stopping early when the queue is
// empty. Only queue errors are returned; delivery failures are counted.
func (r *Relay) Drain(ctx context.Context, limit int) (RelayStats, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	timeout := r.PopTimeout
	if timeout <= 0 {
		timeout = DefaultPopTimeout
	}

	var stats RelayStats
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		msg, err := r.Queue.Pop(ctx, timeout)
		if err != nil {
			return stats, err
		}
		if msg == nil {
			return stats, nil
		}

		err = r.Deliver.Send(ctx, *msg)
		if err == nil {
			stats.Delivered++
			continue
		}

		attempts := deliveryAttempts(msg) + 1
		if attempts >= maxAttempts || errors.Is(err, ErrInvalidMessage) {
			stats.Dropped++
			logger.ErrorContext(ctx, "dropping undeliverable notification",
				slog.String("notification_id", msg.ID),
				slog.String("kind", string(msg.Kind)),
				slog.String("request_id", msg.RequestID),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()))
			continue
		}

		if msg.Metadata == nil {
			msg.Metadata = make(map[string]string)
		}
		msg.Metadata[attemptsKey] = strconv.Itoa(attempts)
		if qerr := r.Queue.Send(ctx, *msg); qerr != nil {
			return stats, qerr
		}
		stats.Requeued++
		logger.WarnContext(ctx, "notification delivery failed, requeued",
			slog.String("notification_id", msg.ID),
			slog.String("request_id", msg.RequestID),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
	}
	return stats, nil
}

func deliveryAttempts(msg *Message) int {
	n, _ := strconv.Atoi(msg.Metadata[attemptsKey])
	return n
}
