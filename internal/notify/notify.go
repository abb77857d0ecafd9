// Package notify dispatches signing notifications. Delivery itself happens
// out of process; senders here either log the message or hand it to a queue.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Kind identifies which notification template applies.
type Kind string

const (
	KindInitial   Kind = "initial"
	KindReminder  Kind = "reminder"
	KindCompleted Kind = "completed"
	KindReissue   Kind = "reissue"
)

// ErrInvalidMessage is returned for a message missing its recipient or kind.
var ErrInvalidMessage = errors.New("invalid notification message")

// Message is the template context for a single notification.
type Message struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	To          string            `json:"to"`
	Name        string            `json:"name,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body,omitempty"`
	RequestID   string            `json:"request_id"`
	RecipientID string            `json:"recipient_id,omitempty"`
	RequestName string            `json:"request_name,omitempty"`
	Link        string            `json:"link,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Validate checks the fields every sender needs.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient address is required", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindInitial, KindReminder, KindCompleted, KindReissue:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// Sender delivers a message or reports why it could not.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log. Used in development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs msg. The access link is not logged because it carries a bearer token.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "notification dispatched",
		slog.String("kind", string(msg.Kind)),
		slog.String("to", msg.To),
		slog.String("request_id", msg.RequestID),
		slog.String("recipient_id", msg.RecipientID),
		slog.String("subject", msg.Subject))
	return nil
}

// MemorySender collects messages in memory. FailFor makes Send fail for
// specific addresses.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
	failFor  map[string]error
}

// NewMemorySender creates an empty MemorySender.
func NewMemorySender() *MemorySender {
	return &MemorySender{failFor: make(map[string]error)}
}

// FailFor makes every subsequent Send to address return err.
func (s *MemorySender) FailFor(address string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFor[strings.ToLower(address)] = err
}

// Send records msg.
func (s *MemorySender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[strings.ToLower(msg.To)]; ok {
		return err
	}
	s.messages = append(s.messages, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// MessagesOfKind returns the messages of one kind.
func (s *MemorySender) MessagesOfKind(kind Kind) []Message {
	var out []Message
	for _, m := range s.Messages() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}
