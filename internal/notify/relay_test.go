package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// sliceQueue is a FIFO Queue.
type sliceQueue struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (q *sliceQueue) Send(ctx context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *sliceQueue) Pop(ctx context.Context, timeout time.Duration) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if len(q.msgs) == 0 {
		return nil, nil
	}
	msg := q.msgs[0]
	q.msgs = q.msgs[1:]
	return &msg, nil
}

func (q *sliceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

func TestRelay_Drain(t *testing.T) {
	q := &sliceQueue{}
	ctx := context.Background()
	for _, to := range []string{"ada@example.com", "grace@example.com", "bounce@example.com"} {
		_ = q.Send(ctx, Message{ID: to, Kind: KindInitial, To: to, RequestID: "req-1"})
	}
	out := NewMemorySender()
	out.FailFor("bounce@example.com", errors.New("mailbox full"))

	r := &Relay{Queue: q, Deliver: out, MaxAttempts: 2}

	stats, err := r.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	// The bounced message is requeued once, then dropped on its second attempt.
	want := RelayStats{Delivered: 2, Requeued: 1, Dropped: 1}
	if stats != want {
		t.Errorf("Drain() = %+v, want %+v", stats, want)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0", q.Len())
	}
	if got := len(out.Messages()); got != 2 {
		t.Errorf("delivered messages = %d, want 2", got)
	}
}

func TestRelay_DrainRespectsMax(t *testing.T) {
	q := &sliceQueue{}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = q.Send(ctx, Message{Kind: KindReminder, To: "ada@example.com"})
	}
	r := &Relay{Queue: q, Deliver: NewMemorySender()}

	stats, err := r.Drain(ctx, 3)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if stats.Delivered != 3 || q.Len() != 2 {
		t.Errorf("Drain() = %+v with %d left, want 3 delivered and 2 left", stats, q.Len())
	}
}

func TestRelay_InvalidMessageDropped(t *testing.T) {
	q := &sliceQueue{}
	ctx := context.Background()
	_ = q.Send(ctx, Message{Kind: "digest", To: "ada@example.com"})

	stats, err := (&Relay{Queue: q, Deliver: NewMemorySender()}).Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if stats.Dropped != 1 || stats.Requeued != 0 {
		t.Errorf("Drain() = %+v, want invalid message dropped without retry", stats)
	}
}

func TestRelay_QueueError(t *testing.T) {
	queueErr := errors.New("connection refused")
	r := &Relay{Queue: &sliceQueue{err: queueErr}, Deliver: NewMemorySender()}

	if _, err := r.Drain(context.Background(), 10); !errors.Is(err, queueErr) {
		t.Errorf("Drain() error = %v, want %v", err, queueErr)
	}
}
