// Package events fans signing status events out to WebSocket subscribers.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/esign/internal/signing"
)

// Defaults for Broadcaster.
const (
	DefaultBufferSize   = 16
	DefaultWriteTimeout = 5 * time.Second
)

// Conn is the part of *websocket.Conn the broadcaster writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

type subscriber struct {
	conn Conn
	send chan []byte
}

// Broadcaster manages WebSocket connections per signature request. Each
// connection has its own writer goroutine, so Publish never blocks; events
// for a subscriber whose buffer is full are dropped.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[string]map[Conn]*subscriber // requestID -> connections

	logger       *slog.Logger
	bufferSize   int
	writeTimeout time.Duration
}

var _ signing.Publisher = (*Broadcaster)(nil)

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		connections:  make(map[string]map[Conn]*subscriber),
		logger:       logger,
		bufferSize:   DefaultBufferSize,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Subscribe registers a connection for a request's events.
func (b *Broadcaster) Subscribe(requestID string, conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connections[requestID] == nil {
		b.connections[requestID] = make(map[Conn]*subscriber)
	}
	if _, exists := b.connections[requestID][conn]; exists {
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, b.bufferSize)}
	b.connections[requestID][conn] = sub
	go b.writeLoop(requestID, sub)
}

// Unsubscribe removes a connection from every request and stops its writer.
func (b *Broadcaster) Unsubscribe(conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for requestID, conns := range b.connections {
		if sub, ok := conns[conn]; ok {
			close(sub.send)
			delete(conns, conn)
		}
		if len(conns) == 0 {
			delete(b.connections, requestID)
		}
	}
}

// Publish queues ev for every subscriber of its request.
func (b *Broadcaster) Publish(ev signing.StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	conns := b.connections[ev.RequestID]
	if len(conns) == 0 {
		return
	}

	// Serialize event once
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to marshal status event", "error", err)
		return
	}

	for _, sub := range conns {
		select {
		case sub.send <- data:
		default:
			b.logger.Warn("dropping status event for slow websocket client",
				"request_id", ev.RequestID,
				"event_type", ev.Type)
		}
	}
}

// ConnectionCount returns the number of active connections for a request.
func (b *Broadcaster) ConnectionCount(requestID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections[requestID])
}

func (b *Broadcaster) writeLoop(requestID string, sub *subscriber) {
	for data := range sub.send {
		if err := sub.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
			b.logger.Warn("failed to set websocket write deadline", "error", err, "request_id", requestID)
		}
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn("failed to send message to websocket client",
				"error", err,
				"request_id", requestID,
			)
			// Drain until the reader side unsubscribes the connection.
			for range sub.send {
			}
			return
		}
	}
}
