package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/onnwee/esign/internal/events"
	"github.com/onnwee/esign/internal/middleware"
)

// EventHandlers streams request status changes over WebSocket.
type EventHandlers struct {
	signing     SigningService
	broadcaster *events.Broadcaster
	upgrader    websocket.Upgrader
}

// NewEventHandlers creates a new EventHandlers instance. Browser connections
// are accepted only from allowedOrigins; clients that send no Origin header
// are always accepted.
func NewEventHandlers(svc SigningService, broadcaster *events.Broadcaster, allowedOrigins []string) *EventHandlers {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &EventHandlers{
		signing:     svc,
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// Subscribe handles GET /v1/requests/{id}/events.
func (h *EventHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "id")

	// Verify request exists
	if _, err := h.signing.GetRequestDetail(ctx, requestID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(ctx, "failed to upgrade websocket connection",
			"error", err,
			"request_id", requestID,
		)
		return
	}

	h.broadcaster.Subscribe(requestID, conn)
	slog.InfoContext(ctx, "websocket client subscribed to request events",
		"signature_request_id", requestID,
		"request_id", middleware.GetRequestID(ctx),
	)

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		conn.Close()
		slog.InfoContext(ctx, "websocket client unsubscribed",
			"signature_request_id", requestID,
		)
	}()

	// Clients never send; reading detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "websocket connection closed unexpectedly",
					"error", err,
					"signature_request_id", requestID,
				)
			}
			return
		}
	}
}
