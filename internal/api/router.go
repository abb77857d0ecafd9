package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/events"
	"github.com/onnwee/esign/internal/idempotency"
	"github.com/onnwee/esign/internal/middleware"
)

// RouterConfig holds everything NewRouter wires together. Optional fields may
// be left nil.
type RouterConfig struct {
	Signing     SigningService
	Audit       AuditLog
	Documents   docstore.Store
	Broadcaster *events.Broadcaster
	Tokens      middleware.TokenValidator
	RateLimits  middleware.RateLimitStore
	Health      *HealthHandlers

	// Optional.
	Idempotency    idempotency.Repository
	Metrics        *middleware.Metrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
	PortalLimit    middleware.RateLimitConfig
	StaffLimit     middleware.RateLimitConfig
	// PortalOrigin is the signing front end allowed to call /v1/sign.
	PortalOrigin string
	// TracingService enables otelhttp spans under this service name.
	TracingService string
}

// NewRouter builds the HTTP handler for the whole API.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PortalLimit.Validate() != nil {
		cfg.PortalLimit = middleware.DefaultPortalLimit()
	}
	if cfg.StaffLimit.Validate() != nil {
		cfg.StaffLimit = middleware.DefaultStaffLimit()
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = middleware.NewInMemoryRateLimitStore()
	}

	requests := NewRequestHandlers(cfg.Signing, cfg.Audit, cfg.Documents, cfg.Logger)
	portal := NewPortalHandlers(cfg.Signing)
	var origins []string
	if cfg.PortalOrigin != "" {
		origins = []string{cfg.PortalOrigin}
	}
	eventHandlers := NewEventHandlers(cfg.Signing, cfg.Broadcaster, origins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TracingService != "" {
		r.Use(middleware.Tracing(cfg.TracingService))
	}
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.HTTPMetrics(cfg.Metrics))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	})

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Staff endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireStaff(cfg.Tokens))
		r.Use(middleware.RateLimiter(cfg.RateLimits, cfg.StaffLimit, middleware.SubjectKeyFunc(), cfg.Metrics))
		if cfg.Idempotency != nil {
			r.Use(middleware.Idempotency(cfg.Idempotency, cfg.Logger))
		}

		r.Post("/v1/requests", requests.CreateRequest)
		r.Route("/v1/requests/{id}", func(r chi.Router) {
			r.Get("/", requests.GetRequest)
			r.Delete("/", requests.DeleteRequest)
			r.Post("/recipients", requests.AddRecipient)
			r.Post("/fields", requests.AddField)
			r.Post("/activate", requests.Activate)
			r.Post("/cancel", requests.Cancel)
			r.Post("/seal", requests.Seal)
			r.Get("/audit", requests.AuditTrail)
			r.Get("/signed-document", requests.SignedDocument)
			if cfg.Broadcaster != nil {
				r.Get("/events", eventHandlers.Subscribe)
			}
		})
		r.Post("/v1/recipients/{id}/reissue", requests.ReissueToken)
	})

	// Recipient portal
	r.Route("/v1/sign/{token}", func(r chi.Router) {
		r.Use(middleware.CORS(middleware.PortalCORSConfig(cfg.PortalOrigin)))
		r.Use(middleware.RateLimiter(cfg.RateLimits, cfg.PortalLimit, middleware.IPKeyFunc(), cfg.Metrics))

		r.Get("/", portal.View)
		r.Post("/consent", portal.Consent)
		r.Post("/fields/{fieldID}", portal.Sign)

		// Preflight requests are answered by the CORS middleware.
		r.Options("/", noContent)
		r.Options("/consent", noContent)
		r.Options("/fields/{fieldID}", noContent)
	})

	return r
}

func noContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
