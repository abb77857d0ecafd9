package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/esign/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// idempotencyResponseWriter tees the response into a buffer.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Idempotency replays the cached response of a POST carrying an
// Idempotency-Key already seen for the same staff subject. The header is
// optional; requests without it pass through. Only 2xx responses are cached.
func Idempotency(repo idempotency.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				SetErrorCode(r.Context(), "validation_error")
				writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
				return
			}

			ctx := r.Context()
			scope := GetSubject(ctx)

			existing, err := repo.Get(ctx, scope, key)
			switch {
			case err == nil && existing.Route == r.URL.Path && existing.Intact():
				logger.InfoContext(ctx, "replaying cached response for idempotency key",
					slog.String("key", key),
					slog.Int("status", existing.ResponseStatusCode))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.ResponseStatusCode)
				_, _ = w.Write([]byte(existing.ResponseBody))
				return
			case err == nil:
				SetErrorCode(ctx, "validation_error")
				writeJSONError(w, http.StatusUnprocessableEntity, "validation_error", "Idempotency-Key was already used for a different request")
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				// Store unavailable: proceed without idempotency
				logger.ErrorContext(ctx, "failed to check idempotency key",
					slog.String("key", key), slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}
			body := capture.body.String()
			record := &idempotency.Record{
				Key:                key,
				Scope:              scope,
				Method:             r.Method,
				Route:              r.URL.Path,
				ResponseHash:       idempotency.ComputeResponseHash(body),
				ResponseBody:       body,
				ResponseStatusCode: capture.statusCode,
			}
			if err := repo.Store(ctx, record); err != nil {
				logger.ErrorContext(ctx, "failed to store idempotency key",
					slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}
}
