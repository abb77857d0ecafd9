// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// subjectKey is the context key for the authenticated staff subject.
type subjectKey struct{}

// stateKey is the context key for per-request state shared with Logging.
type stateKey struct{}

// requestState lets handlers deep in the chain report values back to outer
// middleware, which only see the request they were called with.
type requestState struct {
	errorCode string
	subject   string
}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(stateKey{}).(*requestState)
	return st
}

// SetSubject stores the authenticated staff subject in the context.
// Called by RequireStaff after validating the bearer token.
func SetSubject(ctx context.Context, subject string) context.Context {
	if st := stateFrom(ctx); st != nil {
		st.subject = subject
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// GetSubject retrieves the staff subject from context. Returns empty string if not present.
func GetSubject(ctx context.Context) string {
	if s, ok := ctx.Value(subjectKey{}).(string); ok {
		return s
	}
	return ""
}

// SetErrorCode records an error code for the access log.
func SetErrorCode(ctx context.Context, code string) context.Context {
	if st := stateFrom(ctx); st != nil {
		st.errorCode = code
		return ctx
	}
	return context.WithValue(ctx, stateKey{}, &requestState{errorCode: code})
}

// GetErrorCode retrieves the error code from context. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if st := stateFrom(ctx); st != nil {
		return st.errorCode
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code and response size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
// Only the first call sets the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets websocket upgrades take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.wroteHeader = true
	return h.Hijack()
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// NewLogger creates an slog.Logger based on the environment.
// In production (env == "production"), it returns a JSON handler.
// Otherwise, it returns a text handler for development.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

// RoutePath returns a loggable path for r. It prefers the matched chi route
// pattern and otherwise redacts the access token segment of portal URLs, so
// recipient tokens never reach logs or metric labels.
func RoutePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return redactPath(r.URL.Path)
}

const portalPrefix = "/v1/sign/"

func redactPath(path string) string {
	if !strings.HasPrefix(path, portalPrefix) {
		return path
	}
	rest := strings.TrimPrefix(path, portalPrefix)
	if idx := strings.Index(rest, "/"); idx != -1 {
		return portalPrefix + "{token}" + rest[idx:]
	}
	return portalPrefix + "{token}"
}

// Logging is a middleware that logs HTTP requests with structured fields:
// method, path, status, latency (ms), request ID, staff subject (if present),
// response size, and error_code (for error responses).
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			st := &requestState{}
			r = r.WithContext(context.WithValue(r.Context(), stateKey{}, st))
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", RoutePath(r)),
				slog.Int("status", rw.statusCode),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int("size", rw.size),
			}
			if requestID := GetRequestID(r.Context()); requestID != "" {
				attrs = append(attrs, slog.String("request_id", requestID))
			}
			if st.subject != "" {
				attrs = append(attrs, slog.String("staff_subject", st.subject))
			}
			if rw.statusCode >= 400 && st.errorCode != "" {
				attrs = append(attrs, slog.String("error_code", st.errorCode))
			}

			level := slog.LevelInfo
			switch {
			case rw.statusCode >= 500:
				level = slog.LevelError
			case rw.statusCode >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}
