package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing_SpanNames(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		wantName string
	}{
		{http.MethodGet, "/v1/requests/abc", "GET /v1/requests/abc"},
		{http.MethodGet, "/v1/sign/raw-token-value", "GET /v1/sign/{token}"},
		{http.MethodPost, "/v1/sign/raw-token-value/fields/f1", "POST /v1/sign/{token}/fields/f1"},
	}
	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			spanRecorder := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
			otel.SetTracerProvider(tp)
			defer tp.Shutdown(context.Background())

			handler := Tracing("test-service")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			spans := spanRecorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			if spans[0].Name() != tt.wantName {
				t.Errorf("span name = %q, want %q", spans[0].Name(), tt.wantName)
			}
		})
	}
}

func TestGetTraceID(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	var captured string
	handler := Tracing("test-service")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetTraceID(r)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/requests", nil))

	spans := spanRecorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if want := spans[0].SpanContext().TraceID().String(); captured != want {
		t.Errorf("GetTraceID() = %q, want %q", captured, want)
	}

	if got := GetTraceID(httptest.NewRequest(http.MethodGet, "/", nil)); got != "" {
		t.Errorf("GetTraceID() without span = %q, want empty", got)
	}
}
