package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewProvider_Disabled(t *testing.T) {
	// A disabled provider skips validation: the reminder worker runs with an
	// empty tracing block in development.
	provider, err := NewProvider(Config{
		ServiceName:  "esign-reminder",
		SamplingRate: 7,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if provider.IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
}

func TestNewProvider_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{
			name: "missing service name",
			cfg:  Config{SamplingRate: 0.5},
			want: ErrMissingServiceName,
		},
		{
			name: "negative sampling rate",
			cfg:  Config{ServiceName: "esign-api", SamplingRate: -0.1},
			want: ErrInvalidSamplingRate,
		},
		{
			name: "sampling rate above one",
			cfg:  Config{ServiceName: "esign-api", SamplingRate: 1.5},
			want: ErrInvalidSamplingRate,
		},
		{
			name: "unknown exporter",
			cfg:  Config{ServiceName: "esign-api", SamplingRate: 1, ExporterType: "zipkin"},
			want: ErrUnsupportedExporter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Enabled = true
			tt.cfg.Logger = quietLogger()
			_, err := NewProvider(tt.cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewProvider() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewProvider_Exporters(t *testing.T) {
	tests := []struct {
		name     string
		exporter string
		endpoint string
		rate     float64
	}{
		{"api over otlp-http", ExporterOTLPHTTP, "localhost:4318", 0.25},
		{"reminder worker over otlp-grpc", ExporterOTLPGRPC, "localhost:4317", 1},
		{"default exporter", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(Config{
				ServiceName:  "esign-api",
				Enabled:      true,
				Environment:  "test",
				ExporterType: tt.exporter,
				OTLPEndpoint: tt.endpoint,
				SamplingRate: tt.rate,
				InsecureMode: true,
				Logger:       quietLogger(),
			})
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if !provider.IsEnabled() {
				t.Error("IsEnabled() = false, want true")
			}
			if provider.config.ServiceVersion != defaultServiceVersion {
				t.Errorf("ServiceVersion = %q, want %q", provider.config.ServiceVersion, defaultServiceVersion)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
		})
	}
}

func remoteParent(t *testing.T, sampled bool) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	if err != nil {
		t.Fatal(err)
	}
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	if err != nil {
		t.Fatal(err)
	}
	var flags trace.TraceFlags
	if sampled {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(context.Background(), sc)
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name        string
		rate        float64
		ctx         func(t *testing.T) context.Context
		wantSampled bool
	}{
		{
			name:        "new trace at full rate",
			rate:        1,
			ctx:         func(*testing.T) context.Context { return context.Background() },
			wantSampled: true,
		},
		{
			name:        "new trace at zero rate",
			rate:        0,
			ctx:         func(*testing.T) context.Context { return context.Background() },
			wantSampled: false,
		},
		{
			name:        "sampled portal caller at zero rate",
			rate:        0,
			ctx:         func(t *testing.T) context.Context { return remoteParent(t, true) },
			wantSampled: true,
		},
		{
			name:        "unsampled portal caller at full rate",
			rate:        1,
			ctx:         func(t *testing.T) context.Context { return remoteParent(t, false) },
			wantSampled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(newSampler(tt.rate)))
			defer tp.Shutdown(context.Background())

			_, span := tp.Tracer("test").Start(tt.ctx(t), "signing.record_signature")
			defer span.End()

			if got := span.SpanContext().IsSampled(); got != tt.wantSampled {
				t.Errorf("IsSampled() = %v, want %v", got, tt.wantSampled)
			}
		})
	}
}

func TestProvider_ShutdownWithoutTracerProvider(t *testing.T) {
	provider := &Provider{}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
}
