package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/onnwee/esign/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                        8080,
		Env:                         "test",
		JWTSecret:                   "reminder-test-secret",
		StorageBackend:              config.StorageMemory,
		PortalBaseURL:               "https://sign.example.com",
		NotificationQueue:           config.QueueLog,
		TokenTTLDays:                30,
		SessionIdleMinutes:          30,
		DefaultReminderIntervalDays: 3,
		ReminderTickSeconds:         1,
		TracingExporter:             config.DefaultTracingExporter,
		TracingSampleRate:           0.1,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_SingleTick(t *testing.T) {
	if err := run(context.Background(), testConfig(), quietLogger(), false); err != nil {
		t.Errorf("run() error = %v", err)
	}
}

func TestRun_LoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, testConfig(), quietLogger(), true) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestRun_LoopRequiresInterval(t *testing.T) {
	cfg := testConfig()
	cfg.ReminderTickSeconds = 0
	if err := run(context.Background(), cfg, quietLogger(), true); err == nil {
		t.Error("run() error = nil, want error for a zero interval")
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	cfg := testConfig()
	cfg.StorageBackend = "tape"
	if err := run(context.Background(), cfg, quietLogger(), false); err == nil {
		t.Error("run() error = nil, want storage error")
	}
}
