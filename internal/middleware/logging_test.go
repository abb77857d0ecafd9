package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type testLogEntry struct {
	Level        string `json:"level"`
	Msg          string `json:"msg"`
	Method       string `json:"method"`
	Path         string `json:"path"`
	Status       int    `json:"status"`
	Size         int    `json:"size"`
	RequestID    string `json:"request_id"`
	StaffSubject string `json:"staff_subject"`
	ErrorCode    string `json:"error_code"`
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func parseLog(t *testing.T, buf *bytes.Buffer) testLogEntry {
	t.Helper()
	var entry testLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	entry := parseLog(t, buf)
	if entry.Method != "GET" || entry.Path != "/health" {
		t.Errorf("method/path = %s %s, want GET /health", entry.Method, entry.Path)
	}
	if entry.Status != http.StatusOK {
		t.Errorf("status = %d, want 200", entry.Status)
	}
	if entry.Size != 5 {
		t.Errorf("size = %d, want 5", entry.Size)
	}
	if entry.Level != "INFO" {
		t.Errorf("level = %s, want INFO", entry.Level)
	}
}

func TestLogging_RedactsPortalToken(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/sign/s3cr3t-token/fields/f1", nil))

	entry := parseLog(t, buf)
	if entry.Path != "/v1/sign/{token}/fields/f1" {
		t.Errorf("path = %q, want token redacted", entry.Path)
	}
}

func TestLogging_UsesChiRoutePattern(t *testing.T) {
	buf := &bytes.Buffer{}
	r := chi.NewRouter()
	r.Use(Logging(newTestLogger(buf)))
	r.Get("/v1/requests/{id}", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/requests/abc", nil))

	if entry := parseLog(t, buf); entry.Path != "/v1/requests/{id}" {
		t.Errorf("path = %q, want route pattern", entry.Path)
	}
}

func TestLogging_SubjectAndErrorCodeFromInnerHandlers(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetSubject(r.Context(), "staff-7")
		SetErrorCode(ctx, "invalid_state")
		w.WriteHeader(http.StatusConflict)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/requests/x/cancel", nil))

	entry := parseLog(t, buf)
	if entry.StaffSubject != "staff-7" {
		t.Errorf("staff_subject = %q, want staff-7", entry.StaffSubject)
	}
	if entry.ErrorCode != "invalid_state" {
		t.Errorf("error_code = %q, want invalid_state", entry.ErrorCode)
	}
	if entry.Level != "WARN" {
		t.Errorf("level = %s, want WARN", entry.Level)
	}
	if entry.RequestID == "" {
		t.Error("request_id should be logged")
	}
}

func TestLogging_ServerErrorLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if entry := parseLog(t, buf); entry.Level != "ERROR" {
		t.Errorf("level = %s, want ERROR", entry.Level)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantSame bool
	}{
		{"generated when absent", "", false},
		{"reused when valid", "abc-123", true},
		{"replaced when too long", string(bytes.Repeat([]byte("a"), 200)), false},
		{"replaced when contains spaces", "abc 123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got == "" {
				t.Fatal("GetRequestID() = empty")
			}
			if (got == tt.incoming) != tt.wantSame {
				t.Errorf("GetRequestID() = %q, incoming %q, wantSame %v", got, tt.incoming, tt.wantSame)
			}
			if rr.Header().Get(RequestIDHeader) != got {
				t.Errorf("response header = %q, want %q", rr.Header().Get(RequestIDHeader), got)
			}
		})
	}
}
