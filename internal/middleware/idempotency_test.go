package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/esign/internal/idempotency"
)

func TestIdempotency_ReplaysCachedResponse(t *testing.T) {
	repo := idempotency.NewInMemoryRepository(time.Hour)
	calls := 0
	handler := Idempotency(repo, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"req-%d"}`, calls)
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/requests", strings.NewReader(`{}`))
		req = req.WithContext(SetSubject(req.Context(), "staff-1"))
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := send("create-abc")
	second := send("create-abc")

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %s, want %d %s", second.Code, second.Body, first.Code, first.Body)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("replayed response should be marked")
	}

	send("")
	send("")
	if calls != 3 {
		t.Errorf("requests without key should pass through, calls = %d, want 3", calls)
	}
}

func TestIdempotency_RejectsOverlongKey(t *testing.T) {
	handler := Idempotency(idempotency.NewInMemoryRepository(time.Hour), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", nil)
	req.Header.Set(IdempotencyKeyHeader, strings.Repeat("x", idempotency.MaxKeyLength+1))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestIdempotency_DoesNotCacheFailures(t *testing.T) {
	repo := idempotency.NewInMemoryRepository(time.Hour)
	calls := 0
	handler := Idempotency(repo, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/requests", nil)
		req.Header.Set(IdempotencyKeyHeader, "k1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Errorf("handler called %d times, want 2 (failures are not cached)", calls)
	}
}
