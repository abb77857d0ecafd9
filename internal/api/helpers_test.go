package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/auth"
	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/events"
	"github.com/onnwee/esign/internal/idempotency"
	"github.com/onnwee/esign/internal/integrity"
	"github.com/onnwee/esign/internal/notify"
	"github.com/onnwee/esign/internal/signing"
)

const (
	testPortalURL = "https://sign.example.com"
	testSecret    = "api-test-secret-0123456789abcdef"
)

var samplePDF = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")

// stubSealer writes marker blobs instead of stamping a real PDF.
type stubSealer struct {
	docs docstore.Store

	mu   sync.Mutex
	fail error
}

func (s *stubSealer) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *stubSealer) Seal(ctx context.Context, in signing.SealInput) (*signing.SealResult, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	src, err := s.docs.Get(ctx, in.Request.DocumentPath)
	if err != nil {
		return nil, err
	}
	signed := append(append([]byte(nil), src...), []byte("% sealed\n")...)
	signedPath, err := s.docs.Put(ctx, "sealed", signed, docstore.ContentTypePDF)
	if err != nil {
		return nil, err
	}
	trail := append([]byte("%PDF-1.7\n"), in.AuditReport...)
	trailPath, err := s.docs.Put(ctx, "audit", trail, docstore.ContentTypePDF)
	if err != nil {
		return nil, err
	}
	return &signing.SealResult{
		SignedPath:     signedPath,
		SignedHash:     integrity.Sum(signed).String(),
		OriginalHash:   integrity.Sum(src).String(),
		Size:           int64(len(signed)),
		AuditTrailPath: trailPath,
		AuditTrailHash: integrity.Sum(trail).String(),
	}, nil
}

type testServer struct {
	handler     http.Handler
	engine      *signing.Engine
	docs        *docstore.MemoryStore
	sender      *notify.MemorySender
	sealer      *stubSealer
	broadcaster *events.Broadcaster
	jwt         *auth.JWTService
	staffToken  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{
		docs:        docstore.NewMemoryStore(),
		sender:      notify.NewMemorySender(),
		broadcaster: events.NewBroadcaster(nil),
		jwt:         auth.NewJWTService(testSecret, ""),
	}
	s.sealer = &stubSealer{docs: s.docs}

	recorder, err := audit.NewRecorder(audit.RecorderConfig{Repository: audit.NewInMemoryRepository()})
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	s.engine, err = signing.NewEngine(signing.Config{
		Store:         signing.NewMemoryStore(),
		Audit:         recorder,
		Documents:     s.docs,
		Sealer:        s.sealer,
		Notifier:      s.sender,
		Publisher:     s.broadcaster,
		PortalBaseURL: testPortalURL,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	s.staffToken, err = s.jwt.GenerateStaffToken("staff-1", "staff@example.com", auth.RoleStaff)
	if err != nil {
		t.Fatalf("GenerateStaffToken() error = %v", err)
	}

	s.handler = NewRouter(RouterConfig{
		Signing:     s.engine,
		Audit:       recorder,
		Documents:   s.docs,
		Broadcaster: s.broadcaster,
		Tokens:      s.jwt,
		Idempotency: idempotency.NewInMemoryRepository(time.Hour),
		Health:      NewHealthHandlers(HealthHandlersConfig{}),
	})
	return s
}

// do sends a request with the staff bearer token unless headers override it.
func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.staffToken)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// portal sends an unauthenticated recipient request.
func (s *testServer) portal(t *testing.T, method, path, session string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, body, map[string]string{
		"Authorization":     "",
		"X-Signing-Session": session,
	})
}

// tokenFor returns the raw access token from the latest link sent to email.
func (s *testServer) tokenFor(t *testing.T, email string) string {
	t.Helper()
	var link string
	for _, m := range s.sender.Messages() {
		if m.To == email && m.Link != "" {
			link = m.Link
		}
	}
	if link == "" {
		t.Fatalf("no access link sent to %s", email)
	}
	return strings.TrimPrefix(link, testPortalURL+"/sign/")
}

type seeded struct {
	requestID   string
	recipientID string
	fieldIDs    []string
}

// seedActive creates and activates a request with one recipient owning n
// signature fields.
func (s *testServer) seedActive(t *testing.T, email string, n int) seeded {
	t.Helper()
	var out seeded

	w := s.do(t, http.MethodPost, "/v1/requests", CreateRequestBody{
		ClientID: "client-1",
		Name:     "Engagement Letter",
		Document: samplePDF,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create request status = %d, body = %s", w.Code, w.Body.String())
	}
	var req RequestView
	decodeBody(t, w, &req)
	out.requestID = req.ID

	w = s.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/recipients", AddRecipientBody{Name: "Ada Lovelace", Email: email}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("add recipient status = %d, body = %s", w.Code, w.Body.String())
	}
	var rec RecipientView
	decodeBody(t, w, &rec)
	out.recipientID = rec.ID

	for i := 0; i < n; i++ {
		w = s.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/fields", AddFieldBody{
			RecipientID: rec.ID,
			Type:        signing.FieldSignature,
			Page:        1,
			X:           0.1,
			Y:           0.1 + float64(i)*0.2,
			Width:       0.3,
			Height:      0.05,
			OrderIndex:  i,
		}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("add field status = %d, body = %s", w.Code, w.Body.String())
		}
		var f FieldView
		decodeBody(t, w, &f)
		out.fieldIDs = append(out.fieldIDs, f.ID)
	}

	w = s.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/activate", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activate status = %d, body = %s", w.Code, w.Body.String())
	}
	return out
}

// openSession views the portal and consents, returning the session token.
func (s *testServer) openSession(t *testing.T, token string) string {
	t.Helper()
	w := s.portal(t, http.MethodGet, "/v1/sign/"+token, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("portal view status = %d, body = %s", w.Code, w.Body.String())
	}
	session := w.Header().Get("X-Signing-Session")
	w = s.portal(t, http.MethodPost, "/v1/sign/"+token+"/consent", session, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("consent status = %d, body = %s", w.Code, w.Body.String())
	}
	return session
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v, body: %s", err, w.Body.String())
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	return resp.Error.Code
}

var errSealerDown = errors.New("renderer unavailable")
