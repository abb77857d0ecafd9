package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/onnwee/esign/internal/auth"
	"github.com/onnwee/esign/internal/signing"
)

func TestCreateRequest(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/requests", CreateRequestBody{
		ClientID:     "client-1",
		Name:         "Engagement Letter",
		Document:     samplePDF,
		SigningOrder: signing.OrderSequential,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var got RequestView
	decodeBody(t, w, &got)
	if got.Status != signing.StatusDraft {
		t.Errorf("Status = %q, want %q", got.Status, signing.StatusDraft)
	}
	if got.CreatedBy != "staff-1" {
		t.Errorf("CreatedBy = %q, want staff-1", got.CreatedBy)
	}
	if got.SigningOrder != signing.OrderSequential {
		t.Errorf("SigningOrder = %q, want %q", got.SigningOrder, signing.OrderSequential)
	}
	if !strings.HasPrefix(got.DocumentPath, "source/") {
		t.Errorf("DocumentPath = %q, want source/ prefix", got.DocumentPath)
	}
}

func TestCreateRequest_Validation(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/requests", CreateRequestBody{ClientID: "client-1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Error.Code != ErrCodeValidation {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeValidation)
	}
	if len(resp.Error.Violations) < 2 {
		t.Errorf("got %d violations, want name and document reported together", len(resp.Error.Violations))
	}
}

func TestCreateRequest_RejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/requests", map[string]any{"name": "x", "owner": "y"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if code := errorCode(t, w); code != ErrCodeBadRequest {
		t.Errorf("code = %q, want %q", code, ErrCodeBadRequest)
	}
}

func TestStaffAuth(t *testing.T) {
	s := newTestServer(t)
	viewer, err := s.jwt.GenerateStaffToken("viewer-1", "viewer@example.com", auth.RoleViewer)
	if err != nil {
		t.Fatalf("GenerateStaffToken() error = %v", err)
	}
	seed := s.seedActive(t, "ada@example.com", 1)

	tests := []struct {
		name       string
		method     string
		path       string
		auth       string
		wantStatus int
		wantCode   string
	}{
		{"missing token", http.MethodGet, "/v1/requests/" + seed.requestID, "", http.StatusUnauthorized, ErrCodeAuthFailed},
		{"garbage token", http.MethodGet, "/v1/requests/" + seed.requestID, "Bearer nope", http.StatusUnauthorized, ErrCodeAuthFailed},
		{"viewer can read", http.MethodGet, "/v1/requests/" + seed.requestID, "Bearer " + viewer, http.StatusOK, ""},
		{"viewer cannot cancel", http.MethodPost, "/v1/requests/" + seed.requestID + "/cancel", "Bearer " + viewer, http.StatusForbidden, ErrCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{"Authorization": tt.auth}
			w := s.do(t, tt.method, tt.path, nil, headers)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantCode != "" {
				if code := errorCode(t, w); code != tt.wantCode {
					t.Errorf("code = %q, want %q", code, tt.wantCode)
				}
			}
		})
	}
}

func TestGetRequest_Detail(t *testing.T) {
	s := newTestServer(t)
	seed := s.seedActive(t, "ada@example.com", 2)

	w := s.do(t, http.MethodGet, "/v1/requests/"+seed.requestID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got RequestView
	decodeBody(t, w, &got)
	if got.Status != signing.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, signing.StatusPending)
	}
	if len(got.Recipients) != 1 || len(got.Fields) != 2 {
		t.Fatalf("got %d recipients and %d fields, want 1 and 2", len(got.Recipients), len(got.Fields))
	}
	if got.Recipients[0].SendStatus != signing.SendSent {
		t.Errorf("SendStatus = %q, want %q", got.Recipients[0].SendStatus, signing.SendSent)
	}
	if got.DocumentHash == "" {
		t.Error("DocumentHash is empty after activation")
	}
	if strings.Contains(w.Body.String(), "token_hash") {
		t.Error("response leaks token hash")
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/requests/0b3c7d9e-0000-4000-8000-000000000000", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if code := errorCode(t, w); code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", code, ErrCodeNotFound)
	}
}

func TestAddField_InvalidGeometry(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/requests", CreateRequestBody{Name: "NDA", Document: samplePDF}, nil)
	var req RequestView
	decodeBody(t, w, &req)
	w = s.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/recipients", AddRecipientBody{Name: "Ada", Email: "ada@example.com"}, nil)
	var rec RecipientView
	decodeBody(t, w, &rec)

	w = s.do(t, http.MethodPost, "/v1/requests/"+req.ID+"/fields", AddFieldBody{
		RecipientID: rec.ID,
		Type:        signing.FieldSignature,
		Page:        1,
		X:           0.9,
		Y:           0.1,
		Width:       0.3,
		Height:      0.05,
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
	var resp ErrorResponse
	decodeBody(t, w, &resp)
	if len(resp.Error.Violations) == 0 || resp.Error.Violations[0].Rule != signing.RuleInvalidGeometry {
		t.Errorf("violations = %+v, want %s", resp.Error.Violations, signing.RuleInvalidGeometry)
	}
}

func TestActivate_Twice(t *testing.T) {
	s := newTestServer(t)
	seed := s.seedActive(t, "ada@example.com", 1)

	w := s.do(t, http.MethodPost, "/v1/requests/"+seed.requestID+"/activate", nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if code := errorCode(t, w); code != ErrCodeInvalidState {
		t.Errorf("code = %q, want %q", code, ErrCodeInvalidState)
	}
}

func TestDeleteRequest(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/requests", CreateRequestBody{Name: "NDA", Document: samplePDF}, nil)
	var draft RequestView
	decodeBody(t, w, &draft)

	w = s.do(t, http.MethodDelete, "/v1/requests/"+draft.ID, nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete draft status = %d, want %d", w.Code, http.StatusNoContent)
	}
	w = s.do(t, http.MethodGet, "/v1/requests/"+draft.ID, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want %d", w.Code, http.StatusNotFound)
	}

	seed := s.seedActive(t, "ada@example.com", 1)
	w = s.do(t, http.MethodDelete, "/v1/requests/"+seed.requestID, nil, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("delete active status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestCancel(t *testing.T) {
	s := newTestServer(t)
	seed := s.seedActive(t, "ada@example.com", 1)
	token := s.tokenFor(t, "ada@example.com")

	w := s.do(t, http.MethodPost, "/v1/requests/"+seed.requestID+"/cancel", CancelBody{Reason: "superseded"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	var got RequestView
	decodeBody(t, w, &got)
	if got.Status != signing.StatusCancelled {
		t.Errorf("Status = %q, want %q", got.Status, signing.StatusCancelled)
	}
	if got.CancelledBy != "staff-1" || got.CancellationReason != "superseded" {
		t.Errorf("cancelled by %q for %q, want staff-1 for superseded", got.CancelledBy, got.CancellationReason)
	}

	// The recipient's link stops working.
	w = s.portal(t, http.MethodGet, "/v1/sign/"+token, "", nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("portal status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if code := errorCode(t, w); code != ErrCodeAccessInvalid {
		t.Errorf("code = %q, want %q", code, ErrCodeAccessInvalid)
	}
}

func TestReissueToken(t *testing.T) {
	s := newTestServer(t)
	seed := s.seedActive(t, "ada@example.com", 1)
	oldToken := s.tokenFor(t, "ada@example.com")

	w := s.do(t, http.MethodPost, "/v1/recipients/"+seed.recipientID+"/reissue", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	newToken := s.tokenFor(t, "ada@example.com")
	if newToken == oldToken {
		t.Fatal("reissue sent the same token")
	}
	if strings.Contains(w.Body.String(), newToken) {
		t.Error("response body contains the raw token")
	}

	if w := s.portal(t, http.MethodGet, "/v1/sign/"+oldToken, "", nil); w.Code != http.StatusForbidden {
		t.Errorf("old token status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if w := s.portal(t, http.MethodGet, "/v1/sign/"+newToken, "", nil); w.Code != http.StatusOK {
		t.Errorf("new token status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuditTrail_Formats(t *testing.T) {
	s := newTestServer(t)
	seed := s.seedActive(t, "ada@example.com", 1)
	token := s.tokenFor(t, "ada@example.com")
	s.openSession(t, token)

	tests := []struct {
		query           string
		wantContentType string
		check           func(t *testing.T, body string)
	}{
		{"", "text/plain", func(t *testing.T, body string) {
			if !strings.Contains(body, seed.requestID) {
				t.Errorf("text report does not mention request %s", seed.requestID)
			}
		}},
		{"?format=csv", "text/csv", func(t *testing.T, body string) {
			if !strings.Contains(body, "consent") {
				t.Errorf("csv export missing consent event: %s", body)
			}
		}},
		{"?format=json", "application/json", func(t *testing.T, body string) {
			var rows []map[string]any
			if err := json.Unmarshal([]byte(body), &rows); err != nil {
				t.Fatalf("json export does not parse: %v", err)
			}
			if len(rows) == 0 {
				t.Error("json export is empty")
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := s.do(t, http.MethodGet, "/v1/requests/"+seed.requestID+"/audit"+tt.query, nil, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.wantContentType) {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantContentType)
			}
			if got := w.Header().Get("X-Audit-Chain"); got != "valid" {
				t.Errorf("X-Audit-Chain = %q, want valid", got)
			}
			tt.check(t, w.Body.String())
		})
	}

	w := s.do(t, http.MethodGet, "/v1/requests/"+seed.requestID+"/audit?format=xml", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("xml status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSignedDocument_NotSealed(t *testing.T) {
	s := newTestServer(t)
	seed := s.seedActive(t, "ada@example.com", 1)

	w := s.do(t, http.MethodGet, "/v1/requests/"+seed.requestID+"/signed-document", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCreateRequest_IdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	body := CreateRequestBody{Name: "NDA", Document: samplePDF}
	headers := map[string]string{"Idempotency-Key": "create-nda-1"}

	first := s.do(t, http.MethodPost, "/v1/requests", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want %d", first.Code, http.StatusCreated)
	}
	second := s.do(t, http.MethodPost, "/v1/requests", body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want %d", second.Code, http.StatusCreated)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("second response was not replayed")
	}

	var a, b RequestView
	decodeBody(t, first, &a)
	decodeBody(t, second, &b)
	if a.ID != b.ID {
		t.Errorf("replayed ID = %s, want %s", b.ID, a.ID)
	}
}
