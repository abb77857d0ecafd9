package signing

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/docstore"
	"github.com/onnwee/esign/internal/integrity"
	"github.com/onnwee/esign/internal/notify"
)

var samplePDF = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")

var pngSignature = "data:image/png;base64," + base64.StdEncoding.EncodeToString(
	[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'})

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeSealer appends a marker to the source document instead of stamping it.
type fakeSealer struct {
	docs docstore.Store

	mu    sync.Mutex
	fail  error
	calls int
}

func (s *fakeSealer) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *fakeSealer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSealer) Seal(ctx context.Context, in SealInput) (*SealResult, error) {
	s.mu.Lock()
	s.calls++
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	src, err := s.docs.Get(ctx, in.Request.DocumentPath)
	if err != nil {
		return nil, err
	}
	signed := append(append([]byte(nil), src...), []byte(fmt.Sprintf("%% sealed with %d signatures\n", len(in.Signatures)))...)
	signedPath, err := s.docs.Put(ctx, "sealed", signed, docstore.ContentTypePDF)
	if err != nil {
		return nil, err
	}
	trail := append([]byte("%PDF-1.7\n"), in.AuditReport...)
	trailPath, err := s.docs.Put(ctx, "audit", trail, docstore.ContentTypePDF)
	if err != nil {
		return nil, err
	}
	return &SealResult{
		SignedPath:     signedPath,
		SignedHash:     integrity.Sum(signed).String(),
		OriginalHash:   integrity.Sum(src).String(),
		Size:           int64(len(signed)),
		AuditTrailPath: trailPath,
		AuditTrailHash: integrity.Sum(trail).String(),
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (p *recordingPublisher) Publish(ev StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type harness struct {
	engine    *Engine
	store     Store
	auditRepo audit.Repository
	recorder  *audit.Recorder
	docs      *docstore.MemoryStore
	sender    *notify.MemorySender
	sealer    *fakeSealer
	publisher *recordingPublisher
	clock     *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, NewMemoryStore(), audit.NewInMemoryRepository())
}

func newHarnessWith(t *testing.T, store Store, auditRepo audit.Repository) *harness {
	t.Helper()
	h := &harness{
		store:     store,
		auditRepo: auditRepo,
		docs:      docstore.NewMemoryStore(),
		sender:    notify.NewMemorySender(),
		publisher: &recordingPublisher{},
		clock:     newTestClock(),
	}
	h.sealer = &fakeSealer{docs: h.docs}

	recorder, err := audit.NewRecorder(audit.RecorderConfig{Repository: h.auditRepo, Now: h.clock.Now})
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	h.recorder = recorder

	engine, err := NewEngine(Config{
		Store:         h.store,
		Audit:         recorder,
		Documents:     h.docs,
		Sealer:        h.sealer,
		Notifier:      h.sender,
		Publisher:     h.publisher,
		Metrics:       NewMetrics(),
		Now:           h.clock.Now,
		PortalBaseURL: "https://sign.example.com/",
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	h.engine = engine
	return h
}

type recipientSpec struct {
	name   string
	email  string
	order  int
	fields int
}

type draft struct {
	request    *SignatureRequest
	recipients []*Recipient
	fields     map[string][]*Field // by recipient ID
}

func (h *harness) createDraft(t *testing.T, order SigningOrder, specs ...recipientSpec) *draft {
	t.Helper()
	ctx := context.Background()
	req, err := h.engine.CreateRequest(ctx, CreateRequestInput{
		ClientID:        "client-1",
		Name:            "Engagement Letter",
		CreatedBy:       "staff-1",
		Document:        samplePDF,
		SigningOrder:    order,
		ReminderEnabled: true,
	})
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}

	d := &draft{request: req, fields: make(map[string][]*Field)}
	for _, s := range specs {
		rec, err := h.engine.AddRecipient(ctx, req.ID, RecipientInput{Name: s.name, Email: s.email, OrderIndex: s.order})
		if err != nil {
			t.Fatalf("AddRecipient(%s) error = %v", s.email, err)
		}
		d.recipients = append(d.recipients, rec)
		for i := 0; i < s.fields; i++ {
			f, err := h.engine.AddField(ctx, req.ID, FieldInput{
				RecipientID: rec.ID,
				Type:        FieldSignature,
				Page:        1,
				X:           0.1,
				Y:           0.1 + float64(i)*0.2,
				Width:       0.3,
				Height:      0.05,
				OrderIndex:  i,
			})
			if err != nil {
				t.Fatalf("AddField() error = %v", err)
			}
			d.fields[rec.ID] = append(d.fields[rec.ID], f)
		}
	}
	return d
}

// activate returns raw tokens by recipient ID.
func (h *harness) activate(t *testing.T, d *draft) map[string]string {
	t.Helper()
	res, err := h.engine.Activate(context.Background(), d.request.ID)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	return res.Tokens
}

// openSession views and consents, returning the session token.
func (h *harness) openSession(t *testing.T, token string) string {
	t.Helper()
	ctx := context.Background()
	view, err := h.engine.ValidateAccess(ctx, token, "", testClient)
	if err != nil {
		t.Fatalf("ValidateAccess() error = %v", err)
	}
	if _, err := h.engine.RecordConsent(ctx, token, view.SessionToken, testClient); err != nil {
		t.Fatalf("RecordConsent() error = %v", err)
	}
	return view.SessionToken
}

func (h *harness) sign(token, session, fieldID string) (*SignResult, error) {
	return h.engine.RecordSignature(context.Background(), SignInput{
		Token:        token,
		SessionToken: session,
		FieldID:      fieldID,
		Type:         SignatureTyped,
		Payload:      "Ada Lovelace",
		Client:       testClient,
	})
}

func (h *harness) status(t *testing.T, requestID string) Status {
	t.Helper()
	req, err := h.store.GetRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	return req.Status
}

var testClient = audit.ClientInfo{
	IPAddress: "203.0.113.7",
	UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	Geo:       audit.Geo{City: "Lisbon", Country: "PT"},
}

func assertErrorIs(t *testing.T, name string, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("%s error = %v, want %v", name, err, target)
	}
}
