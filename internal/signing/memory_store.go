package signing

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Used for testing and development.
//
// A single mutex serializes every call. InTx runs fn against a copy of the
// maps and swaps the copy in on success. Stored entities are never mutated
// in place, so copying the maps is enough to isolate a transaction.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	requests   map[string]*SignatureRequest
	recipients map[string]*Recipient
	fields     map[string]*Field
	signatures map[string]*Signature
	// field ID -> signature ID
	signedFields map[string]string
	// request ID -> signed document
	signedDocs map[string]*SignedDocument
	// Insertion order of every entity, for stable listing
	seq     map[string]int64
	nextSeq int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{
		requests:     make(map[string]*SignatureRequest),
		recipients:   make(map[string]*Recipient),
		fields:       make(map[string]*Field),
		signatures:   make(map[string]*Signature),
		signedFields: make(map[string]string),
		signedDocs:   make(map[string]*SignedDocument),
		seq:          make(map[string]int64),
	}}
}

func (d *memData) clone() *memData {
	return &memData{
		requests:     maps.Clone(d.requests),
		recipients:   maps.Clone(d.recipients),
		fields:       maps.Clone(d.fields),
		signatures:   maps.Clone(d.signatures),
		signedFields: maps.Clone(d.signedFields),
		signedDocs:   maps.Clone(d.signedDocs),
		seq:          maps.Clone(d.seq),
		nextSeq:      d.nextSeq,
	}
}

// InTx runs fn with exclusive access to the store.
func (s *MemoryStore) InTx(ctx context.Context, fn func(Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memRepo{d: snapshot}); err != nil {
		return err
	}
	s.data = snapshot
	return nil
}

func (s *MemoryStore) do(fn func(r *memRepo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memRepo{d: s.data})
}

func (s *MemoryStore) InsertRequest(ctx context.Context, r *SignatureRequest) error {
	return s.do(func(m *memRepo) error { return m.InsertRequest(ctx, r) })
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (out *SignatureRequest, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.GetRequest(ctx, id); return err })
	return out, err
}

func (s *MemoryStore) LockRequest(ctx context.Context, id string) (*SignatureRequest, error) {
	return s.GetRequest(ctx, id)
}

func (s *MemoryStore) UpdateRequest(ctx context.Context, r *SignatureRequest) error {
	return s.do(func(m *memRepo) error { return m.UpdateRequest(ctx, r) })
}

func (s *MemoryStore) DeleteRequest(ctx context.Context, id string) error {
	return s.do(func(m *memRepo) error { return m.DeleteRequest(ctx, id) })
}

func (s *MemoryStore) ListDueReminders(ctx context.Context, now time.Time, limit int) (out []*SignatureRequest, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.ListDueReminders(ctx, now, limit); return err })
	return out, err
}

func (s *MemoryStore) InsertRecipient(ctx context.Context, r *Recipient) error {
	return s.do(func(m *memRepo) error { return m.InsertRecipient(ctx, r) })
}

func (s *MemoryStore) GetRecipient(ctx context.Context, id string) (out *Recipient, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.GetRecipient(ctx, id); return err })
	return out, err
}

func (s *MemoryStore) GetRecipientByTokenHash(ctx context.Context, tokenHash string) (out *Recipient, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.GetRecipientByTokenHash(ctx, tokenHash); return err })
	return out, err
}

func (s *MemoryStore) UpdateRecipient(ctx context.Context, r *Recipient) error {
	return s.do(func(m *memRepo) error { return m.UpdateRecipient(ctx, r) })
}

func (s *MemoryStore) ListRecipients(ctx context.Context, requestID string) (out []*Recipient, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.ListRecipients(ctx, requestID); return err })
	return out, err
}

func (s *MemoryStore) InsertField(ctx context.Context, f *Field) error {
	return s.do(func(m *memRepo) error { return m.InsertField(ctx, f) })
}

func (s *MemoryStore) GetField(ctx context.Context, id string) (out *Field, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.GetField(ctx, id); return err })
	return out, err
}

func (s *MemoryStore) ListFields(ctx context.Context, requestID string) (out []*Field, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.ListFields(ctx, requestID); return err })
	return out, err
}

func (s *MemoryStore) InsertSignature(ctx context.Context, sig *Signature) error {
	return s.do(func(m *memRepo) error { return m.InsertSignature(ctx, sig) })
}

func (s *MemoryStore) ListSignatures(ctx context.Context, requestID string) (out []*Signature, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.ListSignatures(ctx, requestID); return err })
	return out, err
}

func (s *MemoryStore) InsertSignedDocument(ctx context.Context, d *SignedDocument) error {
	return s.do(func(m *memRepo) error { return m.InsertSignedDocument(ctx, d) })
}

func (s *MemoryStore) GetSignedDocument(ctx context.Context, requestID string) (out *SignedDocument, err error) {
	err = s.do(func(m *memRepo) error { out, err = m.GetSignedDocument(ctx, requestID); return err })
	return out, err
}

func (s *MemoryStore) UpdateSignedDocument(ctx context.Context, d *SignedDocument) error {
	return s.do(func(m *memRepo) error { return m.UpdateSignedDocument(ctx, d) })
}

// memRepo implements Repository over one memData without locking.
type memRepo struct {
	d *memData
}

func (m *memRepo) track(id string) {
	m.d.nextSeq++
	m.d.seq[id] = m.d.nextSeq
}

func (m *memRepo) InsertRequest(ctx context.Context, r *SignatureRequest) error {
	m.d.requests[r.ID] = r.Clone()
	m.track(r.ID)
	return nil
}

func (m *memRepo) GetRequest(ctx context.Context, id string) (*SignatureRequest, error) {
	r, ok := m.d.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return r.Clone(), nil
}

func (m *memRepo) LockRequest(ctx context.Context, id string) (*SignatureRequest, error) {
	return m.GetRequest(ctx, id)
}

func (m *memRepo) UpdateRequest(ctx context.Context, r *SignatureRequest) error {
	if _, ok := m.d.requests[r.ID]; !ok {
		return ErrRequestNotFound
	}
	m.d.requests[r.ID] = r.Clone()
	return nil
}

func (m *memRepo) DeleteRequest(ctx context.Context, id string) error {
	if _, ok := m.d.requests[id]; !ok {
		return ErrRequestNotFound
	}
	delete(m.d.requests, id)
	delete(m.d.seq, id)
	for fid, f := range m.d.fields {
		if f.RequestID == id {
			delete(m.d.fields, fid)
			delete(m.d.seq, fid)
		}
	}
	for rid, r := range m.d.recipients {
		if r.RequestID == id {
			delete(m.d.recipients, rid)
			delete(m.d.seq, rid)
		}
	}
	for sid, s := range m.d.signatures {
		if s.RequestID == id {
			delete(m.d.signatures, sid)
			delete(m.d.signedFields, s.FieldID)
			delete(m.d.seq, sid)
		}
	}
	delete(m.d.signedDocs, id)
	return nil
}

func (m *memRepo) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]*SignatureRequest, error) {
	var out []*SignatureRequest
	for _, r := range m.d.requests {
		if r.Status.Signable() && r.ReminderEnabled && r.NextReminderAt != nil && !r.NextReminderAt.After(now) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextReminderAt.Equal(*out[j].NextReminderAt) {
			return out[i].NextReminderAt.Before(*out[j].NextReminderAt)
		}
		return m.d.seq[out[i].ID] < m.d.seq[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) InsertRecipient(ctx context.Context, r *Recipient) error {
	if _, ok := m.d.requests[r.RequestID]; !ok {
		return ErrRequestNotFound
	}
	m.d.recipients[r.ID] = r.Clone()
	m.track(r.ID)
	return nil
}

func (m *memRepo) GetRecipient(ctx context.Context, id string) (*Recipient, error) {
	r, ok := m.d.recipients[id]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	return r.Clone(), nil
}

func (m *memRepo) GetRecipientByTokenHash(ctx context.Context, tokenHash string) (*Recipient, error) {
	if tokenHash == "" {
		return nil, ErrRecipientNotFound
	}
	for _, r := range m.d.recipients {
		if r.TokenHash == tokenHash {
			return r.Clone(), nil
		}
	}
	return nil, ErrRecipientNotFound
}

func (m *memRepo) UpdateRecipient(ctx context.Context, r *Recipient) error {
	if _, ok := m.d.recipients[r.ID]; !ok {
		return ErrRecipientNotFound
	}
	m.d.recipients[r.ID] = r.Clone()
	return nil
}

func (m *memRepo) ListRecipients(ctx context.Context, requestID string) ([]*Recipient, error) {
	var out []*Recipient
	for _, r := range m.d.recipients {
		if r.RequestID == requestID {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return m.d.seq[out[i].ID] < m.d.seq[out[j].ID]
	})
	return out, nil
}

func (m *memRepo) InsertField(ctx context.Context, f *Field) error {
	if _, ok := m.d.requests[f.RequestID]; !ok {
		return ErrRequestNotFound
	}
	m.d.fields[f.ID] = f.Clone()
	m.track(f.ID)
	return nil
}

func (m *memRepo) GetField(ctx context.Context, id string) (*Field, error) {
	f, ok := m.d.fields[id]
	if !ok {
		return nil, ErrFieldNotFound
	}
	return f.Clone(), nil
}

func (m *memRepo) ListFields(ctx context.Context, requestID string) ([]*Field, error) {
	var out []*Field
	for _, f := range m.d.fields {
		if f.RequestID == requestID {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.d.seq[out[i].ID] < m.d.seq[out[j].ID] })
	return out, nil
}

func (m *memRepo) InsertSignature(ctx context.Context, s *Signature) error {
	if _, ok := m.d.fields[s.FieldID]; !ok {
		return ErrFieldNotFound
	}
	if _, exists := m.d.signedFields[s.FieldID]; exists {
		return ErrDuplicateSignature
	}
	m.d.signatures[s.ID] = s.Clone()
	m.d.signedFields[s.FieldID] = s.ID
	m.track(s.ID)
	return nil
}

func (m *memRepo) ListSignatures(ctx context.Context, requestID string) ([]*Signature, error) {
	var out []*Signature
	for _, s := range m.d.signatures {
		if s.RequestID == requestID {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.d.seq[out[i].ID] < m.d.seq[out[j].ID] })
	return out, nil
}

func (m *memRepo) InsertSignedDocument(ctx context.Context, d *SignedDocument) error {
	if _, ok := m.d.requests[d.RequestID]; !ok {
		return ErrRequestNotFound
	}
	if _, exists := m.d.signedDocs[d.RequestID]; exists {
		return ErrSignedDocumentExists
	}
	m.d.signedDocs[d.RequestID] = d.Clone()
	return nil
}

func (m *memRepo) GetSignedDocument(ctx context.Context, requestID string) (*SignedDocument, error) {
	d, ok := m.d.signedDocs[requestID]
	if !ok {
		return nil, ErrSignedDocumentNotFound
	}
	return d.Clone(), nil
}

func (m *memRepo) UpdateSignedDocument(ctx context.Context, d *SignedDocument) error {
	if _, ok := m.d.signedDocs[d.RequestID]; !ok {
		return ErrSignedDocumentNotFound
	}
	m.d.signedDocs[d.RequestID] = d.Clone()
	return nil
}
