// Package audit records the append-only, hash-chained trail of every
// security-relevant action taken against a signature request, and renders it
// for humans and for export.
package audit

import (
	"time"
)

// EventType identifies what happened. The set is closed; see Valid.
type EventType string

const (
	EventView          EventType = "view"
	EventConsent       EventType = "consent"
	EventSign          EventType = "sign"
	EventCancel        EventType = "cancel"
	EventAccessDenied  EventType = "access_denied"
	EventTokenIssued   EventType = "token_issued"
	EventEmailSent     EventType = "email_sent"
	EventEmailFailed   EventType = "email_failed"
	EventReminderSent  EventType = "reminder_sent"
	EventCompleted     EventType = "completed"
	EventSealed        EventType = "sealed"
	EventSealingFailed EventType = "sealing_failed"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventView, EventConsent, EventSign, EventCancel, EventAccessDenied,
		EventTokenIssued, EventEmailSent, EventEmailFailed, EventReminderSent,
		EventCompleted, EventSealed, EventSealingFailed:
		return true
	}
	return false
}

// AuthMethodEmailLink is recorded for access through a per-recipient token.
const AuthMethodEmailLink = "email_link"

// DeviceInfo is the device fingerprint derived from a user agent.
type DeviceInfo struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Mobile         bool   `json:"mobile,omitempty"`
	Bot            bool   `json:"bot,omitempty"`
}

// Geo is the coarse location of the client as reported by the edge proxy.
type Geo struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// Event is a single immutable audit record.
// RecipientID is empty for request-level events such as cancel or sealed.
type Event struct {
	ID          string
	Sequence    int64
	RequestID   string
	RecipientID string
	Type        EventType
	Details     map[string]string

	SignerName  string
	SignerEmail string
	IPAddress   string
	UserAgent   string
	Device      DeviceInfo
	Geo         Geo

	Consent   bool
	ConsentAt *time.Time
	SignedAt  *time.Time

	DocumentHash    string
	DocumentVersion string
	AuthMethod      string
	Metadata        map[string]string

	CreatedAt time.Time

	// Tamper detection: Hash = SHA-256(PreviousHash || canonical(event)).
	PreviousHash string
	Hash         string
}

// Entry is the caller-supplied part of an Event.
type Entry struct {
	RequestID   string
	RecipientID string
	Type        EventType
	Details     map[string]string

	SignerName  string
	SignerEmail string
	Client      ClientInfo

	Consent   bool
	ConsentAt *time.Time
	SignedAt  *time.Time

	DocumentHash    string
	DocumentVersion string
	AuthMethod      string
	Metadata        map[string]string
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	c.Details = cloneMap(e.Details)
	c.Metadata = cloneMap(e.Metadata)
	if e.ConsentAt != nil {
		t := *e.ConsentAt
		c.ConsentAt = &t
	}
	if e.SignedAt != nil {
		t := *e.SignedAt
		c.SignedAt = &t
	}
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
