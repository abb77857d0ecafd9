package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/esign/internal/integrity"
)

// ErrChainBroken is returned by VerifyChain when a link does not match.
var ErrChainBroken = errors.New("audit hash chain broken")

var canonicalMode cbor.EncMode

func init() {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("audit: cbor encoding mode: %v", err))
	}
	canonicalMode = mode
}

// canonicalEvent is the hashed form of an Event. Storage-assigned fields
// (Sequence, Hash) are excluded and timestamps are fixed-precision strings so
// that a row read back from Postgres hashes identically.
type canonicalEvent struct {
	ID              string            `cbor:"id"`
	RequestID       string            `cbor:"request_id"`
	RecipientID     string            `cbor:"recipient_id"`
	Type            string            `cbor:"type"`
	Details         map[string]string `cbor:"details"`
	SignerName      string            `cbor:"signer_name"`
	SignerEmail     string            `cbor:"signer_email"`
	IPAddress       string            `cbor:"ip"`
	UserAgent       string            `cbor:"user_agent"`
	Browser         string            `cbor:"browser"`
	BrowserVersion  string            `cbor:"browser_version"`
	OS              string            `cbor:"os"`
	Platform        string            `cbor:"platform"`
	Mobile          bool              `cbor:"mobile"`
	Bot             bool              `cbor:"bot"`
	City            string            `cbor:"city"`
	Country         string            `cbor:"country"`
	Consent         bool              `cbor:"consent"`
	ConsentAt       string            `cbor:"consent_at"`
	SignedAt        string            `cbor:"signed_at"`
	DocumentHash    string            `cbor:"document_hash"`
	DocumentVersion string            `cbor:"document_version"`
	AuthMethod      string            `cbor:"auth_method"`
	Metadata        map[string]string `cbor:"metadata"`
	CreatedAt       string            `cbor:"created_at"`
}

const canonicalTimeLayout = "2006-01-02T15:04:05.000000Z"

func canonicalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(canonicalTimeLayout)
}

// ChainHash computes the hash of e linked to previousHash.
func ChainHash(previousHash string, e *Event) (string, error) {
	c := canonicalEvent{
		ID:              e.ID,
		RequestID:       e.RequestID,
		RecipientID:     e.RecipientID,
		Type:            string(e.Type),
		Details:         cloneMap(e.Details),
		SignerName:      e.SignerName,
		SignerEmail:     e.SignerEmail,
		IPAddress:       e.IPAddress,
		UserAgent:       e.UserAgent,
		Browser:         e.Device.Browser,
		BrowserVersion:  e.Device.BrowserVersion,
		OS:              e.Device.OS,
		Platform:        e.Device.Platform,
		Mobile:          e.Device.Mobile,
		Bot:             e.Device.Bot,
		City:            e.Geo.City,
		Country:         e.Geo.Country,
		Consent:         e.Consent,
		ConsentAt:       canonicalTime(e.ConsentAt),
		SignedAt:        canonicalTime(e.SignedAt),
		DocumentHash:    e.DocumentHash,
		DocumentVersion: e.DocumentVersion,
		AuthMethod:      e.AuthMethod,
		Metadata:        cloneMap(e.Metadata),
		CreatedAt:       canonicalTime(&e.CreatedAt),
	}
	body, err := canonicalMode.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode audit event: %w", err)
	}
	buf := make([]byte, 0, len(previousHash)+len(body))
	buf = append(buf, previousHash...)
	buf = append(buf, body...)
	return integrity.Sum(buf).String(), nil
}

// seal stamps the chain fields on e. The caller holds the per-request append
// lock and passes the hash and timestamp of the latest event for the request.
func seal(e *Event, lastHash string, lastCreatedAt time.Time) error {
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Microsecond)
	if e.CreatedAt.Before(lastCreatedAt) {
		e.CreatedAt = lastCreatedAt
	}
	if e.ConsentAt != nil {
		t := e.ConsentAt.UTC().Truncate(time.Microsecond)
		e.ConsentAt = &t
	}
	if e.SignedAt != nil {
		t := e.SignedAt.UTC().Truncate(time.Microsecond)
		e.SignedAt = &t
	}
	e.Details = cloneMap(e.Details)
	e.Metadata = cloneMap(e.Metadata)
	e.PreviousHash = lastHash

	h, err := ChainHash(lastHash, e)
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// VerifyChain checks that events, in sequence order for a single request,
// form an unbroken chain starting from an empty previous hash.
func VerifyChain(events []*Event) error {
	prev := ""
	for i, e := range events {
		if e.PreviousHash != prev {
			return fmt.Errorf("%w: event %d (%s) previous hash does not match", ErrChainBroken, i, e.ID)
		}
		h, err := ChainHash(prev, e)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return fmt.Errorf("%w: event %d (%s) content hash does not match", ErrChainBroken, i, e.ID)
		}
		prev = e.Hash
	}
	return nil
}
