package signing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/onnwee/esign/internal/audit"
	"github.com/onnwee/esign/internal/integrity"
)

const (
	// DefaultTokenTTL is how long an access link stays valid.
	DefaultTokenTTL = 30 * 24 * time.Hour
	// DefaultSessionIdle is how long a portal session survives without activity.
	DefaultSessionIdle = 30 * time.Minute

	tokenBytes = 32
)

// newOpaqueToken returns a URL-safe random token.
func newOpaqueToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken derives the stored lookup form of a raw token.
func HashToken(raw string) string {
	return integrity.Sum([]byte(raw)).Hex()
}

func tokenMatches(storedHash, raw string) bool {
	if storedHash == "" || raw == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashToken(raw))) == 1
}

// issueToken replaces the recipient's access token and drops any active
// session. The raw token is returned for delivery and never stored.
func issueToken(r *Recipient, now time.Time, ttl time.Duration) (string, error) {
	raw, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	r.TokenHash = HashToken(raw)
	r.TokenIssuedAt = timePtr(now)
	r.TokenExpiresAt = timePtr(now.Add(ttl))
	r.TokenRevokedAt = nil
	r.Session = nil
	return raw, nil
}

// revokeToken invalidates the access link and session. The hash is kept so
// a later visit reports revoked rather than not found.
func revokeToken(r *Recipient, now time.Time) {
	if r.TokenRevokedAt == nil && r.TokenHash != "" {
		r.TokenRevokedAt = timePtr(now)
	}
	r.Session = nil
}

// checkToken applies revocation and expiry rules to a recipient found by token.
func checkToken(r *Recipient, req *SignatureRequest, now time.Time) error {
	if r.TokenRevokedAt != nil || req.Status.IsTerminal() {
		return ErrTokenRevoked
	}
	if r.TokenExpiresAt == nil || !now.Before(*r.TokenExpiresAt) {
		return ErrTokenExpired
	}
	return nil
}

// openSession starts a new session, replacing any existing one.
func openSession(r *Recipient, client audit.ClientInfo, now time.Time) (string, error) {
	raw, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	device := client.Device
	if device == (audit.DeviceInfo{}) && client.UserAgent != "" {
		device = audit.ParseDevice(client.UserAgent)
	}
	r.Session = &Session{
		TokenHash:    HashToken(raw),
		StartedAt:    now,
		LastActiveAt: now,
		Device:       device,
		IPAddress:    client.IPAddress,
	}
	return raw, nil
}

// checkSession verifies the presented session token against the recipient's
// active session and the idle window.
func checkSession(r *Recipient, sessionToken string, now time.Time, idle time.Duration) error {
	if r.Session == nil || !tokenMatches(r.Session.TokenHash, sessionToken) {
		return ErrSessionInvalid
	}
	if now.Sub(r.Session.LastActiveAt) > idle {
		return ErrSessionInvalid
	}
	return nil
}
