// Package integrity computes and verifies content hashes for source and
// sealed documents.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Prefix identifies the algorithm in the string form of a Digest.
const Prefix = "sha256:"

var (
	// ErrHashMismatch is returned when content does not match an expected digest.
	ErrHashMismatch = errors.New("content hash mismatch")
	// ErrMalformedDigest is returned when a digest string cannot be parsed.
	ErrMalformedDigest = errors.New("malformed digest")
)

// Digest is a SHA-256 content hash.
type Digest [sha256.Size]byte

// Sum returns the digest of data.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// Hex returns the bare lowercase hex encoding.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String returns the prefixed form, e.g. "sha256:ab12...".
func (d Digest) String() string {
	return Prefix + d.Hex()
}

// Base64 returns the standard base64 encoding of the raw digest, the form
// object stores expect in checksum headers.
func (d Digest) Base64() string {
	return base64.StdEncoding.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Equal compares two digests in constant time.
func (d Digest) Equal(other Digest) bool {
	return subtle.ConstantTimeCompare(d[:], other[:]) == 1
}

// Parse accepts either the prefixed or the bare hex form.
func Parse(s string) (Digest, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), Prefix)
	if len(raw) != hex.EncodedLen(sha256.Size) {
		return Digest{}, fmt.Errorf("%w: %q", ErrMalformedDigest, s)
	}
	b, err := hex.DecodeString(strings.ToLower(raw))
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// Verify checks that data hashes to expected.
// expected may be in prefixed or bare hex form.
func Verify(data []byte, expected string) error {
	want, err := Parse(expected)
	if err != nil {
		return err
	}
	got := Sum(data)
	if !got.Equal(want) {
		return fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, got, want)
	}
	return nil
}
