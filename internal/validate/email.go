package validate

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrInvalidEmail = errors.New("invalid email format")
	// ErrDisplayName is returned for "Name <address>" input. The recipient
	// name is a separate field and the address ends up in mail headers.
	ErrDisplayName = errors.New("email must be a bare address without a display name")
)

// RFC 5321 limits.
const (
	maxEmailLength = 254
	maxLocalLength = 64
	maxDomainLabel = 63
)

var (
	localPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+$`)
	labelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]*[a-z0-9])?$`)
)

// RecipientEmail validates the address an invitation is sent to and returns
// it trimmed and lowercased, the form recipients are compared in.
func RecipientEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrEmpty
	}
	if strings.ContainsAny(email, "<>\"") {
		return "", ErrDisplayName
	}
	// CR, LF and other controls would split the To: header.
	if strings.IndexFunc(email, func(r rune) bool { return r < 0x20 || r == 0x7f }) != -1 {
		return "", ErrInvalidCharacters
	}
	if len(email) > maxEmailLength {
		return "", ErrStringTooLong
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "", ErrInvalidEmail
	}
	if len(local) > maxLocalLength {
		return "", ErrStringTooLong
	}
	if !validLocal(local) || !validDomain(domain) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func validLocal(local string) bool {
	if !localPattern.MatchString(local) {
		return false
	}
	return !strings.HasPrefix(local, ".") && !strings.HasSuffix(local, ".") && !strings.Contains(local, "..")
}

// validDomain requires at least two labels and an alphabetic TLD.
func validDomain(domain string) bool {
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if len(l) > maxDomainLabel || !labelPattern.MatchString(l) {
			return false
		}
	}
	tld := labels[len(labels)-1]
	return len(tld) >= 2 && strings.Trim(tld, "abcdefghijklmnopqrstuvwxyz") == ""
}
