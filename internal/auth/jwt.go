// Package auth issues and validates the bearer tokens that authenticate
// staff members against the internal signing API.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the role claim.
const (
	RoleStaff  = "staff"
	RoleViewer = "viewer"
)

// StaffTokenExpiry is the lifetime of a staff session token.
const StaffTokenExpiry = 8 * time.Hour

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// Issuer is stamped on every token this service signs.
const Issuer = "esign"

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptySubject is returned when the staff identifier is empty.
var ErrEmptySubject = errors.New("subject cannot be empty")

// ErrUnknownRole is returned when generating a token for an unsupported role.
var ErrUnknownRole = errors.New("unknown role")

// Claims represents the JWT claims for a staff member.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// IsStaff reports whether the claims grant mutating access to signing requests.
func (c *Claims) IsStaff() bool {
	return c.Role == RoleStaff
}

// JWTService handles JWT token operations.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	now            func() time.Time
}

// NewJWTService creates a JWTService. previousSecret may be empty when no
// rotation is in progress.
func NewJWTService(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// WithLeeway returns a copy of the service using the given validation leeway.
func (s *JWTService) WithLeeway(leeway time.Duration) *JWTService {
	c := *s
	c.leeway = leeway
	return &c
}

// GenerateStaffToken signs a token for a staff member.
func (s *JWTService) GenerateStaffToken(subject, email, role string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if role != RoleStaff && role != RoleViewer {
		return "", ErrUnknownRole
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(StaffTokenExpiry)),
		},
		Email: email,
		Role:  role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates a JWT token, returning the claims if valid.
// Tries currentSecret first, then previousSecret if available.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err == nil {
		return claims, nil
	}

	if s.previousSecret != nil {
		if prev, prevErr := s.parse(tokenString, s.previousSecret); prevErr == nil {
			return prev, nil
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	},
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
