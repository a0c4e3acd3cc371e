// Package auth issues and validates the tokens runtimes and producers present
// to the bridge API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidTokenKind = errors.New("invalid token kind")
	ErrMissingSecret    = errors.New("token secret is required")
)

// Kind says which side of the bridge a token belongs to.
type Kind string

const (
	// RuntimeKind tokens are held by runtimes that drain events.
	RuntimeKind Kind = "runtime"
	// ProducerKind tokens are held by native producers that enqueue events.
	ProducerKind Kind = "producer"
)

// ParseKind parses "runtime" or "producer".
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case RuntimeKind, ProducerKind:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTokenKind, s)
}

// Claims represents the JWT claims structure
type Claims struct {
	Kind Kind `json:"kind"`
	jwt.RegisteredClaims
}

// ClientID returns the runtime or producer id from the Subject claim
func (c *Claims) ClientID() string {
	return c.Subject
}

// TokenService handles JWT token generation and validation
type TokenService struct {
	secret string
	expiry time.Duration
	issuer string
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	Secret string
	Expiry time.Duration // Default: 24 hours
	Issuer string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 24 * time.Hour
	}
	return &TokenService{
		secret: cfg.Secret,
		expiry: cfg.Expiry,
		issuer: cfg.Issuer,
	}
}

// Generate issues a token of the given kind for subject.
func (s *TokenService) Generate(kind Kind, subject string) (string, error) {
	if s.secret == "" {
		return "", ErrMissingSecret
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secret))
}

// Validate checks the token's signature, expiry and issuer, and that it is of
// the expected kind.
func (s *TokenService) Validate(tokenString string, expected Kind) (*Claims, error) {
	if s.secret == "" {
		return nil, ErrMissingSecret
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Kind != expected {
		return nil, ErrInvalidTokenKind
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return claims, nil
}

// Expiry returns the token lifetime
func (s *TokenService) Expiry() time.Duration {
	return s.expiry
}
