// Package token issues and verifies HS256 JWTs under three signing contexts:
// access, refresh and purpose.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification errors. Every failure of Verify is one of these.
var (
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformedToken   = errors.New("token malformed")
)

// Context selects the secret and default TTL used to sign a token.
type Context int

const (
	Access Context = iota
	Refresh
	// Purpose tokens are signed with the access secret. The signer does not
	// check the purpose claim; consumers must.
	Purpose
)

func (c Context) String() string {
	switch c {
	case Access:
		return "access"
	case Refresh:
		return "refresh"
	case Purpose:
		return "purpose"
	default:
		return fmt.Sprintf("context(%d)", int(c))
	}
}

const issuer = "authcore"

// Claims are the claims carried by every token. Access and refresh tokens use
// Subject and Role; purpose tokens use Email and Purpose.
type Claims struct {
	Role    string `json:"role,omitempty"`
	Email   string `json:"email,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Config holds the secrets and default lifetimes.
type Config struct {
	AccessSecret  string
	AccessTTL     time.Duration
	RefreshSecret string
	RefreshTTL    time.Duration
}

// Signer issues and verifies tokens.
type Signer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the wall clock used for iat, exp and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner creates a Signer. Both secrets are required.
func NewSigner(cfg Config, opts ...Option) (*Signer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	s := &Signer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = 15 * time.Minute
	}
	if s.refreshTTL <= 0 {
		s.refreshTTL = 7 * 24 * time.Hour
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) secret(c Context) ([]byte, error) {
	switch c {
	case Access, Purpose:
		return s.accessSecret, nil
	case Refresh:
		return s.refreshSecret, nil
	default:
		return nil, fmt.Errorf("unknown signing context %s", c)
	}
}

func (s *Signer) defaultTTL(c Context) time.Duration {
	switch c {
	case Refresh:
		return s.refreshTTL
	case Access:
		return s.accessTTL
	default:
		return 0
	}
}

// Issue signs claims under c. A ttl of zero or less uses the context default;
// purpose tokens have no default and require a positive ttl. IssuedAt,
// ExpiresAt, Issuer and ID are always set by the signer.
func (s *Signer) Issue(claims Claims, ttl time.Duration, c Context) (string, error) {
	key, err := s.secret(c)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL(c)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("issue %s token: ttl required", c)
	}

	now := s.now().UTC()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.Issuer = issuer
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", c, err)
	}
	return signed, nil
}

// Verify parses tokenString under c and returns its claims.
func (s *Signer) Verify(tokenString string, c Context) (*Claims, error) {
	key, err := s.secret(c)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}

// Pair is an access token and a refresh token issued together.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// IssuePair issues an access and a refresh token for subject. A positive
// accessTTL overrides the access default.
func (s *Signer) IssuePair(subject, role string, accessTTL time.Duration) (*Pair, error) {
	access, err := s.Issue(Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, accessTTL, Access)
	if err != nil {
		return nil, err
	}
	refresh, err := s.Issue(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, 0, Refresh)
	if err != nil {
		return nil, err
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssuePurpose issues a purpose token for email.
func (s *Signer) IssuePurpose(email, purpose string, ttl time.Duration) (string, error) {
	return s.Issue(Claims{Email: email, Purpose: purpose}, ttl, Purpose)
}
