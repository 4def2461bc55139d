package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/utafrali/authcore/internal/captcha"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/notifier"
	"github.com/utafrali/authcore/internal/repository"
	"github.com/utafrali/authcore/internal/token"
	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/logger"
)

const (
	// PurposeNewsletterUnsubscribe is the purpose claim of unsubscribe links.
	PurposeNewsletterUnsubscribe = "newsletter-unsubscribe"

	tokenLength   = 32
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Caller-facing messages shared by several operations.
const (
	msgInvalidVerification = "invalid or expired verification token"
	msgInvalidReset        = "invalid or expired reset token"
	msgInvalidCredentials  = "invalid credentials"
	msgEmailNotVerified    = "email not verified"
	msgInvalidRefresh      = "invalid or expired refresh token"
	msgInvalidUnsubscribe  = "invalid or expired unsubscribe link"
	msgTermsRequired       = "terms and privacy policy must be accepted"
	msgEmailRegistered     = "email already registered"
	msgUsernameTaken       = "username already taken"
	msgForgotPassword      = "If your email exists in our system, you will receive a password reset link."
)

// SecretHasher produces and checks one-way digests of passwords and refresh
// tokens.
type SecretHasher interface {
	Hash(plaintext string) (string, error)
	Verify(digest, plaintext string) bool
	NeedsRehash(digest string) bool
}

// TokenSigner issues and verifies signed tokens.
type TokenSigner interface {
	IssuePair(subject, role string, accessTTL time.Duration) (*token.Pair, error)
	IssuePurpose(email, purpose string, ttl time.Duration) (string, error)
	Verify(tokenString string, c token.Context) (*token.Claims, error)
}

// Config holds the lifetimes used by the lifecycle operations.
type Config struct {
	VerificationTokenTTL  time.Duration
	PasswordResetTokenTTL time.Duration
	// PendingTermsAccessTTL is the access token lifetime handed to OAuth
	// accounts that still have to accept the terms.
	PendingTermsAccessTTL time.Duration
	UnsubscribeTokenTTL   time.Duration
	NotifyTimeout         time.Duration
}

// DefaultConfig returns the production lifetimes.
func DefaultConfig() Config {
	return Config{
		VerificationTokenTTL:  24 * time.Hour,
		PasswordResetTokenTTL: time.Hour,
		PendingTermsAccessTTL: 10 * time.Minute,
		UnsubscribeTokenTTL:   30 * 24 * time.Hour,
		NotifyTimeout:         15 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.VerificationTokenTTL <= 0 {
		c.VerificationTokenTTL = d.VerificationTokenTTL
	}
	if c.PasswordResetTokenTTL <= 0 {
		c.PasswordResetTokenTTL = d.PasswordResetTokenTTL
	}
	if c.PendingTermsAccessTTL <= 0 {
		c.PendingTermsAccessTTL = d.PendingTermsAccessTTL
	}
	if c.UnsubscribeTokenTTL <= 0 {
		c.UnsubscribeTokenTTL = d.UnsubscribeTokenTTL
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = d.NotifyTimeout
	}
	return c
}

// Deps bundles the collaborators of AuthService.
type Deps struct {
	Store    repository.AccountStore
	Hasher   SecretHasher
	Signer   TokenSigner
	Notifier notifier.Notifier
	Captcha  captcha.Verifier
	Logger   *slog.Logger
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithClock overrides the wall clock used for token expiries.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

// AuthService implements the account and session lifecycle.
type AuthService struct {
	store    repository.AccountStore
	hasher   SecretHasher
	signer   TokenSigner
	notifier notifier.Notifier
	captcha  captcha.Verifier
	logger   *slog.Logger
	metrics  *Metrics
	cfg      Config
	now      func() time.Time

	pending sync.WaitGroup

	dummyOnce   sync.Once
	dummyDigest string
}

// NewAuthService creates the lifecycle service.
func NewAuthService(cfg Config, deps Deps, opts ...Option) (*AuthService, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("service: account store is required")
	case deps.Hasher == nil:
		return nil, errors.New("service: hasher is required")
	case deps.Signer == nil:
		return nil, errors.New("service: token signer is required")
	case deps.Notifier == nil:
		return nil, errors.New("service: notifier is required")
	}
	if deps.Captcha == nil {
		deps.Captcha = captcha.Disabled{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}

	s := &AuthService{
		store:    deps.Store,
		hasher:   deps.Hasher,
		signer:   deps.Signer,
		notifier: deps.Notifier,
		captcha:  deps.Captcha,
		logger:   deps.Logger,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Wait blocks until every in-flight notification has finished.
func (s *AuthService) Wait() {
	s.pending.Wait()
}

// --- Input/Output types ---

// RegisterInput holds the parameters of a local signup.
type RegisterInput struct {
	Email           string
	Username        string
	Password        string
	FirstName       string
	LastName        string
	Avatar          string
	TermsAccepted   bool
	NewsletterOptIn bool
	ChallengeToken  string
}

// LoginInput holds the parameters of a local signin.
type LoginInput struct {
	Email    string
	Password string
}

// UpdateProfileInput holds a partial profile update. Nil fields are left
// unchanged.
type UpdateProfileInput struct {
	Username        *string
	FirstName       *string
	LastName        *string
	Avatar          *string
	NewsletterOptIn *bool
}

// Session is the signin payload: the account view plus a token pair.
type Session struct {
	identity.User
	AccessToken          string `json:"accessToken"`
	RefreshToken         string `json:"refreshToken"`
	NeedsTermsAcceptance bool   `json:"needsTermsAcceptance,omitempty"`
}

// Message is a plain acknowledgement.
type Message struct {
	Message string `json:"message"`
}

// OAuthResult is the outcome of validating an OAuth profile.
type OAuthResult struct {
	Account              identity.User
	IsNewUser            bool
	NeedsTermsAcceptance bool
}

// Principal is the authenticated subject of an access token.
type Principal struct {
	AccountID string
	Role      string
}

// --- helpers ---

// randomToken returns a 32 character alphanumeric token.
func randomToken() (string, error) {
	limit := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, tokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}

// hashPassword maps an empty password to an input error.
func (s *AuthService) hashPassword(plaintext string) (string, error) {
	if plaintext == "" {
		return "", apperrors.InvalidInput("password is required")
	}
	digest, err := s.hasher.Hash(plaintext)
	if err != nil {
		return "", apperrors.Internal(fmt.Errorf("hash password: %w", err))
	}
	return digest, nil
}

// burnVerify spends the same work as a real password check so unknown emails
// are not distinguishable by latency.
func (s *AuthService) burnVerify(plaintext string) {
	s.dummyOnce.Do(func() {
		if d, err := s.hasher.Hash("authcore-dummy-secret"); err == nil {
			s.dummyDigest = d
		}
	})
	if s.dummyDigest != "" {
		s.hasher.Verify(s.dummyDigest, plaintext)
	}
}

// storeError converts an unexpected store failure into an internal error.
func storeError(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status < 500 {
		return err
	}
	return apperrors.Internal(fmt.Errorf("%s: %w", op, err))
}

// dispatch runs fn after the caller's request has been answered. The request
// context's values are kept but its cancellation is not.
func (s *AuthService) dispatch(ctx context.Context, kind, accountID string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.metrics.notification(kind, false)
			s.logger.ErrorContext(ctx, "failed to send notification",
				slog.String("kind", kind),
				logger.AccountID(accountID),
				logger.Err(err),
			)
			return
		}
		s.metrics.notification(kind, true)
	}()
}
