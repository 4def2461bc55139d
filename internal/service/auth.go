package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/repository"
	"github.com/utafrali/authcore/internal/token"
	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/logger"
)

// --- Signup and email verification ---

// Register creates an unverified local account and sends a verification
// email. No tokens are issued until the email is verified.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (_ *identity.User, err error) {
	ctx, done := s.begin(ctx, "register")
	defer func() { done(err) }()

	in.Email = identity.NormalizeEmail(in.Email)
	if in.Email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}

	if _, err := s.store.FindByEmail(ctx, in.Email); err == nil {
		return nil, apperrors.Conflict(msgEmailRegistered)
	} else if !apperrors.IsNotFound(err) {
		return nil, storeError("find account by email", err)
	}

	if in.Username != "" {
		if _, err := s.store.FindByUsername(ctx, in.Username); err == nil {
			return nil, apperrors.Conflict(msgUsernameTaken)
		} else if !apperrors.IsNotFound(err) {
			return nil, storeError("find account by username", err)
		}
	}

	if !s.captcha.Verify(ctx, in.ChallengeToken) {
		return nil, apperrors.BadRequest("invalid challenge")
	}
	if !in.TermsAccepted {
		return nil, apperrors.BadRequest(msgTermsRequired)
	}

	digest, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	verificationToken, err := randomToken()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := s.now()
	draft := identity.DraftFromSignup(identity.SignupInput{
		Email:           in.Email,
		Username:        in.Username,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Avatar:          in.Avatar,
		NewsletterOptIn: in.NewsletterOptIn,
	}, digest, verificationToken, now.Add(s.cfg.VerificationTokenTTL), now)

	account, err := s.store.Create(ctx, draft)
	switch {
	case errors.Is(err, repository.ErrEmailTaken):
		return nil, apperrors.Conflict(msgEmailRegistered)
	case errors.Is(err, repository.ErrUsernameTaken):
		return nil, apperrors.Conflict(msgUsernameTaken)
	case err != nil:
		return nil, storeError("create account", err)
	}

	s.sendVerification(ctx, account, verificationToken)

	s.logger.InfoContext(ctx, "account registered",
		logger.AccountID(account.ID),
	)

	user := identity.FromAccount(account)
	return &user, nil
}

// VerifyEmail consumes a verification token. Presenting a token that already
// verified its account succeeds again without changing anything.
func (s *AuthService) VerifyEmail(ctx context.Context, verificationToken string) (_ *Message, err error) {
	ctx, done := s.begin(ctx, "verify_email")
	defer func() { done(err) }()

	if verificationToken == "" {
		return nil, apperrors.BadRequest(msgInvalidVerification)
	}

	account, err := s.store.FindByVerificationToken(ctx, verificationToken)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.BadRequest(msgInvalidVerification)
		}
		return nil, storeError("find account by verification token", err)
	}

	if account.EmailVerified {
		return &Message{Message: "email already verified"}, nil
	}
	if !account.VerificationValid(verificationToken, s.now()) {
		return nil, apperrors.BadRequest(msgInvalidVerification)
	}

	if _, err := s.store.MarkEmailVerified(ctx, account.ID); err != nil {
		return nil, storeError("mark email verified", err)
	}

	s.logger.InfoContext(ctx, "email verified", logger.AccountID(account.ID))
	return &Message{Message: "email verified successfully"}, nil
}

// ResendVerification rotates the verification token of an unverified account
// and sends it again.
func (s *AuthService) ResendVerification(ctx context.Context, email string) (_ *Message, err error) {
	ctx, done := s.begin(ctx, "resend_verification")
	defer func() { done(err) }()

	account, err := s.store.FindByEmail(ctx, identity.NormalizeEmail(email))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Unauthorized("user not found")
		}
		return nil, storeError("find account by email", err)
	}
	if account.EmailVerified {
		return nil, apperrors.BadRequest("email already verified")
	}

	verificationToken, err := randomToken()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	account, err = s.store.UpdateVerificationToken(ctx, account.ID, verificationToken, s.now().Add(s.cfg.VerificationTokenTTL))
	if err != nil {
		return nil, storeError("update verification token", err)
	}

	s.sendVerification(ctx, account, verificationToken)
	return &Message{Message: "verification email sent"}, nil
}

// --- Signin and sessions ---

// Login authenticates a local account by email and password.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (_ *Session, err error) {
	ctx, done := s.begin(ctx, "login")
	defer func() { done(err) }()

	account, err := s.store.FindByEmail(ctx, identity.NormalizeEmail(in.Email))
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.burnVerify(in.Password)
			return nil, apperrors.Unauthorized(msgInvalidCredentials)
		}
		return nil, storeError("find account by email", err)
	}

	if !s.hasher.Verify(account.PasswordHash, in.Password) {
		return nil, apperrors.Unauthorized(msgInvalidCredentials)
	}
	if !account.EmailVerified {
		return nil, apperrors.Unauthorized(msgEmailNotVerified)
	}

	// UpdatePassword clears the reset pair; leave digests of accounts with a
	// pending reset alone.
	if s.hasher.NeedsRehash(account.PasswordHash) && account.PasswordResetToken == nil {
		s.upgradeDigest(ctx, account.ID, in.Password)
	}

	session, err := s.startSession(ctx, account, s.accessTTL(account))
	if err != nil {
		return nil, err
	}
	session.NeedsTermsAcceptance = !account.TermsAccepted

	s.logger.InfoContext(ctx, "account signed in", logger.AccountID(account.ID))
	return session, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token must
// be the one most recently bound to the account.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (_ *Session, err error) {
	ctx, done := s.begin(ctx, "refresh")
	defer func() { done(err) }()

	if refreshToken == "" {
		return nil, apperrors.Unauthorized("refresh token required")
	}

	claims, err := s.signer.Verify(refreshToken, token.Refresh)
	if err != nil || claims.Subject == "" {
		return nil, apperrors.Unauthorized(msgInvalidRefresh)
	}

	account, err := s.store.FindByID(ctx, claims.Subject)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Unauthorized(msgInvalidRefresh)
		}
		return nil, storeError("find account by id", err)
	}
	if account.HashedRefreshToken == nil || !s.hasher.Verify(*account.HashedRefreshToken, refreshToken) {
		return nil, apperrors.Unauthorized(msgInvalidRefresh)
	}

	session, err := s.startSession(ctx, account, s.accessTTL(account))
	if err != nil {
		return nil, err
	}
	session.NeedsTermsAcceptance = !account.TermsAccepted
	return session, nil
}

// SignOut revokes the stored refresh token. Access tokens already issued stay
// valid until they expire.
func (s *AuthService) SignOut(ctx context.Context, accountID string) (err error) {
	ctx, done := s.begin(ctx, "sign_out")
	defer func() { done(err) }()

	if _, err := s.store.UpdateHashedRefreshToken(ctx, accountID, nil); err != nil {
		if apperrors.IsNotFound(err) {
			return repository.AccountNotFound(accountID)
		}
		return storeError("clear refresh token", err)
	}

	s.logger.InfoContext(ctx, "account signed out", logger.AccountID(accountID))
	return nil
}

// CurrentUser loads the account behind an authenticated request.
func (s *AuthService) CurrentUser(ctx context.Context, accountID string) (_ *identity.User, err error) {
	ctx, done := s.begin(ctx, "current_user")
	defer func() { done(err) }()

	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.Unauthorized("user not found")
		}
		return nil, storeError("find account by id", err)
	}
	user := identity.FromAccount(account)
	return &user, nil
}

// Authenticate validates an access token for the HTTP middleware.
func (s *AuthService) Authenticate(_ context.Context, accessToken string) (*Principal, error) {
	claims, err := s.signer.Verify(accessToken, token.Access)
	if err != nil {
		if errors.Is(err, token.ErrExpiredToken) {
			return nil, apperrors.Unauthorized("token expired")
		}
		return nil, apperrors.Unauthorized("invalid token")
	}
	// Purpose tokens share the access secret but carry no subject.
	if claims.Purpose != "" || claims.Subject == "" {
		return nil, apperrors.Unauthorized("invalid token")
	}
	if !domain.IsValidRole(claims.Role) {
		return nil, apperrors.Unauthorized("invalid token")
	}
	return &Principal{AccountID: claims.Subject, Role: claims.Role}, nil
}

// --- helpers ---

func (s *AuthService) accessTTL(account *domain.Account) time.Duration {
	if !account.TermsAccepted {
		return s.cfg.PendingTermsAccessTTL
	}
	return 0
}

// startSession issues a token pair and binds the refresh token digest to the
// account, replacing any previous one.
func (s *AuthService) startSession(ctx context.Context, account *domain.Account, accessTTL time.Duration) (*Session, error) {
	pair, err := s.signer.IssuePair(account.ID, string(account.Role), accessTTL)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("issue token pair: %w", err))
	}

	digest, err := s.hasher.Hash(pair.RefreshToken)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("hash refresh token: %w", err))
	}
	account, err = s.store.UpdateHashedRefreshToken(ctx, account.ID, &digest)
	if err != nil {
		return nil, storeError("store refresh token", err)
	}

	return &Session{
		User:         identity.FromAccount(account),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

func (s *AuthService) upgradeDigest(ctx context.Context, accountID, password string) {
	digest, err := s.hasher.Hash(password)
	if err == nil {
		_, err = s.store.UpdatePassword(ctx, accountID, digest)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade password digest",
			logger.AccountID(accountID),
			logger.Err(err),
		)
		return
	}
	s.logger.InfoContext(ctx, "password digest upgraded", logger.AccountID(accountID))
}

// revokeSessions clears the refresh token after a password change. Failure is
// logged; the password change itself already succeeded.
func (s *AuthService) revokeSessions(ctx context.Context, accountID string) {
	if _, err := s.store.UpdateHashedRefreshToken(ctx, accountID, nil); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke sessions",
			logger.AccountID(accountID),
			logger.Err(err),
		)
	}
}

func (s *AuthService) sendVerification(ctx context.Context, account *domain.Account, verificationToken string) {
	email, name := account.Email, account.DisplayName()
	s.dispatch(ctx, "verification", account.ID, func(ctx context.Context) error {
		return s.notifier.SendVerificationEmail(ctx, email, verificationToken, name)
	})
}

func (s *AuthService) sendPasswordReset(ctx context.Context, account *domain.Account, resetToken string) {
	email, name := account.Email, account.DisplayName()
	s.dispatch(ctx, "password_reset", account.ID, func(ctx context.Context) error {
		return s.notifier.SendPasswordResetEmail(ctx, email, resetToken, name)
	})
}
