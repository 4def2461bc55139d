package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/repository"
	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/logger"
)

// ValidateOAuth resolves a provider profile to an account, creating one on
// first sight. Provider emails are attested, so an existing unverified account
// becomes verified. Its terms flag is left as it is.
func (s *AuthService) ValidateOAuth(ctx context.Context, profile identity.Profile) (_ *OAuthResult, err error) {
	ctx, done := s.begin(ctx, "validate_oauth")
	defer func() { done(err) }()

	account, isNew, err := s.resolveOAuth(ctx, profile)
	if err != nil {
		return nil, err
	}
	return &OAuthResult{
		Account:              identity.FromAccount(account),
		IsNewUser:            isNew,
		NeedsTermsAcceptance: !account.TermsAccepted,
	}, nil
}

// LoginOAuth resolves the profile and starts a session. While terms are
// pending the access token is short-lived and the session is flagged.
func (s *AuthService) LoginOAuth(ctx context.Context, profile identity.Profile) (_ *Session, err error) {
	ctx, done := s.begin(ctx, "login_oauth")
	defer func() { done(err) }()

	account, _, err := s.resolveOAuth(ctx, profile)
	if err != nil {
		return nil, err
	}

	session, err := s.startSession(ctx, account, s.accessTTL(account))
	if err != nil {
		return nil, err
	}
	session.NeedsTermsAcceptance = !account.TermsAccepted

	s.logger.InfoContext(ctx, "account signed in with oauth",
		logger.AccountID(account.ID),
		slog.Bool("needs_terms_acceptance", session.NeedsTermsAcceptance),
	)
	return session, nil
}

// AcceptOAuthTerms records the terms acceptance of an OAuth account. Tokens
// are not re-issued.
func (s *AuthService) AcceptOAuthTerms(ctx context.Context, accountID string, termsAccepted, newsletterOptIn bool) (_ *Message, err error) {
	ctx, done := s.begin(ctx, "accept_oauth_terms")
	defer func() { done(err) }()

	if !termsAccepted {
		return nil, apperrors.BadRequest(msgTermsRequired)
	}

	if _, err := s.store.UpdateTermsAcceptance(ctx, accountID, true, newsletterOptIn); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, repository.AccountNotFound(accountID)
		}
		return nil, storeError("update terms acceptance", err)
	}

	s.logger.InfoContext(ctx, "terms accepted",
		logger.AccountID(accountID),
		slog.Bool("newsletter_opt_in", newsletterOptIn),
	)
	return &Message{Message: "terms accepted successfully"}, nil
}

func (s *AuthService) resolveOAuth(ctx context.Context, profile identity.Profile) (*domain.Account, bool, error) {
	if err := profile.Validate(); err != nil {
		return nil, false, err
	}
	email := identity.NormalizeEmail(profile.Email)

	account, err := s.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if !account.EmailVerified {
			account, err = s.store.MarkEmailVerified(ctx, account.ID)
			if err != nil {
				return nil, false, storeError("mark email verified", err)
			}
		}
		return account, false, nil
	case !apperrors.IsNotFound(err):
		return nil, false, storeError("find account by email", err)
	}

	secret, err := randomToken()
	if err != nil {
		return nil, false, apperrors.Internal(err)
	}
	digest, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, false, apperrors.Internal(fmt.Errorf("hash unusable password: %w", err))
	}
	draft, err := identity.DraftFromOAuth(profile, digest)
	if err != nil {
		return nil, false, err
	}

	account, err = s.store.Create(ctx, draft)
	if errors.Is(err, repository.ErrUsernameTaken) {
		draft.Username = &draft.Email
		account, err = s.store.Create(ctx, draft)
	}
	switch {
	case errors.Is(err, repository.ErrEmailTaken):
		// Concurrent first login with the same profile.
		account, err = s.store.FindByEmail(ctx, email)
		if err != nil {
			return nil, false, storeError("find account by email", err)
		}
		return account, false, nil
	case errors.Is(err, repository.ErrUsernameTaken):
		return nil, false, apperrors.Conflict(msgUsernameTaken)
	case err != nil:
		return nil, false, storeError("create oauth account", err)
	}

	s.logger.InfoContext(ctx, "account created from oauth profile", logger.AccountID(account.ID))
	return account, true, nil
}
