package service

import (
	"context"
	"errors"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/repository"
	"github.com/utafrali/authcore/internal/token"
	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/logger"
)

// --- Passwords ---

// ForgotPassword starts a password reset. The response is the same whether
// or not the email belongs to an account.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (_ *Message, err error) {
	ctx, done := s.begin(ctx, "forgot_password")
	defer func() { done(err) }()

	reply := &Message{Message: msgForgotPassword}

	account, err := s.store.FindByEmail(ctx, identity.NormalizeEmail(email))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return reply, nil
		}
		return nil, storeError("find account by email", err)
	}

	// Failures past this point only happen for existing accounts and must not
	// change the response.
	accountID := account.ID
	resetToken, err := randomToken()
	if err == nil {
		account, err = s.store.UpdatePasswordResetToken(ctx, accountID, resetToken, s.now().Add(s.cfg.PasswordResetTokenTTL))
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store password reset token",
			logger.AccountID(accountID),
			logger.Err(err),
		)
		return reply, nil
	}

	s.sendPasswordReset(ctx, account, resetToken)
	s.logger.InfoContext(ctx, "password reset requested", logger.AccountID(account.ID))
	return reply, nil
}

// ResetPassword sets a new password using a reset token. Existing sessions
// are revoked.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) (_ *Message, err error) {
	ctx, done := s.begin(ctx, "reset_password")
	defer func() { done(err) }()

	if resetToken == "" {
		return nil, apperrors.BadRequest(msgInvalidReset)
	}

	account, err := s.store.FindByPasswordResetToken(ctx, resetToken)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.BadRequest(msgInvalidReset)
		}
		return nil, storeError("find account by reset token", err)
	}
	if !account.ResetValid(resetToken, s.now()) {
		return nil, apperrors.BadRequest(msgInvalidReset)
	}

	digest, err := s.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.UpdatePassword(ctx, account.ID, digest); err != nil {
		return nil, storeError("update password", err)
	}
	s.revokeSessions(ctx, account.ID)

	s.logger.InfoContext(ctx, "password reset", logger.AccountID(account.ID))
	return &Message{Message: "password reset successfully"}, nil
}

// ChangePassword replaces the password of an authenticated account after
// checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) (_ *Message, err error) {
	ctx, done := s.begin(ctx, "change_password")
	defer func() { done(err) }()

	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, repository.AccountNotFound(accountID)
		}
		return nil, storeError("find account by id", err)
	}

	if !s.hasher.Verify(account.PasswordHash, currentPassword) {
		return nil, apperrors.Unauthorized("current password is incorrect")
	}

	digest, err := s.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.UpdatePassword(ctx, account.ID, digest); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, repository.AccountNotFound(accountID)
		}
		return nil, storeError("update password", err)
	}
	s.revokeSessions(ctx, account.ID)

	s.logger.InfoContext(ctx, "password changed", logger.AccountID(account.ID))
	return &Message{Message: "password changed successfully"}, nil
}

// --- Profile and preferences ---

// UpdateProfile applies a partial update to the caller's profile.
func (s *AuthService) UpdateProfile(ctx context.Context, accountID string, in UpdateProfileInput) (_ *identity.User, err error) {
	ctx, done := s.begin(ctx, "update_profile")
	defer func() { done(err) }()

	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, repository.AccountNotFound(accountID)
		}
		return nil, storeError("find account by id", err)
	}

	if in.Username != nil && (account.Username == nil || *account.Username != *in.Username) {
		owner, err := s.store.FindByUsername(ctx, *in.Username)
		switch {
		case err == nil && owner.ID != account.ID:
			return nil, apperrors.Conflict(msgUsernameTaken)
		case err != nil && !apperrors.IsNotFound(err):
			return nil, storeError("find account by username", err)
		}
	}

	update := domain.ProfileUpdate{
		Username:        in.Username,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Avatar:          in.Avatar,
		NewsletterOptIn: in.NewsletterOptIn,
	}
	if update.Empty() {
		user := identity.FromAccount(account)
		return &user, nil
	}

	account, err = s.store.UpdateProfile(ctx, accountID, update)
	switch {
	case errors.Is(err, repository.ErrUsernameTaken):
		return nil, apperrors.Conflict(msgUsernameTaken)
	case apperrors.IsNotFound(err):
		return nil, repository.AccountNotFound(accountID)
	case err != nil:
		return nil, storeError("update profile", err)
	}

	s.logger.InfoContext(ctx, "profile updated", logger.AccountID(accountID))
	user := identity.FromAccount(account)
	return &user, nil
}

// IssueUnsubscribeToken creates the one-click unsubscribe token embedded in
// newsletter emails.
func (s *AuthService) IssueUnsubscribeToken(ctx context.Context, email string) (_ string, err error) {
	_, done := s.begin(ctx, "issue_unsubscribe_token")
	defer func() { done(err) }()

	email = identity.NormalizeEmail(email)
	if email == "" {
		return "", apperrors.InvalidInput("email is required")
	}
	tok, err := s.signer.IssuePurpose(email, PurposeNewsletterUnsubscribe, s.cfg.UnsubscribeTokenTTL)
	if err != nil {
		return "", apperrors.Internal(err)
	}
	return tok, nil
}

// UnsubscribeNewsletter opts the email embedded in an unsubscribe token out
// of the newsletter. Repeating it is harmless.
func (s *AuthService) UnsubscribeNewsletter(ctx context.Context, unsubscribeToken string) (err error) {
	ctx, done := s.begin(ctx, "unsubscribe_newsletter")
	defer func() { done(err) }()

	claims, err := s.signer.Verify(unsubscribeToken, token.Purpose)
	if err != nil || claims.Purpose != PurposeNewsletterUnsubscribe || claims.Email == "" {
		return apperrors.BadRequest(msgInvalidUnsubscribe)
	}

	account, err := s.store.UpdateNewsletterPreference(ctx, claims.Email, false)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.BadRequest(msgInvalidUnsubscribe)
		}
		return storeError("update newsletter preference", err)
	}

	s.logger.InfoContext(ctx, "newsletter unsubscribed", logger.AccountID(account.ID))
	return nil
}
