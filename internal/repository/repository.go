package repository

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/utafrali/authcore/pkg/errors"

	"github.com/utafrali/authcore/internal/domain"
)

// Unique-field collisions. Both wrap apperrors.ErrAlreadyExists.
var (
	ErrEmailTaken    = fmt.Errorf("email: %w", apperrors.ErrAlreadyExists)
	ErrUsernameTaken = fmt.Errorf("username: %w", apperrors.ErrAlreadyExists)
)

// EmailTaken is returned by Create when the email is already registered.
func EmailTaken(email string) error {
	e := apperrors.AlreadyExists("account", "email", email)
	e.Err = ErrEmailTaken
	return e
}

// UsernameTaken is returned by Create and UpdateProfile when the username
// belongs to another account.
func UsernameTaken(username string) error {
	e := apperrors.AlreadyExists("account", "username", username)
	e.Err = ErrUsernameTaken
	return e
}

// AccountNotFound is returned by mutations addressed to a missing account.
func AccountNotFound(key string) error {
	return apperrors.NotFound("account", key)
}

// AccountStore defines the persistence operations the lifecycle service
// needs. Lookups return apperrors.ErrNotFound when nothing matches. Every
// mutation is a single atomic statement returning the updated account.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByUsername(ctx context.Context, username string) (*domain.Account, error)
	FindByID(ctx context.Context, id string) (*domain.Account, error)

	// FindByVerificationToken matches both pending and already consumed
	// verification tokens.
	FindByVerificationToken(ctx context.Context, token string) (*domain.Account, error)
	FindByPasswordResetToken(ctx context.Context, token string) (*domain.Account, error)

	// Create inserts a new account. Email and username uniqueness is enforced
	// atomically: concurrent duplicates yield exactly one success.
	Create(ctx context.Context, draft domain.AccountDraft) (*domain.Account, error)

	// UpdateHashedRefreshToken binds (or with nil, clears) the refresh token
	// digest. Last writer wins.
	UpdateHashedRefreshToken(ctx context.Context, id string, digest *string) (*domain.Account, error)

	// UpdatePassword stores a new digest and clears any pending reset token.
	UpdatePassword(ctx context.Context, id, digest string) (*domain.Account, error)

	UpdateVerificationToken(ctx context.Context, id, token string, expiry time.Time) (*domain.Account, error)

	// MarkEmailVerified sets emailVerified, clears the pending verification
	// pair and records it as consumed.
	MarkEmailVerified(ctx context.Context, id string) (*domain.Account, error)

	UpdatePasswordResetToken(ctx context.Context, id, token string, expiry time.Time) (*domain.Account, error)
	UpdateProfile(ctx context.Context, id string, update domain.ProfileUpdate) (*domain.Account, error)
	UpdateTermsAcceptance(ctx context.Context, id string, accepted, newsletterOptIn bool) (*domain.Account, error)
	UpdateNewsletterPreference(ctx context.Context, email string, optIn bool) (*domain.Account, error)
}
