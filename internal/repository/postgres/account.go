package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/authcore/pkg/database"
	apperrors "github.com/utafrali/authcore/pkg/errors"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/repository"
)

const accountColumns = `id, email, username, first_name, last_name, password_hash, role, avatar,
	email_verified, verification_token, verification_token_expiry, consumed_verification_token,
	password_reset_token, password_reset_token_expiry, hashed_refresh_token,
	terms_accepted, terms_accepted_at, newsletter_opt_in, created_at, updated_at`

// Unique index names from the accounts migration.
const (
	emailConstraint    = "accounts_email_key"
	usernameConstraint = "accounts_username_key"
)

// AccountStore implements repository.AccountStore using PostgreSQL. Every
// mutation is one UPDATE ... RETURNING statement.
type AccountStore struct {
	db     database.DBTX
	tracer database.QueryTracer
	now    func() time.Time
}

var _ repository.AccountStore = (*AccountStore)(nil)

// NewAccountStore creates a PostgreSQL-backed account store.
func NewAccountStore(db database.DBTX, logger *slog.Logger) *AccountStore {
	return &AccountStore{
		db: db,
		tracer: database.QueryTracer{
			System:        "postgresql",
			SlowThreshold: 200 * time.Millisecond,
			Logger:        logger,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// FindByEmail retrieves an account by email.
func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.queryOne(ctx, "FindByEmail", `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

// FindByUsername retrieves an account by username.
func (s *AccountStore) FindByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return s.queryOne(ctx, "FindByUsername", `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
}

// FindByID retrieves an account by id. Malformed ids are not found.
func (s *AccountStore) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.ErrNotFound
	}
	return s.queryOne(ctx, "FindByID", `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

// FindByVerificationToken matches the pending or the consumed token.
func (s *AccountStore) FindByVerificationToken(ctx context.Context, token string) (*domain.Account, error) {
	return s.queryOne(ctx, "FindByVerificationToken",
		`SELECT `+accountColumns+` FROM accounts
		WHERE verification_token = $1 OR consumed_verification_token = $1
		LIMIT 1`, token)
}

// FindByPasswordResetToken retrieves the account holding the reset token.
func (s *AccountStore) FindByPasswordResetToken(ctx context.Context, token string) (*domain.Account, error) {
	return s.queryOne(ctx, "FindByPasswordResetToken",
		`SELECT `+accountColumns+` FROM accounts WHERE password_reset_token = $1`, token)
}

// Create inserts an account and maps unique violations to conflict errors.
func (s *AccountStore) Create(ctx context.Context, d domain.AccountDraft) (acc *domain.Account, err error) {
	query := `
		INSERT INTO accounts (id, email, username, first_name, last_name, password_hash, role, avatar,
			email_verified, verification_token, verification_token_expiry,
			terms_accepted, terms_accepted_at, newsletter_opt_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		RETURNING ` + accountColumns

	ctx, end := s.tracer.Start(ctx, "Create", query)
	defer func() { end(err) }()

	role := d.Role
	if role == "" {
		role = domain.RoleUser
	}

	acc, err = scanAccount(s.db.QueryRow(ctx, query,
		uuid.NewString(),
		d.Email,
		d.Username,
		d.FirstName,
		d.LastName,
		d.PasswordHash,
		string(role),
		d.Avatar,
		d.EmailVerified,
		d.VerificationToken,
		d.VerificationTokenExpiry,
		d.TermsAccepted,
		d.TermsAcceptedAt,
		d.NewsletterOptIn,
		s.now(),
	))
	if err != nil {
		return nil, s.uniqueOr(err, d.Email, d.Username, "insert account")
	}
	return acc, nil
}

// UpdateHashedRefreshToken stores digest; nil clears the session.
func (s *AccountStore) UpdateHashedRefreshToken(ctx context.Context, id string, digest *string) (*domain.Account, error) {
	return s.update(ctx, "UpdateHashedRefreshToken", id,
		`UPDATE accounts SET hashed_refresh_token = $3, updated_at = $2 WHERE id = $1 RETURNING `+accountColumns,
		digest)
}

// UpdatePassword replaces the digest and clears any pending reset.
func (s *AccountStore) UpdatePassword(ctx context.Context, id, digest string) (*domain.Account, error) {
	return s.update(ctx, "UpdatePassword", id,
		`UPDATE accounts
		SET password_hash = $3, password_reset_token = NULL, password_reset_token_expiry = NULL, updated_at = $2
		WHERE id = $1 RETURNING `+accountColumns,
		digest)
}

// UpdateVerificationToken replaces the pending verification token.
func (s *AccountStore) UpdateVerificationToken(ctx context.Context, id, token string, expiry time.Time) (*domain.Account, error) {
	return s.update(ctx, "UpdateVerificationToken", id,
		`UPDATE accounts
		SET verification_token = $3, verification_token_expiry = $4, updated_at = $2
		WHERE id = $1 RETURNING `+accountColumns,
		token, expiry)
}

// MarkEmailVerified flags the email as verified and consumes the token.
func (s *AccountStore) MarkEmailVerified(ctx context.Context, id string) (*domain.Account, error) {
	return s.update(ctx, "MarkEmailVerified", id,
		`UPDATE accounts
		SET email_verified = TRUE,
			consumed_verification_token = COALESCE(verification_token, consumed_verification_token),
			verification_token = NULL, verification_token_expiry = NULL, updated_at = $2
		WHERE id = $1 RETURNING `+accountColumns)
}

// UpdatePasswordResetToken replaces the pending reset token.
func (s *AccountStore) UpdatePasswordResetToken(ctx context.Context, id, token string, expiry time.Time) (*domain.Account, error) {
	return s.update(ctx, "UpdatePasswordResetToken", id,
		`UPDATE accounts
		SET password_reset_token = $3, password_reset_token_expiry = $4, updated_at = $2
		WHERE id = $1 RETURNING `+accountColumns,
		token, expiry)
}

// UpdateProfile leaves NULL parameters unchanged.
func (s *AccountStore) UpdateProfile(ctx context.Context, id string, u domain.ProfileUpdate) (*domain.Account, error) {
	acc, err := s.update(ctx, "UpdateProfile", id,
		`UPDATE accounts
		SET username = COALESCE($3, username),
			first_name = COALESCE($4, first_name),
			last_name = COALESCE($5, last_name),
			avatar = COALESCE($6, avatar),
			newsletter_opt_in = COALESCE($7, newsletter_opt_in),
			updated_at = $2
		WHERE id = $1 RETURNING `+accountColumns,
		u.Username, u.FirstName, u.LastName, u.Avatar, u.NewsletterOptIn)
	if err != nil {
		return nil, s.uniqueOr(err, "", u.Username, "update profile")
	}
	return acc, nil
}

// UpdateTermsAcceptance records the terms and newsletter choice.
func (s *AccountStore) UpdateTermsAcceptance(ctx context.Context, id string, accepted, newsletterOptIn bool) (*domain.Account, error) {
	return s.update(ctx, "UpdateTermsAcceptance", id,
		`UPDATE accounts
		SET terms_accepted = $3,
			terms_accepted_at = CASE WHEN $3 THEN $2 ELSE terms_accepted_at END,
			newsletter_opt_in = $4,
			updated_at = $2
		WHERE id = $1 RETURNING `+accountColumns,
		accepted, newsletterOptIn)
}

// UpdateNewsletterPreference sets the opt-in of the account with email.
func (s *AccountStore) UpdateNewsletterPreference(ctx context.Context, email string, optIn bool) (acc *domain.Account, err error) {
	query := `UPDATE accounts SET newsletter_opt_in = $2, updated_at = $3 WHERE email = $1 RETURNING ` + accountColumns

	ctx, end := s.tracer.Start(ctx, "UpdateNewsletterPreference", query)
	defer func() { end(err) }()

	acc, err = scanAccount(s.db.QueryRow(ctx, query, email, optIn, s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.AccountNotFound(email)
	}
	if err != nil {
		return nil, fmt.Errorf("update newsletter preference: %w", err)
	}
	return acc, nil
}

// update runs an UPDATE ... RETURNING keyed by id with parameters
// $1 = id, $2 = updated_at, $3.. = args.
func (s *AccountStore) update(ctx context.Context, operation, id, query string, args ...any) (acc *domain.Account, err error) {
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, repository.AccountNotFound(id)
	}

	ctx, end := s.tracer.Start(ctx, operation, query)
	defer func() { end(err) }()

	params := append([]any{id, s.now()}, args...)

	acc, err = scanAccount(s.db.QueryRow(ctx, query, params...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.AccountNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return acc, nil
}

func (s *AccountStore) queryOne(ctx context.Context, operation, query string, arg any) (acc *domain.Account, err error) {
	ctx, end := s.tracer.Start(ctx, operation, query)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	acc, err = scanAccount(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return acc, nil
}

// uniqueOr maps unique violations on the email and username indexes to the
// repository conflict errors and wraps anything else.
func (s *AccountStore) uniqueOr(err error, email string, username *string, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case emailConstraint:
			return repository.EmailTaken(email)
		case usernameConstraint:
			if username != nil {
				return repository.UsernameTaken(*username)
			}
			return repository.UsernameTaken("")
		}
		return apperrors.Conflict("account already exists")
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a    domain.Account
		role string
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Username,
		&a.FirstName,
		&a.LastName,
		&a.PasswordHash,
		&role,
		&a.Avatar,
		&a.EmailVerified,
		&a.VerificationToken,
		&a.VerificationTokenExpiry,
		&a.ConsumedVerificationToken,
		&a.PasswordResetToken,
		&a.PasswordResetTokenExpiry,
		&a.HashedRefreshToken,
		&a.TermsAccepted,
		&a.TermsAcceptedAt,
		&a.NewsletterOptIn,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Role = domain.Role(role)
	return &a, nil
}
