// Package memory is an in-process AccountStore for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/authcore/pkg/errors"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/repository"
)

// AccountStore keeps accounts in maps guarded by one mutex.
type AccountStore struct {
	mu         sync.RWMutex
	byID       map[string]*domain.Account
	byEmail    map[string]string
	byUsername map[string]string
	now        func() time.Time
}

var _ repository.AccountStore = (*AccountStore)(nil)

// NewAccountStore creates an empty store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		byID:       make(map[string]*domain.Account),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets the clock used for CreatedAt and UpdatedAt.
func (s *AccountStore) WithClock(now func() time.Time) *AccountStore {
	s.now = now
	return s
}

// Len returns the number of stored accounts.
func (s *AccountStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// FindByEmail returns a copy of the account with the given email.
func (s *AccountStore) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byEmail, email)
}

// FindByUsername returns a copy of the account with the given username.
func (s *AccountStore) FindByUsername(_ context.Context, username string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(s.byUsername, username)
}

// FindByID returns a copy of the account with the given id.
func (s *AccountStore) FindByID(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(a), nil
}

// FindByVerificationToken matches pending and already consumed tokens.
func (s *AccountStore) FindByVerificationToken(_ context.Context, token string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scan(func(a *domain.Account) bool {
		return equal(a.VerificationToken, token) || equal(a.ConsumedVerificationToken, token)
	})
}

// FindByPasswordResetToken returns the account holding the reset token.
func (s *AccountStore) FindByPasswordResetToken(_ context.Context, token string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scan(func(a *domain.Account) bool { return equal(a.PasswordResetToken, token) })
}

// Create inserts a new account, enforcing unique email and username.
func (s *AccountStore) Create(_ context.Context, d domain.AccountDraft) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[d.Email]; ok {
		return nil, repository.EmailTaken(d.Email)
	}
	if d.Username != nil {
		if _, ok := s.byUsername[*d.Username]; ok {
			return nil, repository.UsernameTaken(*d.Username)
		}
	}

	now := s.now()
	a := &domain.Account{
		ID:                      uuid.NewString(),
		Email:                   d.Email,
		Username:                copyStr(d.Username),
		FirstName:               d.FirstName,
		LastName:                d.LastName,
		PasswordHash:            d.PasswordHash,
		Role:                    d.Role,
		Avatar:                  copyStr(d.Avatar),
		EmailVerified:           d.EmailVerified,
		VerificationToken:       copyStr(d.VerificationToken),
		VerificationTokenExpiry: copyTime(d.VerificationTokenExpiry),
		TermsAccepted:           d.TermsAccepted,
		TermsAcceptedAt:         copyTime(d.TermsAcceptedAt),
		NewsletterOptIn:         d.NewsletterOptIn,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if a.Role == "" {
		a.Role = domain.RoleUser
	}

	s.byID[a.ID] = a
	s.byEmail[a.Email] = a.ID
	if a.Username != nil {
		s.byUsername[*a.Username] = a.ID
	}
	return clone(a), nil
}

// UpdateHashedRefreshToken stores digest; nil clears the session.
func (s *AccountStore) UpdateHashedRefreshToken(_ context.Context, id string, digest *string) (*domain.Account, error) {
	return s.mutate(id, func(a *domain.Account) error {
		a.HashedRefreshToken = copyStr(digest)
		return nil
	})
}

// UpdatePassword replaces the digest and clears any pending reset.
func (s *AccountStore) UpdatePassword(_ context.Context, id, digest string) (*domain.Account, error) {
	return s.mutate(id, func(a *domain.Account) error {
		a.PasswordHash = digest
		a.PasswordResetToken = nil
		a.PasswordResetTokenExpiry = nil
		return nil
	})
}

// UpdateVerificationToken replaces the pending verification token.
func (s *AccountStore) UpdateVerificationToken(_ context.Context, id, token string, expiry time.Time) (*domain.Account, error) {
	return s.mutate(id, func(a *domain.Account) error {
		a.VerificationToken = &token
		a.VerificationTokenExpiry = &expiry
		return nil
	})
}

// MarkEmailVerified flags the email as verified and consumes the token.
func (s *AccountStore) MarkEmailVerified(_ context.Context, id string) (*domain.Account, error) {
	return s.mutate(id, func(a *domain.Account) error {
		a.EmailVerified = true
		if a.VerificationToken != nil {
			a.ConsumedVerificationToken = a.VerificationToken
		}
		a.VerificationToken = nil
		a.VerificationTokenExpiry = nil
		return nil
	})
}

// UpdatePasswordResetToken replaces the pending reset token.
func (s *AccountStore) UpdatePasswordResetToken(_ context.Context, id, token string, expiry time.Time) (*domain.Account, error) {
	return s.mutate(id, func(a *domain.Account) error {
		a.PasswordResetToken = &token
		a.PasswordResetTokenExpiry = &expiry
		return nil
	})
}

// UpdateProfile applies the non-nil fields of u.
func (s *AccountStore) UpdateProfile(_ context.Context, id string, u domain.ProfileUpdate) (*domain.Account, error) {
	return s.mutate(id, func(a *domain.Account) error {
		if u.Username != nil && !equal(a.Username, *u.Username) {
			if owner, ok := s.byUsername[*u.Username]; ok && owner != id {
				return repository.UsernameTaken(*u.Username)
			}
			if a.Username != nil {
				delete(s.byUsername, *a.Username)
			}
			s.byUsername[*u.Username] = id
			a.Username = copyStr(u.Username)
		}
		if u.FirstName != nil {
			a.FirstName = *u.FirstName
		}
		if u.LastName != nil {
			a.LastName = *u.LastName
		}
		if u.Avatar != nil {
			a.Avatar = copyStr(u.Avatar)
		}
		if u.NewsletterOptIn != nil {
			a.NewsletterOptIn = *u.NewsletterOptIn
		}
		return nil
	})
}

// UpdateTermsAcceptance records the terms and newsletter choice.
func (s *AccountStore) UpdateTermsAcceptance(_ context.Context, id string, accepted, newsletterOptIn bool) (*domain.Account, error) {
	return s.mutate(id, func(a *domain.Account) error {
		a.TermsAccepted = accepted
		if accepted {
			now := s.now()
			a.TermsAcceptedAt = &now
		}
		a.NewsletterOptIn = newsletterOptIn
		return nil
	})
}

// UpdateNewsletterPreference sets the opt-in of the account with email.
func (s *AccountStore) UpdateNewsletterPreference(ctx context.Context, email string, optIn bool) (*domain.Account, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.AccountNotFound(email)
	}
	return s.mutate(id, func(a *domain.Account) error {
		a.NewsletterOptIn = optIn
		return nil
	})
}

func (s *AccountStore) mutate(id string, fn func(*domain.Account) error) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, repository.AccountNotFound(id)
	}

	next := clone(a)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now()
	s.byID[id] = next
	return clone(next), nil
}

func (s *AccountStore) lookup(index map[string]string, key string) (*domain.Account, error) {
	id, ok := index[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *AccountStore) scan(match func(*domain.Account) bool) (*domain.Account, error) {
	for _, a := range s.byID {
		if match(a) {
			return clone(a), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func clone(a *domain.Account) *domain.Account {
	c := *a
	c.Username = copyStr(a.Username)
	c.Avatar = copyStr(a.Avatar)
	c.VerificationToken = copyStr(a.VerificationToken)
	c.VerificationTokenExpiry = copyTime(a.VerificationTokenExpiry)
	c.ConsumedVerificationToken = copyStr(a.ConsumedVerificationToken)
	c.PasswordResetToken = copyStr(a.PasswordResetToken)
	c.PasswordResetTokenExpiry = copyTime(a.PasswordResetTokenExpiry)
	c.HashedRefreshToken = copyStr(a.HashedRefreshToken)
	c.TermsAcceptedAt = copyTime(a.TermsAcceptedAt)
	return &c
}

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equal(p *string, v string) bool {
	return p != nil && *p == v
}
