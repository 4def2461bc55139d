// Package identity maps every account origin (local signup, persisted
// account, OAuth provider profile) onto one canonical user shape.
package identity

import (
	"strings"
	"time"

	apperrors "github.com/utafrali/authcore/pkg/errors"

	"github.com/utafrali/authcore/internal/domain"
)

// User is the canonical user representation returned by every flow.
type User struct {
	ID              string      `json:"id"`
	Email           string      `json:"email"`
	Username        *string     `json:"username"`
	FirstName       string      `json:"firstName"`
	LastName        string      `json:"lastName"`
	Role            domain.Role `json:"role"`
	Avatar          *string     `json:"avatar"`
	EmailVerified   bool        `json:"emailVerified"`
	NewsletterOptIn bool        `json:"newsletterOptIn"`
}

// SignupInput is the local registration payload.
type SignupInput struct {
	Email           string
	Username        string
	FirstName       string
	LastName        string
	Avatar          string
	NewsletterOptIn bool
}

// Profile is the subset of an OAuth provider profile the core consumes.
type Profile struct {
	Email       string
	DisplayName string
	GivenName   string
	FamilyName  string
	AvatarURL   string
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FromAccount maps a persisted account.
func FromAccount(a *domain.Account) User {
	return User{
		ID:              a.ID,
		Email:           a.Email,
		Username:        a.Username,
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		Role:            a.Role,
		Avatar:          a.Avatar,
		EmailVerified:   a.EmailVerified,
		NewsletterOptIn: a.NewsletterOptIn,
	}
}

// FromSignup maps a signup payload before it has been persisted. ID is empty.
func FromSignup(in SignupInput) User {
	return User{
		Email:           NormalizeEmail(in.Email),
		Username:        optional(in.Username),
		FirstName:       strings.TrimSpace(in.FirstName),
		LastName:        strings.TrimSpace(in.LastName),
		Role:            domain.RoleUser,
		Avatar:          optional(in.Avatar),
		NewsletterOptIn: in.NewsletterOptIn,
	}
}

// DraftFromSignup builds the account draft for a local signup. The caller
// supplies the password digest and verification token pair.
func DraftFromSignup(in SignupInput, passwordHash, verificationToken string, verificationExpiry, acceptedAt time.Time) domain.AccountDraft {
	u := FromSignup(in)
	return domain.AccountDraft{
		Email:                   u.Email,
		Username:                u.Username,
		FirstName:               u.FirstName,
		LastName:                u.LastName,
		PasswordHash:            passwordHash,
		Role:                    domain.RoleUser,
		Avatar:                  u.Avatar,
		EmailVerified:           false,
		VerificationToken:       &verificationToken,
		VerificationTokenExpiry: &verificationExpiry,
		TermsAccepted:           true,
		TermsAcceptedAt:         &acceptedAt,
		NewsletterOptIn:         in.NewsletterOptIn,
	}
}

// Validate checks that the profile carries an email, a name and an avatar.
func (p Profile) Validate() error {
	switch {
	case NormalizeEmail(p.Email) == "":
		return apperrors.Unauthorized("no email provided by oauth provider")
	case strings.TrimSpace(p.DisplayName) == "" && strings.TrimSpace(p.GivenName) == "":
		return apperrors.Unauthorized("no name provided by oauth provider")
	case strings.TrimSpace(p.AvatarURL) == "":
		return apperrors.Unauthorized("no avatar provided by oauth provider")
	}
	return nil
}

// Username returns the username used for an account created from p: the
// display name, or the email when there is none.
func (p Profile) Username() string {
	if name := strings.TrimSpace(p.DisplayName); name != "" {
		return name
	}
	return NormalizeEmail(p.Email)
}

// DraftFromOAuth builds the account draft for a first OAuth login. OAuth
// emails are provider-attested, so the account starts verified with terms
// pending.
func DraftFromOAuth(p Profile, unusablePasswordHash string) (domain.AccountDraft, error) {
	if err := p.Validate(); err != nil {
		return domain.AccountDraft{}, err
	}

	first := strings.TrimSpace(p.GivenName)
	if first == "" {
		first = strings.TrimSpace(p.DisplayName)
	}
	username := p.Username()
	avatar := strings.TrimSpace(p.AvatarURL)

	return domain.AccountDraft{
		Email:           NormalizeEmail(p.Email),
		Username:        &username,
		FirstName:       first,
		LastName:        strings.TrimSpace(p.FamilyName),
		PasswordHash:    unusablePasswordHash,
		Role:            domain.RoleUser,
		Avatar:          &avatar,
		EmailVerified:   true,
		TermsAccepted:   false,
		NewsletterOptIn: false,
	}, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
