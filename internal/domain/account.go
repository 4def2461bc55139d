package domain

import (
	"time"
)

// Account is the persisted identity of a user. Token pairs (value + expiry)
// are either both set or both nil.
type Account struct {
	ID                        string
	Email                     string
	Username                  *string
	FirstName                 string
	LastName                  string
	PasswordHash              string
	Role                      Role
	Avatar                    *string
	EmailVerified             bool
	VerificationToken         *string
	VerificationTokenExpiry   *time.Time
	ConsumedVerificationToken *string
	PasswordResetToken        *string
	PasswordResetTokenExpiry  *time.Time
	HashedRefreshToken        *string
	TermsAccepted             bool
	TermsAcceptedAt           *time.Time
	NewsletterOptIn           bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// DisplayName is the name used to greet the account holder in emails.
func (a *Account) DisplayName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.FirstName != "":
		return a.FirstName
	case a.Username != nil:
		return *a.Username
	default:
		return ""
	}
}

// SignedIn reports whether a refresh token is currently bound to the account.
func (a *Account) SignedIn() bool {
	return a.HashedRefreshToken != nil
}

// VerificationValid reports whether token matches the pending verification
// token and has not expired at now.
func (a *Account) VerificationValid(token string, now time.Time) bool {
	if a.VerificationToken == nil || a.VerificationTokenExpiry == nil {
		return false
	}
	return *a.VerificationToken == token && now.Before(*a.VerificationTokenExpiry)
}

// ResetValid reports whether token matches the pending password reset token
// and has not expired at now.
func (a *Account) ResetValid(token string, now time.Time) bool {
	if a.PasswordResetToken == nil || a.PasswordResetTokenExpiry == nil {
		return false
	}
	return *a.PasswordResetToken == token && now.Before(*a.PasswordResetTokenExpiry)
}

// AccountDraft holds the fields needed to create an account.
type AccountDraft struct {
	Email                   string
	Username                *string
	FirstName               string
	LastName                string
	PasswordHash            string
	Role                    Role
	Avatar                  *string
	EmailVerified           bool
	VerificationToken       *string
	VerificationTokenExpiry *time.Time
	TermsAccepted           bool
	TermsAcceptedAt         *time.Time
	NewsletterOptIn         bool
}

// ProfileUpdate is a partial update. Nil fields are left unchanged.
type ProfileUpdate struct {
	Username        *string
	FirstName       *string
	LastName        *string
	Avatar          *string
	NewsletterOptIn *bool
}

// Empty reports whether the update changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Username == nil && p.FirstName == nil && p.LastName == nil &&
		p.Avatar == nil && p.NewsletterOptIn == nil
}
