package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/utafrali/authcore/internal/service"
	"github.com/utafrali/authcore/pkg/httputil"
	"github.com/utafrali/authcore/pkg/middleware"
)

// AuthHandler handles HTTP requests for the account and session lifecycle.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// SignupRequest is the JSON request body for local signup.
type SignupRequest struct {
	Email           string `json:"email" validate:"required,email,max=255"`
	Username        string `json:"username" validate:"omitempty,min=3,max=50,username"`
	Password        string `json:"password" validate:"required,password,max=128"`
	FirstName       string `json:"firstName" validate:"required,max=100"`
	LastName        string `json:"lastName" validate:"required,max=100"`
	Avatar          string `json:"avatar" validate:"omitempty,url,max=2048"`
	TermsAccepted   bool   `json:"termsAccepted"`
	NewsletterOptIn bool   `json:"newsletterOptIn"`
	RecaptchaToken  string `json:"recaptchaToken"`
}

// SigninRequest is the JSON request body for local signin.
type SigninRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=128"`
}

// EmailRequest carries a single email address.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// RefreshRequest is the JSON request body for token refresh. The token may
// also be sent as a bearer token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ResetPasswordRequest is the JSON request body for password reset.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,password,max=128"`
}

// ChangePasswordRequest is the JSON request body for an authenticated
// password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,password,max=128"`
}

// UpdateProfileRequest is the JSON request body for a partial profile update.
type UpdateProfileRequest struct {
	Username        *string `json:"username" validate:"omitempty,min=3,max=50,username"`
	FirstName       *string `json:"firstName" validate:"omitempty,min=1,max=100"`
	LastName        *string `json:"lastName" validate:"omitempty,min=1,max=100"`
	Avatar          *string `json:"avatar" validate:"omitempty,url,max=2048"`
	NewsletterOptIn *bool   `json:"newsletterOptIn"`
}

// AcceptTermsRequest is the JSON request body for OAuth terms acceptance.
type AcceptTermsRequest struct {
	TermsAccepted   bool `json:"termsAccepted"`
	NewsletterOptIn bool `json:"newsletterOptIn"`
}

// --- Signup and verification ---

// Signup handles POST /api/v1/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), service.RegisterInput{
		Email:           req.Email,
		Username:        req.Username,
		Password:        req.Password,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Avatar:          req.Avatar,
		TermsAccepted:   req.TermsAccepted,
		NewsletterOptIn: req.NewsletterOptIn,
		ChallengeToken:  req.RecaptchaToken,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, user)
}

// VerifyEmail handles GET /api/v1/auth/verify-email?token=
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, msg)
}

// ResendVerification handles POST /api/v1/auth/resend-verification
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.ResendVerification(r.Context(), req.Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, msg)
}

// --- Sessions ---

// Signin handles POST /api/v1/auth/signin
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, session)
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := httputil.BearerToken(r)
	// An empty body carries no token; the service answers 401.
	if refreshToken == "" && r.ContentLength != 0 {
		var req RefreshRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}
		refreshToken = req.RefreshToken
	}

	session, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, session)
}

// Signout handles POST /api/v1/auth/signout
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.AccountIDFromContext(r.Context())
	if err := h.service.SignOut(r.Context(), accountID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, service.Message{Message: "signed out successfully"})
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context(), middleware.AccountIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, user)
}

// AcceptTerms handles POST /api/v1/auth/oauth/accept-terms
func (h *AuthHandler) AcceptTerms(w http.ResponseWriter, r *http.Request) {
	var req AcceptTermsRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	accountID := middleware.AccountIDFromContext(r.Context())
	msg, err := h.service.AcceptOAuthTerms(r.Context(), accountID, req.TermsAccepted, req.NewsletterOptIn)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, msg)
}

// --- Passwords ---

// ForgotPassword handles POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, msg)
}

// ResetPassword handles POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, msg)
}

// ChangePassword handles PATCH /api/v1/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	accountID := middleware.AccountIDFromContext(r.Context())
	msg, err := h.service.ChangePassword(r.Context(), accountID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, msg)
}

// --- Profile ---

// UpdateProfile handles PATCH /api/v1/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	accountID := middleware.AccountIDFromContext(r.Context())
	user, err := h.service.UpdateProfile(r.Context(), accountID, service.UpdateProfileInput{
		Username:        req.Username,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Avatar:          req.Avatar,
		NewsletterOptIn: req.NewsletterOptIn,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, user)
}

// Profile handles GET /api/v1/auth/profile and echoes the authenticated
// principal.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, map[string]string{
		"id":   middleware.AccountIDFromContext(r.Context()),
		"role": middleware.RoleFromContext(r.Context()),
	})
}

// AdminDashboard handles GET /api/v1/auth/admin/dashboard
func (h *AuthHandler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, service.Message{Message: "welcome to the admin dashboard"})
}

// UnsubscribeLinkResponse is returned to the newsletter sender.
type UnsubscribeLinkResponse struct {
	Token string `json:"token"`
	Path  string `json:"path"`
}

// UnsubscribeLink handles POST /api/v1/auth/admin/newsletter/unsubscribe-link.
// Whatever sends the newsletter calls it once per recipient and embeds Path
// in the email.
func (h *AuthHandler) UnsubscribeLink(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	tok, err := h.service.IssueUnsubscribeToken(r.Context(), req.Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, UnsubscribeLinkResponse{
		Token: tok,
		Path:  "/api/v1/auth/unsubscribe?token=" + url.QueryEscape(tok),
	})
}

// tokenValidator bridges the access token check to the Auth middleware.
func tokenValidator(svc *service.AuthService) middleware.TokenValidator {
	return func(ctx context.Context, raw string) (*middleware.Principal, error) {
		p, err := svc.Authenticate(ctx, raw)
		if err != nil {
			return nil, err
		}
		return &middleware.Principal{AccountID: p.AccountID, Role: p.Role}, nil
	}
}
