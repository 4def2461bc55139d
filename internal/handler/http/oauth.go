package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/service"
	"github.com/utafrali/authcore/pkg/logger"
)

// OAuthProvider runs the authorization code flow of an identity provider.
type OAuthProvider interface {
	AuthURL(ctx context.Context) (string, error)
	Exchange(ctx context.Context, code, state string) (*identity.Profile, error)
}

// RedirectHandler serves the browser-facing endpoints that answer with a
// redirect to the frontend instead of JSON.
type RedirectHandler struct {
	service     *service.AuthService
	google      OAuthProvider
	frontendURL string
	logger      *slog.Logger
}

// NewRedirectHandler creates the redirect handler. google may be nil when
// Google sign-in is not configured.
func NewRedirectHandler(svc *service.AuthService, google OAuthProvider, frontendURL string, logger *slog.Logger) *RedirectHandler {
	return &RedirectHandler{
		service:     svc,
		google:      google,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// GoogleLogin handles GET /api/v1/auth/google/login
func (h *RedirectHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		h.redirect(w, r, "/auth/signin", url.Values{"error": {"oauth_unavailable"}})
		return
	}

	target, err := h.google.AuthURL(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to start google sign-in", logger.Err(err))
		h.redirect(w, r, "/auth/signin", url.Values{"error": {"oauth_failed"}})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// GoogleCallback handles GET /api/v1/auth/google/callback
func (h *RedirectHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	failed := url.Values{"error": {"oauth_failed"}}
	if h.google == nil {
		h.redirect(w, r, "/auth/signin", failed)
		return
	}

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.WarnContext(r.Context(), "google sign-in refused", slog.String("error", providerErr))
		h.redirect(w, r, "/auth/signin", failed)
		return
	}

	profile, err := h.google.Exchange(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		h.logger.WarnContext(r.Context(), "google code exchange failed", logger.Err(err))
		h.redirect(w, r, "/auth/signin", failed)
		return
	}

	session, err := h.service.LoginOAuth(r.Context(), *profile)
	if err != nil {
		h.logger.WarnContext(r.Context(), "google sign-in rejected", logger.Err(err))
		h.redirect(w, r, "/auth/signin", failed)
		return
	}

	path := "/api/auth/google/callback"
	if session.NeedsTermsAcceptance {
		path = "/auth/accept-terms"
	}
	h.redirect(w, r, path, sessionValues(session))
}

// Unsubscribe handles GET /api/v1/auth/unsubscribe?token=
func (h *RedirectHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UnsubscribeNewsletter(r.Context(), r.URL.Query().Get("token")); err != nil {
		h.redirect(w, r, "/auth/unsubscribed", url.Values{
			"success": {"false"},
			"error":   {"Invalid or expired unsubscribe link"},
		})
		return
	}
	h.redirect(w, r, "/auth/unsubscribed", url.Values{"success": {"true"}})
}

func (h *RedirectHandler) redirect(w http.ResponseWriter, r *http.Request, path string, q url.Values) {
	target := h.frontendURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func sessionValues(s *service.Session) url.Values {
	v := url.Values{
		"accessToken":     {s.AccessToken},
		"refreshToken":    {s.RefreshToken},
		"userId":          {s.ID},
		"email":           {s.Email},
		"username":        {deref(s.Username)},
		"firstName":       {s.FirstName},
		"lastName":        {s.LastName},
		"role":            {string(s.Role)},
		"avatar":          {deref(s.Avatar)},
		"emailVerified":   {strconv.FormatBool(s.EmailVerified)},
		"newsletterOptIn": {strconv.FormatBool(s.NewsletterOptIn)},
	}
	if s.NeedsTermsAcceptance {
		v.Set("needsTermsAcceptance", "true")
	}
	return v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
