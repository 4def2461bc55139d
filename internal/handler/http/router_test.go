package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authcore/internal/domain"
	"github.com/utafrali/authcore/internal/hasher"
	"github.com/utafrali/authcore/internal/identity"
	"github.com/utafrali/authcore/internal/repository/memory"
	"github.com/utafrali/authcore/internal/service"
	"github.com/utafrali/authcore/internal/token"
	"github.com/utafrali/authcore/pkg/httputil"
	"github.com/utafrali/authcore/pkg/logger"
	"github.com/utafrali/authcore/pkg/middleware"
)

const (
	frontendURL  = "https://app.example.com"
	testPassword = "Str0ng!Passw0rd"
)

// --- Fakes ---

type recordingNotifier struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{verification: map[string]string{}, reset: map[string]string{}}
}

func (n *recordingNotifier) SendVerificationEmail(_ context.Context, email, tok, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification[email] = tok
	return nil
}

func (n *recordingNotifier) SendPasswordResetEmail(_ context.Context, email, tok, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[email] = tok
	return nil
}

func (n *recordingNotifier) verificationToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[email]
}

func (n *recordingNotifier) resetCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.reset)
}

type fakeGoogle struct {
	profile *identity.Profile
	err     error
}

func (g *fakeGoogle) AuthURL(context.Context) (string, error) {
	return "https://accounts.google.com/o/oauth2/auth?state=xyz", nil
}

func (g *fakeGoogle) Exchange(_ context.Context, code, state string) (*identity.Profile, error) {
	if g.err != nil {
		return nil, g.err
	}
	if code == "" || state == "" {
		return nil, errors.New("missing code or state")
	}
	return g.profile, nil
}

// --- Harness ---

type testServer struct {
	handler  http.Handler
	svc      *service.AuthService
	store    *memory.AccountStore
	notifier *recordingNotifier
	google   *fakeGoogle
	hasher   *hasher.Hasher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	signer, err := token.NewSigner(token.Config{
		AccessSecret:  "access-secret-for-handler-tests-0123456789",
		RefreshSecret: "refresh-secret-for-handler-tests-0123456789",
	})
	require.NoError(t, err)

	ts := &testServer{
		store:    memory.NewAccountStore(),
		notifier: newRecordingNotifier(),
		google: &fakeGoogle{profile: &identity.Profile{
			Email:       "grace@example.com",
			DisplayName: "Grace Hopper",
			GivenName:   "Grace",
			FamilyName:  "Hopper",
			AvatarURL:   "https://lh3.googleusercontent.com/a/grace",
		}},
		hasher: hasher.New(hasher.Params{Time: 1, MemoryKiB: 1024, Threads: 1, KeyLength: 32}),
	}

	ts.svc, err = service.NewAuthService(service.Config{}, service.Deps{
		Store:    ts.store,
		Hasher:   ts.hasher,
		Signer:   signer,
		Notifier: ts.notifier,
		Logger:   logger.Discard(),
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	ts.handler = NewRouter(RouterConfig{
		Service:     ts.svc,
		Google:      ts.google,
		Logger:      logger.Discard(),
		CORS:        middleware.DefaultCORSConfig(frontendURL),
		FrontendURL: frontendURL,
		Registerer:  reg,
		Gatherer:    reg,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func signupBody() map[string]any {
	return map[string]any{
		"email":           "ada@example.com",
		"username":        "ada",
		"password":        testPassword,
		"firstName":       "Ada",
		"lastName":        "Lovelace",
		"termsAccepted":   true,
		"newsletterOptIn": true,
	}
}

// signupAndVerify registers and verifies the default account.
func (ts *testServer) signupAndVerify(t *testing.T) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", signupBody(), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ts.svc.Wait()

	tok := ts.notifier.verificationToken("ada@example.com")
	require.NotEmpty(t, tok)
	rec = ts.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+url.QueryEscape(tok), nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (ts *testServer) signin(t *testing.T) service.Session {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signin",
		map[string]string{"email": "ada@example.com", "password": testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session service.Session
	decodeData(t, rec, &session)
	return session
}

// signinAdmin seeds a verified admin account and signs it in.
func (ts *testServer) signinAdmin(t *testing.T) service.Session {
	t.Helper()
	digest, err := ts.hasher.Hash(testPassword)
	require.NoError(t, err)
	_, err = ts.store.Create(context.Background(), domain.AccountDraft{
		Email:         "root@example.com",
		FirstName:     "Root",
		PasswordHash:  digest,
		Role:          domain.RoleAdmin,
		EmailVerified: true,
		TermsAccepted: true,
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signin",
		map[string]string{"email": "root@example.com", "password": testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session service.Session
	decodeData(t, rec, &session)
	return session
}

// --- Tests ---

func TestSignupVerifySigninFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", signupBody(), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var user identity.User
	decodeData(t, rec, &user)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.False(t, user.EmailVerified)
	assert.NotContains(t, rec.Body.String(), "accessToken")
	ts.svc.Wait()

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/signin",
		map[string]string{"email": "ada@example.com", "password": testPassword}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "email not verified", decodeError(t, rec).Message)

	tok := ts.notifier.verificationToken("ada@example.com")
	rec = ts.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+tok, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	session := ts.signin(t)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.True(t, session.EmailVerified)
	assert.False(t, session.NeedsTermsAcceptance)

	rec = ts.do(t, http.MethodGet, "/api/v1/auth/me", nil, session.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var me identity.User
	decodeData(t, rec, &me)
	assert.Equal(t, session.ID, me.ID)
}

func TestSignin_SessionJSONShape(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signin",
		map[string]string{"email": "ada@example.com", "password": testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"id", "email", "username", "firstName", "lastName", "role", "avatar", "emailVerified", "newsletterOptIn", "accessToken", "refreshToken"} {
		assert.Contains(t, raw.Data, key)
	}
	assert.NotContains(t, raw.Data, "needsTermsAcceptance")
	assert.NotContains(t, raw.Data, "passwordHash")
}

func TestSignup_ValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	body := signupBody()
	body["password"] = "weak"
	body["email"] = "not-an-email"
	body["username"] = "has space"

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", body, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", errResp.Code)
	assert.Contains(t, errResp.Fields, "password")
	assert.Contains(t, errResp.Fields, "email")
	assert.Contains(t, errResp.Fields, "username")
	assert.Equal(t, 0, ts.store.Len())
}

func TestSignup_Conflict(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signup", signupBody(), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already registered", decodeError(t, rec).Message)
}

func TestRefresh_BodyOrBearer(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)
	session := ts.signin(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": session.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated service.Session
	decodeData(t, rec, &rotated)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, rotated.RefreshToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": session.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_EmptyBodyIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/refresh", nil, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	assert.Equal(t, "refresh token required", decodeError(t, rec).Message)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignout_RevokesRefresh(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)
	session := ts.signin(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/auth/signout", nil, session.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refreshToken": session.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutes_RequireAccessToken(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)
	session := ts.signin(t)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/auth/me"},
		{http.MethodPost, "/api/v1/auth/signout"},
		{http.MethodPatch, "/api/v1/auth/profile"},
		{http.MethodPatch, "/api/v1/auth/password"},
		{http.MethodPost, "/api/v1/auth/oauth/accept-terms"},
	} {
		rec := ts.do(t, tc.method, tc.path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)

		rec = ts.do(t, tc.method, tc.path, nil, session.RefreshToken)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "refresh token on %s", tc.path)
	}
}

func TestAdminDashboard_RequiresAdminRole(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)
	user := ts.signin(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/auth/admin/dashboard", nil, user.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, rec).Code)

	admin := ts.signinAdmin(t)

	rec = ts.do(t, http.MethodGet, "/api/v1/auth/admin/dashboard", nil, admin.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/auth/profile", nil, admin.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"ADMIN"`)
}

func TestForgotPassword_UniformResponse(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)

	known := ts.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "ada@example.com"}, "")
	unknown := ts.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "ghost@example.com"}, "")
	ts.svc.Wait()

	assert.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
	assert.Equal(t, 1, ts.notifier.resetCount())
}

func TestUpdateProfileAndPassword(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)
	session := ts.signin(t)

	rec := ts.do(t, http.MethodPatch, "/api/v1/auth/profile", map[string]any{"firstName": "Augusta", "newsletterOptIn": false}, session.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var user identity.User
	decodeData(t, rec, &user)
	assert.Equal(t, "Augusta", user.FirstName)
	assert.False(t, user.NewsletterOptIn)

	rec = ts.do(t, http.MethodPatch, "/api/v1/auth/password",
		map[string]string{"currentPassword": "Wr0ng!Password", "newPassword": "N3w!Passw0rdX"}, session.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/v1/auth/password",
		map[string]string{"currentPassword": testPassword, "newPassword": "N3w!Passw0rdX"}, session.AccessToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGoogleLogin_RedirectsToProvider(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/auth/google/login", nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://accounts.google.com/"))
}

func TestGoogleCallback_PendingTermsThenAccepted(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/auth/google/callback?code=abc&state=xyz", nil, "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "/auth/accept-terms", loc.Path)
	q := loc.Query()
	assert.Equal(t, "true", q.Get("needsTermsAcceptance"))
	assert.Equal(t, "true", q.Get("emailVerified"))
	assert.Equal(t, "grace@example.com", q.Get("email"))
	require.NotEmpty(t, q.Get("accessToken"))

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/oauth/accept-terms",
		map[string]bool{"termsAccepted": false}, q.Get("accessToken"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/auth/oauth/accept-terms",
		map[string]bool{"termsAccepted": true, "newsletterOptIn": true}, q.Get("accessToken"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/auth/google/callback?code=abc&state=xyz", nil, "")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err = url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/api/auth/google/callback", loc.Path)
	assert.Empty(t, loc.Query().Get("needsTermsAcceptance"))
}

func TestGoogleCallback_Failures(t *testing.T) {
	tests := []struct {
		name  string
		query string
		setup func(g *fakeGoogle)
	}{
		{"provider error", "?error=access_denied", nil},
		{"missing state", "?code=abc", nil},
		{"exchange failure", "?code=abc&state=xyz", func(g *fakeGoogle) { g.err = errors.New("invalid_grant") }},
		{"incomplete profile", "?code=abc&state=xyz", func(g *fakeGoogle) { g.profile.AvatarURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			if tt.setup != nil {
				tt.setup(ts.google)
			}

			rec := ts.do(t, http.MethodGet, "/api/v1/auth/google/callback"+tt.query, nil, "")
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, frontendURL+"/auth/signin?error=oauth_failed", rec.Header().Get("Location"))
		})
	}
}

func TestUnsubscribe_Redirects(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)

	tok, err := ts.svc.IssueUnsubscribeToken(context.Background(), "ada@example.com")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/v1/auth/unsubscribe?token="+tok, nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, frontendURL+"/auth/unsubscribed?success=true", rec.Header().Get("Location"))

	account, err := ts.store.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.False(t, account.NewsletterOptIn)

	rec = ts.do(t, http.MethodGet, "/api/v1/auth/unsubscribe?token=bogus", nil, "")
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "false", loc.Query().Get("success"))
	assert.NotEmpty(t, loc.Query().Get("error"))
}

func TestUnsubscribeLink_AdminOnly(t *testing.T) {
	ts := newTestServer(t)
	ts.signupAndVerify(t)
	user := ts.signin(t)

	const path = "/api/v1/auth/admin/newsletter/unsubscribe-link"
	body := map[string]string{"email": "ada@example.com"}

	rec := ts.do(t, http.MethodPost, path, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, path, body, user.AccessToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := ts.signinAdmin(t)

	rec = ts.do(t, http.MethodPost, path, map[string]string{"email": "not-an-email"}, admin.AccessToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, path, body, admin.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var link UnsubscribeLinkResponse
	decodeData(t, rec, &link)
	require.NotEmpty(t, link.Token)
	assert.Equal(t, "/api/v1/auth/unsubscribe?token="+url.QueryEscape(link.Token), link.Path)

	rec = ts.do(t, http.MethodGet, link.Path, nil, "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, frontendURL+"/auth/unsubscribed?success=true", rec.Header().Get("Location"))

	account, err := ts.store.FindByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.False(t, account.NewsletterOptIn)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "ghost@example.com"}, "")
	rec = ts.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}
