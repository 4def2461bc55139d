package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/utafrali/authcore/pkg/logger"
)

func setupStateStore(t *testing.T) (*StateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStateStore(client), mr
}

func TestStateStore_SaveConsumeOnce(t *testing.T) {
	store, mr := setupStateStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "state-1", time.Minute))
	assert.True(t, mr.Exists("oauth:state:state-1"))

	require.NoError(t, store.Consume(ctx, "state-1"))
	assert.ErrorIs(t, store.Consume(ctx, "state-1"), ErrInvalidState)
}

func TestStateStore_Expired(t *testing.T) {
	store, mr := setupStateStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "state-2", time.Minute))
	mr.FastForward(2 * time.Minute)

	assert.ErrorIs(t, store.Consume(ctx, "state-2"), ErrInvalidState)
}

func TestStateStore_Unknown(t *testing.T) {
	store, _ := setupStateStore(t)
	assert.ErrorIs(t, store.Consume(context.Background(), ""), ErrInvalidState)
	assert.ErrorIs(t, store.Consume(context.Background(), "never-saved"), ErrInvalidState)
}

func TestStateStore_RedisDown(t *testing.T) {
	store, mr := setupStateStore(t)
	mr.Close()

	err := store.Save(context.Background(), "s", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidState)
}

// fakeGoogle serves the token and userinfo endpoints.
func fakeGoogle(t *testing.T, userinfo string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"google-at","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer google-at", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userinfo))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogle(t *testing.T, srv *httptest.Server, verifiedOnly bool) (*Google, *StateStore) {
	t.Helper()
	states, _ := setupStateStore(t)
	g := NewGoogle(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/api/v1/auth/google/callback",
		VerifiedOnly: verifiedOnly,
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		UserInfoURL:  srv.URL + "/userinfo",
	}, states, srv.Client(), logger.Discard())
	return g, states
}

const verifiedUser = `{"id":"g-1","email":"Grace@Example.com","verified_email":true,"name":"Grace Hopper",
	"given_name":"Grace","family_name":"Hopper","picture":"https://img.example.com/g.png"}`

func TestGoogle_AuthURLStoresState(t *testing.T) {
	srv := fakeGoogle(t, verifiedUser)
	g, states := newTestGoogle(t, srv, true)

	raw, err := g.AuthURL(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "client-id", u.Query().Get("client_id"))
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	assert.NoError(t, states.Consume(context.Background(), state))
}

func TestGoogle_Exchange(t *testing.T) {
	srv := fakeGoogle(t, verifiedUser)
	g, states := newTestGoogle(t, srv, true)
	ctx := context.Background()
	require.NoError(t, states.Save(ctx, "st", time.Minute))

	p, err := g.Exchange(ctx, "good-code", "st")
	require.NoError(t, err)
	assert.Equal(t, "Grace@Example.com", p.Email)
	assert.Equal(t, "Grace Hopper", p.DisplayName)
	assert.Equal(t, "Grace", p.GivenName)
	assert.Equal(t, "Hopper", p.FamilyName)
	assert.Equal(t, "https://img.example.com/g.png", p.AvatarURL)

	_, err = g.Exchange(ctx, "good-code", "st")
	assert.ErrorIs(t, err, ErrInvalidState, "state is single use")
}

func TestGoogle_Exchange_BadCode(t *testing.T) {
	srv := fakeGoogle(t, verifiedUser)
	g, states := newTestGoogle(t, srv, true)
	ctx := context.Background()
	require.NoError(t, states.Save(ctx, "st", time.Minute))

	_, err := g.Exchange(ctx, "bad-code", "st")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestGoogle_Exchange_UnverifiedEmail(t *testing.T) {
	srv := fakeGoogle(t, `{"id":"g-2","email":"x@example.com","verified_email":false,"name":"X","picture":"p"}`)
	g, states := newTestGoogle(t, srv, true)
	ctx := context.Background()
	require.NoError(t, states.Save(ctx, "st", time.Minute))

	_, err := g.Exchange(ctx, "good-code", "st")
	assert.ErrorIs(t, err, ErrUnverifiedEmail)
}

func TestGoogle_Exchange_UnknownState(t *testing.T) {
	srv := fakeGoogle(t, verifiedUser)
	g, _ := newTestGoogle(t, srv, true)

	_, err := g.Exchange(context.Background(), "good-code", "forged")
	assert.ErrorIs(t, err, ErrInvalidState)
}
