// Package oauth runs the Google authorization code flow and maps the
// userinfo profile onto identity.Profile.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/utafrali/authcore/pkg/httpclient"
	"github.com/utafrali/authcore/pkg/logger"

	"github.com/utafrali/authcore/internal/identity"
)

const defaultUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var (
	ErrInvalidCode     = errors.New("oauth: invalid authorization code")
	ErrUnverifiedEmail = errors.New("oauth: provider email is not verified")
)

// GoogleConfig configures the Google provider. Endpoint and UserInfoURL
// default to Google's production endpoints.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	StateTTL     time.Duration
	VerifiedOnly bool
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
}

// States is satisfied by *StateStore.
type States interface {
	Save(ctx context.Context, state string, ttl time.Duration) error
	Consume(ctx context.Context, state string) error
}

// Google implements the authorization code flow against Google.
type Google struct {
	cfg         GoogleConfig
	oauth2      *oauth2.Config
	states      States
	httpClient  *http.Client
	userInfoURL string
	logger      *slog.Logger
}

// NewGoogle creates the provider. httpClient is used for the token exchange
// and the userinfo request.
func NewGoogle(cfg GoogleConfig, states States, httpClient *http.Client, logger *slog.Logger) *Google {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Google{
		cfg: cfg,
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		states:      states,
		httpClient:  httpClient,
		userInfoURL: userInfoURL,
		logger:      logger,
	}
}

// AuthURL stores a fresh state and returns the consent page URL.
func (g *Google) AuthURL(ctx context.Context) (string, error) {
	state, err := newState()
	if err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	if err := g.states.Save(ctx, state, g.cfg.StateTTL); err != nil {
		return "", err
	}
	return g.oauth2.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account")), nil
}

// Exchange consumes state, trades code for a token and fetches the profile.
func (g *Google) Exchange(ctx context.Context, code, state string) (*identity.Profile, error) {
	if err := g.states.Consume(ctx, state); err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := g.oauth2.Exchange(ctx, code)
	if err != nil {
		g.logger.WarnContext(ctx, "oauth code exchange failed", logger.Err(err))
		return nil, ErrInvalidCode
	}

	info, err := g.fetchUserInfo(ctx, tok)
	if err != nil {
		return nil, err
	}
	if g.cfg.VerifiedOnly && !info.VerifiedEmail {
		return nil, ErrUnverifiedEmail
	}

	return &identity.Profile{
		Email:       info.Email,
		DisplayName: info.Name,
		GivenName:   info.GivenName,
		FamilyName:  info.FamilyName,
		AvatarURL:   info.Picture,
	}, nil
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

func (g *Google) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (*googleUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create userinfo request: %w", err)
	}

	resp, err := g.oauth2.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch google userinfo: %w", err)
	}

	var info googleUserInfo
	if err := httpclient.DecodeJSON(resp, "google-userinfo", &info); err != nil {
		return nil, err
	}
	return &info, nil
}
