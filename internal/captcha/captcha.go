// Package captcha verifies anti-automation challenge tokens.
package captcha

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/utafrali/authcore/pkg/httpclient"
	"github.com/utafrali/authcore/pkg/logger"
)

// DefaultVerifyURL is Google's reCAPTCHA siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Verifier checks a challenge token. Transport failures count as a failed
// challenge.
type Verifier interface {
	Verify(ctx context.Context, challengeToken string) bool
}

// FormPoster is satisfied by *httpclient.CircuitBreakerClient.
type FormPoster interface {
	PostForm(ctx context.Context, rawURL string, form url.Values) (*http.Response, error)
}

// Recaptcha verifies tokens against the reCAPTCHA siteverify API.
type Recaptcha struct {
	client    FormPoster
	secret    string
	verifyURL string
	minScore  float64
	logger    *slog.Logger
}

var _ Verifier = (*Recaptcha)(nil)

// RecaptchaConfig configures the verifier. MinScore applies only to
// responses that carry a score (reCAPTCHA v3).
type RecaptchaConfig struct {
	Secret    string
	VerifyURL string
	MinScore  float64
}

// NewRecaptcha creates a verifier that posts to cfg.VerifyURL through client.
func NewRecaptcha(client FormPoster, cfg RecaptchaConfig, logger *slog.Logger) *Recaptcha {
	verifyURL := cfg.VerifyURL
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	return &Recaptcha{
		client:    client,
		secret:    cfg.Secret,
		verifyURL: verifyURL,
		minScore:  cfg.MinScore,
		logger:    logger,
	}
}

type siteverifyResponse struct {
	Success     bool     `json:"success"`
	Score       *float64 `json:"score,omitempty"`
	Action      string   `json:"action,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
}

// Verify reports whether the challenge passed and met the minimum score.
// Transport and decoding failures count as a failed challenge.
func (r *Recaptcha) Verify(ctx context.Context, challengeToken string) bool {
	if strings.TrimSpace(challengeToken) == "" {
		return false
	}

	resp, err := r.client.PostForm(ctx, r.verifyURL, url.Values{
		"secret":   {r.secret},
		"response": {challengeToken},
	})
	if err != nil {
		r.logger.WarnContext(ctx, "captcha verification request failed", logger.Err(err))
		return false
	}

	var out siteverifyResponse
	if err := httpclient.DecodeJSON(resp, "recaptcha", &out); err != nil {
		r.logger.WarnContext(ctx, "captcha verification response invalid", logger.Err(err))
		return false
	}

	if !out.Success {
		r.logger.InfoContext(ctx, "captcha rejected", slog.Any("error_codes", out.ErrorCodes))
		return false
	}
	if out.Score != nil && r.minScore > 0 && *out.Score < r.minScore {
		r.logger.InfoContext(ctx, "captcha score below threshold", slog.Float64("score", *out.Score))
		return false
	}
	return true
}

// Disabled accepts every token. Used when captcha is turned off.
type Disabled struct{}

// Verify accepts every challenge.
func (Disabled) Verify(context.Context, string) bool { return true }
