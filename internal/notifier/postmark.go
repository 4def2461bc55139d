package notifier

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/mrz1836/postmark"
)

// PostmarkConfig configures the Postmark backend.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	SenderEmail  string
	SupportEmail string
	// BaseURL overrides the Postmark API endpoint.
	BaseURL string
}

// Postmark sends rendered emails through Postmark's transactional API.
type Postmark struct {
	client *postmark.Client
	cfg    PostmarkConfig
	links  Links
}

var _ Notifier = (*Postmark)(nil)

// NewPostmark validates cfg and creates the backend.
func NewPostmark(cfg PostmarkConfig, links Links) (*Postmark, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if cfg.AccountToken == "" {
		return nil, fmt.Errorf("%w: postmark account token is required", ErrInvalidConfig)
	}
	if _, err := mail.ParseAddress(cfg.SenderEmail); err != nil {
		return nil, fmt.Errorf("%w: sender email must be a valid address", ErrInvalidConfig)
	}
	if cfg.SupportEmail == "" {
		cfg.SupportEmail = cfg.SenderEmail
	} else if _, err := mail.ParseAddress(cfg.SupportEmail); err != nil {
		return nil, fmt.Errorf("%w: support email must be a valid address", ErrInvalidConfig)
	}

	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &Postmark{client: client, cfg: cfg, links: links}, nil
}

// SendVerificationEmail renders and sends the verification email.
func (p *Postmark) SendVerificationEmail(ctx context.Context, email, token, displayName string) error {
	msg, err := verificationMessage(p.links, token, displayName)
	if err != nil {
		return err
	}
	return p.send(ctx, email, msg)
}

// SendPasswordResetEmail renders and sends the password reset email.
func (p *Postmark) SendPasswordResetEmail(ctx context.Context, email, token, displayName string) error {
	msg, err := passwordResetMessage(p.links, token, displayName)
	if err != nil {
		return err
	}
	return p.send(ctx, email, msg)
}

// Links carry single-use tokens; tracking is disabled.
func (p *Postmark) send(ctx context.Context, to string, msg *message) error {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.cfg.SenderEmail,
		ReplyTo:    p.cfg.SupportEmail,
		To:         to,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TrackOpens: false,
		TrackLinks: "None",
	})
	if err != nil {
		return fmt.Errorf("postmark send %s: %w", msg.Tag, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark send %s: error %d: %s", msg.Tag, resp.ErrorCode, resp.Message)
	}
	return nil
}
