package notifier

import (
	"context"
	"fmt"

	pkgkafka "github.com/utafrali/authcore/pkg/kafka"
)

// Kafka topics for email requests. A downstream mailer renders and sends.
const (
	TopicVerificationRequested  = "authcore.account.verification_requested"
	TopicPasswordResetRequested = "authcore.account.password_reset_requested"
)

const (
	aggregateTypeAccount = "account"
	sourceAuthService    = "auth-service"
)

// EmailRequestedData is the payload of both email request events.
type EmailRequestedData struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Link        string `json:"link"`
}

// EventPublisher is satisfied by *pkgkafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Kafka publishes email requests as events keyed by recipient.
type Kafka struct {
	publisher EventPublisher
	links     Links
}

var _ Notifier = (*Kafka)(nil)

// NewKafka creates the Kafka backend.
func NewKafka(publisher EventPublisher, links Links) *Kafka {
	return &Kafka{publisher: publisher, links: links}
}

// SendVerificationEmail publishes a verification email request.
func (k *Kafka) SendVerificationEmail(ctx context.Context, email, token, displayName string) error {
	return k.publish(ctx, TopicVerificationRequested, EmailRequestedData{
		Email:       email,
		DisplayName: greeting(displayName),
		Link:        k.links.VerifyEmail(token),
	})
}

// SendPasswordResetEmail publishes a password reset email request.
func (k *Kafka) SendPasswordResetEmail(ctx context.Context, email, token, displayName string) error {
	return k.publish(ctx, TopicPasswordResetRequested, EmailRequestedData{
		Email:       email,
		DisplayName: greeting(displayName),
		Link:        k.links.ResetPassword(token),
	})
}

func (k *Kafka) publish(ctx context.Context, topic string, data EmailRequestedData) error {
	event, err := pkgkafka.NewEvent(topic, pkgkafka.Aggregate{Type: aggregateTypeAccount, ID: data.Email}, sourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := k.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}
