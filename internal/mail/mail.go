// Package mail sends the export-ready notification through a configurable
// provider.
package mail

import (
	"context"
	"fmt"
)

// Message is one outbound notification.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Sender delivers a single message. Implementations must be safe for use
// from the export worker goroutine.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// Config selects and configures the provider. Provider is one of
// "smtp", "sendgrid" or empty for the discard sender.
type Config struct {
	Provider string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SendGridAPIKey   string
	SendGridFrom     string
	SendGridFromName string
}

// NewSender builds the configured provider. With no provider configured it
// returns a sender that drops messages, so local runs work without SMTP.
func NewSender(cfg Config) (Sender, error) {
	switch cfg.Provider {
	case "smtp":
		return newSMTPSender(cfg)
	case "sendgrid":
		return newSendGridSender(cfg)
	case "":
		return discardSender{}, nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

type discardSender struct{}

func (discardSender) Send(context.Context, Message) error {
	return nil
}
