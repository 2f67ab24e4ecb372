package mail

import (
	"context"
	"errors"
	"fmt"

	sendgrid "github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendGridSender struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

func newSendGridSender(cfg Config) (*sendGridSender, error) {
	if cfg.SendGridAPIKey == "" || cfg.SendGridFrom == "" {
		return nil, errors.New("incomplete sendgrid configuration")
	}
	return &sendGridSender{
		client:   sendgrid.NewSendClient(cfg.SendGridAPIKey),
		from:     cfg.SendGridFrom,
		fromName: cfg.SendGridFromName,
	}, nil
}

func (s *sendGridSender) Send(_ context.Context, message Message) error {
	from := sgmail.NewEmail(s.fromName, s.from)
	to := sgmail.NewEmail("", message.To)
	email := sgmail.NewSingleEmail(from, message.Subject, to, message.TextBody, message.HTMLBody)

	response, err := s.client.Send(email)
	if err != nil {
		return fmt.Errorf("send sendgrid mail: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid rejected mail: status %d", response.StatusCode)
	}
	return nil
}
