package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

type smtpSender struct {
	cfg Config
}

func newSMTPSender(cfg Config) (*smtpSender, error) {
	if cfg.SMTPHost == "" || cfg.SMTPPort == "" || cfg.SMTPFrom == "" {
		return nil, errors.New("incomplete smtp configuration")
	}
	return &smtpSender{cfg: cfg}, nil
}

func (s *smtpSender) Send(_ context.Context, message Message) error {
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}

	var body strings.Builder
	body.WriteString(fmt.Sprintf("From: %s\r\n", s.cfg.SMTPFrom))
	body.WriteString(fmt.Sprintf("To: %s\r\n", message.To))
	body.WriteString(fmt.Sprintf("Subject: %s\r\n", message.Subject))
	body.WriteString("MIME-Version: 1.0\r\n")
	body.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	body.WriteString("\r\n")
	body.WriteString(message.HTMLBody)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	if err := smtp.SendMail(addr, auth, s.cfg.SMTPFrom, []string{message.To}, []byte(body.String())); err != nil {
		return fmt.Errorf("send smtp mail: %w", err)
	}
	return nil
}
