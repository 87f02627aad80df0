package mail

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender delivers through the SendGrid v3 HTTP API.
type SendGridSender struct {
	client   *sendgrid.Client
	fromName string
	fromAddr string
}

func NewSendGridSender(cfg Config) *SendGridSender {
	return &SendGridSender{
		client:   sendgrid.NewSendClient(cfg.SendGridAPIKey),
		fromName: cfg.FromName,
		fromAddr: cfg.FromAddress,
	}
}

func (s *SendGridSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	from := sgmail.NewEmail(s.fromName, s.fromAddr)
	recipient := sgmail.NewEmail("", to)
	message := sgmail.NewSingleEmail(from, subject, recipient, textBody, htmlBody)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: unexpected status %d: %s", response.StatusCode, response.Body)
	}
	log.Infof("[Mail] Email sent to %s via SendGrid (status %d)", to, response.StatusCode)
	return nil
}
