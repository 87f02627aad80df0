package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/env"
)

const (
	DriverSMTP     = "smtp"
	DriverSendGrid = "sendgrid"
	DriverLog      = "log"
)

// Message is a templated email addressed to one member. It is what gets
// serialized into a send_email job.
type Message struct {
	Template string            `json:"template"`
	To       string            `json:"to"`
	Name     string            `json:"name"`
	Data     map[string]string `json:"data,omitempty"`
}

// Validate checks that a message can be rendered and delivered.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("mail: recipient is required")
	}
	if _, ok := templates[m.Template]; !ok {
		return fmt.Errorf("mail: unknown template %q", m.Template)
	}
	return nil
}

// Sender delivers a rendered email.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// Config selects and configures the delivery driver.
type Config struct {
	Driver         string
	FromAddress    string
	FromName       string
	SMTPHost       string
	SMTPPort       string
	SMTPUsername   string
	SMTPPassword   string
	SendGridAPIKey string
	BaseURL        string
}

// LoadConfig reads mail settings from the environment.
func LoadConfig() Config {
	return Config{
		Driver:         strings.ToLower(env.GetEnv("MAIL_DRIVER", DriverLog)),
		FromAddress:    env.GetEnv("MAIL_FROM_ADDRESS", env.GetEnv("SMTP_SENDER", "no-reply@localhost")),
		FromName:       env.GetEnv("MAIL_FROM_NAME", "MemberPortal"),
		SMTPHost:       env.GetEnv("SMTP_HOST", ""),
		SMTPPort:       env.GetEnv("SMTP_PORT", "587"),
		SMTPUsername:   env.GetEnv("SMTP_USERNAME", ""),
		SMTPPassword:   env.GetEnv("SMTP_PASSWORD", ""),
		SendGridAPIKey: env.GetEnv("SENDGRID_API_KEY", ""),
		BaseURL:        env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"),
	}
}

// NewSender builds the configured driver. Misconfigured drivers fall back to
// the log sender so that a missing mail setup never blocks billing.
func NewSender(cfg Config) Sender {
	switch cfg.Driver {
	case DriverSMTP:
		if cfg.SMTPHost == "" {
			log.Warn("[Mail] MAIL_DRIVER=smtp but SMTP_HOST is empty, falling back to log driver")
			return NewLogSender()
		}
		return NewSMTPSender(cfg)
	case DriverSendGrid:
		if cfg.SendGridAPIKey == "" {
			log.Warn("[Mail] MAIL_DRIVER=sendgrid but SENDGRID_API_KEY is empty, falling back to log driver")
			return NewLogSender()
		}
		return NewSendGridSender(cfg)
	default:
		return NewLogSender()
	}
}

// Deliver renders msg and hands it to sender.
func Deliver(ctx context.Context, sender Sender, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	subject, htmlBody, textBody, err := Render(msg)
	if err != nil {
		return err
	}
	if err := sender.Send(ctx, msg.To, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("send %s mail: %w", msg.Template, err)
	}
	return nil
}
