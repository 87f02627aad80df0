package mail

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
)

// LogSender only logs outgoing mail. Used in development and as fallback.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (LogSender) Send(_ context.Context, to, subject, _, textBody string) error {
	log.Infof("[Mail] (log driver) to=%s subject=%q\n%s", to, subject, textBody)
	return nil
}
