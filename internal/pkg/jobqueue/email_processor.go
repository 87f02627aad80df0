package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
)

// NewEmailHandler returns the send_email handler delivering through sender.
func NewEmailHandler(sender mail.Sender) Handler {
	return func(ctx context.Context, job *Job) error {
		var payload SendEmailPayload
		if err := job.DecodePayload(&payload); err != nil {
			return fmt.Errorf("invalid send_email payload: %w", err)
		}
		msg := payload.message()
		if err := mail.Deliver(ctx, sender, msg); err != nil {
			return err
		}
		log.Infof("[EmailJob] Sent %s email to %s (job %s, attempt %d)", msg.Template, msg.To, job.ID, job.Attempts+1)
		return nil
	}
}
