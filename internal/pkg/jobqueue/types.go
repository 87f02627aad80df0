package jobqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
)

type JobType string

const (
	JobTypeSendEmail JobType = "send_email"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job is the unit stored under JobKeyPrefix+ID. Payload holds the
// type-specific body as raw JSON.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	NextRunAt   *time.Time      `json:"next_run_at,omitempty"`
}

func newJob(id string, jobType JobType, payload interface{}, maxAttempts int, now time.Time) (*Job, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", jobType, err)
		}
		raw = b
	}
	return &Job{
		ID:          id,
		Type:        jobType,
		Status:      JobStatusPending,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DecodePayload unmarshals the payload into out.
func (j *Job) DecodePayload(out interface{}) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", j.ID)
	}
	return json.Unmarshal(j.Payload, out)
}

// CanRetry reports whether a failed job has attempts left.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.Attempts < j.MaxAttempts
}

func (j *Job) start(now time.Time) {
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.StartedAt = &now
	j.NextRunAt = nil
}

func (j *Job) fail(now time.Time, err error) {
	j.Status = JobStatusFailed
	j.UpdatedAt = now
	j.LastError = err.Error()
	j.Attempts++
}

func (j *Job) retryAt(now, at time.Time) {
	j.Status = JobStatusRetrying
	j.UpdatedAt = now
	j.NextRunAt = &at
}

func (j *Job) requeue(now time.Time, reason string) {
	j.Status = JobStatusPending
	j.UpdatedAt = now
	j.StartedAt = nil
	j.LastError = reason
}

// startedAt is when the current attempt began, falling back to the last
// update for records written without a start time.
func (j *Job) startedAt() time.Time {
	if j.StartedAt != nil && !j.StartedAt.IsZero() {
		return *j.StartedAt
	}
	if !j.UpdatedAt.IsZero() {
		return j.UpdatedAt
	}
	return j.CreatedAt
}

// SendEmailPayload is the body of a send_email job.
type SendEmailPayload struct {
	Template string            `json:"template"`
	To       string            `json:"to"`
	Name     string            `json:"name,omitempty"`
	Data     map[string]string `json:"data,omitempty"`
}

func newSendEmailPayload(msg mail.Message) SendEmailPayload {
	return SendEmailPayload{Template: msg.Template, To: msg.To, Name: msg.Name, Data: msg.Data}
}

func (p SendEmailPayload) message() mail.Message {
	return mail.Message{Template: p.Template, To: p.To, Name: p.Name, Data: p.Data}
}
