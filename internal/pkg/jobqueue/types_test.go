package jobqueue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/mail"
)

func TestJobLifecycle(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job, err := newJob("job-1", JobTypeSendEmail, map[string]string{"to": "a@example.com"}, 2, t0)
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.False(t, job.CanRetry())

	job.start(t0.Add(time.Second))
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, t0.Add(time.Second), job.startedAt())

	job.fail(t0.Add(2*time.Second), errors.New("smtp down"))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "smtp down", job.LastError)
	assert.True(t, job.CanRetry())

	due := t0.Add(time.Minute)
	job.retryAt(t0.Add(2*time.Second), due)
	assert.Equal(t, JobStatusRetrying, job.Status)
	assert.Equal(t, &due, job.NextRunAt)

	// a new attempt clears the schedule
	job.start(due)
	assert.Nil(t, job.NextRunAt)
	job.fail(due, errors.New("smtp down again"))
	assert.Equal(t, 2, job.Attempts)
	assert.False(t, job.CanRetry(), "out of attempts")
}

func TestJobStartedAtFallback(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{CreatedAt: created}
	assert.Equal(t, created, job.startedAt())

	job.UpdatedAt = created.Add(time.Minute)
	assert.Equal(t, created.Add(time.Minute), job.startedAt())

	job.requeue(created.Add(time.Hour), "recovered")
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Nil(t, job.StartedAt)
	assert.Equal(t, "recovered", job.LastError)
}

func TestSendEmailPayloadSurvivesStorage(t *testing.T) {
	msg := mail.Message{
		Template: mail.TemplatePaymentReceipt,
		To:       "ada@example.com",
		Name:     "Ada",
		Data:     map[string]string{"amount": "9.00 EUR"},
	}
	job, err := newJob("job-1", JobTypeSendEmail, newSendEmailPayload(msg), DefaultMaxAttempts, time.Now())
	require.NoError(t, err)

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	var stored Job
	require.NoError(t, json.Unmarshal(raw, &stored))

	var payload SendEmailPayload
	require.NoError(t, stored.DecodePayload(&payload))
	assert.Equal(t, msg, payload.message())
}

func TestDecodePayloadErrors(t *testing.T) {
	empty := &Job{ID: "job-1"}
	var payload SendEmailPayload
	assert.Error(t, empty.DecodePayload(&payload))

	wrongShape := &Job{ID: "job-2", Payload: json.RawMessage(`{"data":"not-an-object"}`)}
	assert.Error(t, wrongShape.DecodePayload(&payload))

	_, err := newJob("job-3", JobTypeSendEmail, make(chan int), 1, time.Now())
	assert.Error(t, err)
}
