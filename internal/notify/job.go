// Package notify turns committed appointment transitions into patient
// messages. Jobs are enqueued after commit and delivered best effort.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klinikgigi/queue-engine/internal/appointment"
)

var ErrQueueFull = errors.New("notification queue is full")

// Job is one patient notification request, keyed by the transition that
// caused it. It carries no message content; the notifier loads current
// state at send time.
type Job struct {
	ID            uuid.UUID                  `json:"id"`
	AppointmentID uuid.UUID                  `json:"appointment_id"`
	Clinic        appointment.ClinicLocation `json:"clinic"`
	From          appointment.Status         `json:"from"`
	To            appointment.Status         `json:"to"`
	Reason        string                     `json:"reason,omitempty"`
	OccurredAt    time.Time                  `json:"occurred_at"`
}

func NewJob(tr appointment.Transition) Job {
	return Job{
		ID:            uuid.New(),
		AppointmentID: tr.AppointmentID,
		Clinic:        tr.Clinic,
		From:          tr.From,
		To:            tr.To,
		Reason:        tr.Reason,
		OccurredAt:    tr.At,
	}
}

// Dispatcher hands a job to whatever transport delivers it.
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) error
}

// Handler consumes one job. Delivery problems are the handler's to log.
type Handler func(ctx context.Context, job Job)

func encodeJob(job Job) ([]byte, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return raw, nil
}

func decodeJob(raw []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if job.AppointmentID == uuid.Nil || job.To == "" {
		return Job{}, errors.New("decode job: missing appointment id or status")
	}
	return job, nil
}

// NoopDispatcher drops every job.
type NoopDispatcher struct{}

func (NoopDispatcher) Enqueue(context.Context, Job) error { return nil }
