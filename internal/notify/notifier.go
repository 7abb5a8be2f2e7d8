package notify

import (
	"context"
	"errors"
	"time"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/metrics"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

// Notifier renders and sends the message of a job. Delivery failures are
// logged and counted, never returned.
type Notifier struct {
	store   appointment.Store
	sms     SMSSender
	email   EmailSender
	loc     *time.Location
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.QueueMetrics
}

func NewNotifier(store appointment.Store, sms SMSSender, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	if sms == nil {
		sms = NewLogSender(logger)
	}
	return &Notifier{
		store:   store,
		sms:     sms,
		loc:     time.UTC,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

func (n *Notifier) WithEmail(sender EmailSender) *Notifier {
	n.email = sender
	return n
}

func (n *Notifier) WithLocation(loc *time.Location) *Notifier {
	if loc != nil {
		n.loc = loc
	}
	return n
}

func (n *Notifier) WithMetrics(m *metrics.QueueMetrics) *Notifier {
	n.metrics = m
	return n
}

// Deliver satisfies Handler.
func (n *Notifier) Deliver(ctx context.Context, job Job) {
	tmpl, ok := TemplateFor(job.From, job.To)
	if !ok {
		n.logger.Debug("no notification for transition", "appointment_id", job.AppointmentID, "status", job.To)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	view, err := n.load(ctx, job)
	if err != nil {
		n.logger.Error("notification lookup failed", "appointment_id", job.AppointmentID, "status", job.To, "error", err)
		n.metrics.ObserveNotification(string(tmpl), "lookup", false)
		return
	}
	if view.Appointment.Status != job.To {
		// The appointment moved on; a stale message is tolerated.
		n.logger.Debug("sending notification for superseded status",
			"appointment_id", job.AppointmentID, "status", job.To, "current", view.Appointment.Status)
	}

	msg := render(tmpl, view)

	if err := n.sms.Send(ctx, view.Appointment.PatientPhone, msg.Body); err != nil {
		n.logger.Error("sms notification failed", "appointment_id", job.AppointmentID, "status", job.To, "error", err)
		n.metrics.ObserveNotification(string(tmpl), "sms", false)
	} else {
		n.metrics.ObserveNotification(string(tmpl), "sms", true)
	}

	if n.email == nil || view.Appointment.PatientEmail == nil {
		return
	}
	err = n.email.Send(ctx, EmailMessage{
		To:      *view.Appointment.PatientEmail,
		ToName:  view.Appointment.PatientName,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		n.logger.Error("email notification failed", "appointment_id", job.AppointmentID, "status", job.To, "error", err)
		n.metrics.ObserveNotification(string(tmpl), "email", false)
		return
	}
	n.metrics.ObserveNotification(string(tmpl), "email", true)
}

func (n *Notifier) load(ctx context.Context, job Job) (messageView, error) {
	var v messageView
	err := n.store.View(ctx, func(ctx context.Context, q appointment.Queries) error {
		a, err := q.GetAppointment(ctx, job.AppointmentID)
		if err != nil {
			return err
		}
		v.Appointment = *a
		v.ClinicName = a.Clinic.Info().Name
		v.ScheduledAt = a.ScheduledAt.In(n.loc)

		e, err := q.GetQueueEntryByAppointment(ctx, a.ID)
		if errors.Is(err, appointment.ErrQueueEntryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v.Entry = e
		if e.RoomID != nil {
			if r, err := q.GetRoom(ctx, *e.RoomID); err == nil {
				v.RoomName = r.Name
			}
		}
		if e.DentistID != nil {
			if d, err := q.GetDentist(ctx, *e.DentistID); err == nil {
				v.DentistName = d.Name
			}
		}
		return nil
	})
	return v, err
}
