package assignment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/lifecycle"
	"github.com/klinikgigi/queue-engine/internal/metrics"
	"github.com/klinikgigi/queue-engine/internal/queue"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

var (
	ErrNoResourceAvailable = errors.New("no room or dentist available")
	ErrQueuePaused         = errors.New("queue is paused for this clinic")
)

// Policy decides who is called next and which room and dentist treat them.
type Policy struct {
	machine *lifecycle.Machine
	logger  *logging.Logger
	metrics *metrics.QueueMetrics
}

func NewPolicy(machine *lifecycle.Machine, logger *logging.Logger, m *metrics.QueueMetrics) *Policy {
	if logger == nil {
		logger = logging.Default()
	}
	return &Policy{machine: machine, logger: logger, metrics: m}
}

// AssignNext calls the lowest numbered waiting entry of today. It returns
// nil, nil when nobody is waiting.
func (p *Policy) AssignNext(ctx context.Context, clinic appointment.ClinicLocation) (*appointment.QueueEntry, error) {
	var called *appointment.QueueEntry
	err := p.machine.Do(ctx, func(ctx context.Context, u *lifecycle.Unit) error {
		called = nil
		q := u.Queries()

		settings, err := q.GetClinicSettings(ctx, clinic)
		if err != nil {
			return err
		}
		if settings.QueuePaused {
			return ErrQueuePaused
		}

		e, err := q.NextWaitingEntryForUpdate(ctx, clinic, u.Ledger().Today())
		if errors.Is(err, appointment.ErrQueueEntryNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next waiting entry: %w", err)
		}
		if err := u.Ledger().MarkCalled(ctx, q, e); err != nil {
			return err
		}
		called = e
		return nil
	})
	if err != nil {
		p.metrics.ObserveAssignment(string(clinic), "assign_next", "error")
		return nil, err
	}
	if called == nil {
		p.metrics.ObserveAssignment(string(clinic), "assign_next", "empty")
		return nil, nil
	}

	p.metrics.ObserveAssignment(string(clinic), "assign_next", "called")
	p.logger.Info("patient called",
		"clinic", clinic, "queue_number", called.QueueNumber, "appointment_id", called.AppointmentID)
	return called, nil
}

// Call marks one specific waiting entry as called.
func (p *Policy) Call(ctx context.Context, entryID uuid.UUID) (*appointment.QueueEntry, error) {
	var e *appointment.QueueEntry
	err := p.machine.Do(ctx, func(ctx context.Context, u *lifecycle.Unit) error {
		var err error
		e, err = u.Queries().GetQueueEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		return u.Ledger().MarkCalled(ctx, u.Queries(), e)
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveAssignment(string(e.Clinic), "call", "called")
	return e, nil
}

// StartTreatment binds a room and a dentist to the entry and moves its
// appointment to in_treatment. Nil ids pick resources automatically.
func (p *Policy) StartTreatment(ctx context.Context, entryID uuid.UUID, roomID, dentistID *int64) (*appointment.QueueEntry, error) {
	var out *appointment.QueueEntry
	clinic := "unknown"
	err := p.machine.Do(ctx, func(ctx context.Context, u *lifecycle.Unit) error {
		q := u.Queries()
		e, err := q.GetQueueEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		clinic = string(e.Clinic)
		if e.Status != appointment.QueueWaiting && e.Status != appointment.QueueCalled {
			return fmt.Errorf("%w: entry is %s", queue.ErrInvalidQueueTransition, e.Status)
		}
		a, err := q.GetAppointment(ctx, e.AppointmentID)
		if err != nil {
			return err
		}

		room, err := p.pickRoom(ctx, q, e.Clinic, roomID)
		if err != nil {
			return err
		}
		dentist, err := p.pickDentist(ctx, u, e.Clinic, dentistID, a.DentistID)
		if err != nil {
			return err
		}

		if err := u.Ledger().MarkInTreatment(ctx, q, e, room, dentist); err != nil {
			return err
		}
		if _, err := u.Transition(ctx, a.ID, appointment.StatusInTreatment, "treatment started", map[string]any{
			"queue_id":   e.ID,
			"room_id":    room,
			"dentist_id": dentist,
		}); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrNoResourceAvailable) || errors.Is(err, queue.ErrResourceUnavailable) {
			outcome = "no_resource"
		}
		p.metrics.ObserveAssignment(clinic, "start_treatment", outcome)
		return nil, err
	}
	p.metrics.ObserveAssignment(string(out.Clinic), "start_treatment", "started")
	return out, nil
}

func (p *Policy) pickRoom(ctx context.Context, q appointment.Queries, clinic appointment.ClinicLocation, requested *int64) (int64, error) {
	if requested != nil {
		return *requested, nil
	}
	room, err := q.FirstAvailableRoomForUpdate(ctx, clinic)
	if errors.Is(err, appointment.ErrRoomNotFound) {
		return 0, fmt.Errorf("%w: no free room in %s", ErrNoResourceAvailable, clinic)
	}
	if err != nil {
		return 0, err
	}
	return room.ID, nil
}

// pickDentist prefers an explicit choice, then the appointment's preferred
// dentist when free and not on leave, then the lowest id free dentist.
func (p *Policy) pickDentist(ctx context.Context, u *lifecycle.Unit, clinic appointment.ClinicLocation, requested, preferred *int64) (int64, error) {
	q := u.Queries()
	today := u.Ledger().Today()

	if requested != nil {
		onLeave, err := q.DentistOnLeave(ctx, *requested, today)
		if err != nil {
			return 0, err
		}
		if onLeave {
			return 0, fmt.Errorf("%w: dentist %d is on leave", queue.ErrResourceUnavailable, *requested)
		}
		return *requested, nil
	}

	if preferred != nil {
		d, err := q.GetDentist(ctx, *preferred)
		if err != nil && !errors.Is(err, appointment.ErrDentistNotFound) {
			return 0, err
		}
		if err == nil && d.Clinic == clinic && d.Status == appointment.ResourceAvailable {
			onLeave, err := q.DentistOnLeave(ctx, d.ID, today)
			if err != nil {
				return 0, err
			}
			if !onLeave {
				return d.ID, nil
			}
		}
	}

	d, err := q.FirstAvailableDentistForUpdate(ctx, clinic, today)
	if errors.Is(err, appointment.ErrDentistNotFound) {
		return 0, fmt.Errorf("%w: no free dentist in %s", ErrNoResourceAvailable, clinic)
	}
	if err != nil {
		return 0, err
	}
	return d.ID, nil
}

// CompleteTreatment finishes an in-treatment entry. The completed transition
// releases its room and dentist.
func (p *Policy) CompleteTreatment(ctx context.Context, entryID uuid.UUID) (*appointment.QueueEntry, error) {
	var out *appointment.QueueEntry
	err := p.machine.Do(ctx, func(ctx context.Context, u *lifecycle.Unit) error {
		e, err := u.Queries().GetQueueEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Status != appointment.QueueInTreatment {
			return fmt.Errorf("%w: entry is %s", queue.ErrInvalidQueueTransition, e.Status)
		}
		res, err := u.Transition(ctx, e.AppointmentID, appointment.StatusCompleted, "treatment completed", map[string]any{
			"queue_id": e.ID,
		})
		if err != nil {
			return err
		}
		out = res.Entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveAssignment(string(out.Clinic), "complete_treatment", "completed")
	return out, nil
}

// EstimatedWait returns the heuristic wait in minutes for an entry.
func (p *Policy) EstimatedWait(ctx context.Context, entryID uuid.UUID) (int, error) {
	var minutes int
	err := p.machine.Store().View(ctx, func(ctx context.Context, q appointment.Queries) error {
		e, err := q.GetQueueEntry(ctx, entryID)
		if err != nil {
			return err
		}
		entries, err := q.ListQueueEntries(ctx, e.Clinic, e.Day)
		if err != nil {
			return err
		}
		minutes = queue.EstimateWait(entries, *e)
		return nil
	})
	return minutes, err
}
