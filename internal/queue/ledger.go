// Package queue owns the per clinic-day waiting line: number allocation,
// entry state and the room/dentist bindings of entries in treatment.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/clock"
)

var (
	ErrInvalidQueueTransition = errors.New("invalid queue entry transition")
	ErrResourceUnavailable    = errors.New("room or dentist is not available")
)

type Ledger struct {
	clock clock.Clock
	loc   *time.Location
}

// NewLedger computes "today" in loc. A nil loc means UTC.
func NewLedger(clk clock.Clock, loc *time.Location) *Ledger {
	if clk == nil {
		clk = clock.System()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{clock: clk, loc: loc}
}

func (l *Ledger) Today() time.Time {
	return clock.Day(l.clock.Now(), l.loc)
}

func (l *Ledger) Location() *time.Location {
	return l.loc
}

// NextQueueNumber allocates the next number of the clinic-day. The counter
// row stays locked until the surrounding transaction finishes, so the number
// must be consumed by an insert in the same transaction.
func (l *Ledger) NextQueueNumber(ctx context.Context, q appointment.Queries, clinic appointment.ClinicLocation, day time.Time) (int, error) {
	return q.NextQueueNumber(ctx, clinic, day)
}

// CreateEntry returns the appointment's entry, creating a waiting one for
// today when none exists. created is false for the idempotent path.
func (l *Ledger) CreateEntry(ctx context.Context, q appointment.Queries, a *appointment.Appointment) (entry *appointment.QueueEntry, created bool, err error) {
	existing, err := q.GetQueueEntryByAppointment(ctx, a.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, appointment.ErrQueueEntryNotFound) {
		return nil, false, fmt.Errorf("lookup queue entry: %w", err)
	}

	day := l.Today()
	number, err := l.NextQueueNumber(ctx, q, a.Clinic, day)
	if err != nil {
		return nil, false, err
	}

	e := &appointment.QueueEntry{
		ID:            uuid.New(),
		AppointmentID: a.ID,
		Clinic:        a.Clinic,
		Day:           day,
		QueueNumber:   number,
		Status:        appointment.QueueWaiting,
		CheckInTime:   l.clock.Now().UTC(),
	}
	if err := q.InsertQueueEntry(ctx, e); err != nil {
		if errors.Is(err, appointment.ErrDuplicateQueueEntry) {
			// Another unit won the insert; a retry sees its entry.
			return nil, false, fmt.Errorf("create queue entry: %w", appointment.ErrConcurrencyConflict)
		}
		return nil, false, err
	}
	return e, true, nil
}

func (l *Ledger) MarkCalled(ctx context.Context, q appointment.Queries, e *appointment.QueueEntry) error {
	if e.Status != appointment.QueueWaiting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidQueueTransition, e.Status, appointment.QueueCalled)
	}
	now := l.clock.Now().UTC()
	e.Status = appointment.QueueCalled
	e.CalledTime = &now
	return q.UpdateQueueEntry(ctx, e)
}

// MarkInTreatment binds a room and a dentist, re-reading both under lock and
// requiring them to still be available.
func (l *Ledger) MarkInTreatment(ctx context.Context, q appointment.Queries, e *appointment.QueueEntry, roomID, dentistID int64) error {
	if e.Status != appointment.QueueWaiting && e.Status != appointment.QueueCalled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidQueueTransition, e.Status, appointment.QueueInTreatment)
	}

	room, err := q.GetRoomForUpdate(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Clinic != e.Clinic || room.Status != appointment.ResourceAvailable {
		return fmt.Errorf("%w: room %d is %s", ErrResourceUnavailable, room.ID, room.Status)
	}
	dentist, err := q.GetDentistForUpdate(ctx, dentistID)
	if err != nil {
		return err
	}
	if dentist.Clinic != e.Clinic || dentist.Status != appointment.ResourceAvailable {
		return fmt.Errorf("%w: dentist %d is %s", ErrResourceUnavailable, dentist.ID, dentist.Status)
	}

	if err := q.SetRoomStatus(ctx, room.ID, appointment.ResourceOccupied); err != nil {
		return err
	}
	if err := q.SetDentistStatus(ctx, dentist.ID, appointment.ResourceBusy); err != nil {
		return err
	}

	now := l.clock.Now().UTC()
	e.Status = appointment.QueueInTreatment
	e.TreatmentStartTime = &now
	e.RoomID = &room.ID
	e.DentistID = &dentist.ID
	return q.UpdateQueueEntry(ctx, e)
}

// MarkCompleted completes the entry and frees its room and dentist. Completing
// an already completed entry is a no-op.
func (l *Ledger) MarkCompleted(ctx context.Context, q appointment.Queries, e *appointment.QueueEntry) error {
	if e.Status == appointment.QueueCompleted {
		return nil
	}
	if err := l.release(ctx, q, e); err != nil {
		return err
	}
	now := l.clock.Now().UTC()
	e.Status = appointment.QueueCompleted
	e.CompletedTime = &now
	return q.UpdateQueueEntry(ctx, e)
}

// DeleteEntry vacates the appointment's slot, releasing resources first. A
// missing entry is not an error.
func (l *Ledger) DeleteEntry(ctx context.Context, q appointment.Queries, appointmentID uuid.UUID) error {
	e, err := q.GetQueueEntryByAppointment(ctx, appointmentID)
	if errors.Is(err, appointment.ErrQueueEntryNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup queue entry: %w", err)
	}
	if err := l.release(ctx, q, e); err != nil {
		return err
	}
	return q.DeleteQueueEntry(ctx, e.ID)
}

// release frees the bindings of an in-treatment entry. Resources that staff
// moved to on_leave meanwhile keep that status.
func (l *Ledger) release(ctx context.Context, q appointment.Queries, e *appointment.QueueEntry) error {
	if e.Status != appointment.QueueInTreatment {
		return nil
	}
	if e.RoomID != nil {
		room, err := q.GetRoomForUpdate(ctx, *e.RoomID)
		if err != nil && !errors.Is(err, appointment.ErrRoomNotFound) {
			return err
		}
		if err == nil && room.Status == appointment.ResourceOccupied {
			if err := q.SetRoomStatus(ctx, room.ID, appointment.ResourceAvailable); err != nil {
				return err
			}
		}
	}
	if e.DentistID != nil {
		dentist, err := q.GetDentistForUpdate(ctx, *e.DentistID)
		if err != nil && !errors.Is(err, appointment.ErrDentistNotFound) {
			return err
		}
		if err == nil && dentist.Status == appointment.ResourceBusy {
			if err := q.SetDentistStatus(ctx, dentist.ID, appointment.ResourceAvailable); err != nil {
				return err
			}
		}
	}
	return nil
}
