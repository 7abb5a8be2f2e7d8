package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrQueueEntryNotFound  = errors.New("queue entry not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrDentistNotFound     = errors.New("dentist not found")

	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStatusChanged       = errors.New("appointment status changed concurrently")
	ErrDuplicateQueueEntry = errors.New("appointment already has a queue entry")
	ErrConcurrencyConflict = errors.New("concurrent update conflict, please retry")

	ErrUnknownStatus = errors.New("unknown appointment status")
	ErrUnknownClinic = errors.New("unknown clinic location")
	ErrValidation    = errors.New("validation failed")
)

// Queries is every read and write the engine performs. Implementations are
// bound either to a transaction (inside Store.WithTx) or to the pool.
type Queries interface {
	// Appointments
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByVisitCode(ctx context.Context, code string) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointmentStatus writes to only if the row still has status from,
	// returning ErrStatusChanged otherwise.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	NextVisitSequence(ctx context.Context, prefix string, day time.Time) (int, error)
	ListStaleAppointments(ctx context.Context, statuses []Status, scheduledBefore time.Time, limit int) ([]Appointment, error)

	// Queue ledger
	GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	GetQueueEntryForUpdate(ctx context.Context, id uuid.UUID) (*QueueEntry, error)
	GetQueueEntryByAppointment(ctx context.Context, appointmentID uuid.UUID) (*QueueEntry, error)
	// NextQueueNumber bumps the {clinic, day} counter and holds its row lock
	// until the surrounding transaction ends.
	NextQueueNumber(ctx context.Context, clinic ClinicLocation, day time.Time) (int, error)
	InsertQueueEntry(ctx context.Context, e *QueueEntry) error
	UpdateQueueEntry(ctx context.Context, e *QueueEntry) error
	DeleteQueueEntry(ctx context.Context, id uuid.UUID) error
	// NextWaitingEntryForUpdate returns the lowest numbered waiting entry,
	// skipping rows locked by other transactions.
	NextWaitingEntryForUpdate(ctx context.Context, clinic ClinicLocation, day time.Time) (*QueueEntry, error)
	ListQueueEntries(ctx context.Context, clinic ClinicLocation, day time.Time) ([]QueueEntry, error)

	// Resource registry
	CreateRoom(ctx context.Context, r *Room) error
	CreateDentist(ctx context.Context, d *Dentist) error
	CreateLeave(ctx context.Context, l *LeavePeriod) error
	GetRoom(ctx context.Context, id int64) (*Room, error)
	GetDentist(ctx context.Context, id int64) (*Dentist, error)
	GetRoomForUpdate(ctx context.Context, id int64) (*Room, error)
	GetDentistForUpdate(ctx context.Context, id int64) (*Dentist, error)
	FirstAvailableRoomForUpdate(ctx context.Context, clinic ClinicLocation) (*Room, error)
	// FirstAvailableDentistForUpdate skips dentists with a leave period covering day.
	FirstAvailableDentistForUpdate(ctx context.Context, clinic ClinicLocation, day time.Time) (*Dentist, error)
	DentistOnLeave(ctx context.Context, dentistID int64, day time.Time) (bool, error)
	SetRoomStatus(ctx context.Context, id int64, status ResourceStatus) error
	SetDentistStatus(ctx context.Context, id int64, status ResourceStatus) error
	ListRooms(ctx context.Context, clinic ClinicLocation) ([]Room, error)
	ListDentists(ctx context.Context, clinic ClinicLocation) ([]Dentist, error)

	// Clinic settings
	GetClinicSettings(ctx context.Context, clinic ClinicLocation) (ClinicSettings, error)
	SetQueuePaused(ctx context.Context, clinic ClinicLocation, paused bool) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store hands out Queries either inside one transaction or outside any.
type Store interface {
	// WithTx commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	// View runs fn without a transaction; use it for reads only.
	View(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}
