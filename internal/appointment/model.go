package appointment

import (
	"time"

	"github.com/google/uuid"
)

type BookingSource string

const (
	SourcePublic BookingSource = "public"
	SourceWalkIn BookingSource = "walk-in"
	SourceStaff  BookingSource = "staff"
)

func (s BookingSource) Valid() bool {
	switch s {
	case SourcePublic, SourceWalkIn, SourceStaff:
		return true
	}
	return false
}

type QueueStatus string

const (
	QueueWaiting     QueueStatus = "waiting"
	QueueCalled      QueueStatus = "called"
	QueueInTreatment QueueStatus = "in_treatment"
	QueueCompleted   QueueStatus = "completed"
)

type ResourceStatus string

const (
	ResourceAvailable ResourceStatus = "available"
	ResourceOccupied  ResourceStatus = "occupied" // rooms
	ResourceBusy      ResourceStatus = "busy"     // dentists
	ResourceOnLeave   ResourceStatus = "on_leave"
)

type Appointment struct {
	ID           uuid.UUID
	VisitCode    string
	VisitToken   string
	PatientName  string
	PatientPhone string
	PatientEmail *string
	Clinic       ClinicLocation
	ServiceID    uuid.UUID
	DentistID    *int64
	ScheduledAt  time.Time
	Status       Status
	Source       BookingSource
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// QueueEntry is the waiting-line slot of one checked-in appointment.
// QueueNumber is unique within {Clinic, Day}.
type QueueEntry struct {
	ID                 uuid.UUID
	AppointmentID      uuid.UUID
	Clinic             ClinicLocation
	Day                time.Time
	QueueNumber        int
	Status             QueueStatus
	CheckInTime        time.Time
	CalledTime         *time.Time
	TreatmentStartTime *time.Time
	CompletedTime      *time.Time
	RoomID             *int64
	DentistID          *int64
}

type Room struct {
	ID        int64
	Clinic    ClinicLocation
	Name      string
	Capacity  int
	Status    ResourceStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Dentist struct {
	ID        int64
	Clinic    ClinicLocation
	Name      string
	Phone     string
	Status    ResourceStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LeavePeriod covers StartDate through EndDate inclusive.
type LeavePeriod struct {
	ID        int64
	DentistID int64
	StartDate time.Time
	EndDate   time.Time
	Reason    string
}

// Covers reports whether day falls inside the leave period.
func (l LeavePeriod) Covers(day time.Time) bool {
	d := dateOnly(day)
	return !d.Before(dateOnly(l.StartDate)) && !d.After(dateOnly(l.EndDate))
}

type ClinicSettings struct {
	Clinic      ClinicLocation
	QueuePaused bool
	UpdatedAt   time.Time
}

// Transition is the domain event of one committed status change. It is the
// only input of the queue consistency step and the notification job.
type Transition struct {
	AppointmentID uuid.UUID
	Clinic        ClinicLocation
	From          Status
	To            Status
	Reason        string
	Metadata      map[string]any
	At            time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
