// Package frontdesk is the operation surface used by the HTTP layer: booking,
// check-in, queue control and patient tracking.
package frontdesk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/assignment"
	"github.com/klinikgigi/queue-engine/internal/clock"
	"github.com/klinikgigi/queue-engine/internal/lifecycle"
	"github.com/klinikgigi/queue-engine/internal/queue"
	"github.com/klinikgigi/queue-engine/internal/sweeper"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

var (
	ErrNotScheduledToday = errors.New("appointment is not scheduled for today")
	ErrUnknownAction     = errors.New("unknown queue action")
)

type Service struct {
	machine *lifecycle.Machine
	policy  *assignment.Policy
	sweeper *sweeper.Sweeper
	clock   clock.Clock
	logger  *logging.Logger
}

func NewService(machine *lifecycle.Machine, policy *assignment.Policy, sw *sweeper.Sweeper, clk clock.Clock, logger *logging.Logger) *Service {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		machine: machine,
		policy:  policy,
		sweeper: sw,
		clock:   clk,
		logger:  logger,
	}
}

type BookingRequest struct {
	PatientName  string
	PatientPhone string
	PatientEmail string
	Clinic       appointment.ClinicLocation
	ServiceID    uuid.UUID
	DentistID    *int64
	ScheduledAt  time.Time
	Notes        string
	Source       appointment.BookingSource
}

// Book creates a booked appointment with its visit code and token and
// queues the booking-received notification.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*appointment.Appointment, error) {
	now := s.clock.Now()
	if req.Source == "" {
		req.Source = appointment.SourcePublic
	}
	if req.Source == appointment.SourcePublic && !req.ScheduledAt.IsZero() && req.ScheduledAt.Before(now) {
		return nil, fmt.Errorf("%w: scheduled time is in the past", appointment.ErrValidation)
	}

	var created *appointment.Appointment
	err := s.machine.Do(ctx, func(ctx context.Context, u *lifecycle.Unit) error {
		a, err := s.create(ctx, u, req, now)
		if err != nil {
			return err
		}
		created = a
		return u.Announce(ctx, a, "booking")
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", created.ID, "clinic", created.Clinic, "visit_code", created.VisitCode, "source", created.Source)
	return created, nil
}

func (s *Service) create(ctx context.Context, u *lifecycle.Unit, req BookingRequest, now time.Time) (*appointment.Appointment, error) {
	a, err := appointment.NewAppointment(appointment.NewAppointmentParams{
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		PatientEmail: req.PatientEmail,
		Clinic:       req.Clinic,
		ServiceID:    req.ServiceID,
		DentistID:    req.DentistID,
		ScheduledAt:  req.ScheduledAt,
		Source:       req.Source,
		Notes:        req.Notes,
	}, now.UTC())
	if err != nil {
		return nil, err
	}

	q := u.Queries()
	prefix := a.Clinic.Info().CodePrefix
	day := clock.Day(a.ScheduledAt, u.Ledger().Location())
	seq, err := q.NextVisitSequence(ctx, prefix, day)
	if err != nil {
		return nil, err
	}
	a.VisitCode = appointment.FormatVisitCode(prefix, day, seq)

	if err := q.CreateAppointment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

type CheckInResult struct {
	Appointment *appointment.Appointment
	Entry       *appointment.QueueEntry
}

// WalkIn registers a patient without a booking and checks them in at once.
func (s *Service) WalkIn(ctx context.Context, req BookingRequest) (*CheckInResult, error) {
	now := s.clock.Now()
	req.Source = appointment.SourceWalkIn
	req.ScheduledAt = now.UTC()

	var out *CheckInResult
	err := s.machine.Do(ctx, func(ctx context.Context, u *lifecycle.Unit) error {
		a, err := s.create(ctx, u, req, now)
		if err != nil {
			return err
		}
		if err := u.Announce(ctx, a, "walk-in"); err != nil {
			return err
		}
		res, err := u.Transition(ctx, a.ID, appointment.StatusCheckedIn, "walk-in", nil)
		if err != nil {
			return err
		}
		out = &CheckInResult{Appointment: res.Appointment, Entry: res.Entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckIn moves a same-day appointment to checked_in and returns its queue
// entry. Checking in twice returns the existing entry.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*appointment.QueueEntry, error) {
	var entry *appointment.QueueEntry
	err := s.machine.Do(ctx, func(ctx context.Context, u *lifecycle.Unit) error {
		q := u.Queries()
		a, err := q.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !clock.SameDay(a.ScheduledAt, s.clock.Now(), u.Ledger().Location()) {
			return fmt.Errorf("%w: scheduled %s", ErrNotScheduledToday, a.ScheduledAt.In(u.Ledger().Location()).Format("2006-01-02"))
		}

		if a.Status.InQueue() {
			entry, err = q.GetQueueEntryByAppointment(ctx, id)
			return err
		}

		res, err := u.Transition(ctx, id, appointment.StatusCheckedIn, "check-in", nil)
		if err != nil {
			return err
		}
		entry = res.Entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) AssignNext(ctx context.Context, clinic appointment.ClinicLocation) (*appointment.QueueEntry, error) {
	if !clinic.Valid() {
		return nil, fmt.Errorf("%w: %q", appointment.ErrUnknownClinic, clinic)
	}
	return s.policy.AssignNext(ctx, clinic)
}

// UpdateQueueStatus applies a staff action to a queue entry. Room and
// dentist are only read by start_treatment.
func (s *Service) UpdateQueueStatus(ctx context.Context, queueID uuid.UUID, action string, roomID, dentistID *int64) (*appointment.QueueEntry, error) {
	switch normalizeAction(action) {
	case "called", "call":
		return s.policy.Call(ctx, queueID)
	case "start_treatment", "in_treatment":
		return s.policy.StartTreatment(ctx, queueID, roomID, dentistID)
	case "complete_treatment", "completed":
		return s.policy.CompleteTreatment(ctx, queueID)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

func normalizeAction(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(raw)
}

type QueueStats struct {
	Clinic           appointment.ClinicLocation `json:"clinic"`
	WaitingCount     int                        `json:"waiting_count"`
	CalledCount      int                        `json:"called_count"`
	InTreatmentCount int                        `json:"in_treatment_count"`
	CompletedCount   int                        `json:"completed_count"`
	// AvgWaitMinutes is the mean time from check-in to call of today's
	// called entries.
	AvgWaitMinutes float64 `json:"avg_wait"`
	QueuePaused    bool    `json:"queue_paused"`
}

func (s *Service) QueueStats(ctx context.Context, clinic appointment.ClinicLocation) (*QueueStats, error) {
	if !clinic.Valid() {
		return nil, fmt.Errorf("%w: %q", appointment.ErrUnknownClinic, clinic)
	}

	stats := &QueueStats{Clinic: clinic}
	err := s.machine.Store().View(ctx, func(ctx context.Context, q appointment.Queries) error {
		entries, err := q.ListQueueEntries(ctx, clinic, s.machine.Ledger().Today())
		if err != nil {
			return err
		}
		settings, err := q.GetClinicSettings(ctx, clinic)
		if err != nil {
			return err
		}
		stats.QueuePaused = settings.QueuePaused

		var waited time.Duration
		called := 0
		for _, e := range entries {
			switch e.Status {
			case appointment.QueueWaiting:
				stats.WaitingCount++
			case appointment.QueueCalled:
				stats.CalledCount++
			case appointment.QueueInTreatment:
				stats.InTreatmentCount++
			case appointment.QueueCompleted:
				stats.CompletedCount++
			}
			if e.CalledTime != nil {
				waited += e.CalledTime.Sub(e.CheckInTime)
				called++
			}
		}
		if called > 0 {
			stats.AvgWaitMinutes = math.Round(waited.Minutes()/float64(called)*10) / 10
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Service) MarkLate(ctx context.Context, thresholdMinutes int) (int, error) {
	return s.sweeper.MarkLate(ctx, thresholdMinutes)
}

func (s *Service) MarkNoShow(ctx context.Context, thresholdMinutes int) (int, error) {
	return s.sweeper.MarkNoShow(ctx, thresholdMinutes)
}

type TrackResult struct {
	Found         bool                       `json:"found"`
	VisitCode     string                     `json:"visit_code,omitempty"`
	Clinic        appointment.ClinicLocation `json:"clinic,omitempty"`
	Status        appointment.Status         `json:"status,omitempty"`
	ScheduledAt   *time.Time                 `json:"scheduled_at,omitempty"`
	QueueNumber   *int                       `json:"queue_number,omitempty"`
	QueueStatus   appointment.QueueStatus    `json:"queue_status,omitempty"`
	EstimatedWait *int                       `json:"estimated_wait,omitempty"`
}

// Track looks an appointment up by visit code for the patient portal. An
// unknown code is not an error.
func (s *Service) Track(ctx context.Context, visitCode string) (*TrackResult, error) {
	code := strings.ToUpper(strings.TrimSpace(visitCode))
	out := &TrackResult{}
	err := s.machine.Store().View(ctx, func(ctx context.Context, q appointment.Queries) error {
		a, err := q.GetAppointmentByVisitCode(ctx, code)
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		scheduled := a.ScheduledAt
		out.Found = true
		out.VisitCode = a.VisitCode
		out.Clinic = a.Clinic
		out.Status = a.Status
		out.ScheduledAt = &scheduled

		e, err := q.GetQueueEntryByAppointment(ctx, a.ID)
		if errors.Is(err, appointment.ErrQueueEntryNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		entries, err := q.ListQueueEntries(ctx, e.Clinic, e.Day)
		if err != nil {
			return err
		}
		number := e.QueueNumber
		wait := queue.EstimateWait(entries, *e)
		out.QueueNumber = &number
		out.QueueStatus = e.Status
		out.EstimatedWait = &wait
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// queueDriven are reached only through CheckIn and the queue operations,
// which keep the entry and its room and dentist in step with the status.
var queueDriven = map[appointment.Status]string{
	appointment.StatusCheckedIn:   "use check-in",
	appointment.StatusWaiting:     "use check-in",
	appointment.StatusInTreatment: "use the queue start_treatment action",
	appointment.StatusCompleted:   "use the queue complete_treatment action",
}

// Transition applies a staff requested status change. status accepts any
// casing or separator style.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, status, reason string, meta map[string]any) (*lifecycle.Result, error) {
	target, err := appointment.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if hint, ok := queueDriven[target]; ok {
		return nil, fmt.Errorf("%w: %s cannot be set directly, %s", appointment.ErrInvalidTransition, target, hint)
	}
	return s.machine.Transition(ctx, id, target, reason, meta)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*lifecycle.Result, error) {
	if reason == "" {
		reason = "cancelled"
	}
	return s.machine.Transition(ctx, id, appointment.StatusCancelled, reason, nil)
}

func (s *Service) SetQueuePaused(ctx context.Context, clinic appointment.ClinicLocation, paused bool) error {
	if !clinic.Valid() {
		return fmt.Errorf("%w: %q", appointment.ErrUnknownClinic, clinic)
	}
	err := s.machine.Store().WithTx(ctx, func(ctx context.Context, q appointment.Queries) error {
		return q.SetQueuePaused(ctx, clinic, paused)
	})
	if err != nil {
		return err
	}
	s.logger.Info("queue pause changed", "clinic", clinic, "paused", paused)
	return nil
}

// BoardEntry is one row of the clinic's queue board.
type BoardEntry struct {
	Entry         appointment.QueueEntry
	PatientName   string
	VisitCode     string
	Status        appointment.Status
	EstimatedWait int
}

// Queue lists today's entries of a clinic by queue number.
func (s *Service) Queue(ctx context.Context, clinic appointment.ClinicLocation) ([]BoardEntry, error) {
	if !clinic.Valid() {
		return nil, fmt.Errorf("%w: %q", appointment.ErrUnknownClinic, clinic)
	}

	var board []BoardEntry
	err := s.machine.Store().View(ctx, func(ctx context.Context, q appointment.Queries) error {
		entries, err := q.ListQueueEntries(ctx, clinic, s.machine.Ledger().Today())
		if err != nil {
			return err
		}
		board = make([]BoardEntry, 0, len(entries))
		for _, e := range entries {
			a, err := q.GetAppointment(ctx, e.AppointmentID)
			if err != nil {
				return fmt.Errorf("load appointment of entry %d: %w", e.QueueNumber, err)
			}
			board = append(board, BoardEntry{
				Entry:         e,
				PatientName:   a.PatientName,
				VisitCode:     a.VisitCode,
				Status:        a.Status,
				EstimatedWait: queue.EstimateWait(entries, e),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

// EstimatedWait returns the wait estimate of one entry in minutes.
func (s *Service) EstimatedWait(ctx context.Context, entryID uuid.UUID) (int, error) {
	return s.policy.EstimatedWait(ctx, entryID)
}
