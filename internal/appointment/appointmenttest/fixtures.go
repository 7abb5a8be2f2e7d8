// Package appointmenttest seeds stores for tests.
package appointmenttest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/klinikgigi/queue-engine/internal/appointment"
)

type Params struct {
	Clinic      appointment.ClinicLocation
	ScheduledAt time.Time
	Status      appointment.Status
	DentistID   *int64
	Email       string
	Name        string
}

// Appointment creates and persists an appointment, defaulting to a booked
// seremban visit. Location only matters for the visit code date.
func Appointment(t testing.TB, store appointment.Store, p Params) *appointment.Appointment {
	t.Helper()
	if p.Clinic == "" {
		p.Clinic = appointment.ClinicSeremban
	}
	if p.ScheduledAt.IsZero() {
		p.ScheduledAt = time.Now()
	}
	if p.Name == "" {
		p.Name = "Nur Aisyah"
	}

	a, err := appointment.NewAppointment(appointment.NewAppointmentParams{
		PatientName:  p.Name,
		PatientPhone: "+60123456789",
		PatientEmail: p.Email,
		Clinic:       p.Clinic,
		ServiceID:    uuid.New(),
		DentistID:    p.DentistID,
		ScheduledAt:  p.ScheduledAt,
	}, p.ScheduledAt)
	require.NoError(t, err)
	if p.Status != "" {
		a.Status = p.Status
	}

	err = store.WithTx(context.Background(), func(ctx context.Context, q appointment.Queries) error {
		prefix := p.Clinic.Info().CodePrefix
		seq, err := q.NextVisitSequence(ctx, prefix, p.ScheduledAt)
		if err != nil {
			return err
		}
		a.VisitCode = appointment.FormatVisitCode(prefix, p.ScheduledAt, seq)
		return q.CreateAppointment(ctx, a)
	})
	require.NoError(t, err)
	return a
}

func Room(t testing.TB, store appointment.Store, clinic appointment.ClinicLocation, name string) *appointment.Room {
	t.Helper()
	r := &appointment.Room{Clinic: clinic, Name: name, Capacity: 1}
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, q appointment.Queries) error {
		return q.CreateRoom(ctx, r)
	}))
	return r
}

func Dentist(t testing.TB, store appointment.Store, clinic appointment.ClinicLocation, name string) *appointment.Dentist {
	t.Helper()
	d := &appointment.Dentist{Clinic: clinic, Name: name}
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, q appointment.Queries) error {
		return q.CreateDentist(ctx, d)
	}))
	return d
}

// Entry returns the queue entry of an appointment, or nil.
func Entry(t testing.TB, store appointment.Store, appointmentID uuid.UUID) *appointment.QueueEntry {
	t.Helper()
	var e *appointment.QueueEntry
	err := store.View(context.Background(), func(ctx context.Context, q appointment.Queries) error {
		got, err := q.GetQueueEntryByAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		e = got
		return nil
	})
	if err != nil {
		require.ErrorIs(t, err, appointment.ErrQueueEntryNotFound)
		return nil
	}
	return e
}

// Get reloads an appointment.
func Get(t testing.TB, store appointment.Store, id uuid.UUID) *appointment.Appointment {
	t.Helper()
	var a *appointment.Appointment
	require.NoError(t, store.View(context.Background(), func(ctx context.Context, q appointment.Queries) error {
		var err error
		a, err = q.GetAppointment(ctx, id)
		return err
	}))
	return a
}
