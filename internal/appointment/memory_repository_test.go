package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAppointment(t *testing.T, s *MemoryStore, code string) *Appointment {
	t.Helper()
	p := validParams()
	a, err := NewAppointment(p, p.ScheduledAt)
	require.NoError(t, err)
	a.VisitCode = code
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, q Queries) error {
		return q.CreateAppointment(ctx, a)
	}))
	return a
}

func TestMemoryStoreRollsBackFailedUnits(t *testing.T) {
	s := NewMemoryStore()
	a := seedAppointment(t, s, "PDS-20260302-001")

	err := s.WithTx(context.Background(), func(ctx context.Context, q Queries) error {
		if _, err := q.UpdateAppointmentStatus(ctx, a.ID, StatusBooked, StatusCheckedIn); err != nil {
			return err
		}
		return errors.New("later step failed")
	})
	require.Error(t, err)

	require.NoError(t, s.View(context.Background(), func(ctx context.Context, q Queries) error {
		got, err := q.GetAppointment(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusBooked, got.Status)
		return nil
	}))
}

func TestMemoryStoreRollbackUndoesEveryWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := seedAppointment(t, s, "SRB-20260302-001")
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, q Queries) error {
		return q.InsertEvent(ctx, EventLog{EventType: "APPOINTMENT_BOOKED"})
	}))

	p := validParams()
	b, err := NewAppointment(p, p.ScheduledAt)
	require.NoError(t, err)
	b.VisitCode = "SRB-20260302-002"

	writeEverything := func(ctx context.Context, q Queries) {
		_, err := q.UpdateAppointmentStatus(ctx, a.ID, StatusBooked, StatusCheckedIn)
		require.NoError(t, err)
		require.NoError(t, q.CreateAppointment(ctx, b))
		_, err = q.NextVisitSequence(ctx, "SRB", day)
		require.NoError(t, err)
		n, err := q.NextQueueNumber(ctx, ClinicSeremban, day)
		require.NoError(t, err)
		require.NoError(t, q.InsertQueueEntry(ctx, &QueueEntry{ID: uuid.New(), AppointmentID: a.ID, Clinic: ClinicSeremban, Day: day, QueueNumber: n, Status: QueueWaiting}))
		room := &Room{Clinic: ClinicSeremban, Name: "Bilik 1", Capacity: 1}
		require.NoError(t, q.CreateRoom(ctx, room))
		require.NoError(t, q.SetRoomStatus(ctx, room.ID, ResourceOccupied))
		d := &Dentist{Clinic: ClinicSeremban, Name: "Dr. A"}
		require.NoError(t, q.CreateDentist(ctx, d))
		require.NoError(t, q.CreateLeave(ctx, &LeavePeriod{DentistID: d.ID, StartDate: day, EndDate: day}))
		require.NoError(t, q.SetQueuePaused(ctx, ClinicSeremban, true))
		require.NoError(t, q.InsertEvent(ctx, EventLog{EventType: "CHECKED_IN"}))
	}

	err = s.WithTx(ctx, func(ctx context.Context, q Queries) error {
		writeEverything(ctx, q)
		return errors.New("later step failed")
	})
	require.Error(t, err)
	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(ctx context.Context, q Queries) error {
			writeEverything(ctx, q)
			panic("boom")
		})
	})

	require.NoError(t, s.View(ctx, func(ctx context.Context, q Queries) error {
		got, err := q.GetAppointment(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusBooked, got.Status)
		_, err = q.GetAppointment(ctx, b.ID)
		assert.ErrorIs(t, err, ErrAppointmentNotFound)
		_, err = q.GetQueueEntryByAppointment(ctx, a.ID)
		assert.ErrorIs(t, err, ErrQueueEntryNotFound)
		rooms, _ := q.ListRooms(ctx, ClinicSeremban)
		assert.Empty(t, rooms)
		dentists, _ := q.ListDentists(ctx, ClinicSeremban)
		assert.Empty(t, dentists)
		settings, _ := q.GetClinicSettings(ctx, ClinicSeremban)
		assert.False(t, settings.QueuePaused)
		return nil
	}))
	assert.Len(t, s.Events(), 1)

	// Counters and ids continue as if the failed units never ran.
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, q Queries) error {
		seq, err := q.NextVisitSequence(ctx, "SRB", day)
		require.NoError(t, err)
		assert.Equal(t, 1, seq)
		n, err := q.NextQueueNumber(ctx, ClinicSeremban, day)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		room := &Room{Clinic: ClinicSeremban, Name: "Bilik 1", Capacity: 1}
		require.NoError(t, q.CreateRoom(ctx, room))
		assert.EqualValues(t, 1, room.ID)
		return q.InsertEvent(ctx, EventLog{EventType: "CHECKED_IN"})
	}))
	events := s.Events()
	require.Len(t, events, 2)
	assert.EqualValues(t, 2, events[1].ID)
}

func TestMemoryStoreGuardsStatusUpdate(t *testing.T) {
	s := NewMemoryStore()
	a := seedAppointment(t, s, "PDS-20260302-001")

	err := s.WithTx(context.Background(), func(ctx context.Context, q Queries) error {
		_, err := q.UpdateAppointmentStatus(ctx, a.ID, StatusConfirmed, StatusCheckedIn)
		return err
	})
	assert.ErrorIs(t, err, ErrStatusChanged)
}

func TestMemoryStoreRejectsDuplicateVisitCode(t *testing.T) {
	s := NewMemoryStore()
	seedAppointment(t, s, "PDS-20260302-001")

	p := validParams()
	b, err := NewAppointment(p, p.ScheduledAt)
	require.NoError(t, err)
	b.VisitCode = "PDS-20260302-001"
	err = s.WithTx(context.Background(), func(ctx context.Context, q Queries) error {
		return q.CreateAppointment(ctx, b)
	})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestMemoryStoreQueueNumbers(t *testing.T) {
	s := NewMemoryStore()
	a := seedAppointment(t, s, "PDS-20260302-001")
	b := seedAppointment(t, s, "PDS-20260302-002")
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	insert := func(apptID uuid.UUID) (*QueueEntry, error) {
		var e *QueueEntry
		err := s.WithTx(context.Background(), func(ctx context.Context, q Queries) error {
			n, err := q.NextQueueNumber(ctx, ClinicPortDickson, day)
			if err != nil {
				return err
			}
			e = &QueueEntry{ID: uuid.New(), AppointmentID: apptID, Clinic: ClinicPortDickson, Day: day, QueueNumber: n, Status: QueueWaiting}
			return q.InsertQueueEntry(ctx, e)
		})
		return e, err
	}

	first, err := insert(a.ID)
	require.NoError(t, err)
	second, err := insert(b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.QueueNumber)
	assert.Equal(t, 2, second.QueueNumber)

	_, err = insert(a.ID)
	assert.ErrorIs(t, err, ErrDuplicateQueueEntry)

	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, q Queries) error {
		return q.DeleteQueueEntry(ctx, second.ID)
	}))
	c := seedAppointment(t, s, "PDS-20260302-003")
	third, err := insert(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, third.QueueNumber, "deleted number 2 is not handed out again")
}

func TestMemoryStoreResourceBinding(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	room := &Room{Clinic: ClinicNilai, Name: "Bilik 1", Capacity: 1}
	d1 := &Dentist{Clinic: ClinicNilai, Name: "Dr. A"}
	d2 := &Dentist{Clinic: ClinicNilai, Name: "Dr. B"}
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, q Queries) error {
		require.NoError(t, q.CreateRoom(ctx, room))
		require.NoError(t, q.CreateDentist(ctx, d1))
		require.NoError(t, q.CreateDentist(ctx, d2))
		return q.CreateLeave(ctx, &LeavePeriod{DentistID: d1.ID, StartDate: day, EndDate: day})
	}))
	assert.EqualValues(t, 1, room.ID)
	assert.Equal(t, ResourceAvailable, room.Status)

	require.NoError(t, s.View(ctx, func(ctx context.Context, q Queries) error {
		d, err := q.FirstAvailableDentistForUpdate(ctx, ClinicNilai, day)
		require.NoError(t, err)
		assert.Equal(t, d2.ID, d.ID, "dentist on leave is skipped")

		_, err = q.FirstAvailableRoomForUpdate(ctx, ClinicSeremban)
		assert.ErrorIs(t, err, ErrRoomNotFound)
		return nil
	}))

	a := seedAppointment(t, s, "NLI-1")
	b := seedAppointment(t, s, "NLI-2")
	bind := func(apptID uuid.UUID, n int) error {
		return s.WithTx(ctx, func(ctx context.Context, q Queries) error {
			e := &QueueEntry{ID: uuid.New(), AppointmentID: apptID, Clinic: ClinicNilai, Day: day, QueueNumber: n, Status: QueueWaiting}
			if err := q.InsertQueueEntry(ctx, e); err != nil {
				return err
			}
			e.Status = QueueInTreatment
			e.RoomID = &room.ID
			e.DentistID = &d2.ID
			return q.UpdateQueueEntry(ctx, e)
		})
	}
	require.NoError(t, bind(a.ID, 1))
	assert.ErrorIs(t, bind(b.ID, 2), ErrConcurrencyConflict)
}

func TestMemoryStoreSettingsAndEvents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, q Queries) error {
		if err := q.SetQueuePaused(ctx, ClinicSeremban, true); err != nil {
			return err
		}
		return q.InsertEvent(ctx, EventLog{EventType: "APPOINTMENT_BOOKED", Payload: []byte(`{}`)})
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, q Queries) error {
		settings, err := q.GetClinicSettings(ctx, ClinicSeremban)
		require.NoError(t, err)
		assert.True(t, settings.QueuePaused)

		other, err := q.GetClinicSettings(ctx, ClinicNilai)
		require.NoError(t, err)
		assert.False(t, other.QueuePaused)
		return nil
	}))

	events := s.Events()
	require.Len(t, events, 1)
	assert.EqualValues(t, 1, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
}
