package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinikgigi/queue-engine/internal/appointment"
)

// A status added to the lifecycle without a queue arm here must fail loudly
// instead of silently doing nothing.
func TestEveryStatusHasAnExplicitAction(t *testing.T) {
	for _, s := range appointment.AllStatuses {
		_, ok := ActionFor(s)
		assert.True(t, ok, "status %q has no queue action", s)
	}

	_, ok := ActionFor(appointment.Status("CHECKED_IN"))
	assert.False(t, ok, "non canonical casing must not match")
}

func TestActionTable(t *testing.T) {
	tests := []struct {
		status appointment.Status
		want   Action
	}{
		{appointment.StatusCheckedIn, ActionCreateEntry},
		{appointment.StatusWaiting, ActionCreateEntry},
		{appointment.StatusCompleted, ActionCompleteEntry},
		{appointment.StatusCancelled, ActionDeleteEntry},
		{appointment.StatusNoShow, ActionDeleteEntry},
		{appointment.StatusLate, ActionNone},
		{appointment.StatusInTreatment, ActionNone},
		{appointment.StatusBooked, ActionNone},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got, _ := ActionFor(tt.status)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	a := f.appointment(t, appointment.ClinicSeremban)
	c := NewConsistency(f.ledger)

	err := f.store.WithTx(context.Background(), func(ctx context.Context, q appointment.Queries) error {
		_, err := c.Apply(ctx, q, a, appointment.Transition{AppointmentID: a.ID, To: "Checked In"})
		return err
	})
	assert.Error(t, err)
}

func TestApplyFollowsStatus(t *testing.T) {
	f := newFixture(t)
	a := f.appointment(t, appointment.ClinicSeremban)
	c := NewConsistency(f.ledger)

	f.tx(t, func(ctx context.Context, q appointment.Queries) error {
		eff, err := c.Apply(ctx, q, a, appointment.Transition{AppointmentID: a.ID, From: appointment.StatusBooked, To: appointment.StatusCheckedIn})
		require.NoError(t, err)
		require.NotNil(t, eff.Entry)
		assert.True(t, eff.Created)
		assert.Equal(t, 1, eff.Entry.QueueNumber)

		again, err := c.Apply(ctx, q, a, appointment.Transition{AppointmentID: a.ID, From: appointment.StatusCheckedIn, To: appointment.StatusWaiting})
		require.NoError(t, err)
		assert.False(t, again.Created)
		assert.Equal(t, eff.Entry.ID, again.Entry.ID)

		late, err := c.Apply(ctx, q, a, appointment.Transition{AppointmentID: a.ID, From: appointment.StatusWaiting, To: appointment.StatusLate})
		require.NoError(t, err)
		assert.Equal(t, ActionNone, late.Action)
		assert.Equal(t, eff.Entry.ID, late.Entry.ID, "late keeps the slot")

		gone, err := c.Apply(ctx, q, a, appointment.Transition{AppointmentID: a.ID, From: appointment.StatusLate, To: appointment.StatusCancelled})
		require.NoError(t, err)
		assert.Equal(t, ActionDeleteEntry, gone.Action)
		assert.Nil(t, gone.Entry)

		_, err = q.GetQueueEntryByAppointment(ctx, a.ID)
		assert.ErrorIs(t, err, appointment.ErrQueueEntryNotFound)
		return nil
	})
}

func TestApplyCompletedWithoutEntryIsNoop(t *testing.T) {
	f := newFixture(t)
	a := f.appointment(t, appointment.ClinicSeremban)
	c := NewConsistency(f.ledger)

	f.tx(t, func(ctx context.Context, q appointment.Queries) error {
		eff, err := c.Apply(ctx, q, a, appointment.Transition{AppointmentID: a.ID, To: appointment.StatusCompleted})
		assert.NoError(t, err)
		assert.Nil(t, eff.Entry)
		return nil
	})
}
