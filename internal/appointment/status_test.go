package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusNormalizes(t *testing.T) {
	tests := map[string]Status{
		"CHECKED_IN":    StatusCheckedIn,
		"checked-in":    StatusCheckedIn,
		"Checked In":    StatusCheckedIn,
		"checkedin":     StatusCheckedIn,
		" no_show ":     StatusNoShow,
		"No-Show":       StatusNoShow,
		"canceled":      StatusCancelled,
		"In  Treatment": StatusInTreatment,
		"feedbackSent":  StatusFeedbackSent,
		"booked":        StatusBooked,
	}
	for raw, want := range tests {
		got, err := ParseStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseStatus("teleported")
	assert.ErrorIs(t, err, ErrUnknownStatus)
	_, err = ParseStatus("")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestTransitionGraph(t *testing.T) {
	assert.True(t, CanTransition(StatusBooked, StatusCheckedIn))
	assert.True(t, CanTransition(StatusLate, StatusCheckedIn))
	assert.True(t, CanTransition(StatusInTreatment, StatusCompleted))
	assert.True(t, CanTransition(StatusCompleted, StatusFeedbackSent))

	assert.False(t, CanTransition(StatusBooked, StatusCompleted))
	assert.False(t, CanTransition(StatusInTreatment, StatusCancelled))
	assert.False(t, CanTransition(StatusCheckedIn, StatusCheckedIn))
	assert.False(t, CanTransition("unknown", StatusBooked))

	for _, s := range []Status{StatusCancelled, StatusNoShow, StatusFeedbackSent} {
		assert.True(t, s.Terminal(), s)
		for _, to := range AllStatuses {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	assert.False(t, StatusBooked.Terminal())
}

func TestEveryStatusHasGraphEntry(t *testing.T) {
	for _, s := range AllStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.Len(t, transitions, len(AllStatuses))
}

func TestAllowedTransitionsIsACopy(t *testing.T) {
	out := AllowedTransitions(StatusBooked)
	out[0] = StatusCompleted
	assert.Equal(t, StatusConfirmed, AllowedTransitions(StatusBooked)[0])
	assert.Empty(t, AllowedTransitions(StatusCancelled))
}

func TestInQueue(t *testing.T) {
	assert.True(t, StatusCheckedIn.InQueue())
	assert.True(t, StatusCompleted.InQueue())
	assert.False(t, StatusLate.InQueue())
	assert.False(t, StatusNoShow.InQueue())
	assert.False(t, StatusBooked.InQueue())
}
