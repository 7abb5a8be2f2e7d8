package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/klinikgigi/queue-engine/internal/appointment"
)

func TestEstimateWait(t *testing.T) {
	entries := []appointment.QueueEntry{
		{QueueNumber: 1, Status: appointment.QueueInTreatment},
		{QueueNumber: 2, Status: appointment.QueueWaiting},
		{QueueNumber: 3, Status: appointment.QueueCalled},
		{QueueNumber: 4, Status: appointment.QueueWaiting},
		{QueueNumber: 5, Status: appointment.QueueWaiting},
	}

	assert.Equal(t, 0, EstimateWait(entries, entries[1]))
	assert.Equal(t, 1*AverageServiceMinutes, EstimateWait(entries, entries[3]))
	assert.Equal(t, 2*AverageServiceMinutes, EstimateWait(entries, entries[4]))
	assert.Equal(t, 0, EstimateWait(entries, entries[2]), "called entries are not waiting")
	assert.Equal(t, 15, AverageServiceMinutes)
}
