package queue

import "github.com/klinikgigi/queue-engine/internal/appointment"

// AverageServiceMinutes is the per-patient service time used for wait estimates.
const AverageServiceMinutes = 15

// EstimateWait returns minutes until e is likely called: waiting entries
// ahead of it times AverageServiceMinutes. Entries no longer waiting wait 0.
func EstimateWait(entries []appointment.QueueEntry, e appointment.QueueEntry) int {
	if e.Status != appointment.QueueWaiting {
		return 0
	}
	return WaitingAhead(entries, e.QueueNumber) * AverageServiceMinutes
}

// WaitingAhead counts waiting entries numbered below number.
func WaitingAhead(entries []appointment.QueueEntry, number int) int {
	ahead := 0
	for _, other := range entries {
		if other.Status == appointment.QueueWaiting && other.QueueNumber < number {
			ahead++
		}
	}
	return ahead
}
