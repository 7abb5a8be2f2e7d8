package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/klinikgigi/queue-engine/internal/appointment"
)

type Action int

const (
	ActionNone Action = iota
	ActionCreateEntry
	ActionCompleteEntry
	ActionDeleteEntry
)

func (a Action) String() string {
	switch a {
	case ActionCreateEntry:
		return "create_entry"
	case ActionCompleteEntry:
		return "complete_entry"
	case ActionDeleteEntry:
		return "delete_entry"
	}
	return "none"
}

// ActionFor maps a new appointment status to its ledger side effect. ok is
// false only for a status with no arm here, which callers treat as a bug.
func ActionFor(s appointment.Status) (action Action, ok bool) {
	switch s {
	case appointment.StatusCheckedIn, appointment.StatusWaiting:
		return ActionCreateEntry, true
	case appointment.StatusCompleted:
		return ActionCompleteEntry, true
	case appointment.StatusCancelled, appointment.StatusNoShow:
		return ActionDeleteEntry, true
	case appointment.StatusBooked,
		appointment.StatusConfirmed,
		appointment.StatusInTreatment,
		appointment.StatusFeedbackSent,
		appointment.StatusLate:
		return ActionNone, true
	}
	return ActionNone, false
}

// Consistency keeps the ledger in step with appointment status. It runs in
// the transaction of the status write; any error aborts the transition.
type Consistency struct {
	ledger *Ledger
}

func NewConsistency(ledger *Ledger) *Consistency {
	return &Consistency{ledger: ledger}
}

// Effect is what Apply did to the ledger.
type Effect struct {
	Action Action
	// Entry is the appointment's entry after the step, nil when it has none.
	Entry *appointment.QueueEntry
	// Created is set when ActionCreateEntry inserted a new entry.
	Created bool
}

// Apply runs the side effect of tr against a, which already carries tr.To.
func (c *Consistency) Apply(ctx context.Context, q appointment.Queries, a *appointment.Appointment, tr appointment.Transition) (Effect, error) {
	action, ok := ActionFor(tr.To)
	if !ok {
		return Effect{}, fmt.Errorf("no queue action for status %q", tr.To)
	}
	eff := Effect{Action: action}

	switch action {
	case ActionCreateEntry:
		e, created, err := c.ledger.CreateEntry(ctx, q, a)
		if err != nil {
			return Effect{}, err
		}
		eff.Entry, eff.Created = e, created
		return eff, nil
	case ActionDeleteEntry:
		return eff, c.ledger.DeleteEntry(ctx, q, a.ID)
	}

	e, err := q.GetQueueEntryByAppointment(ctx, a.ID)
	if errors.Is(err, appointment.ErrQueueEntryNotFound) {
		return eff, nil
	}
	if err != nil {
		return Effect{}, err
	}
	if action == ActionCompleteEntry {
		if err := c.ledger.MarkCompleted(ctx, q, e); err != nil {
			return Effect{}, err
		}
	}
	eff.Entry = e
	return eff, nil
}
