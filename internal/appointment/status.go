package appointment

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusBooked       Status = "booked"
	StatusConfirmed    Status = "confirmed"
	StatusCheckedIn    Status = "checked_in"
	StatusWaiting      Status = "waiting"
	StatusInTreatment  Status = "in_treatment"
	StatusCompleted    Status = "completed"
	StatusFeedbackSent Status = "feedback_sent"
	StatusLate         Status = "late"
	StatusNoShow       Status = "no_show"
	StatusCancelled    Status = "cancelled"
)

// AllStatuses lists every lifecycle state in graph order.
var AllStatuses = []Status{
	StatusBooked,
	StatusConfirmed,
	StatusCheckedIn,
	StatusWaiting,
	StatusInTreatment,
	StatusCompleted,
	StatusFeedbackSent,
	StatusLate,
	StatusNoShow,
	StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusBooked:       {StatusConfirmed, StatusCheckedIn, StatusLate, StatusNoShow, StatusCancelled},
	StatusConfirmed:    {StatusCheckedIn, StatusLate, StatusNoShow, StatusCancelled},
	StatusCheckedIn:    {StatusWaiting, StatusInTreatment, StatusLate, StatusNoShow, StatusCancelled},
	StatusWaiting:      {StatusInTreatment, StatusLate, StatusNoShow, StatusCancelled},
	StatusLate:         {StatusCheckedIn, StatusInTreatment, StatusNoShow, StatusCancelled},
	StatusInTreatment:  {StatusCompleted},
	StatusCompleted:    {StatusFeedbackSent},
	StatusFeedbackSent: nil,
	StatusNoShow:       nil,
	StatusCancelled:    nil,
}

var statusAliases = map[string]Status{
	"checkedin":    StatusCheckedIn,
	"intreatment":  StatusInTreatment,
	"noshow":       StatusNoShow,
	"canceled":     StatusCancelled,
	"feedbacksent": StatusFeedbackSent,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// InQueue reports whether an appointment in this state owns a queue entry.
func (s Status) InQueue() bool {
	switch s {
	case StatusCheckedIn, StatusWaiting, StatusInTreatment, StatusCompleted, StatusFeedbackSent:
		return true
	}
	return false
}

// CanTransition reports whether to is directly reachable from from.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the outgoing edges of from.
func AllowedTransitions(from Status) []Status {
	out := make([]Status, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// ParseStatus normalizes casing and separators ("CHECKED_IN", "checked-in",
// "Checked In") to the canonical snake_case status.
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for strings.Contains(norm, "__") {
		norm = strings.ReplaceAll(norm, "__", "_")
	}
	if s := Status(norm); s.Valid() {
		return s, nil
	}
	if s, ok := statusAliases[strings.ReplaceAll(norm, "_", "")]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}
