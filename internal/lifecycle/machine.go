// Package lifecycle executes appointment status transitions. A transition is
// one transaction holding the guarded status write, the queue consistency
// step and the event log row; notifications are enqueued after commit.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/clock"
	"github.com/klinikgigi/queue-engine/internal/metrics"
	"github.com/klinikgigi/queue-engine/internal/notify"
	"github.com/klinikgigi/queue-engine/internal/queue"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

const (
	EventStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventBooked        = "APPOINTMENT_BOOKED"
)

type Machine struct {
	store       appointment.Store
	ledger      *queue.Ledger
	consistency *queue.Consistency
	dispatcher  notify.Dispatcher
	clock       clock.Clock
	logger      *logging.Logger
	metrics     *metrics.QueueMetrics
}

type Option func(*Machine)

func WithDispatcher(d notify.Dispatcher) Option {
	return func(m *Machine) { m.dispatcher = d }
}

func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

func WithMetrics(qm *metrics.QueueMetrics) Option {
	return func(m *Machine) { m.metrics = qm }
}

func NewMachine(store appointment.Store, ledger *queue.Ledger, opts ...Option) *Machine {
	m := &Machine{
		store:       store,
		ledger:      ledger,
		consistency: queue.NewConsistency(ledger),
		dispatcher:  notify.NoopDispatcher{},
		clock:       clock.System(),
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dispatcher == nil {
		m.dispatcher = notify.NoopDispatcher{}
	}
	return m
}

func (m *Machine) Ledger() *queue.Ledger { return m.ledger }

func (m *Machine) Store() appointment.Store { return m.store }

// Do runs fn as one unit of work. fn may run twice: a concurrency conflict
// rolls the unit back and retries it once from scratch, so fn must not keep
// state across attempts other than its results.
func (m *Machine) Do(ctx context.Context, fn func(ctx context.Context, u *Unit) error) error {
	var events []appointment.Transition
	var checkIns []appointment.ClinicLocation

	attempt := func() error {
		return m.store.WithTx(ctx, func(ctx context.Context, q appointment.Queries) error {
			u := &Unit{m: m, q: q}
			if err := fn(ctx, u); err != nil {
				return err
			}
			events, checkIns = u.events, u.checkIns
			return nil
		})
	}

	err := attempt()
	if errors.Is(err, appointment.ErrConcurrencyConflict) {
		m.logger.Warn("unit of work conflicted, retrying once", "error", err)
		err = attempt()
	}
	if err != nil {
		return err
	}

	for _, clinic := range checkIns {
		m.metrics.ObserveCheckIn(string(clinic))
	}
	m.dispatch(ctx, events)
	return nil
}

// Transition runs a single status change as its own unit.
func (m *Machine) Transition(ctx context.Context, id uuid.UUID, target appointment.Status, reason string, meta map[string]any) (*Result, error) {
	var res *Result
	err := m.Do(ctx, func(ctx context.Context, u *Unit) error {
		var err error
		res, err = u.Transition(ctx, id, target, reason, meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Machine) dispatch(ctx context.Context, events []appointment.Transition) {
	ctx = context.WithoutCancel(ctx)
	for _, tr := range events {
		if tr.From != "" {
			m.metrics.ObserveTransition(string(tr.From), string(tr.To))
		}
		job := notify.NewJob(tr)
		if err := m.dispatcher.Enqueue(ctx, job); err != nil {
			m.logger.Error("enqueue notification failed",
				"appointment_id", tr.AppointmentID, "status", tr.To, "error", err)
		}
	}
}

// Result is the committed outcome of one transition.
type Result struct {
	Appointment *appointment.Appointment
	// Entry is the appointment's queue entry after the consistency step.
	Entry      *appointment.QueueEntry
	Transition appointment.Transition
}

// Unit is the transactional scope handed to Do callbacks.
type Unit struct {
	m        *Machine
	q        appointment.Queries
	events   []appointment.Transition
	checkIns []appointment.ClinicLocation
}

// Queries exposes the unit's transaction to callers composing ledger calls
// with transitions.
func (u *Unit) Queries() appointment.Queries { return u.q }

func (u *Unit) Ledger() *queue.Ledger { return u.m.ledger }

func (u *Unit) Transition(ctx context.Context, id uuid.UUID, target appointment.Status, reason string, meta map[string]any) (*Result, error) {
	res, err := u.transition(ctx, id, target, reason, meta)
	if err != nil {
		u.m.metrics.ObserveTransitionFailure(string(target), failureReason(err))
		return nil, err
	}
	return res, nil
}

func (u *Unit) transition(ctx context.Context, id uuid.UUID, target appointment.Status, reason string, meta map[string]any) (*Result, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", appointment.ErrUnknownStatus, target)
	}

	current, err := u.q.GetAppointmentForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appointment.CanTransition(current.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", appointment.ErrInvalidTransition, current.Status, target)
	}

	updated, err := u.q.UpdateAppointmentStatus(ctx, id, current.Status, target)
	if err != nil {
		return nil, fmt.Errorf("write status: %w", err)
	}

	tr := appointment.Transition{
		AppointmentID: id,
		Clinic:        updated.Clinic,
		From:          current.Status,
		To:            target,
		Reason:        reason,
		Metadata:      meta,
		At:            u.m.clock.Now().UTC(),
	}

	eff, err := u.m.consistency.Apply(ctx, u.q, updated, tr)
	if err != nil {
		return nil, fmt.Errorf("queue consistency for %s: %w", target, err)
	}

	payload := map[string]any{
		"from":     tr.From,
		"to":       tr.To,
		"reason":   tr.Reason,
		"metadata": tr.Metadata,
	}
	if eff.Entry != nil {
		payload["queue_number"] = eff.Entry.QueueNumber
	}
	if err := u.logEvent(ctx, EventStatusChanged, id, payload, tr); err != nil {
		return nil, err
	}

	u.events = append(u.events, tr)
	if eff.Created {
		u.checkIns = append(u.checkIns, updated.Clinic)
	}
	return &Result{Appointment: updated, Entry: eff.Entry, Transition: tr}, nil
}

// Announce records that an appointment was created and queues its booking
// notification with the unit's other events.
func (u *Unit) Announce(ctx context.Context, a *appointment.Appointment, reason string) error {
	tr := appointment.Transition{
		AppointmentID: a.ID,
		Clinic:        a.Clinic,
		To:            a.Status,
		Reason:        reason,
		At:            u.m.clock.Now().UTC(),
	}
	payload := map[string]any{
		"visit_code": a.VisitCode,
		"source":     a.Source,
		"status":     a.Status,
	}
	if err := u.logEvent(ctx, EventBooked, a.ID, payload, tr); err != nil {
		return err
	}
	u.events = append(u.events, tr)
	return nil
}

func (u *Unit) logEvent(ctx context.Context, eventType string, id uuid.UUID, payload map[string]any, tr appointment.Transition) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return u.q.InsertEvent(ctx, appointment.EventLog{
		EventType:     eventType,
		AppointmentID: &id,
		Payload:       raw,
		CreatedAt:     tr.At,
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, appointment.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return "not_found"
	case errors.Is(err, appointment.ErrConcurrencyConflict), errors.Is(err, appointment.ErrStatusChanged):
		return "conflict"
	case errors.Is(err, appointment.ErrUnknownStatus):
		return "unknown_status"
	}
	return "error"
}
