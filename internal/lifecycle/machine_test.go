package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/appointment/appointmenttest"
	"github.com/klinikgigi/queue-engine/internal/clock"
	"github.com/klinikgigi/queue-engine/internal/notify"
	"github.com/klinikgigi/queue-engine/internal/queue"
)

var myt = time.FixedZone("MYT", 8*3600)

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []notify.Job
	err  error
}

func (d *recordingDispatcher) Enqueue(_ context.Context, job notify.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) Jobs() []notify.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Job(nil), d.jobs...)
}

// hookStore lets a test swap the Queries handed to each transaction.
type hookStore struct {
	inner *appointment.MemoryStore
	wrap  func(q appointment.Queries) appointment.Queries
}

func (s hookStore) WithTx(ctx context.Context, fn func(ctx context.Context, q appointment.Queries) error) error {
	return s.inner.WithTx(ctx, func(ctx context.Context, q appointment.Queries) error {
		return fn(ctx, s.wrap(q))
	})
}

func (s hookStore) View(ctx context.Context, fn func(ctx context.Context, q appointment.Queries) error) error {
	return s.inner.View(ctx, fn)
}

type faultyQueries struct {
	appointment.Queries
	insertEntry func() error
	insertEvent func() error
}

func (f faultyQueries) InsertQueueEntry(ctx context.Context, e *appointment.QueueEntry) error {
	if f.insertEntry != nil {
		if err := f.insertEntry(); err != nil {
			return err
		}
	}
	return f.Queries.InsertQueueEntry(ctx, e)
}

func (f faultyQueries) InsertEvent(ctx context.Context, ev appointment.EventLog) error {
	if f.insertEvent != nil {
		if err := f.insertEvent(); err != nil {
			return err
		}
	}
	return f.Queries.InsertEvent(ctx, ev)
}

type harness struct {
	mem        *appointment.MemoryStore
	clock      *clock.Fixed
	dispatcher *recordingDispatcher
	machine    *Machine
}

func newHarness(t *testing.T, store appointment.Store, mem *appointment.MemoryStore) *harness {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 2, 10, 0, 0, 0, myt))
	d := &recordingDispatcher{}
	if store == nil {
		store = mem
	}
	return &harness{
		mem:        mem,
		clock:      clk,
		dispatcher: d,
		machine:    NewMachine(store, queue.NewLedger(clk, myt), WithDispatcher(d), WithClock(clk)),
	}
}

func (h *harness) booked(t *testing.T) *appointment.Appointment {
	return appointmenttest.Appointment(t, h.mem, appointmenttest.Params{ScheduledAt: h.clock.Now()})
}

func TestTransitionCheckInCreatesEntry(t *testing.T) {
	h := newHarness(t, nil, appointment.NewMemoryStore())
	a := h.booked(t)

	res, err := h.machine.Transition(context.Background(), a.ID, appointment.StatusCheckedIn, "front desk", map[string]any{"staff": "amir"})
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusCheckedIn, res.Appointment.Status)
	require.NotNil(t, res.Entry, "entry must exist when the transition returns")
	assert.Equal(t, 1, res.Entry.QueueNumber)
	assert.Equal(t, appointment.QueueWaiting, res.Entry.Status)
	assert.Equal(t, appointment.StatusBooked, res.Transition.From)

	jobs := h.dispatcher.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, a.ID, jobs[0].AppointmentID)
	assert.Equal(t, appointment.StatusBooked, jobs[0].From)
	assert.Equal(t, appointment.StatusCheckedIn, jobs[0].To)
	assert.Equal(t, "front desk", jobs[0].Reason)

	events := h.mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventStatusChanged, events[0].EventType)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "booked", payload["from"])
	assert.Equal(t, "checked_in", payload["to"])
	assert.EqualValues(t, 1, payload["queue_number"])
}

func TestInvalidTransitionLeavesAppointmentUnchanged(t *testing.T) {
	h := newHarness(t, nil, appointment.NewMemoryStore())
	a := appointmenttest.Appointment(t, h.mem, appointmenttest.Params{Status: appointment.StatusCompleted})

	_, err := h.machine.Transition(context.Background(), a.ID, appointment.StatusCheckedIn, "", nil)
	assert.ErrorIs(t, err, appointment.ErrInvalidTransition)

	assert.Equal(t, appointment.StatusCompleted, appointmenttest.Get(t, h.mem, a.ID).Status)
	assert.Nil(t, appointmenttest.Entry(t, h.mem, a.ID))
	assert.Empty(t, h.dispatcher.Jobs())
	assert.Empty(t, h.mem.Events())
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t, nil, appointment.NewMemoryStore())
	a := h.booked(t)

	_, err := h.machine.Transition(context.Background(), a.ID, appointment.Status("CHECKED_IN"), "", nil)
	assert.ErrorIs(t, err, appointment.ErrUnknownStatus)
}

func TestTransitionMissingAppointment(t *testing.T) {
	h := newHarness(t, nil, appointment.NewMemoryStore())

	_, err := h.machine.Transition(context.Background(), uuid.New(), appointment.StatusConfirmed, "", nil)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestSideEffectFailureRollsBackStatus(t *testing.T) {
	mem := appointment.NewMemoryStore()
	boom := errors.New("event log down")
	store := hookStore{inner: mem, wrap: func(q appointment.Queries) appointment.Queries {
		return faultyQueries{Queries: q, insertEvent: func() error { return boom }}
	}}
	h := newHarness(t, store, mem)
	a := h.booked(t)

	_, err := h.machine.Transition(context.Background(), a.ID, appointment.StatusCheckedIn, "", nil)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, appointment.StatusBooked, appointmenttest.Get(t, mem, a.ID).Status)
	assert.Nil(t, appointmenttest.Entry(t, mem, a.ID), "queue write must roll back with the status")
	assert.Empty(t, h.dispatcher.Jobs())
}

func TestConcurrencyConflictIsRetriedOnce(t *testing.T) {
	mem := appointment.NewMemoryStore()
	attempts := 0
	store := hookStore{inner: mem, wrap: func(q appointment.Queries) appointment.Queries {
		return faultyQueries{Queries: q, insertEntry: func() error {
			attempts++
			if attempts == 1 {
				return appointment.ErrConcurrencyConflict
			}
			return nil
		}}
	}}
	h := newHarness(t, store, mem)
	a := h.booked(t)

	res, err := h.machine.Transition(context.Background(), a.ID, appointment.StatusCheckedIn, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	// The counter bump of the failed attempt rolled back too.
	assert.Equal(t, 1, res.Entry.QueueNumber)
	assert.Len(t, h.dispatcher.Jobs(), 1)
	assert.Len(t, mem.Events(), 1)
}

func TestSecondConflictIsSurfaced(t *testing.T) {
	mem := appointment.NewMemoryStore()
	attempts := 0
	store := hookStore{inner: mem, wrap: func(q appointment.Queries) appointment.Queries {
		return faultyQueries{Queries: q, insertEntry: func() error {
			attempts++
			return appointment.ErrConcurrencyConflict
		}}
	}}
	h := newHarness(t, store, mem)
	a := h.booked(t)

	_, err := h.machine.Transition(context.Background(), a.ID, appointment.StatusCheckedIn, "", nil)
	assert.ErrorIs(t, err, appointment.ErrConcurrencyConflict)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, appointment.StatusBooked, appointmenttest.Get(t, mem, a.ID).Status)
}

func TestEnqueueFailureDoesNotUndoTransition(t *testing.T) {
	h := newHarness(t, nil, appointment.NewMemoryStore())
	h.dispatcher.err = notify.ErrQueueFull
	a := h.booked(t)

	res, err := h.machine.Transition(context.Background(), a.ID, appointment.StatusConfirmed, "", nil)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, res.Appointment.Status)
	assert.Equal(t, appointment.StatusConfirmed, appointmenttest.Get(t, h.mem, a.ID).Status)
}

func TestCancelAlwaysLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	paths := map[string][]appointment.Status{
		"booked":     {},
		"confirmed":  {appointment.StatusConfirmed},
		"checked_in": {appointment.StatusCheckedIn},
		"waiting":    {appointment.StatusCheckedIn, appointment.StatusWaiting},
		"late":       {appointment.StatusCheckedIn, appointment.StatusLate},
	}
	for name, path := range paths {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil, appointment.NewMemoryStore())
			a := h.booked(t)
			for _, s := range path {
				_, err := h.machine.Transition(ctx, a.ID, s, "", nil)
				require.NoError(t, err)
			}

			_, err := h.machine.Transition(ctx, a.ID, appointment.StatusCancelled, "patient called", nil)
			require.NoError(t, err)
			assert.Nil(t, appointmenttest.Entry(t, h.mem, a.ID))
			assert.Equal(t, appointment.StatusCancelled, appointmenttest.Get(t, h.mem, a.ID).Status)
		})
	}
}

func TestDoDispatchesOnlyAfterWholeUnitCommits(t *testing.T) {
	h := newHarness(t, nil, appointment.NewMemoryStore())
	a := h.booked(t)
	ctx := context.Background()
	stop := errors.New("stop")

	err := h.machine.Do(ctx, func(ctx context.Context, u *Unit) error {
		if _, err := u.Transition(ctx, a.ID, appointment.StatusCheckedIn, "", nil); err != nil {
			return err
		}
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Empty(t, h.dispatcher.Jobs())
	assert.Nil(t, appointmenttest.Entry(t, h.mem, a.ID))

	err = h.machine.Do(ctx, func(ctx context.Context, u *Unit) error {
		if _, err := u.Transition(ctx, a.ID, appointment.StatusCheckedIn, "", nil); err != nil {
			return err
		}
		_, err := u.Transition(ctx, a.ID, appointment.StatusWaiting, "", nil)
		return err
	})
	require.NoError(t, err)

	jobs := h.dispatcher.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, appointment.StatusCheckedIn, jobs[0].To)
	assert.Equal(t, appointment.StatusWaiting, jobs[1].To)
}

func TestAnnounceQueuesBookingJob(t *testing.T) {
	h := newHarness(t, nil, appointment.NewMemoryStore())
	a := h.booked(t)

	err := h.machine.Do(context.Background(), func(ctx context.Context, u *Unit) error {
		return u.Announce(ctx, a, "public booking")
	})
	require.NoError(t, err)

	jobs := h.dispatcher.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, appointment.Status(""), jobs[0].From)
	assert.Equal(t, appointment.StatusBooked, jobs[0].To)
	require.Len(t, h.mem.Events(), 1)
	assert.Equal(t, EventBooked, h.mem.Events()[0].EventType)
}
