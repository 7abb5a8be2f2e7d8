package appointment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. Transactions are serialized and
// write in place; every write records how to undo itself, and a failed unit
// replays the undo log so it leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	appointments map[uuid.UUID]Appointment
	entries      map[uuid.UUID]QueueEntry
	queueCounter map[string]int
	visitSeq     map[string]int
	rooms        map[int64]Room
	dentists     map[int64]Dentist
	leaves       []LeavePeriod
	settings     map[ClinicLocation]ClinicSettings
	events       []EventLog

	lastRoomID    int64
	lastDentistID int64
	lastLeaveID   int64
	lastEventID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		appointments: make(map[uuid.UUID]Appointment),
		entries:      make(map[uuid.UUID]QueueEntry),
		queueCounter: make(map[string]int),
		visitSeq:     make(map[string]int),
		rooms:        make(map[int64]Room),
		dentists:     make(map[int64]Dentist),
		settings:     make(map[ClinicLocation]ClinicSettings),
	}}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	q := &memQueries{st: s.state, tx: true}
	committed := false
	defer func() {
		if !committed {
			q.rollback()
		}
	}()
	if err := fn(ctx, q); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &memQueries{st: s.state})
}

// Events returns a copy of the event log in insertion order.
func (s *MemoryStore) Events() []EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventLog, len(s.state.events))
	copy(out, s.state.events)
	return out
}

type memQueries struct {
	st   *memState
	tx   bool
	undo []func()
}

func (q *memQueries) rollback() {
	for i := len(q.undo) - 1; i >= 0; i-- {
		q.undo[i]()
	}
	q.undo = nil
}

func (q *memQueries) onRollback(fn func()) {
	if q.tx {
		q.undo = append(q.undo, fn)
	}
}

// remember saves m[k] as it is now so rollback can restore or remove it.
func remember[K comparable, V any](q *memQueries, m map[K]V, k K) {
	old, had := m[k]
	q.onRollback(func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}

func (q *memQueries) rememberIDs() {
	room, dentist, leave, event := q.st.lastRoomID, q.st.lastDentistID, q.st.lastLeaveID, q.st.lastEventID
	leaves, events := len(q.st.leaves), len(q.st.events)
	q.onRollback(func() {
		q.st.lastRoomID, q.st.lastDentistID, q.st.lastLeaveID, q.st.lastEventID = room, dentist, leave, event
		q.st.leaves = q.st.leaves[:leaves]
		q.st.events = q.st.events[:events]
	})
}

func dayKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += "|"
		}
		key += p
	}
	return key
}

func dayString(t time.Time) string {
	return t.Format("2006-01-02")
}

func sameDate(a, b time.Time) bool {
	return dayString(a) == dayString(b)
}

// Appointments

func (q *memQueries) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := q.st.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (q *memQueries) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return q.GetAppointment(ctx, id)
}

func (q *memQueries) GetAppointmentByVisitCode(_ context.Context, code string) (*Appointment, error) {
	for _, a := range q.st.appointments {
		if a.VisitCode == code {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (q *memQueries) CreateAppointment(_ context.Context, a *Appointment) error {
	if _, ok := q.st.appointments[a.ID]; ok {
		return fmt.Errorf("insert appointment: %w", ErrConcurrencyConflict)
	}
	for _, existing := range q.st.appointments {
		if existing.VisitCode == a.VisitCode {
			return fmt.Errorf("insert appointment: visit code %s: %w", a.VisitCode, ErrConcurrencyConflict)
		}
	}
	remember(q, q.st.appointments, a.ID)
	q.st.appointments[a.ID] = *a
	return nil
}

func (q *memQueries) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, ok := q.st.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrStatusChanged
	}
	remember(q, q.st.appointments, id)
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	q.st.appointments[id] = a
	return &a, nil
}

func (q *memQueries) NextVisitSequence(_ context.Context, prefix string, day time.Time) (int, error) {
	key := dayKey(prefix, dayString(day))
	remember(q, q.st.visitSeq, key)
	q.st.visitSeq[key]++
	return q.st.visitSeq[key], nil
}

func (q *memQueries) ListStaleAppointments(_ context.Context, statuses []Status, scheduledBefore time.Time, limit int) ([]Appointment, error) {
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []Appointment
	for _, a := range q.st.appointments {
		if want[a.Status] && a.ScheduledAt.Before(scheduledBefore) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Queue ledger

func (q *memQueries) GetQueueEntry(_ context.Context, id uuid.UUID) (*QueueEntry, error) {
	e, ok := q.st.entries[id]
	if !ok {
		return nil, ErrQueueEntryNotFound
	}
	return &e, nil
}

func (q *memQueries) GetQueueEntryForUpdate(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	return q.GetQueueEntry(ctx, id)
}

func (q *memQueries) GetQueueEntryByAppointment(_ context.Context, appointmentID uuid.UUID) (*QueueEntry, error) {
	for _, e := range q.st.entries {
		if e.AppointmentID == appointmentID {
			return &e, nil
		}
	}
	return nil, ErrQueueEntryNotFound
}

func (q *memQueries) NextQueueNumber(_ context.Context, clinic ClinicLocation, day time.Time) (int, error) {
	key := dayKey(string(clinic), dayString(day))
	remember(q, q.st.queueCounter, key)
	if _, ok := q.st.queueCounter[key]; !ok {
		max := 0
		for _, e := range q.st.entries {
			if e.Clinic == clinic && sameDate(e.Day, day) && e.QueueNumber > max {
				max = e.QueueNumber
			}
		}
		q.st.queueCounter[key] = max
	}
	q.st.queueCounter[key]++
	return q.st.queueCounter[key], nil
}

func (q *memQueries) InsertQueueEntry(_ context.Context, e *QueueEntry) error {
	for _, existing := range q.st.entries {
		if existing.AppointmentID == e.AppointmentID {
			return ErrDuplicateQueueEntry
		}
		if existing.Clinic == e.Clinic && sameDate(existing.Day, e.Day) && existing.QueueNumber == e.QueueNumber {
			return fmt.Errorf("insert queue entry: number %d taken: %w", e.QueueNumber, ErrConcurrencyConflict)
		}
	}
	remember(q, q.st.entries, e.ID)
	q.st.entries[e.ID] = *e
	return nil
}

func (q *memQueries) UpdateQueueEntry(_ context.Context, e *QueueEntry) error {
	if _, ok := q.st.entries[e.ID]; !ok {
		return ErrQueueEntryNotFound
	}
	if e.Status == QueueInTreatment {
		for id, other := range q.st.entries {
			if id == e.ID || other.Status != QueueInTreatment {
				continue
			}
			if sharesResource(other.RoomID, e.RoomID) || sharesResource(other.DentistID, e.DentistID) {
				return fmt.Errorf("update queue entry: resource already bound: %w", ErrConcurrencyConflict)
			}
		}
	}
	remember(q, q.st.entries, e.ID)
	q.st.entries[e.ID] = *e
	return nil
}

func sharesResource(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

func (q *memQueries) DeleteQueueEntry(_ context.Context, id uuid.UUID) error {
	remember(q, q.st.entries, id)
	delete(q.st.entries, id)
	return nil
}

func (q *memQueries) NextWaitingEntryForUpdate(ctx context.Context, clinic ClinicLocation, day time.Time) (*QueueEntry, error) {
	entries, _ := q.ListQueueEntries(ctx, clinic, day)
	for _, e := range entries {
		if e.Status == QueueWaiting {
			return &e, nil
		}
	}
	return nil, ErrQueueEntryNotFound
}

func (q *memQueries) ListQueueEntries(_ context.Context, clinic ClinicLocation, day time.Time) ([]QueueEntry, error) {
	var out []QueueEntry
	for _, e := range q.st.entries {
		if e.Clinic == clinic && sameDate(e.Day, day) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out, nil
}

// Resource registry

func (q *memQueries) CreateRoom(_ context.Context, r *Room) error {
	q.rememberIDs()
	remember(q, q.st.rooms, q.st.lastRoomID+1)
	q.st.lastRoomID++
	r.ID = q.st.lastRoomID
	if r.Status == "" {
		r.Status = ResourceAvailable
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	q.st.rooms[r.ID] = *r
	return nil
}

func (q *memQueries) CreateDentist(_ context.Context, d *Dentist) error {
	q.rememberIDs()
	remember(q, q.st.dentists, q.st.lastDentistID+1)
	q.st.lastDentistID++
	d.ID = q.st.lastDentistID
	if d.Status == "" {
		d.Status = ResourceAvailable
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	q.st.dentists[d.ID] = *d
	return nil
}

func (q *memQueries) CreateLeave(_ context.Context, l *LeavePeriod) error {
	if _, ok := q.st.dentists[l.DentistID]; !ok {
		return ErrDentistNotFound
	}
	q.rememberIDs()
	q.st.lastLeaveID++
	l.ID = q.st.lastLeaveID
	q.st.leaves = append(q.st.leaves, *l)
	return nil
}

func (q *memQueries) GetRoom(_ context.Context, id int64) (*Room, error) {
	r, ok := q.st.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &r, nil
}

func (q *memQueries) GetDentist(_ context.Context, id int64) (*Dentist, error) {
	d, ok := q.st.dentists[id]
	if !ok {
		return nil, ErrDentistNotFound
	}
	return &d, nil
}

func (q *memQueries) GetRoomForUpdate(ctx context.Context, id int64) (*Room, error) {
	return q.GetRoom(ctx, id)
}

func (q *memQueries) GetDentistForUpdate(ctx context.Context, id int64) (*Dentist, error) {
	return q.GetDentist(ctx, id)
}

func (q *memQueries) FirstAvailableRoomForUpdate(ctx context.Context, clinic ClinicLocation) (*Room, error) {
	rooms, _ := q.ListRooms(ctx, clinic)
	for _, r := range rooms {
		if r.Status == ResourceAvailable {
			return &r, nil
		}
	}
	return nil, ErrRoomNotFound
}

func (q *memQueries) FirstAvailableDentistForUpdate(ctx context.Context, clinic ClinicLocation, day time.Time) (*Dentist, error) {
	dentists, _ := q.ListDentists(ctx, clinic)
	for _, d := range dentists {
		if d.Status != ResourceAvailable {
			continue
		}
		if onLeave, _ := q.DentistOnLeave(ctx, d.ID, day); onLeave {
			continue
		}
		return &d, nil
	}
	return nil, ErrDentistNotFound
}

func (q *memQueries) DentistOnLeave(_ context.Context, dentistID int64, day time.Time) (bool, error) {
	for _, l := range q.st.leaves {
		if l.DentistID == dentistID && l.Covers(day) {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueries) SetRoomStatus(_ context.Context, id int64, status ResourceStatus) error {
	r, ok := q.st.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	remember(q, q.st.rooms, id)
	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	q.st.rooms[id] = r
	return nil
}

func (q *memQueries) SetDentistStatus(_ context.Context, id int64, status ResourceStatus) error {
	d, ok := q.st.dentists[id]
	if !ok {
		return ErrDentistNotFound
	}
	remember(q, q.st.dentists, id)
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	q.st.dentists[id] = d
	return nil
}

func (q *memQueries) ListRooms(_ context.Context, clinic ClinicLocation) ([]Room, error) {
	var out []Room
	for _, r := range q.st.rooms {
		if r.Clinic == clinic {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (q *memQueries) ListDentists(_ context.Context, clinic ClinicLocation) ([]Dentist, error) {
	var out []Dentist
	for _, d := range q.st.dentists {
		if d.Clinic == clinic {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Clinic settings

func (q *memQueries) GetClinicSettings(_ context.Context, clinic ClinicLocation) (ClinicSettings, error) {
	if s, ok := q.st.settings[clinic]; ok {
		return s, nil
	}
	return ClinicSettings{Clinic: clinic}, nil
}

func (q *memQueries) SetQueuePaused(_ context.Context, clinic ClinicLocation, paused bool) error {
	remember(q, q.st.settings, clinic)
	q.st.settings[clinic] = ClinicSettings{Clinic: clinic, QueuePaused: paused, UpdatedAt: time.Now().UTC()}
	return nil
}

// Event logging

func (q *memQueries) InsertEvent(_ context.Context, ev EventLog) error {
	q.rememberIDs()
	q.st.lastEventID++
	ev.ID = q.st.lastEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	q.st.events = append(q.st.events, ev)
	return nil
}
