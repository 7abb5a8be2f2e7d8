package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgStore struct {
	pool PgxPool
}

func NewPgStore(pool PgxPool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

func (s *PgStore) View(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	return fn(ctx, &pgQueries{db: s.pool})
}

type pgQueries struct {
	db Querier
}

// classify maps lock and constraint failures onto ErrConcurrencyConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s (%s)", ErrConcurrencyConflict, pgErr.Message, pgErr.ConstraintName)
		}
	}
	return err
}

const appointmentColumns = `id, visit_code, visit_token, patient_name, patient_phone, patient_email,
	clinic_location, service_id, dentist_id, scheduled_at, status, booking_source, notes, created_at, updated_at`

const queueEntryColumns = `id, appointment_id, clinic_location, day, queue_number, queue_status,
	check_in_time, called_time, treatment_start_time, completed_time, room_id, dentist_id`

const roomColumns = `id, clinic_location, name, capacity, status, created_at, updated_at`

const dentistColumns = `id, clinic_location, name, phone, status, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.VisitCode,
		&a.VisitToken,
		&a.PatientName,
		&a.PatientPhone,
		&a.PatientEmail,
		&a.Clinic,
		&a.ServiceID,
		&a.DentistID,
		&a.ScheduledAt,
		&a.Status,
		&a.Source,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(
		&e.ID,
		&e.AppointmentID,
		&e.Clinic,
		&e.Day,
		&e.QueueNumber,
		&e.Status,
		&e.CheckInTime,
		&e.CalledTime,
		&e.TreatmentStartTime,
		&e.CompletedTime,
		&e.RoomID,
		&e.DentistID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room
	err := row.Scan(&r.ID, &r.Clinic, &r.Name, &r.Capacity, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanDentist(row pgx.Row) (*Dentist, error) {
	var d Dentist
	err := row.Scan(&d.ID, &d.Clinic, &d.Name, &d.Phone, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDentistNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Appointments

func (q *pgQueries) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (q *pgQueries) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, classify(err)
	}
	return a, nil
}

func (q *pgQueries) GetAppointmentByVisitCode(ctx context.Context, code string) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE visit_code = $1
	`, code)
	return scanAppointment(row)
}

func (q *pgQueries) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, a.ID, a.VisitCode, a.VisitToken, a.PatientName, a.PatientPhone, a.PatientEmail,
		a.Clinic, a.ServiceID, a.DentistID, a.ScheduledAt, a.Status, a.Source, a.Notes, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", classify(err))
	}
	return nil
}

func (q *pgQueries) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, ErrStatusChanged
	}
	return a, err
}

func (q *pgQueries) NextVisitSequence(ctx context.Context, prefix string, day time.Time) (int, error) {
	var seq int
	err := q.db.QueryRow(ctx, `
		INSERT INTO visit_code_counters (prefix, day, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, day)
		DO UPDATE SET last_seq = visit_code_counters.last_seq + 1
		RETURNING last_seq
	`, prefix, day).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next visit sequence: %w", classify(err))
	}
	return seq, nil
}

func (q *pgQueries) ListStaleAppointments(ctx context.Context, statuses []Status, scheduledBefore time.Time, limit int) ([]Appointment, error) {
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}
	rows, err := q.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1)
		  AND scheduled_at < $2
		ORDER BY scheduled_at, id
		LIMIT $3
	`, raw, scheduledBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Queue ledger

func (q *pgQueries) GetQueueEntry(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+queueEntryColumns+`
		FROM queue_entries
		WHERE id = $1
	`, id)
	return scanQueueEntry(row)
}

func (q *pgQueries) GetQueueEntryForUpdate(ctx context.Context, id uuid.UUID) (*QueueEntry, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+queueEntryColumns+`
		FROM queue_entries
		WHERE id = $1
		FOR UPDATE
	`, id)
	e, err := scanQueueEntry(row)
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

func (q *pgQueries) GetQueueEntryByAppointment(ctx context.Context, appointmentID uuid.UUID) (*QueueEntry, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+queueEntryColumns+`
		FROM queue_entries
		WHERE appointment_id = $1
	`, appointmentID)
	return scanQueueEntry(row)
}

func (q *pgQueries) NextQueueNumber(ctx context.Context, clinic ClinicLocation, day time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		INSERT INTO queue_counters (clinic_location, day, last_number)
		VALUES ($1, $2, COALESCE((
			SELECT MAX(queue_number) FROM queue_entries
			WHERE clinic_location = $1 AND day = $2
		), 0) + 1)
		ON CONFLICT (clinic_location, day)
		DO UPDATE SET last_number = queue_counters.last_number + 1
		RETURNING last_number
	`, clinic, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next queue number: %w", classify(err))
	}
	return n, nil
}

func (q *pgQueries) InsertQueueEntry(ctx context.Context, e *QueueEntry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO queue_entries (`+queueEntryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.AppointmentID, e.Clinic, e.Day, e.QueueNumber, e.Status,
		e.CheckInTime, e.CalledTime, e.TreatmentStartTime, e.CompletedTime, e.RoomID, e.DentistID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "queue_entries_appointment_id_key" {
			return ErrDuplicateQueueEntry
		}
		return fmt.Errorf("insert queue entry: %w", classify(err))
	}
	return nil
}

func (q *pgQueries) UpdateQueueEntry(ctx context.Context, e *QueueEntry) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE queue_entries
		SET queue_status = $2,
		    called_time = $3,
		    treatment_start_time = $4,
		    completed_time = $5,
		    room_id = $6,
		    dentist_id = $7
		WHERE id = $1
	`, e.ID, e.Status, e.CalledTime, e.TreatmentStartTime, e.CompletedTime, e.RoomID, e.DentistID)
	if err != nil {
		return fmt.Errorf("update queue entry: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrQueueEntryNotFound
	}
	return nil
}

func (q *pgQueries) DeleteQueueEntry(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	return nil
}

func (q *pgQueries) NextWaitingEntryForUpdate(ctx context.Context, clinic ClinicLocation, day time.Time) (*QueueEntry, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+queueEntryColumns+`
		FROM queue_entries
		WHERE clinic_location = $1
		  AND day = $2
		  AND queue_status = 'waiting'
		ORDER BY queue_number
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, clinic, day)
	return scanQueueEntry(row)
}

func (q *pgQueries) ListQueueEntries(ctx context.Context, clinic ClinicLocation, day time.Time) ([]QueueEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+queueEntryColumns+`
		FROM queue_entries
		WHERE clinic_location = $1
		  AND day = $2
		ORDER BY queue_number
	`, clinic, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// Resource registry

func (q *pgQueries) CreateRoom(ctx context.Context, r *Room) error {
	if r.Status == "" {
		r.Status = ResourceAvailable
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO rooms (clinic_location, name, capacity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, created_at, updated_at
	`, r.Clinic, r.Name, r.Capacity, r.Status).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (q *pgQueries) CreateDentist(ctx context.Context, d *Dentist) error {
	if d.Status == "" {
		d.Status = ResourceAvailable
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO dentists (clinic_location, name, phone, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id, created_at, updated_at
	`, d.Clinic, d.Name, d.Phone, d.Status).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert dentist: %w", err)
	}
	return nil
}

func (q *pgQueries) CreateLeave(ctx context.Context, l *LeavePeriod) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO dentist_leaves (dentist_id, start_date, end_date, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, l.DentistID, l.StartDate, l.EndDate, l.Reason).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("insert leave: %w", err)
	}
	return nil
}

func (q *pgQueries) GetRoom(ctx context.Context, id int64) (*Room, error) {
	return scanRoom(q.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
}

func (q *pgQueries) GetDentist(ctx context.Context, id int64) (*Dentist, error) {
	return scanDentist(q.db.QueryRow(ctx, `SELECT `+dentistColumns+` FROM dentists WHERE id = $1`, id))
}

func (q *pgQueries) GetRoomForUpdate(ctx context.Context, id int64) (*Room, error) {
	r, err := scanRoom(q.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, classify(err)
	}
	return r, nil
}

func (q *pgQueries) GetDentistForUpdate(ctx context.Context, id int64) (*Dentist, error) {
	d, err := scanDentist(q.db.QueryRow(ctx, `SELECT `+dentistColumns+` FROM dentists WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, classify(err)
	}
	return d, nil
}

func (q *pgQueries) FirstAvailableRoomForUpdate(ctx context.Context, clinic ClinicLocation) (*Room, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE clinic_location = $1
		  AND status = 'available'
		ORDER BY id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, clinic)
	return scanRoom(row)
}

func (q *pgQueries) FirstAvailableDentistForUpdate(ctx context.Context, clinic ClinicLocation, day time.Time) (*Dentist, error) {
	row := q.db.QueryRow(ctx, `
		SELECT d.id, d.clinic_location, d.name, d.phone, d.status, d.created_at, d.updated_at
		FROM dentists d
		WHERE d.clinic_location = $1
		  AND d.status = 'available'
		  AND NOT EXISTS (
			SELECT 1 FROM dentist_leaves l
			WHERE l.dentist_id = d.id
			  AND $2::date BETWEEN l.start_date AND l.end_date
		  )
		ORDER BY d.id
		LIMIT 1
		FOR UPDATE OF d SKIP LOCKED
	`, clinic, day)
	return scanDentist(row)
}

func (q *pgQueries) DentistOnLeave(ctx context.Context, dentistID int64, day time.Time) (bool, error) {
	var onLeave bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dentist_leaves
			WHERE dentist_id = $1
			  AND $2::date BETWEEN start_date AND end_date
		)
	`, dentistID, day).Scan(&onLeave)
	return onLeave, err
}

func (q *pgQueries) SetRoomStatus(ctx context.Context, id int64, status ResourceStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE rooms SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set room status: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (q *pgQueries) SetDentistStatus(ctx context.Context, id int64, status ResourceStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE dentists SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set dentist status: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrDentistNotFound
	}
	return nil
}

func (q *pgQueries) ListRooms(ctx context.Context, clinic ClinicLocation) ([]Room, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE clinic_location = $1 ORDER BY id`, clinic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func (q *pgQueries) ListDentists(ctx context.Context, clinic ClinicLocation) ([]Dentist, error) {
	rows, err := q.db.Query(ctx, `SELECT `+dentistColumns+` FROM dentists WHERE clinic_location = $1 ORDER BY id`, clinic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Dentist
	for rows.Next() {
		d, err := scanDentist(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

// Clinic settings

func (q *pgQueries) GetClinicSettings(ctx context.Context, clinic ClinicLocation) (ClinicSettings, error) {
	settings := ClinicSettings{Clinic: clinic}
	err := q.db.QueryRow(ctx, `
		SELECT queue_paused, updated_at
		FROM clinic_settings
		WHERE clinic_location = $1
	`, clinic).Scan(&settings.QueuePaused, &settings.UpdatedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return ClinicSettings{}, fmt.Errorf("get clinic settings: %w", err)
	}
	return settings, nil
}

func (q *pgQueries) SetQueuePaused(ctx context.Context, clinic ClinicLocation, paused bool) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO clinic_settings (clinic_location, queue_paused, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (clinic_location)
		DO UPDATE SET queue_paused = EXCLUDED.queue_paused, updated_at = now()
	`, clinic, paused)
	if err != nil {
		return fmt.Errorf("set queue paused: %w", err)
	}
	return nil
}

// Event logging

func (q *pgQueries) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
