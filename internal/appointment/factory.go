package appointment

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewAppointmentParams carries what a booking form or the front desk knows
// about a visit before it is persisted.
type NewAppointmentParams struct {
	PatientName  string
	PatientPhone string
	PatientEmail string
	Clinic       ClinicLocation
	ServiceID    uuid.UUID
	DentistID    *int64
	ScheduledAt  time.Time
	Source       BookingSource
	Notes        string
}

// NewAppointment builds a booked appointment. The visit code is assigned
// separately because it needs the per-day sequence from the store.
func NewAppointment(p NewAppointmentParams, now time.Time) (*Appointment, error) {
	token, err := NewVisitToken()
	if err != nil {
		return nil, err
	}
	a := &Appointment{
		ID:           uuid.New(),
		VisitToken:   token,
		PatientName:  strings.TrimSpace(p.PatientName),
		PatientPhone: NormalizePhone(p.PatientPhone),
		Clinic:       p.Clinic,
		ServiceID:    p.ServiceID,
		DentistID:    p.DentistID,
		ScheduledAt:  p.ScheduledAt,
		Status:       StatusBooked,
		Source:       p.Source,
		Notes:        strings.TrimSpace(p.Notes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if email := strings.TrimSpace(p.PatientEmail); email != "" {
		a.PatientEmail = &email
	}
	if a.Source == "" {
		a.Source = SourcePublic
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks an appointment before it is written.
func (a *Appointment) Validate() error {
	var problems []string
	if a.PatientName == "" {
		problems = append(problems, "patient name is required")
	}
	if a.PatientPhone == "" {
		problems = append(problems, "patient phone is required")
	}
	if a.PatientEmail != nil && !strings.Contains(*a.PatientEmail, "@") {
		problems = append(problems, "patient email is malformed")
	}
	if !a.Clinic.Valid() {
		problems = append(problems, fmt.Sprintf("unknown clinic %q", a.Clinic))
	}
	if a.ServiceID == uuid.Nil {
		problems = append(problems, "service is required")
	}
	if a.ScheduledAt.IsZero() {
		problems = append(problems, "scheduled time is required")
	}
	if !a.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", a.Status))
	}
	if !a.Source.Valid() {
		problems = append(problems, fmt.Sprintf("unknown booking source %q", a.Source))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// FormatVisitCode renders PFX-YYYYMMDD-NNN.
func FormatVisitCode(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%03d", prefix, day.Format("20060102"), seq)
}

// NewVisitToken returns an unguessable patient portal secret.
func NewVisitToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate visit token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NormalizePhone strips formatting and keeps a leading plus sign.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
