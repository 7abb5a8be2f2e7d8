package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/frontdesk"
	"github.com/klinikgigi/queue-engine/internal/lifecycle"
)

type BookingRequest struct {
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
	PatientEmail string    `json:"patient_email"`
	Clinic       string    `json:"clinic"`
	ServiceID    string    `json:"service_id"`
	DentistID    *int64    `json:"dentist_id"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Notes        string    `json:"notes"`
}

type TransitionRequest struct {
	Status   string         `json:"status"`
	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type QueueStatusRequest struct {
	Action    string `json:"action"`
	RoomID    *int64 `json:"room_id"`
	DentistID *int64 `json:"dentist_id"`
}

type PauseRequest struct {
	Paused bool `json:"paused"`
}

type SweepRequest struct {
	ThresholdMinutes *int `json:"threshold_minutes"`
}

type AppointmentResponse struct {
	ID           uuid.UUID `json:"id"`
	VisitCode    string    `json:"visit_code"`
	VisitToken   string    `json:"visit_token,omitempty"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
	PatientEmail *string   `json:"patient_email,omitempty"`
	Clinic       string    `json:"clinic"`
	ServiceID    uuid.UUID `json:"service_id"`
	DentistID    *int64    `json:"dentist_id,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	Notes        string    `json:"notes,omitempty"`
}

type QueueEntryResponse struct {
	ID                 uuid.UUID  `json:"id"`
	AppointmentID      uuid.UUID  `json:"appointment_id"`
	Clinic             string     `json:"clinic"`
	Day                string     `json:"day"`
	QueueNumber        int        `json:"queue_number"`
	DisplayNumber      string     `json:"display_number"`
	Status             string     `json:"status"`
	CheckInTime        time.Time  `json:"check_in_time"`
	CalledTime         *time.Time `json:"called_time,omitempty"`
	TreatmentStartTime *time.Time `json:"treatment_start_time,omitempty"`
	CompletedTime      *time.Time `json:"completed_time,omitempty"`
	RoomID             *int64     `json:"room_id,omitempty"`
	DentistID          *int64     `json:"dentist_id,omitempty"`
	EstimatedWait      *int       `json:"estimated_wait,omitempty"`
}

type CheckInResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	QueueEntry  QueueEntryResponse  `json:"queue_entry"`
}

type TransitionResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	From        string              `json:"from"`
	To          string              `json:"to"`
	QueueEntry  *QueueEntryResponse `json:"queue_entry,omitempty"`
}

type BoardEntryResponse struct {
	QueueEntryResponse
	PatientName       string `json:"patient_name"`
	VisitCode         string `json:"visit_code"`
	AppointmentStatus string `json:"appointment_status"`
}

type QueueBoardResponse struct {
	Clinic  string               `json:"clinic"`
	Entries []BoardEntryResponse `json:"entries"`
}

type SweepResponse struct {
	Kind             string `json:"kind"`
	ThresholdMinutes int    `json:"threshold_minutes"`
	Count            int    `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// FormatQueueNumber renders a queue number for the waiting room display.
func FormatQueueNumber(n int) string {
	return fmt.Sprintf("A-%02d", n)
}

// toAppointmentResponse omits the visit token; it is only returned to the
// patient who booked.
func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		VisitCode:    a.VisitCode,
		PatientName:  a.PatientName,
		PatientPhone: a.PatientPhone,
		PatientEmail: a.PatientEmail,
		Clinic:       string(a.Clinic),
		ServiceID:    a.ServiceID,
		DentistID:    a.DentistID,
		ScheduledAt:  a.ScheduledAt,
		Status:       string(a.Status),
		Source:       string(a.Source),
		Notes:        a.Notes,
	}
}

func toQueueEntryResponse(e *appointment.QueueEntry) QueueEntryResponse {
	return QueueEntryResponse{
		ID:                 e.ID,
		AppointmentID:      e.AppointmentID,
		Clinic:             string(e.Clinic),
		Day:                e.Day.Format("2006-01-02"),
		QueueNumber:        e.QueueNumber,
		DisplayNumber:      FormatQueueNumber(e.QueueNumber),
		Status:             string(e.Status),
		CheckInTime:        e.CheckInTime,
		CalledTime:         e.CalledTime,
		TreatmentStartTime: e.TreatmentStartTime,
		CompletedTime:      e.CompletedTime,
		RoomID:             e.RoomID,
		DentistID:          e.DentistID,
	}
}

func toTransitionResponse(res *lifecycle.Result) TransitionResponse {
	out := TransitionResponse{
		Appointment: toAppointmentResponse(res.Appointment),
		From:        string(res.Transition.From),
		To:          string(res.Transition.To),
	}
	if res.Entry != nil {
		e := toQueueEntryResponse(res.Entry)
		out.QueueEntry = &e
	}
	return out
}

func toBoardResponse(clinic appointment.ClinicLocation, board []frontdesk.BoardEntry) QueueBoardResponse {
	out := QueueBoardResponse{Clinic: string(clinic), Entries: make([]BoardEntryResponse, 0, len(board))}
	for i := range board {
		b := board[i]
		entry := toQueueEntryResponse(&b.Entry)
		wait := b.EstimatedWait
		entry.EstimatedWait = &wait
		out.Entries = append(out.Entries, BoardEntryResponse{
			QueueEntryResponse: entry,
			PatientName:        b.PatientName,
			VisitCode:          b.VisitCode,
			AppointmentStatus:  string(b.Status),
		})
	}
	return out
}
