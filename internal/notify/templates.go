package notify

import (
	"fmt"
	"time"

	"github.com/klinikgigi/queue-engine/internal/appointment"
)

type Template string

const (
	TemplateBookingReceived Template = "booking_received"
	TemplateConfirmation    Template = "confirmation"
	TemplateCheckIn         Template = "check_in"
	TemplateTreatmentStart  Template = "treatment_start"
	TemplateCompletion      Template = "completion"
	TemplateCancellation    Template = "cancellation"
	TemplateNoShow          Template = "no_show"
	TemplateLate            Template = "late_reminder"
)

// TemplateFor picks the message of a transition. ok is false when the
// patient is not told about it.
func TemplateFor(from, to appointment.Status) (Template, bool) {
	switch to {
	case appointment.StatusBooked:
		return TemplateBookingReceived, true
	case appointment.StatusConfirmed:
		return TemplateConfirmation, true
	case appointment.StatusCheckedIn:
		return TemplateCheckIn, true
	case appointment.StatusWaiting:
		// checked_in already sent the acknowledgement.
		if from == appointment.StatusCheckedIn {
			return "", false
		}
		return TemplateCheckIn, true
	case appointment.StatusInTreatment:
		return TemplateTreatmentStart, true
	case appointment.StatusCompleted:
		return TemplateCompletion, true
	case appointment.StatusCancelled:
		return TemplateCancellation, true
	case appointment.StatusNoShow:
		return TemplateNoShow, true
	case appointment.StatusLate:
		return TemplateLate, true
	}
	return "", false
}

// messageView is the state a message is rendered from, read at send time.
type messageView struct {
	Appointment appointment.Appointment
	ClinicName  string
	ScheduledAt time.Time
	Entry       *appointment.QueueEntry
	RoomName    string
	DentistName string
}

type Message struct {
	Subject string
	Body    string
}

func render(t Template, v messageView) Message {
	a := v.Appointment
	when := v.ScheduledAt.Format("02 Jan 2006, 3:04 PM")

	switch t {
	case TemplateBookingReceived:
		return Message{
			Subject: "Booking received",
			Body: fmt.Sprintf("Hi %s, we received your booking at %s for %s. Your visit code is %s.",
				a.PatientName, v.ClinicName, when, a.VisitCode),
		}
	case TemplateConfirmation:
		return Message{
			Subject: "Appointment confirmed",
			Body: fmt.Sprintf("Hi %s, your appointment at %s on %s is confirmed. Visit code %s.",
				a.PatientName, v.ClinicName, when, a.VisitCode),
		}
	case TemplateCheckIn:
		body := fmt.Sprintf("Hi %s, you are checked in at %s.", a.PatientName, v.ClinicName)
		if v.Entry != nil {
			body += fmt.Sprintf(" Your queue number is %d.", v.Entry.QueueNumber)
		}
		return Message{Subject: "Checked in", Body: body}
	case TemplateTreatmentStart:
		body := fmt.Sprintf("Hi %s, please proceed", a.PatientName)
		if v.RoomName != "" {
			body += " to " + v.RoomName
		}
		if v.DentistName != "" {
			body += ", " + v.DentistName + " is ready for you"
		}
		return Message{Subject: "Your treatment is starting", Body: body + "."}
	case TemplateCompletion:
		return Message{
			Subject: "Thank you for visiting",
			Body: fmt.Sprintf("Thank you %s for visiting %s. We would love your feedback on visit %s.",
				a.PatientName, v.ClinicName, a.VisitCode),
		}
	case TemplateCancellation:
		return Message{
			Subject: "Appointment cancelled",
			Body: fmt.Sprintf("Hi %s, your appointment at %s on %s has been cancelled.",
				a.PatientName, v.ClinicName, when),
		}
	case TemplateNoShow:
		return Message{
			Subject: "We missed you",
			Body: fmt.Sprintf("Hi %s, we missed you at %s on %s. Reply or call us to book again.",
				a.PatientName, v.ClinicName, when),
		}
	case TemplateLate:
		return Message{
			Subject: "Running late?",
			Body: fmt.Sprintf("Hi %s, your appointment at %s was at %s. Please let us know if you are on the way.",
				a.PatientName, v.ClinicName, when),
		}
	}
	return Message{}
}
