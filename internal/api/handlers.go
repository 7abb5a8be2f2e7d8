package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/assignment"
	"github.com/klinikgigi/queue-engine/internal/frontdesk"
	"github.com/klinikgigi/queue-engine/internal/queue"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

type handlers struct {
	svc    *frontdesk.Service
	logger *logging.Logger

	lateThreshold   int
	noShowThreshold int
}

func (h *handlers) bookingRequest(w http.ResponseWriter, r *http.Request, source appointment.BookingSource) (frontdesk.BookingRequest, bool) {
	var req BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return frontdesk.BookingRequest{}, false
	}

	clinic, err := appointment.ParseClinic(req.Clinic)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic", err.Error())
		return frontdesk.BookingRequest{}, false
	}

	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
		return frontdesk.BookingRequest{}, false
	}

	return frontdesk.BookingRequest{
		PatientName:  req.PatientName,
		PatientPhone: req.PatientPhone,
		PatientEmail: req.PatientEmail,
		Clinic:       clinic,
		ServiceID:    serviceID,
		DentistID:    req.DentistID,
		ScheduledAt:  req.ScheduledAt,
		Notes:        req.Notes,
		Source:       source,
	}, true
}

func (h *handlers) book(source appointment.BookingSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := h.bookingRequest(w, r, source)
		if !ok {
			return
		}

		appt, err := h.svc.Book(r.Context(), req)
		if err != nil {
			h.handleError(w, r, err)
			return
		}

		resp := toAppointmentResponse(appt)
		resp.VisitToken = appt.VisitToken
		writeJSON(w, http.StatusCreated, resp)
	}
}

func (h *handlers) walkIn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.bookingRequest(w, r, appointment.SourceWalkIn)
	if !ok {
		return
	}

	res, err := h.svc.WalkIn(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CheckInResponse{
		Appointment: toAppointmentResponse(res.Appointment),
		QueueEntry:  toQueueEntryResponse(res.Entry),
	})
}

func (h *handlers) track(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Track(r.Context(), chi.URLParam(r, "visitCode"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) checkIn(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.svc.CheckIn(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := toQueueEntryResponse(entry)
	if wait, err := h.svc.EstimatedWait(r.Context(), entry.ID); err == nil {
		resp.EstimatedWait = &wait
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if claims, ok := StaffClaimsFromContext(r.Context()); ok {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["actor"] = claims.Subject
	}

	res, err := h.svc.Transition(r.Context(), id, req.Status, req.Reason, req.Metadata)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}

	res, err := h.svc.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransitionResponse(res))
}

func (h *handlers) queueBoard(w http.ResponseWriter, r *http.Request) {
	clinic, ok := clinicParam(w, r)
	if !ok {
		return
	}

	board, err := h.svc.Queue(r.Context(), clinic)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBoardResponse(clinic, board))
}

func (h *handlers) queueStats(w http.ResponseWriter, r *http.Request) {
	clinic, ok := clinicParam(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.QueueStats(r.Context(), clinic)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// assignNext answers 204 when nobody is waiting.
func (h *handlers) assignNext(w http.ResponseWriter, r *http.Request) {
	clinic, ok := clinicParam(w, r)
	if !ok {
		return
	}

	entry, err := h.svc.AssignNext(r.Context(), clinic)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
}

func (h *handlers) setPaused(w http.ResponseWriter, r *http.Request) {
	clinic, ok := clinicParam(w, r)
	if !ok {
		return
	}

	var req PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	if err := h.svc.SetQueuePaused(r.Context(), clinic, req.Paused); err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clinic": clinic, "paused": req.Paused})
}

func (h *handlers) updateQueueStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var req QueueStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	entry, err := h.svc.UpdateQueueStatus(r.Context(), id, req.Action, req.RoomID, req.DentistID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueEntryResponse(entry))
}

func (h *handlers) sweepLate(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, "late", h.lateThreshold, h.svc.MarkLate)
}

func (h *handlers) sweepNoShow(w http.ResponseWriter, r *http.Request) {
	h.sweep(w, r, "no_show", h.noShowThreshold, h.svc.MarkNoShow)
}

func (h *handlers) sweep(w http.ResponseWriter, r *http.Request, kind string, threshold int, run func(ctx context.Context, minutes int) (int, error)) {
	var req SweepRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}
	if req.ThresholdMinutes != nil {
		threshold = *req.ThresholdMinutes
	}

	n, err := run(r.Context(), threshold)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Kind: kind, ThresholdMinutes: threshold, Count: n})
}

// handleError maps domain errors onto HTTP statuses. Unexpected errors are
// logged and answered without details.
func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, appointment.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, "unknown_status", err.Error())
	case errors.Is(err, appointment.ErrUnknownClinic):
		writeError(w, http.StatusBadRequest, "invalid_clinic", err.Error())
	case errors.Is(err, frontdesk.ErrNotScheduledToday):
		writeError(w, http.StatusBadRequest, "not_scheduled_today", err.Error())
	case errors.Is(err, frontdesk.ErrUnknownAction):
		writeError(w, http.StatusBadRequest, "unknown_action", err.Error())

	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrQueueEntryNotFound):
		writeError(w, http.StatusNotFound, "queue_entry_not_found", err.Error())
	case errors.Is(err, appointment.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found", err.Error())
	case errors.Is(err, appointment.ErrDentistNotFound):
		writeError(w, http.StatusNotFound, "dentist_not_found", err.Error())

	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, queue.ErrInvalidQueueTransition):
		writeError(w, http.StatusConflict, "invalid_queue_transition", err.Error())
	case errors.Is(err, assignment.ErrQueuePaused):
		writeError(w, http.StatusConflict, "queue_paused", err.Error())
	case errors.Is(err, assignment.ErrNoResourceAvailable), errors.Is(err, queue.ErrResourceUnavailable):
		writeError(w, http.StatusConflict, "no_resource_available", err.Error())
	case errors.Is(err, appointment.ErrConcurrencyConflict), errors.Is(err, appointment.ErrStatusChanged):
		writeError(w, http.StatusConflict, "concurrency_conflict", "concurrent update, please retry")

	default:
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func clinicParam(w http.ResponseWriter, r *http.Request) (appointment.ClinicLocation, bool) {
	clinic, err := appointment.ParseClinic(chi.URLParam(r, "clinic"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic", err.Error())
		return "", false
	}
	return clinic, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
