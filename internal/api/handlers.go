package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medibook/clinic-scheduling/internal/appointment"
	"github.com/medibook/clinic-scheduling/internal/availability"
	"github.com/medibook/clinic-scheduling/internal/identity"
	"github.com/medibook/clinic-scheduling/internal/payment"
)

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no authenticated actor on request")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		ct := appointment.ConsultationInPerson
		if req.ConsultationType != "" {
			parsed, ok := appointment.ParseConsultationType(req.ConsultationType)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_consultation_type", "consultation_type must be in-person or video")
				return
			}
			ct = parsed
		}

		appt, err := svc.Book(r.Context(), actor, appointment.BookRequest{
			DoctorID:         doctorID,
			Date:             req.Date,
			Window:           req.Window,
			ConsultationType: ct,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no authenticated actor on request")
			return
		}

		var filters appointment.Filters
		if v := r.URL.Query().Get("date"); v != "" {
			filters.Date = &v
		}
		if v := r.URL.Query().Get("status"); v != "" {
			status, ok := appointment.ParseStatus(v)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_status", "unknown appointment status")
				return
			}
			filters.Status = &status
		}

		appts, err := svc.List(r.Context(), actor, filters)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no authenticated actor on request")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc, func(r *http.Request, actor identity.Actor, svc *appointment.Service, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.Confirm(r.Context(), actor, id)
	})
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc, func(r *http.Request, actor identity.Actor, svc *appointment.Service, id uuid.UUID) (*appointment.Appointment, error) {
		var req CancelAppointmentRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, errBadBody
			}
		}
		return svc.Cancel(r.Context(), actor, id, req.Reason)
	})
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return transitionHandler(svc, func(r *http.Request, actor identity.Actor, svc *appointment.Service, id uuid.UUID) (*appointment.Appointment, error) {
		var req CompleteAppointmentRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, errBadBody
			}
		}
		return svc.Complete(r.Context(), actor, id, req.PrescriptionRef)
	})
}

func markPaidHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.MarkPaid(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

var errBadBody = errors.New("could not parse JSON body")

func transitionHandler(svc *appointment.Service, fn func(*http.Request, identity.Actor, *appointment.Service, uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := GetActor(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_actor", "no authenticated actor on request")
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := fn(r, actor, svc, id)
		if err != nil {
			if errors.Is(err, errBadBody) {
				writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
				return
			}
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// handleDomainError maps domain sentinels onto stable machine-readable
// error codes. Anything unrecognized is an internal error.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, availability.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
	case errors.Is(err, availability.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
	case errors.Is(err, availability.ErrInvalidWeekday):
		writeError(w, http.StatusBadRequest, "invalid_weekday", err.Error())
	case errors.Is(err, identity.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "profile_not_found", err.Error())
	case errors.Is(err, identity.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, availability.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorUnavailable):
		writeError(w, http.StatusConflict, "doctor_unavailable", err.Error())
	case errors.Is(err, appointment.ErrNonWorkingDay):
		writeError(w, http.StatusConflict, "non_working_day", err.Error())
	case errors.Is(err, appointment.ErrOutsideWindow):
		writeError(w, http.StatusConflict, "outside_window", err.Error())
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, appointment.ErrSlotBusy):
		writeError(w, http.StatusConflict, "slot_busy", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, appointment.ErrStaleState):
		writeError(w, http.StatusConflict, "stale_state", err.Error())
	case errors.Is(err, availability.ErrDuplicateLeave):
		writeError(w, http.StatusConflict, "duplicate_leave", err.Error())
	case errors.Is(err, payment.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "payment_provider_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
