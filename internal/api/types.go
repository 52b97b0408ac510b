package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/clinic-scheduling/internal/appointment"
	"github.com/medibook/clinic-scheduling/internal/availability"
)

type BookAppointmentRequest struct {
	DoctorID         string                  `json:"doctor_id"`
	Date             string                  `json:"date"`
	Window           availability.TimeWindow `json:"window"`
	ConsultationType string                  `json:"consultation_type,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type CompleteAppointmentRequest struct {
	PrescriptionRef *string `json:"prescription_ref,omitempty"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID               `json:"id"`
	PatientID          uuid.UUID               `json:"patient_id"`
	DoctorID           uuid.UUID               `json:"doctor_id"`
	Date               string                  `json:"date"`
	Window             availability.TimeWindow `json:"window"`
	Status             string                  `json:"status"`
	PaymentStatus      string                  `json:"payment_status"`
	ConsultationType   string                  `json:"consultation_type"`
	CancellationReason *string                 `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID              `json:"cancelled_by,omitempty"`
	PrescriptionRef    *string                 `json:"prescription_ref,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		Date:               a.Date,
		Window:             a.Window,
		Status:             string(a.Status),
		PaymentStatus:      string(a.PaymentStatus),
		ConsultationType:   string(a.ConsultationType),
		CancellationReason: a.CancellationReason,
		CancelledBy:        a.CancelledBy,
		PrescriptionRef:    a.PrescriptionRef,
		CreatedAt:          a.CreatedAt,
	}
}

type SetAvailabilityRequest struct {
	WorkingDays []string                  `json:"working_days"`
	TimeWindows []availability.TimeWindow `json:"time_windows"`
}

type SetOpenRequest struct {
	Open bool `json:"open"`
}

type AddLeaveRequest struct {
	Date string `json:"date"`
}

type AddLeaveResponse struct {
	Date string `json:"date"`
	// ActiveAppointments is how many pending/confirmed appointments already
	// sit on the new leave date. They are not auto-cancelled.
	ActiveAppointments int `json:"active_appointments"`
}

type AvailabilityResponse struct {
	DoctorID    uuid.UUID                 `json:"doctor_id"`
	Name        string                    `json:"name"`
	Specialty   *string                   `json:"specialty,omitempty"`
	IsAvailable bool                      `json:"is_available"`
	WorkingDays []availability.Weekday    `json:"working_days"`
	TimeWindows []availability.TimeWindow `json:"time_windows"`
	LeaveDates  []string                  `json:"leave_dates"`
}

func toAvailabilityResponse(av *availability.DoctorAvailability) AvailabilityResponse {
	return AvailabilityResponse{
		DoctorID:    av.DoctorID,
		Name:        av.Name,
		Specialty:   av.Specialty,
		IsAvailable: av.IsAvailable,
		WorkingDays: av.WorkingDays,
		TimeWindows: av.TimeWindows,
		LeaveDates:  av.LeaveDates,
	}
}

type BookableDatesResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	From     string    `json:"from"`
	Dates    []string  `json:"dates"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
