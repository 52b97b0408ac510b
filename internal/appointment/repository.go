package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/medibook/clinic-scheduling/internal/availability"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken means an active appointment already holds the exact
	// (doctor, date, window) tuple. Deliberately carries no detail about
	// whose appointment it is.
	ErrSlotTaken = errors.New("time slot is already booked")
)

// ListScope is the role-resolved visibility for a listing: nil fields mean
// unrestricted on that axis.
type ListScope struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Filters   Filters
}

// CancelUpdate carries the fields written when an appointment enters
// cancelled.
type CancelUpdate struct {
	CancelledBy uuid.UUID
	Reason      *string
}

// Repository contains all DB interactions needed by the scheduling service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// HasActiveSlot reports whether a pending/confirmed appointment exists
	// for the exact tuple. Used inside the slot lock before insert.
	HasActiveSlot(ctx context.Context, doctorID uuid.UUID, date string, w availability.TimeWindow) (bool, error)

	// CreatePending inserts the appointment in pending/payment-pending.
	// The partial unique index on active slots is the authoritative guard;
	// a violation surfaces as ErrSlotTaken.
	CreatePending(ctx context.Context, patientID, doctorID uuid.UUID, date string, w availability.TimeWindow, ct ConsultationType) (*Appointment, error)

	// UpdateStatus is a compare-and-swap on status. Zero rows matched
	// surfaces as ErrAppointmentNotFound; callers re-read to tell a missing
	// row from a stale precondition.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// CancelAppointment is the cancel CAS: it records who cancelled and why,
	// and in the same statement moves payment_status paid -> refund_pending.
	CancelAppointment(ctx context.Context, id uuid.UUID, from Status, upd CancelUpdate) (*Appointment, error)

	// CompleteAppointment is the complete CAS, attaching the optional
	// prescription reference.
	CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, prescriptionRef *string) (*Appointment, error)

	// UpdatePaymentStatus is a compare-and-swap on the payment axis only.
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error)

	// List returns appointments within scope ordered by date desc, window
	// start desc.
	List(ctx context.Context, scope ListScope) ([]Appointment, error)

	// FindUnsettledRefunds returns appointments whose refunds still need a
	// provider call (refund_pending or refund_failed).
	FindUnsettledRefunds(ctx context.Context, limit int) ([]Appointment, error)

	// InsertEvent appends to the append-only event log. Failures are logged
	// and swallowed by callers; the log is diagnostic, not authoritative.
	InsertEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) error
}
