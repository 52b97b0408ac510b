package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/clinic-scheduling/internal/availability"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// PaymentStatus is an independent axis next to Status. A cancellation of a
// paid appointment moves it to refund_pending in the same commit; the
// provider call then settles it to refunded or refund_failed.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPaid          PaymentStatus = "paid"
	PaymentRefundPending PaymentStatus = "refund_pending"
	PaymentRefunded      PaymentStatus = "refunded"
	PaymentRefundFailed  PaymentStatus = "refund_failed"
)

type ConsultationType string

const (
	ConsultationInPerson ConsultationType = "in-person"
	ConsultationVideo    ConsultationType = "video"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(s), true
	}
	return "", false
}

func ParseConsultationType(s string) (ConsultationType, bool) {
	switch ConsultationType(s) {
	case ConsultationInPerson, ConsultationVideo:
		return ConsultationType(s), true
	}
	return "", false
}

// IsActive reports whether the appointment counts toward the one-active-
// appointment-per-slot invariant.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// IsTerminal reports whether no transition may leave the state.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

type Appointment struct {
	ID                 uuid.UUID
	PatientID          uuid.UUID
	DoctorID           uuid.UUID
	Date               string // YYYY-MM-DD, facility timezone
	Window             availability.TimeWindow
	Status             Status
	PaymentStatus      PaymentStatus
	ConsultationType   ConsultationType
	CancellationReason *string
	CancelledBy        *uuid.UUID
	PrescriptionRef    *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filters narrows a listing on top of the role scoping, never instead of it.
type Filters struct {
	Date   *string
	Status *Status
}
