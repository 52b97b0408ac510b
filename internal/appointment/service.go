package appointment

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/medibook/clinic-scheduling/internal/availability"
	"github.com/medibook/clinic-scheduling/internal/identity"
	"github.com/medibook/clinic-scheduling/internal/metrics"
	"github.com/medibook/clinic-scheduling/internal/payment"
	redisclient "github.com/medibook/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventPaymentMarkedPaid    = "PAYMENT_MARKED_PAID"
	EventRefundSettled        = "REFUND_SETTLED"
	EventRefundFailed         = "REFUND_FAILED"
)

var (
	// ErrSlotBusy means another booking for the same slot holds the lock
	// right now; the request is safe to retry.
	ErrSlotBusy = errors.New("slot is currently being booked, please retry")

	// ErrStaleState means a transition's precondition no longer held when
	// the update ran. The caller should re-read and decide again.
	ErrStaleState = errors.New("appointment changed concurrently, retry with fresh state")
)

type Service struct {
	repo     Repository
	avRepo   availability.Repository
	locker   redisclient.Locker
	provider payment.Provider
	metrics  *metrics.SchedulingMetrics
}

func NewService(repo Repository, avRepo availability.Repository, locker redisclient.Locker, provider payment.Provider, m *metrics.SchedulingMetrics) *Service {
	return &Service{
		repo:     repo,
		avRepo:   avRepo,
		locker:   locker,
		provider: provider,
		metrics:  m,
	}
}

type BookRequest struct {
	DoctorID         uuid.UUID
	Date             string
	Window           availability.TimeWindow
	ConsultationType ConsultationType
}

// Book reserves a slot for the acting patient. The slot is validated against
// the doctor's availability, then inserted under a per slot lock so that
// concurrent requests for the same tuple cannot both create an active
// appointment. The partial unique index backs the lock up: even if the lock
// is lost the insert itself cannot violate exclusivity.
func (s *Service) Book(ctx context.Context, actor identity.Actor, req BookRequest) (*Appointment, error) {
	if actor.Role != identity.RolePatient {
		return nil, identity.ErrUnauthorized
	}
	patientID, err := actor.PatientProfile()
	if err != nil {
		return nil, err
	}

	if err := availability.ValidateDate(req.Date); err != nil {
		return nil, err
	}
	if err := availability.ValidateWindow(req.Window); err != nil {
		return nil, err
	}
	if req.ConsultationType == "" {
		req.ConsultationType = ConsultationInPerson
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	av, err := s.avRepo.GetByDoctorID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, availability.ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor availability: %w", err)
	}

	if err := ValidateSlot(av, req.Date, req.Window); err != nil {
		s.metrics.ObserveBooking("rejected")
		return nil, err
	}

	var created *Appointment

	key := redisclient.SlotKey(req.DoctorID, req.Date, req.Window.String())
	err = s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		taken, err := s.repo.HasActiveSlot(lockCtx, req.DoctorID, req.Date, req.Window)
		if err != nil {
			return fmt.Errorf("check active slot: %w", err)
		}
		if taken {
			return ErrSlotTaken
		}

		appt, err := s.repo.CreatePending(lockCtx, patientID, req.DoctorID, req.Date, req.Window, req.ConsultationType)
		if err != nil {
			return err
		}

		created = appt
		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"doctor_id":  req.DoctorID.String(),
			"patient_id": patientID.String(),
			"date":       req.Date,
			"window":     req.Window.String(),
		})

		return nil
	})

	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			s.metrics.ObserveBooking("busy")
			return nil, ErrSlotBusy
		case errors.Is(err, ErrSlotTaken):
			s.metrics.ObserveBooking("conflict")
			return nil, err
		default:
			s.metrics.ObserveBooking("error")
			return nil, err
		}
	}

	s.metrics.ObserveBooking("booked")
	return created, nil
}

// Get returns a single appointment, applying the same visibility rules as
// List.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	switch actor.Role {
	case identity.RolePatient:
		pid, err := actor.PatientProfile()
		if err != nil {
			return nil, err
		}
		if pid != appt.PatientID {
			return nil, identity.ErrUnauthorized
		}
	case identity.RoleDoctor:
		did, err := actor.DoctorProfile()
		if err != nil {
			return nil, err
		}
		if did != appt.DoctorID {
			return nil, identity.ErrUnauthorized
		}
	}

	return appt, nil
}

// List returns the appointments the actor may see, newest first. Patients
// and doctors are pinned to their own profile id; caller filters are ANDed
// on top of that, never instead of it.
func (s *Service) List(ctx context.Context, actor identity.Actor, filters Filters) ([]Appointment, error) {
	if filters.Date != nil {
		if err := availability.ValidateDate(*filters.Date); err != nil {
			return nil, err
		}
	}

	scope := ListScope{Filters: filters}
	switch actor.Role {
	case identity.RolePatient:
		pid, err := actor.PatientProfile()
		if err != nil {
			return nil, err
		}
		scope.PatientID = &pid
	case identity.RoleDoctor:
		did, err := actor.DoctorProfile()
		if err != nil {
			return nil, err
		}
		scope.DoctorID = &did
	}

	appts, err := s.repo.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// Confirm moves a pending appointment to confirmed. Payment status is not
// touched.
func (s *Service) Confirm(ctx context.Context, actor identity.Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := s.loadForTransition(ctx, actor, id, StatusConfirmed)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateStatus(ctx, id, appt.Status, StatusConfirmed)
	if err != nil {
		return nil, s.resolveCASFailure(ctx, id, err)
	}

	s.metrics.ObserveTransition(string(StatusConfirmed))
	s.logEvent(ctx, id, EventAppointmentConfirmed, map[string]any{"by": actor.ID.String()})
	return updated, nil
}

// Cancel moves an appointment to cancelled, recording who cancelled it and
// why. If the appointment was paid, the same statement moves payment to
// refund_pending; the provider call then settles it. A provider failure
// never unwinds the cancellation.
func (s *Service) Cancel(ctx context.Context, actor identity.Actor, id uuid.UUID, reason *string) (*Appointment, error) {
	appt, err := s.loadForTransition(ctx, actor, id, StatusCancelled)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.CancelAppointment(ctx, id, appt.Status, CancelUpdate{
		CancelledBy: actor.ID,
		Reason:      reason,
	})
	if err != nil {
		return nil, s.resolveCASFailure(ctx, id, err)
	}

	s.metrics.ObserveTransition(string(StatusCancelled))
	s.logEvent(ctx, id, EventAppointmentCancelled, map[string]any{
		"by":     actor.ID.String(),
		"reason": reason,
	})

	if updated.PaymentStatus == PaymentRefundPending {
		updated = s.settleRefund(ctx, updated, reason)
	}

	return updated, nil
}

// Complete moves a confirmed appointment to completed, optionally attaching
// a prescription reference. Both the direct status call and the
// create-prescription flow land here, so they share one ownership check.
func (s *Service) Complete(ctx context.Context, actor identity.Actor, id uuid.UUID, prescriptionRef *string) (*Appointment, error) {
	appt, err := s.loadForTransition(ctx, actor, id, StatusCompleted)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.CompleteAppointment(ctx, id, appt.Status, prescriptionRef)
	if err != nil {
		return nil, s.resolveCASFailure(ctx, id, err)
	}

	s.metrics.ObserveTransition(string(StatusCompleted))
	s.logEvent(ctx, id, EventAppointmentCompleted, map[string]any{
		"by":               actor.ID.String(),
		"prescription_ref": prescriptionRef,
	})
	return updated, nil
}

// MarkPaid records the provider's payment confirmation.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	updated, err := s.repo.UpdatePaymentStatus(ctx, id, PaymentPending, PaymentPaid)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			if _, getErr := s.repo.GetAppointmentByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: payment is not pending", ErrIllegalTransition)
		}
		return nil, fmt.Errorf("mark paid: %w", err)
	}

	s.logEvent(ctx, id, EventPaymentMarkedPaid, map[string]any{})
	return updated, nil
}

// ProcessUnsettledRefunds retries provider refunds for cancelled
// appointments stuck in refund_pending or refund_failed. Intended to be
// called periodically by the refund worker.
func (s *Service) ProcessUnsettledRefunds(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 50
	}

	candidates, err := s.repo.FindUnsettledRefunds(ctx, limit)
	if err != nil {
		return fmt.Errorf("find unsettled refunds: %w", err)
	}

	for i := range candidates {
		appt := &candidates[i]
		s.settleRefund(ctx, appt, appt.CancellationReason)
	}

	return nil
}

// settleRefund calls the provider and records the outcome on the payment
// axis. Returns the freshest appointment it has.
func (s *Service) settleRefund(ctx context.Context, appt *Appointment, reason *string) *Appointment {
	refundReason := ""
	if reason != nil {
		refundReason = *reason
	}

	err := s.provider.Refund(ctx, payment.RefundRequest{
		AppointmentID: appt.ID,
		Reason:        refundReason,
	})

	from := appt.PaymentStatus
	if err != nil {
		log.Printf("refund for appointment %s failed: %v", appt.ID, err)
		s.metrics.ObserveRefund("failed")
		if from == PaymentRefundFailed {
			// Still failed; nothing to flip.
			return appt
		}
		updated, updErr := s.repo.UpdatePaymentStatus(ctx, appt.ID, from, PaymentRefundFailed)
		if updErr != nil {
			log.Printf("mark refund_failed for appointment %s: %v", appt.ID, updErr)
			return appt
		}
		s.logEvent(ctx, appt.ID, EventRefundFailed, map[string]any{"error": err.Error()})
		return updated
	}

	s.metrics.ObserveRefund("settled")
	updated, updErr := s.repo.UpdatePaymentStatus(ctx, appt.ID, from, PaymentRefunded)
	if updErr != nil {
		log.Printf("mark refunded for appointment %s: %v", appt.ID, updErr)
		return appt
	}
	s.logEvent(ctx, appt.ID, EventRefundSettled, map[string]any{})
	return updated
}

// loadForTransition loads the appointment and authorizes the requested move
// against the role table and ownership rules. No state is mutated here.
func (s *Service) loadForTransition(ctx context.Context, actor identity.Actor, id uuid.UUID, to Status) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := authorizeTransition(actor, appt, to); err != nil {
		return nil, err
	}

	return appt, nil
}

// resolveCASFailure turns a zero-row compare-and-swap into either not-found
// or stale-state, so a losing racer sees a retryable error rather than a
// silent overwrite.
func (s *Service) resolveCASFailure(ctx context.Context, id uuid.UUID, err error) error {
	if !errors.Is(err, ErrAppointmentNotFound) {
		return err
	}
	if _, getErr := s.repo.GetAppointmentByID(ctx, id); getErr != nil {
		return getErr
	}
	return ErrStaleState
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	if err := s.repo.InsertEvent(ctx, appointmentID, eventType, payload); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
