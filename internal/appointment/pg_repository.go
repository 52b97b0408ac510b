package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medibook/clinic-scheduling/internal/availability"
	"github.com/medibook/clinic-scheduling/internal/db"
)

const apptColumns = `id, patient_id, doctor_id, to_char(date, 'YYYY-MM-DD'), start_time, end_time,
		status, payment_status, consultation_type, cancellation_reason, cancelled_by,
		prescription_ref, created_at, updated_at`

type PgRepository struct {
	pool db.Pool
}

func NewPgRepository(pool db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.Window.Start,
		&a.Window.End,
		&a.Status,
		&a.PaymentStatus,
		&a.ConsultationType,
		&a.CancellationReason,
		&a.CancelledBy,
		&a.PrescriptionRef,
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

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) HasActiveSlot(ctx context.Context, doctorID uuid.UUID, date string, w availability.TimeWindow) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
			  AND date = $2::date
			  AND start_time = $3
			  AND end_time = $4
			  AND status IN ('pending', 'confirmed')
		)
	`, doctorID, date, w.Start, w.End).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) CreatePending(ctx context.Context, patientID, doctorID uuid.UUID, date string, w availability.TimeWindow, ct ConsultationType) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, date, start_time, end_time,
			 status, payment_status, consultation_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, 'pending', 'pending', $7, now(), now())
		RETURNING `+apptColumns+`
	`, id, patientID, doctorID, date, w.Start, w.End, ct)

	appt, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("create pending appointment: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+apptColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, from Status, upd CancelUpdate) (*Appointment, error) {
	// Refund marking rides in the same statement as the status change, so
	// a paid appointment can never be observed cancelled-but-still-paid.
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancelled_by = $2,
		    cancellation_reason = $3,
		    payment_status = CASE WHEN payment_status = 'paid'
		                          THEN 'refund_pending'
		                          ELSE payment_status END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+apptColumns+`
	`, id, upd.CancelledBy, upd.Reason, from)
	return scanAppointment(row)
}

func (r *PgRepository) CompleteAppointment(ctx context.Context, id uuid.UUID, from Status, prescriptionRef *string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    prescription_ref = COALESCE($2, prescription_ref),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+apptColumns+`
	`, id, prescriptionRef, from)
	return scanAppointment(row)
}

func (r *PgRepository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET payment_status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND payment_status = $3
		RETURNING `+apptColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) List(ctx context.Context, scope ListScope) ([]Appointment, error) {
	query := `
		SELECT ` + apptColumns + `
		FROM appointments
		WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if scope.PatientID != nil {
		query += ` AND patient_id = ` + arg(*scope.PatientID)
	}
	if scope.DoctorID != nil {
		query += ` AND doctor_id = ` + arg(*scope.DoctorID)
	}
	if scope.Filters.Date != nil {
		query += ` AND date = ` + arg(*scope.Filters.Date) + `::date`
	}
	if scope.Filters.Status != nil {
		query += ` AND status = ` + arg(*scope.Filters.Status)
	}

	query += `
		ORDER BY date DESC, start_time DESC`

	rows, err := r.pool.Query(ctx, query, args...)
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

func (r *PgRepository) FindUnsettledRefunds(ctx context.Context, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'cancelled'
		  AND payment_status IN ('refund_pending', 'refund_failed')
		ORDER BY updated_at
		LIMIT $1
	`, limit)
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

func (r *PgRepository) InsertEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, eventType, appointmentID, data)
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}
