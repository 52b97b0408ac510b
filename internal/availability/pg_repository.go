package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medibook/clinic-scheduling/internal/db"
)

type PgRepository struct {
	pool db.Pool
}

func NewPgRepository(pool db.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) GetByDoctorID(ctx context.Context, doctorID uuid.UUID) (*DoctorAvailability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, is_available, working_days, time_windows, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, doctorID)

	av, err := scanAvailability(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT to_char(leave_date, 'YYYY-MM-DD')
		FROM doctor_leaves
		WHERE doctor_id = $1
		ORDER BY leave_date
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load leave dates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		av.LeaveDates = append(av.LeaveDates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return av, nil
}

func (r *PgRepository) ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, days []Weekday, windows []TimeWindow) error {
	windowsJSON, err := json.Marshal(windows)
	if err != nil {
		return fmt.Errorf("encode time windows: %w", err)
	}

	dayStrings := make([]string, len(days))
	for i, d := range days {
		dayStrings[i] = string(d)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET working_days = $2,
		    time_windows = $3,
		    updated_at = now()
		WHERE id = $1
	`, doctorID, dayStrings, windowsJSON)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgRepository) SetOpen(ctx context.Context, doctorID uuid.UUID, open bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE doctors
		SET is_available = $2,
		    updated_at = now()
		WHERE id = $1
	`, doctorID, open)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *PgRepository) AddLeave(ctx context.Context, doctorID uuid.UUID, date string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_leaves (doctor_id, leave_date, created_at)
		VALUES ($1, $2::date, now())
	`, doctorID, date)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrDuplicateLeave
			case "23503":
				return ErrDoctorNotFound
			}
		}
		return err
	}
	return nil
}

func (r *PgRepository) RemoveLeave(ctx context.Context, doctorID uuid.UUID, date string) error {
	// Deleting an absent leave is a no-op, so the affected count is ignored.
	_, err := r.pool.Exec(ctx, `
		DELETE FROM doctor_leaves
		WHERE doctor_id = $1 AND leave_date = $2::date
	`, doctorID, date)
	return err
}

func (r *PgRepository) CountActiveOnDate(ctx context.Context, doctorID uuid.UUID, date string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2::date
		  AND status IN ('pending', 'confirmed')
	`, doctorID, date).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func scanAvailability(row pgx.Row) (*DoctorAvailability, error) {
	var av DoctorAvailability
	var specialty *string
	var dayStrings []string
	var windowsJSON []byte

	err := row.Scan(
		&av.DoctorID,
		&av.Name,
		&specialty,
		&av.IsAvailable,
		&dayStrings,
		&windowsJSON,
		&av.CreatedAt,
		&av.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	av.Specialty = specialty
	for _, d := range dayStrings {
		av.WorkingDays = append(av.WorkingDays, Weekday(d))
	}
	if len(windowsJSON) > 0 {
		if err := json.Unmarshal(windowsJSON, &av.TimeWindows); err != nil {
			return nil, fmt.Errorf("decode time windows: %w", err)
		}
	}

	return &av, nil
}
