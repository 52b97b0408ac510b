package availability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLeaveMapsDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectExec("INSERT INTO doctor_leaves").
		WithArgs(doctorID, "2024-06-03").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	repo := NewPgRepository(mock)
	err = repo.AddLeave(context.Background(), doctorID, "2024-06-03")
	assert.ErrorIs(t, err, ErrDuplicateLeave)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddLeaveMapsMissingDoctor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectExec("INSERT INTO doctor_leaves").
		WithArgs(doctorID, "2024-06-03").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	repo := NewPgRepository(mock)
	err = repo.AddLeave(context.Background(), doctorID, "2024-06-03")
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceScheduleMissingDoctor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectExec("UPDATE doctors").
		WithArgs(doctorID, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewPgRepository(mock)
	err = repo.ReplaceSchedule(context.Background(), doctorID, []Weekday{Monday}, []TimeWindow{{Start: "09:00", End: "12:00"}})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveLeaveAbsentIsNoError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctorID := uuid.New()
	mock.ExpectExec("DELETE FROM doctor_leaves").
		WithArgs(doctorID, "2024-06-03").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	repo := NewPgRepository(mock)
	err = repo.RemoveLeave(context.Background(), doctorID, "2024-06-03")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
