package availability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/clinic-scheduling/internal/identity"
)

type stubRepo struct {
	av            *DoctorAvailability
	replacedDays  []Weekday
	replacedWins  []TimeWindow
	addedLeaves   []string
	removedLeaves []string
	addLeaveErr   error
	activeOnDate  int
}

func (s *stubRepo) GetByDoctorID(ctx context.Context, doctorID uuid.UUID) (*DoctorAvailability, error) {
	if s.av == nil {
		return nil, ErrDoctorNotFound
	}
	return s.av, nil
}

func (s *stubRepo) ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, days []Weekday, windows []TimeWindow) error {
	s.replacedDays = days
	s.replacedWins = windows
	return nil
}

func (s *stubRepo) SetOpen(ctx context.Context, doctorID uuid.UUID, open bool) error {
	s.av.IsAvailable = open
	return nil
}

func (s *stubRepo) AddLeave(ctx context.Context, doctorID uuid.UUID, date string) error {
	if s.addLeaveErr != nil {
		return s.addLeaveErr
	}
	s.addedLeaves = append(s.addedLeaves, date)
	return nil
}

func (s *stubRepo) RemoveLeave(ctx context.Context, doctorID uuid.UUID, date string) error {
	s.removedLeaves = append(s.removedLeaves, date)
	return nil
}

func (s *stubRepo) CountActiveOnDate(ctx context.Context, doctorID uuid.UUID, date string) (int, error) {
	return s.activeOnDate, nil
}

func doctorActor(doctorID uuid.UUID) identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: identity.RoleDoctor, DoctorProfileID: &doctorID}
}

func receptionistActor() identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: identity.RoleReceptionist}
}

func TestSetAvailabilityReplacesSchedule(t *testing.T) {
	doctorID := uuid.New()
	repo := &stubRepo{av: &DoctorAvailability{DoctorID: doctorID, IsAvailable: true}}
	svc := NewService(repo)

	days := []Weekday{Monday, Wednesday}
	windows := []TimeWindow{{Start: "09:00", End: "12:00"}}

	_, err := svc.SetAvailability(context.Background(), doctorActor(doctorID), doctorID, days, windows)
	require.NoError(t, err)
	assert.Equal(t, days, repo.replacedDays)
	assert.Equal(t, windows, repo.replacedWins)
}

func TestSetAvailabilityValidation(t *testing.T) {
	doctorID := uuid.New()
	repo := &stubRepo{av: &DoctorAvailability{DoctorID: doctorID}}
	svc := NewService(repo)
	actor := receptionistActor()

	_, err := svc.SetAvailability(context.Background(), actor, doctorID, nil, []TimeWindow{{Start: "09:00", End: "12:00"}})
	assert.ErrorIs(t, err, ErrInvalidWeekday)

	_, err = svc.SetAvailability(context.Background(), actor, doctorID, []Weekday{Monday, Monday}, []TimeWindow{{Start: "09:00", End: "12:00"}})
	assert.ErrorIs(t, err, ErrInvalidWeekday)

	_, err = svc.SetAvailability(context.Background(), actor, doctorID, []Weekday{Monday}, nil)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = svc.SetAvailability(context.Background(), actor, doctorID, []Weekday{Monday}, []TimeWindow{{Start: "12:00", End: "09:00"}})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	assert.Nil(t, repo.replacedDays, "invalid input must not reach the repository")
}

func TestSetAvailabilityUnauthorized(t *testing.T) {
	doctorID := uuid.New()
	otherDoctor := uuid.New()
	repo := &stubRepo{av: &DoctorAvailability{DoctorID: doctorID}}
	svc := NewService(repo)

	// Another doctor cannot edit this doctor's schedule.
	_, err := svc.SetAvailability(context.Background(), doctorActor(otherDoctor), doctorID,
		[]Weekday{Monday}, []TimeWindow{{Start: "09:00", End: "12:00"}})
	assert.ErrorIs(t, err, identity.ErrUnauthorized)

	// Neither can a patient.
	pid := uuid.New()
	patient := identity.Actor{ID: uuid.New(), Role: identity.RolePatient, PatientProfileID: &pid}
	_, err = svc.SetAvailability(context.Background(), patient, doctorID,
		[]Weekday{Monday}, []TimeWindow{{Start: "09:00", End: "12:00"}})
	assert.ErrorIs(t, err, identity.ErrUnauthorized)
}

func TestAddLeave(t *testing.T) {
	doctorID := uuid.New()
	repo := &stubRepo{av: &DoctorAvailability{DoctorID: doctorID}, activeOnDate: 2}
	svc := NewService(repo)

	affected, err := svc.AddLeave(context.Background(), receptionistActor(), doctorID, "2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-03"}, repo.addedLeaves)
	// Existing bookings on the new leave date are reported, not cancelled.
	assert.Equal(t, 2, affected)
}

func TestAddLeaveDuplicate(t *testing.T) {
	doctorID := uuid.New()
	repo := &stubRepo{av: &DoctorAvailability{DoctorID: doctorID}, addLeaveErr: ErrDuplicateLeave}
	svc := NewService(repo)

	_, err := svc.AddLeave(context.Background(), receptionistActor(), doctorID, "2024-06-03")
	assert.ErrorIs(t, err, ErrDuplicateLeave)
}

func TestAddLeaveInvalidDate(t *testing.T) {
	doctorID := uuid.New()
	repo := &stubRepo{av: &DoctorAvailability{DoctorID: doctorID}}
	svc := NewService(repo)

	_, err := svc.AddLeave(context.Background(), receptionistActor(), doctorID, "soon")
	assert.ErrorIs(t, err, ErrInvalidDate)
	assert.Empty(t, repo.addedLeaves)
}

func TestRemoveLeaveIsIdempotent(t *testing.T) {
	doctorID := uuid.New()
	repo := &stubRepo{av: &DoctorAvailability{DoctorID: doctorID}}
	svc := NewService(repo)

	// The date was never added; removal still succeeds.
	err := svc.RemoveLeave(context.Background(), doctorActor(doctorID), doctorID, "2024-06-03")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-03"}, repo.removedLeaves)
}

func TestBookableDatesClampsRange(t *testing.T) {
	doctorID := uuid.New()
	repo := &stubRepo{av: &DoctorAvailability{
		DoctorID:    doctorID,
		IsAvailable: true,
		WorkingDays: []Weekday{Monday},
	}}
	svc := NewService(repo)

	dates, err := svc.BookableDates(context.Background(), doctorID, "2024-06-03", 0)
	require.NoError(t, err)
	// Default range is 14 days: two Mondays.
	assert.Equal(t, []string{"2024-06-03", "2024-06-10"}, dates)
}
