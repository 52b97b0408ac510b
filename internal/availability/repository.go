package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound = errors.New("doctor not found")
	ErrDuplicateLeave = errors.New("leave date already recorded")
)

// Repository contains all DB interactions needed by the availability service.
type Repository interface {
	GetByDoctorID(ctx context.Context, doctorID uuid.UUID) (*DoctorAvailability, error)

	// ReplaceSchedule swaps working days and time windows in one statement.
	// Leave dates are never touched by it.
	ReplaceSchedule(ctx context.Context, doctorID uuid.UUID, days []Weekday, windows []TimeWindow) error
	SetOpen(ctx context.Context, doctorID uuid.UUID, open bool) error

	AddLeave(ctx context.Context, doctorID uuid.UUID, date string) error
	RemoveLeave(ctx context.Context, doctorID uuid.UUID, date string) error

	// CountActiveOnDate reports how many pending/confirmed appointments the
	// doctor already has on a date. Used to warn when a leave is added on
	// top of existing bookings.
	CountActiveOnDate(ctx context.Context, doctorID uuid.UUID, date string) (int, error)
}
