package appointment

import (
	"errors"

	"github.com/medibook/clinic-scheduling/internal/availability"
)

var (
	ErrDoctorUnavailable = errors.New("doctor is not accepting appointments")
	ErrNonWorkingDay     = errors.New("doctor does not work on this date")
	ErrOutsideWindow     = errors.New("requested time is outside the doctor's hours")
)

// ValidateSlot decides whether the requested window is schedulable for the
// doctor on the given date. Pure; the checks run in a fixed order so the
// caller always gets the coarsest applicable rejection:
//
//  1. the doctor's global on/off switch,
//  2. working day and leave dates,
//  3. full containment in one configured window (partial overlap rejects).
func ValidateSlot(av *availability.DoctorAvailability, date string, requested availability.TimeWindow) error {
	if !av.IsAvailable {
		return ErrDoctorUnavailable
	}
	if !av.IsBookableDate(date) {
		return ErrNonWorkingDay
	}
	if _, ok := av.WindowContaining(requested); !ok {
		return ErrOutsideWindow
	}
	return nil
}
