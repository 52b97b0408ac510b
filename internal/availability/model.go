package availability

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

var (
	ErrInvalidWeekday = errors.New("invalid weekday")
	ErrInvalidWindow  = errors.New("invalid time window")
	ErrInvalidDate    = errors.New("invalid date, expected YYYY-MM-DD")
)

// TimeWindow is a wall-clock interval in the facility timezone. Start and
// End are zero-padded 24h "HH:MM" strings, so plain string comparison is
// a correct time comparison.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (w TimeWindow) String() string {
	return w.Start + "-" + w.End
}

// Contains reports whether other lies fully inside w. Partial overlap does
// not count.
func (w TimeWindow) Contains(other TimeWindow) bool {
	return other.Start >= w.Start && other.End <= w.End
}

type DoctorAvailability struct {
	DoctorID    uuid.UUID
	Name        string
	Specialty   *string
	IsAvailable bool
	WorkingDays []Weekday
	TimeWindows []TimeWindow
	LeaveDates  []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const dateLayout = "2006-01-02"

var hhmmRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

func ParseWeekday(s string) (Weekday, error) {
	switch Weekday(s) {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return Weekday(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// WeekdayOf maps a YYYY-MM-DD date onto its weekday enum.
func WeekdayOf(date string) (Weekday, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	switch t.Weekday() {
	case time.Monday:
		return Monday, nil
	case time.Tuesday:
		return Tuesday, nil
	case time.Wednesday:
		return Wednesday, nil
	case time.Thursday:
		return Thursday, nil
	case time.Friday:
		return Friday, nil
	case time.Saturday:
		return Saturday, nil
	default:
		return Sunday, nil
	}
}

func ValidateDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

// ValidateWindow checks the HH:MM format and that the window is non-empty.
func ValidateWindow(w TimeWindow) error {
	if !hhmmRe.MatchString(w.Start) || !hhmmRe.MatchString(w.End) {
		return fmt.Errorf("%w: %s", ErrInvalidWindow, w)
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidWindow, w.Start, w.End)
	}
	return nil
}

func ValidateWindows(windows []TimeWindow) error {
	if len(windows) == 0 {
		return fmt.Errorf("%w: at least one window required", ErrInvalidWindow)
	}
	for _, w := range windows {
		if err := ValidateWindow(w); err != nil {
			return err
		}
	}
	return nil
}

func (a *DoctorAvailability) IsWorkingDay(date string) bool {
	wd, err := WeekdayOf(date)
	if err != nil {
		return false
	}
	for _, d := range a.WorkingDays {
		if d == wd {
			return true
		}
	}
	return false
}

func (a *DoctorAvailability) IsOnLeave(date string) bool {
	for _, d := range a.LeaveDates {
		if d == date {
			return true
		}
	}
	return false
}

// IsBookableDate combines the weekly schedule with ad-hoc leave days.
// The coarse IsAvailable switch is checked separately by the slot validator.
func (a *DoctorAvailability) IsBookableDate(date string) bool {
	return a.IsWorkingDay(date) && !a.IsOnLeave(date)
}

// WindowContaining returns the configured window that fully contains the
// requested one, or false when none does.
func (a *DoctorAvailability) WindowContaining(requested TimeWindow) (TimeWindow, bool) {
	for _, w := range a.TimeWindows {
		if w.Contains(requested) {
			return w, true
		}
	}
	return TimeWindow{}, false
}

// BookableDates lists the bookable dates in [from, from+days), for callers
// that render a booking picker.
func (a *DoctorAvailability) BookableDates(from string, days int) ([]string, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, from)
	}

	var out []string
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i).Format(dateLayout)
		if a.IsBookableDate(d) {
			out = append(out, d)
		}
	}
	return out, nil
}
