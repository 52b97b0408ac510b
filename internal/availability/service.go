package availability

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/medibook/clinic-scheduling/internal/identity"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, doctorID uuid.UUID) (*DoctorAvailability, error) {
	av, err := s.repo.GetByDoctorID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}
	return av, nil
}

// SetAvailability replaces the doctor's working days and time windows in
// place. Leave dates are left alone.
func (s *Service) SetAvailability(ctx context.Context, actor identity.Actor, doctorID uuid.UUID, days []Weekday, windows []TimeWindow) (*DoctorAvailability, error) {
	if !actor.ManagesDoctor(doctorID) {
		return nil, identity.ErrUnauthorized
	}

	if len(days) == 0 {
		return nil, fmt.Errorf("%w: at least one working day required", ErrInvalidWeekday)
	}
	seen := make(map[Weekday]bool, len(days))
	for _, d := range days {
		if _, err := ParseWeekday(string(d)); err != nil {
			return nil, err
		}
		if seen[d] {
			return nil, fmt.Errorf("%w: duplicate %q", ErrInvalidWeekday, d)
		}
		seen[d] = true
	}
	if err := ValidateWindows(windows); err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceSchedule(ctx, doctorID, days, windows); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("replace schedule: %w", err)
	}

	return s.Get(ctx, doctorID)
}

// SetOpen flips the coarse on/off switch that suspends booking regardless
// of the weekly schedule.
func (s *Service) SetOpen(ctx context.Context, actor identity.Actor, doctorID uuid.UUID, open bool) error {
	if !actor.ManagesDoctor(doctorID) {
		return identity.ErrUnauthorized
	}
	if err := s.repo.SetOpen(ctx, doctorID, open); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return err
		}
		return fmt.Errorf("set open: %w", err)
	}
	return nil
}

// AddLeave records a leave date. Appointments already booked on that date
// are left untouched; the returned count tells the caller how many now sit
// on a leave day so the clinic can follow up manually.
func (s *Service) AddLeave(ctx context.Context, actor identity.Actor, doctorID uuid.UUID, date string) (affected int, err error) {
	if !actor.ManagesDoctor(doctorID) {
		return 0, identity.ErrUnauthorized
	}
	if err := ValidateDate(date); err != nil {
		return 0, err
	}

	if err := s.repo.AddLeave(ctx, doctorID, date); err != nil {
		if errors.Is(err, ErrDuplicateLeave) || errors.Is(err, ErrDoctorNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("add leave: %w", err)
	}

	affected, err = s.repo.CountActiveOnDate(ctx, doctorID, date)
	if err != nil {
		// The leave itself is committed; the warning count is best effort.
		log.Printf("count active appointments on leave date %s for doctor %s: %v", date, doctorID, err)
		return 0, nil
	}
	return affected, nil
}

// RemoveLeave deletes a leave date. Removing an absent date is not an error.
func (s *Service) RemoveLeave(ctx context.Context, actor identity.Actor, doctorID uuid.UUID, date string) error {
	if !actor.ManagesDoctor(doctorID) {
		return identity.ErrUnauthorized
	}
	if err := ValidateDate(date); err != nil {
		return err
	}
	if err := s.repo.RemoveLeave(ctx, doctorID, date); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return err
		}
		return fmt.Errorf("remove leave: %w", err)
	}
	return nil
}

// BookableDates lists the doctor's bookable dates starting at from.
func (s *Service) BookableDates(ctx context.Context, doctorID uuid.UUID, from string, days int) ([]string, error) {
	if days <= 0 {
		days = 14
	}
	if days > 90 {
		days = 90
	}

	av, err := s.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return av.BookableDates(from, days)
}
