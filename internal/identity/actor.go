package identity

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RoleSuperAdmin   Role = "superadmin"
)

var (
	ErrProfileNotFound = errors.New("actor has no linked profile")
	ErrUnauthorized    = errors.New("actor is not allowed to perform this action")
)

// Actor is the authenticated identity attached to every request. Upstream
// auth has already verified it; this core only reads it.
type Actor struct {
	ID               uuid.UUID
	Role             Role
	PatientProfileID *uuid.UUID
	DoctorProfileID  *uuid.UUID
}

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor, RoleReceptionist, RoleSuperAdmin:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// PatientProfile returns the linked patient profile id.
func (a Actor) PatientProfile() (uuid.UUID, error) {
	if a.PatientProfileID == nil {
		return uuid.Nil, ErrProfileNotFound
	}
	return *a.PatientProfileID, nil
}

// DoctorProfile returns the linked doctor profile id.
func (a Actor) DoctorProfile() (uuid.UUID, error) {
	if a.DoctorProfileID == nil {
		return uuid.Nil, ErrProfileNotFound
	}
	return *a.DoctorProfileID, nil
}

// IsStaff reports whether the actor can act on records they do not own.
func (a Actor) IsStaff() bool {
	return a.Role == RoleReceptionist || a.Role == RoleSuperAdmin
}

// ManagesDoctor reports whether the actor may edit the given doctor's
// schedule: the doctor themself, or clinic staff.
func (a Actor) ManagesDoctor(doctorID uuid.UUID) bool {
	if a.IsStaff() {
		return true
	}
	return a.Role == RoleDoctor && a.DoctorProfileID != nil && *a.DoctorProfileID == doctorID
}
