package appointment

import (
	"errors"

	"github.com/medibook/clinic-scheduling/internal/identity"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// roleTransitions is the role x current-state transition table. Anything
// not listed is illegal. completed and cancelled are terminal for everyone.
var roleTransitions = map[identity.Role]map[Status][]Status{
	identity.RolePatient: {
		StatusPending:   {StatusCancelled},
		StatusConfirmed: {StatusCancelled},
	},
	identity.RoleDoctor: {
		StatusPending:   {StatusConfirmed},
		StatusConfirmed: {StatusCompleted},
	},
	identity.RoleReceptionist: {
		StatusPending:   {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusCompleted, StatusCancelled},
	},
	identity.RoleSuperAdmin: {
		StatusPending:   {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusCompleted, StatusCancelled},
	},
}

// transitionAllowed consults the table only; ownership is checked separately.
func transitionAllowed(role identity.Role, from, to Status) bool {
	for _, next := range roleTransitions[role][from] {
		if next == to {
			return true
		}
	}
	return false
}

// authorizeTransition combines the table with the ownership rules: a patient
// may only act on their own appointment, a doctor only on one assigned to
// them. The table verdict comes first so an illegal move reads as illegal
// even for staff; ownership failures surface as unauthorized.
func authorizeTransition(actor identity.Actor, appt *Appointment, to Status) error {
	if !transitionAllowed(actor.Role, appt.Status, to) {
		return ErrIllegalTransition
	}

	switch actor.Role {
	case identity.RolePatient:
		pid, err := actor.PatientProfile()
		if err != nil {
			return err
		}
		if pid != appt.PatientID {
			return identity.ErrUnauthorized
		}
	case identity.RoleDoctor:
		did, err := actor.DoctorProfile()
		if err != nil {
			return err
		}
		if did != appt.DoctorID {
			return identity.ErrUnauthorized
		}
	}

	return nil
}
