package scheduling

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPendingConfirmation Status = "pending_confirmation"
	StatusConfirmed           Status = "confirmed"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleManager = "manager"
)

var transitions = map[Status][]Status{
	StatusPendingConfirmation: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:           {StatusCompleted, StatusCancelled},
}

var transitionRoles = map[Status][]string{
	StatusConfirmed: {RolePatient, RoleDoctor, RoleManager},
	StatusCancelled: {RolePatient, RoleDoctor, RoleManager},
	StatusCompleted: {RoleDoctor, RoleManager},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPendingConfirmation, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", invalid("unknown appointment status %q", s)
}

// IsLive reports whether an appointment in this status still holds its slot
// against schedule regeneration.
func (s Status) IsLive() bool {
	return s == StatusPendingConfirmation || s == StatusConfirmed
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return newError(ErrInvalidTransition, "cannot change appointment status from %s to %s", from, to)
	}
	return nil
}

// RolesAllowedFor returns the roles that may move an appointment into target.
func RolesAllowedFor(target Status) []string {
	return transitionRoles[target]
}

// BookingRoles may create appointments.
var BookingRoles = []string{RolePatient, RoleManager}
