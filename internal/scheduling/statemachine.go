package scheduling

import "time"

var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusNoShow:    {},
}

// IsTerminal reports whether no further transition is allowed from s.
func IsTerminal(s AppointmentStatus) bool {
	return len(allowedTransitions[s]) == 0
}

func ValidStatus(s AppointmentStatus) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// ValidateTransition checks the state machine for moving appt from its
// current status to `to` at time `now`. The no_show transition is
// additionally gated on the appointment's start time having passed.
func ValidateTransition(appt *Appointment, to AppointmentStatus, now time.Time) error {
	if !ValidStatus(to) {
		return &TransitionError{From: appt.Status, To: to}
	}

	allowed := false
	for _, next := range allowedTransitions[appt.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return &TransitionError{From: appt.Status, To: to}
	}

	if to == StatusNoShow && !now.After(appt.StartTime) {
		return &TransitionError{From: appt.Status, To: to}
	}

	return nil
}
