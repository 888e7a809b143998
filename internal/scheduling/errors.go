package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange         = errors.New("start of range is after its end")
	ErrOutsideAvailability  = errors.New("requested interval is outside the doctor's availability")
	ErrSlotConflict         = errors.New("slot conflicts with an existing appointment")
	ErrOutsideBookingWindow = errors.New("requested start is outside the permitted booking window")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrWindowOverlap        = errors.New("availability window overlaps an existing window")
	ErrInvalidWindow        = errors.New("invalid availability window")
	ErrInvalidDuration      = errors.New("duration must be positive")
	ErrHospitalNotFound     = errors.New("hospital not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrAvailabilityNotFound = errors.New("availability window not found")

	// ErrLockNotAcquired is returned by Locker implementations when a
	// serialization key is already held.
	ErrLockNotAcquired = errors.New("serialization lock not acquired")
)

// ConflictError reports which committed appointments block a proposed
// interval. It matches ErrSlotConflict under errors.Is.
type ConflictError struct {
	AppointmentIDs []int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot conflicts with appointments %v", e.AppointmentIDs)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

// TransitionError carries the rejected transition. It matches
// ErrInvalidTransition under errors.Is.
type TransitionError struct {
	From AppointmentStatus
	To   AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
