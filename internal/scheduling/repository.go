package scheduling

import (
	"context"
	"time"
)

// NewAppointment is the row the booking path inserts once the critical
// section has cleared the slot.
type NewAppointment struct {
	PatientID         int64
	DoctorID          int64
	HospitalID        int64
	StartTime         time.Time
	DurationMinutes   int
	NoShowProbability float64
	Reason            *string
	ResourceIDs       []int64
	Actor             string
}

// Repository contains all store interactions needed by the service.
// Implementations must give each call a consistent snapshot of the
// appointment set; the service only mutates it inside the per-doctor
// serialization point.
type Repository interface {
	GetHospitalByID(ctx context.Context, id int64) (*Hospital, error)
	GetDoctorByID(ctx context.Context, id int64) (*Doctor, error)
	GetPatientByID(ctx context.Context, id int64) (*Patient, error)
	GetResourceByID(ctx context.Context, id int64) (*Resource, error)

	// Availability windows
	ListWindows(ctx context.Context, doctorID int64) ([]AvailabilityWindow, error)
	ListWindowsForDay(ctx context.Context, doctorID int64, dayOfWeek int) ([]AvailabilityWindow, error)
	CreateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)
	UpdateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error)

	// Conflict checks: blocking appointments overlapping [start, end)
	// for the doctor, or holding any of the resources.
	ListBlockingByDoctor(ctx context.Context, doctorID int64, start, end time.Time) ([]Appointment, error)
	ListBlockingByResources(ctx context.Context, resourceIDs []int64, start, end time.Time) ([]Appointment, error)

	GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id int64) (*AppointmentDetail, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID int64, start, end time.Time) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error)

	// CreateAppointment inserts the appointment, its resource links and
	// the creation log entry in one transaction.
	CreateAppointment(ctx context.Context, n NewAppointment) (*Appointment, error)

	// UpdateAppointmentStatus compare-and-swaps the status and appends
	// the mutation log entry atomically. It returns
	// ErrAppointmentNotFound when the row is no longer in `from`.
	UpdateAppointmentStatus(ctx context.Context, id int64, from, to AppointmentStatus, actor string) (*Appointment, *MutationLogEntry, error)

	ListMutationLog(ctx context.Context, appointmentID int64) ([]MutationLogEntry, error)

	// No-show sweep: blocking scheduled/confirmed appointments whose
	// end is before the cutoff.
	FindOverdue(ctx context.Context, cutoff time.Time) ([]Appointment, error)
}

// Locker guards the critical section for a set of serialization keys,
// typically one doctor key plus zero or more resource keys.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}
