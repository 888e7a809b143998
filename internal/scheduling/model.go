package scheduling

import (
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

type ResourceType string

const (
	ResourceRoom      ResourceType = "room"
	ResourceEquipment ResourceType = "equipment"
	ResourceStaff     ResourceType = "staff"
)

type Hospital struct {
	ID      int64
	Name    string
	Address string
	City    string
	State   string
	ZipCode string
	Phone   string
	Email   string
}

type Doctor struct {
	ID                   int64
	HospitalID           int64
	FirstName            string
	LastName             string
	Specialization       string
	Phone                string
	Email                string
	ConsultationDuration int // minutes
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Patient struct {
	ID             int64
	FirstName      string
	LastName       string
	DateOfBirth    *time.Time
	Gender         string
	Phone          string
	Email          string
	MedicalHistory *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AvailabilityWindow is a recurring weekly block during which a doctor
// accepts appointments. StartMinute and EndMinute are minutes since
// midnight, half-open: [StartMinute, EndMinute).
type AvailabilityWindow struct {
	ID          int64
	DoctorID    int64
	DayOfWeek   int // 0 = Monday .. 6 = Sunday
	StartMinute int
	EndMinute   int
	IsAvailable bool
}

type Appointment struct {
	ID                int64
	PatientID         int64
	DoctorID          int64
	HospitalID        int64
	StartTime         time.Time
	DurationMinutes   int
	Status            AppointmentStatus
	NoShowProbability float64
	Reason            *string
	ResourceIDs       []int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EndTime is the exclusive end of the appointment's interval.
func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Blocks reports whether the appointment occupies its interval for
// conflict and availability purposes. Cancelled and no-show
// appointments free their slot.
func (a *Appointment) Blocks() bool {
	switch a.Status {
	case StatusScheduled, StatusConfirmed, StatusCompleted:
		return true
	default:
		return false
	}
}

type Resource struct {
	ID          int64
	HospitalID  int64
	Name        string
	Type        ResourceType
	IsAvailable bool
}

type Admin struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// MutationLogEntry is one immutable row in the schedule mutation log.
// OldStatus is empty for the entry recording appointment creation.
type MutationLogEntry struct {
	ID            int64
	AppointmentID int64
	OldStatus     AppointmentStatus
	NewStatus     AppointmentStatus
	Actor         string
	CreatedAt     time.Time
}

// Slot is one candidate interval of a doctor's consultation length.
// Free is false when the slot overlaps a blocking appointment.
type Slot struct {
	DoctorID int64
	Start    time.Time
	End      time.Time
	Free     bool
}

// AppointmentDetail is an appointment hydrated with its related rows.
type AppointmentDetail struct {
	Appointment
	Doctor   *Doctor
	Patient  *Patient
	Hospital *Hospital
}
