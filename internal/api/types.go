package api

import (
	"time"

	"github.com/caresched/appointment-engine/internal/scheduling"
)

type BookAppointmentRequest struct {
	DoctorID          int64   `json:"doctor_id"`
	PatientID         int64   `json:"patient_id"`
	ResourceIDs       []int64 `json:"resource_ids,omitempty"`
	Start             string  `json:"start"` // RFC 3339
	DurationMinutes   int     `json:"duration_minutes"`
	NoShowProbability float64 `json:"no_show_probability,omitempty"`
	Reason            *string `json:"reason,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID                int64     `json:"id"`
	DoctorID          int64     `json:"doctor_id"`
	PatientID         int64     `json:"patient_id"`
	HospitalID        int64     `json:"hospital_id"`
	ResourceIDs       []int64   `json:"resource_ids,omitempty"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	DurationMinutes   int       `json:"duration_minutes"`
	Status            string    `json:"status"`
	NoShowProbability float64   `json:"no_show_probability"`
	Reason            *string   `json:"reason,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		DoctorID:          a.DoctorID,
		PatientID:         a.PatientID,
		HospitalID:        a.HospitalID,
		ResourceIDs:       a.ResourceIDs,
		Start:             a.StartTime,
		End:               a.EndTime(),
		DurationMinutes:   a.DurationMinutes,
		Status:            string(a.Status),
		NoShowProbability: a.NoShowProbability,
		Reason:            a.Reason,
	}
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Free  bool      `json:"free"`
}

type SlotsResponse struct {
	DoctorID int64          `json:"doctor_id"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Slots    []SlotResponse `json:"slots"`
}

type LogEntryResponse struct {
	ID        int64     `json:"id"`
	OldStatus string    `json:"old_status,omitempty"`
	NewStatus string    `json:"new_status"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

func toLogEntryResponse(e *scheduling.MutationLogEntry) LogEntryResponse {
	return LogEntryResponse{
		ID:        e.ID,
		OldStatus: string(e.OldStatus),
		NewStatus: string(e.NewStatus),
		Actor:     e.Actor,
		CreatedAt: e.CreatedAt,
	}
}

type AvailabilityRequest struct {
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"` // HH:MM
	EndTime     string `json:"end_time"`   // HH:MM
	IsAvailable *bool  `json:"is_available,omitempty"`
}

type AvailabilityResponse struct {
	ID          int64  `json:"id"`
	DoctorID    int64  `json:"doctor_id"`
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable bool   `json:"is_available"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
