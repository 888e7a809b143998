package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caresched/appointment-engine/internal/config"
)

// NoShowActor is recorded in the mutation log for sweeps performed by
// the background worker.
const NoShowActor = "noshow-worker"

type Service struct {
	repo   Repository
	locker Locker
	cfg    config.Config
	now    func() time.Time
}

func NewService(repo Repository, locker Locker, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithClock overrides the service's clock source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ResolveAvailability returns a lazy iterator over the doctor's
// candidate slots for the date range. The range is inclusive of both
// days; from after to fails with ErrInvalidRange.
func (s *Service) ResolveAvailability(ctx context.Context, doctorID int64, from, to time.Time) (*SlotIterator, error) {
	if from.After(to) {
		return nil, ErrInvalidRange
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	return newSlotIterator(s.repo, doctor, from, to), nil
}

// BookingRequest is one attempt to claim a slot.
type BookingRequest struct {
	DoctorID          int64
	PatientID         int64
	ResourceIDs       []int64
	Start             time.Time
	DurationMinutes   int
	NoShowProbability float64 // supplied by the caller, stored opaquely
	Reason            *string
	Actor             string
}

// AttemptBook tries to claim [start, start+duration) for the doctor
// and resources. At most one of any set of concurrent attempts on
// overlapping intervals succeeds: the conflict check runs inside the
// per-doctor (and per-resource) lock, and only the winner inserts.
func (s *Service) AttemptBook(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.DurationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}

	now := s.now()
	if !req.Start.After(now) || req.Start.After(now.Add(s.cfg.BookingHorizon)) {
		return nil, ErrOutsideBookingWindow
	}

	// A repeated resource ID would otherwise collide with its own lock
	// key below and fail the booking against itself.
	req.ResourceIDs = dedupeIDs(req.ResourceIDs)

	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	for _, resourceID := range req.ResourceIDs {
		res, err := s.repo.GetResourceByID(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		if !res.IsAvailable {
			return nil, fmt.Errorf("resource %d: %w", resourceID, ErrResourceNotFound)
		}
	}

	duration := time.Duration(req.DurationMinutes) * time.Minute

	windows, err := s.repo.ListWindowsForDay(ctx, req.DoctorID, Weekday(req.Start))
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if !fitsAvailability(windows, req.Start, duration) {
		return nil, ErrOutsideAvailability
	}

	keys := make([]string, 0, 1+len(req.ResourceIDs))
	keys = append(keys, fmt.Sprintf("doctor:%d", req.DoctorID))
	for _, resourceID := range req.ResourceIDs {
		keys = append(keys, fmt.Sprintf("resource:%d", resourceID))
	}

	actor := req.Actor
	if actor == "" {
		actor = fmt.Sprintf("patient:%d", req.PatientID)
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, keys, func(lockCtx context.Context) error {
		// Re-check against latest committed state inside the critical
		// section. Checking before locking would race.
		check, err := s.CheckConflict(lockCtx, req.DoctorID, req.ResourceIDs, req.Start, duration)
		if err != nil {
			return fmt.Errorf("conflict check: %w", err)
		}
		if check.Conflict {
			return &ConflictError{AppointmentIDs: check.AppointmentIDs}
		}

		appt, err := s.repo.CreateAppointment(lockCtx, NewAppointment{
			PatientID:         req.PatientID,
			DoctorID:          req.DoctorID,
			HospitalID:        doctor.HospitalID,
			StartTime:         req.Start,
			DurationMinutes:   req.DurationMinutes,
			NoShowProbability: req.NoShowProbability,
			Reason:            req.Reason,
			ResourceIDs:       req.ResourceIDs,
			Actor:             actor,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			// Another attempt holds the serialization point; report
			// it as the race loss it is.
			return nil, fmt.Errorf("%w: %v", ErrSlotConflict, err)
		}
		return nil, err
	}

	return created, nil
}

// Transition moves an appointment along the state machine and appends
// the mutation log entry. The appointment row is untouched when the
// transition is rejected.
func (s *Service) Transition(ctx context.Context, appointmentID int64, to AppointmentStatus, actor string) (*MutationLogEntry, error) {
	// A CAS miss means a concurrent transition moved the row first.
	// The requested move may still be legal from the new status
	// (scheduled and confirmed both allow cancelled, for instance), so
	// re-validate against the fresh read and try again before failing.
	const casAttempts = 3

	for attempt := 0; attempt < casAttempts; attempt++ {
		appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return nil, err
		}

		if err := ValidateTransition(appt, to, s.now()); err != nil {
			return nil, err
		}

		_, entry, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, appt.Status, to, actor)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue
			}
			return nil, fmt.Errorf("transition appointment: %w", err)
		}
		return entry, nil
	}

	current, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return nil, &TransitionError{From: current.Status, To: to}
}

// SweepNoShows marks blocking appointments whose end passed more than
// the configured grace period ago as no_show. Intended to be called
// periodically by the worker; returns how many rows it transitioned.
func (s *Service) SweepNoShows(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.NoShowGrace)

	overdue, err := s.repo.FindOverdue(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	swept := 0
	for _, appt := range overdue {
		if err := ValidateTransition(&appt, StatusNoShow, s.now()); err != nil {
			continue
		}
		_, _, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusNoShow, NoShowActor)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue // lost a race with a manual transition
			}
			log.Printf("failed to mark appointment %d as no_show: %v", appt.ID, err)
			continue
		}
		swept++
	}

	return swept, nil
}

// GetAppointment retrieves a fully hydrated appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id int64) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// MutationLog returns the append-only transition history for an
// appointment, oldest first.
func (s *Service) MutationLog(ctx context.Context, appointmentID int64) ([]MutationLogEntry, error) {
	if _, err := s.repo.GetAppointmentByID(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.repo.ListMutationLog(ctx, appointmentID)
}

// DoctorSchedule lists a doctor's appointments with starts inside the
// inclusive date range.
func (s *Service) DoctorSchedule(ctx context.Context, doctorID int64, from, to time.Time) ([]Appointment, error) {
	if from.After(to) {
		return nil, ErrInvalidRange
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListAppointmentsByDoctor(ctx, doctorID, startOfDay(from), startOfDay(to).AddDate(0, 0, 1))
}

// ListAppointmentsByPatient retrieves appointments for a patient.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}

	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// ListAvailability returns all of a doctor's recurring windows.
func (s *Service) ListAvailability(ctx context.Context, doctorID int64) ([]AvailabilityWindow, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListWindows(ctx, doctorID)
}

// AddAvailability creates a recurring window after validating it and
// checking it does not overlap an existing window for that day.
func (s *Service) AddAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	if err := validateWindow(w); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDoctorByID(ctx, w.DoctorID); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListWindowsForDay(ctx, w.DoctorID, w.DayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if windowOverlaps(w, existing, 0) {
		return nil, ErrWindowOverlap
	}

	return s.repo.CreateWindow(ctx, w)
}

// UpdateAvailability modifies an existing window under the same
// validation as AddAvailability.
func (s *Service) UpdateAvailability(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	if err := validateWindow(w); err != nil {
		return nil, err
	}

	existing, err := s.repo.ListWindowsForDay(ctx, w.DoctorID, w.DayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	if windowOverlaps(w, existing, w.ID) {
		return nil, ErrWindowOverlap
	}

	return s.repo.UpdateWindow(ctx, w)
}

func dedupeIDs(ids []int64) []int64 {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

const minutesPerDay = 24 * 60

func validateWindow(w AvailabilityWindow) error {
	if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week %d", ErrInvalidWindow, w.DayOfWeek)
	}
	if w.StartMinute < 0 || w.EndMinute > minutesPerDay || w.StartMinute >= w.EndMinute {
		return fmt.Errorf("%w: start %d end %d", ErrInvalidWindow, w.StartMinute, w.EndMinute)
	}
	return nil
}

func windowOverlaps(w AvailabilityWindow, existing []AvailabilityWindow, excludeID int64) bool {
	for _, other := range existing {
		if other.ID == excludeID {
			continue
		}
		if w.StartMinute < other.EndMinute && other.StartMinute < w.EndMinute {
			return true
		}
	}
	return false
}
