package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/caresched/appointment-engine/internal/config"
)

func (f *fixture) book(ctx context.Context, start time.Time, patientID int64, resourceIDs ...int64) (*Appointment, error) {
	return f.svc.AttemptBook(ctx, BookingRequest{
		DoctorID:        f.doctor.ID,
		PatientID:       patientID,
		ResourceIDs:     resourceIDs,
		Start:           start,
		DurationMinutes: 30,
	})
}

func TestBookingScenario(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60) // Mon 09:00-12:00
	p2 := f.repo.AddPatient(Patient{FirstName: "Ben", LastName: "Silva", Email: "ben.silva@example.org"})
	p3 := f.repo.AddPatient(Patient{FirstName: "Mia", LastName: "Chen", Email: "mia.chen@example.org"})

	ctx := context.Background()

	appt, err := f.book(ctx, at(monday, 9, 0), f.patient.ID)
	if err != nil {
		t.Fatalf("first booking failed: %v", err)
	}
	if appt.Status != StatusScheduled {
		t.Errorf("new appointment status = %s, want scheduled", appt.Status)
	}

	_, err = f.book(ctx, at(monday, 9, 0), p2.ID)
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("second booking: expected ErrSlotConflict, got %v", err)
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		if len(conflict.AppointmentIDs) != 1 || conflict.AppointmentIDs[0] != appt.ID {
			t.Errorf("conflict ids = %v, want [%d]", conflict.AppointmentIDs, appt.ID)
		}
	}

	// 12:00 is the exclusive end of the window.
	_, err = f.book(ctx, at(monday, 12, 0), p3.ID)
	if !errors.Is(err, ErrOutsideAvailability) {
		t.Fatalf("expected ErrOutsideAvailability, got %v", err)
	}
}

func TestBookingHalfOpenBoundary(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 10*60, 11*60)
	p2 := f.repo.AddPatient(Patient{FirstName: "Ben", LastName: "Silva", Email: "ben.silva@example.org"})

	ctx := context.Background()

	if _, err := f.book(ctx, at(monday, 10, 0), f.patient.ID); err != nil {
		t.Fatalf("booking [10:00,10:30): %v", err)
	}
	if _, err := f.book(ctx, at(monday, 10, 30), p2.ID); err != nil {
		t.Fatalf("back-to-back booking [10:30,11:00) must not conflict: %v", err)
	}
}

func TestConcurrentBookingExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)

	const attempts = 24
	patients := make([]Patient, attempts)
	for i := range patients {
		patients[i] = f.repo.AddPatient(Patient{
			FirstName: "P",
			LastName:  "Concurrent",
			Email:     fmt.Sprintf("p%d@example.org", i),
		})
	}

	var (
		wg        sync.WaitGroup
		successes int64
		mu        sync.Mutex
	)
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(patientID int64) {
			defer wg.Done()
			<-start
			_, err := f.book(context.Background(), at(monday, 9, 30), patientID)
			switch {
			case err == nil:
				mu.Lock()
				successes++
				mu.Unlock()
			case errors.Is(err, ErrSlotConflict):
				// expected race loss
			default:
				t.Errorf("unexpected booking error: %v", err)
			}
		}(patients[i].ID)
	}

	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", successes)
	}

	booked, err := f.repo.ListBlockingByDoctor(context.Background(), f.doctor.ID, at(monday, 9, 30), at(monday, 10, 0))
	if err != nil {
		t.Fatalf("list blocking: %v", err)
	}
	if len(booked) != 1 {
		t.Fatalf("store holds %d appointments for the slot, want 1", len(booked))
	}
}

func TestBookingSharedResourceConflict(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)

	room := f.repo.AddResource(Resource{HospitalID: f.doctor.HospitalID, Name: "A-101", Type: ResourceRoom, IsAvailable: true})
	doctor2 := f.repo.AddDoctor(Doctor{
		HospitalID:           f.doctor.HospitalID,
		FirstName:            "Igor",
		LastName:             "Petrov",
		Email:                "igor.petrov@example.org",
		ConsultationDuration: 30,
	})
	if _, err := f.repo.CreateWindow(context.Background(), AvailabilityWindow{
		DoctorID: doctor2.ID, DayOfWeek: 0, StartMinute: 9 * 60, EndMinute: 12 * 60, IsAvailable: true,
	}); err != nil {
		t.Fatalf("window for second doctor: %v", err)
	}

	ctx := context.Background()

	if _, err := f.book(ctx, at(monday, 10, 0), f.patient.ID, room.ID); err != nil {
		t.Fatalf("first booking with room: %v", err)
	}

	// Different doctor, same room, overlapping interval.
	_, err := f.svc.AttemptBook(ctx, BookingRequest{
		DoctorID:        doctor2.ID,
		PatientID:       f.patient.ID,
		ResourceIDs:     []int64{room.ID},
		Start:           at(monday, 10, 0),
		DurationMinutes: 30,
	})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected resource conflict, got %v", err)
	}

	// Same doctor pair without the room is independent.
	if _, err := f.svc.AttemptBook(ctx, BookingRequest{
		DoctorID:        doctor2.ID,
		PatientID:       f.patient.ID,
		Start:           at(monday, 10, 0),
		DurationMinutes: 30,
	}); err != nil {
		t.Fatalf("room-free booking for other doctor: %v", err)
	}
}

func TestBookingRepeatedResourceID(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)
	room := f.repo.AddResource(Resource{HospitalID: f.doctor.HospitalID, Name: "C-301", Type: ResourceRoom, IsAvailable: true})
	ctx := context.Background()

	// The same resource listed twice must not contend with itself.
	appt, err := f.book(ctx, at(monday, 9, 0), f.patient.ID, room.ID, room.ID)
	if err != nil {
		t.Fatalf("booking with repeated resource id: %v", err)
	}
	if len(appt.ResourceIDs) != 1 || appt.ResourceIDs[0] != room.ID {
		t.Errorf("resource ids = %v, want [%d]", appt.ResourceIDs, room.ID)
	}

	// The room is genuinely held for the interval afterwards.
	check, err := f.svc.CheckConflict(ctx, 0, []int64{room.ID}, at(monday, 9, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("check conflict: %v", err)
	}
	if !check.Conflict {
		t.Error("room should block its interval after booking")
	}
}

func TestBookingWindowLimits(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)

	ctx := context.Background()

	// The clock sits at Monday 08:00; the previous Monday is the past.
	_, err := f.book(ctx, at(monday.AddDate(0, 0, -7), 9, 0), f.patient.ID)
	if !errors.Is(err, ErrOutsideBookingWindow) {
		t.Fatalf("past booking: expected ErrOutsideBookingWindow, got %v", err)
	}

	_, err = f.book(ctx, at(monday.AddDate(0, 0, 98), 9, 0), f.patient.ID)
	if !errors.Is(err, ErrOutsideBookingWindow) {
		t.Fatalf("far-future booking: expected ErrOutsideBookingWindow, got %v", err)
	}
}

func TestBookingValidation(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)
	ctx := context.Background()

	_, err := f.svc.AttemptBook(ctx, BookingRequest{
		DoctorID:        f.doctor.ID,
		PatientID:       f.patient.ID,
		Start:           at(monday, 9, 0),
		DurationMinutes: 0,
	})
	if !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("zero duration: expected ErrInvalidDuration, got %v", err)
	}

	_, err = f.svc.AttemptBook(ctx, BookingRequest{
		DoctorID:        f.doctor.ID,
		PatientID:       4242,
		Start:           at(monday, 9, 0),
		DurationMinutes: 30,
	})
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("unknown patient: expected ErrPatientNotFound, got %v", err)
	}

	_, err = f.book(ctx, at(monday, 9, 0), f.patient.ID, 777)
	if !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("unknown resource: expected ErrResourceNotFound, got %v", err)
	}
}

func TestBookingAbandonedLeavesNoGhostHold(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // abandoned before the claim commits

	_, err := f.book(ctx, at(monday, 9, 0), f.patient.ID)
	if err == nil {
		t.Fatal("expected cancelled booking to fail")
	}

	booked, err := f.repo.ListBlockingByDoctor(context.Background(), f.doctor.ID, at(monday, 0, 0), at(monday, 23, 59))
	if err != nil {
		t.Fatalf("list blocking: %v", err)
	}
	if len(booked) != 0 {
		t.Fatalf("abandoned booking left %d reservations", len(booked))
	}

	// The slot remains claimable.
	if _, err := f.book(context.Background(), at(monday, 9, 0), f.patient.ID); err != nil {
		t.Fatalf("rebooking after abandonment: %v", err)
	}
}

func TestBookingStoresNoShowProbabilityOpaquely(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)

	appt, err := f.svc.AttemptBook(context.Background(), BookingRequest{
		DoctorID:          f.doctor.ID,
		PatientID:         f.patient.ID,
		Start:             at(monday, 9, 0),
		DurationMinutes:   30,
		NoShowProbability: 0.37,
	})
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	if appt.NoShowProbability != 0.37 {
		t.Errorf("no_show_probability = %v, want 0.37", appt.NoShowProbability)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)
	ctx := context.Background()

	appt, err := f.book(ctx, at(monday, 9, 0), f.patient.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	entry, err := f.svc.Transition(ctx, appt.ID, StatusConfirmed, "reception")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if entry.OldStatus != StatusScheduled || entry.NewStatus != StatusConfirmed || entry.Actor != "reception" {
		t.Errorf("unexpected log entry: %+v", entry)
	}

	if _, err := f.svc.Transition(ctx, appt.ID, StatusCompleted, "reception"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Terminal state rejects everything, and the row is untouched.
	_, err = f.svc.Transition(ctx, appt.ID, StatusScheduled, "reception")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> scheduled: expected ErrInvalidTransition, got %v", err)
	}
	current, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if current.Status != StatusCompleted {
		t.Errorf("status changed by rejected transition: %s", current.Status)
	}

	entries, err := f.svc.MutationLog(ctx, appt.ID)
	if err != nil {
		t.Fatalf("mutation log: %v", err)
	}
	if len(entries) != 3 { // creation, confirm, complete
		t.Fatalf("expected 3 log entries, got %d", len(entries))
	}
	if entries[0].OldStatus != "" || entries[0].NewStatus != StatusScheduled {
		t.Errorf("creation entry = %+v", entries[0])
	}
}

func TestTransitionNoShowTimeGate(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)
	ctx := context.Background()

	appt, err := f.book(ctx, at(monday, 9, 0), f.patient.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	// Before the start time no_show is rejected.
	_, err = f.svc.Transition(ctx, appt.ID, StatusNoShow, "reception")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("premature no_show: expected ErrInvalidTransition, got %v", err)
	}

	f.now = at(monday, 9, 45)
	if _, err := f.svc.Transition(ctx, appt.ID, StatusNoShow, "reception"); err != nil {
		t.Fatalf("no_show after start: %v", err)
	}
}

// racingRepo runs a rival mutation right before the first status CAS,
// so the service's optimistic update loses the race once.
type racingRepo struct {
	*MemoryRepository
	once  sync.Once
	rival func()
}

func (r *racingRepo) UpdateAppointmentStatus(ctx context.Context, id int64, from, to AppointmentStatus, actor string) (*Appointment, *MutationLogEntry, error) {
	r.once.Do(r.rival)
	return r.MemoryRepository.UpdateAppointmentStatus(ctx, id, from, to, actor)
}

func TestTransitionRetriesAfterConcurrentMove(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)
	ctx := context.Background()

	appt, err := f.book(ctx, at(monday, 9, 0), f.patient.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	// Reception confirms between our read and our CAS. Cancelling is
	// legal from confirmed too, so the cancel must still land.
	rr := &racingRepo{MemoryRepository: f.repo}
	rr.rival = func() {
		if _, _, err := f.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusScheduled, StatusConfirmed, "reception"); err != nil {
			t.Errorf("rival transition: %v", err)
		}
	}
	svc := NewService(rr, NewMutexLocker(), config.Defaults()).
		WithClock(func() time.Time { return f.now })

	entry, err := svc.Transition(ctx, appt.ID, StatusCancelled, "patient")
	if err != nil {
		t.Fatalf("cancel after lost race: %v", err)
	}
	if entry.OldStatus != StatusConfirmed || entry.NewStatus != StatusCancelled {
		t.Errorf("entry = %+v, want confirmed -> cancelled", entry)
	}

	current, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if current.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", current.Status)
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)

	appt, err := f.book(context.Background(), at(monday, 9, 0), f.patient.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	_, err = f.svc.Transition(context.Background(), appt.ID, AppointmentStatus("archived"), "reception")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown status, got %v", err)
	}
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)
	ctx := context.Background()

	early, err := f.book(ctx, at(monday, 9, 0), f.patient.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	late, err := f.book(ctx, at(monday, 11, 0), f.patient.ID)
	if err != nil {
		t.Fatalf("booking: %v", err)
	}

	// 10:15: the 09:00-09:30 appointment ended 45 minutes ago, past
	// the 30-minute grace; the 11:00 one has not even started.
	f.now = at(monday, 10, 15)

	swept, err := f.svc.SweepNoShows(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept %d appointments, want 1", swept)
	}

	a, _ := f.repo.GetAppointmentByID(ctx, early.ID)
	if a.Status != StatusNoShow {
		t.Errorf("early appointment status = %s, want no_show", a.Status)
	}
	b, _ := f.repo.GetAppointmentByID(ctx, late.ID)
	if b.Status != StatusScheduled {
		t.Errorf("late appointment status = %s, want scheduled", b.Status)
	}

	entries, err := f.svc.MutationLog(ctx, early.ID)
	if err != nil {
		t.Fatalf("mutation log: %v", err)
	}
	lastEntry := entries[len(entries)-1]
	if lastEntry.Actor != NoShowActor || lastEntry.NewStatus != StatusNoShow {
		t.Errorf("sweep log entry = %+v", lastEntry)
	}
}

func TestAvailabilityManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.AddAvailability(ctx, AvailabilityWindow{
		DoctorID: f.doctor.ID, DayOfWeek: 0, StartMinute: 9 * 60, EndMinute: 12 * 60, IsAvailable: true,
	})
	if err != nil {
		t.Fatalf("add availability: %v", err)
	}

	_, err = f.svc.AddAvailability(ctx, AvailabilityWindow{
		DoctorID: f.doctor.ID, DayOfWeek: 0, StartMinute: 11 * 60, EndMinute: 13 * 60, IsAvailable: true,
	})
	if !errors.Is(err, ErrWindowOverlap) {
		t.Fatalf("overlapping window: expected ErrWindowOverlap, got %v", err)
	}

	// Adjacent window is fine (half-open).
	if _, err := f.svc.AddAvailability(ctx, AvailabilityWindow{
		DoctorID: f.doctor.ID, DayOfWeek: 0, StartMinute: 12 * 60, EndMinute: 14 * 60, IsAvailable: true,
	}); err != nil {
		t.Fatalf("adjacent window: %v", err)
	}

	// A window running to midnight is legal.
	if _, err := f.svc.AddAvailability(ctx, AvailabilityWindow{
		DoctorID: f.doctor.ID, DayOfWeek: 4, StartMinute: 20 * 60, EndMinute: 24 * 60, IsAvailable: true,
	}); err != nil {
		t.Fatalf("window ending at midnight: %v", err)
	}

	_, err = f.svc.AddAvailability(ctx, AvailabilityWindow{
		DoctorID: f.doctor.ID, DayOfWeek: 7, StartMinute: 9 * 60, EndMinute: 10 * 60,
	})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("day_of_week 7: expected ErrInvalidWindow, got %v", err)
	}
	_, err = f.svc.AddAvailability(ctx, AvailabilityWindow{
		DoctorID: f.doctor.ID, DayOfWeek: 1, StartMinute: 10 * 60, EndMinute: 10 * 60,
	})
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("empty window: expected ErrInvalidWindow, got %v", err)
	}

	// Updating a window may not collide with its sibling.
	created.EndMinute = 12*60 + 30
	_, err = f.svc.UpdateAvailability(ctx, *created)
	if !errors.Is(err, ErrWindowOverlap) {
		t.Fatalf("update into sibling: expected ErrWindowOverlap, got %v", err)
	}
	created.EndMinute = 11 * 60
	if _, err := f.svc.UpdateAvailability(ctx, *created); err != nil {
		t.Fatalf("shrink window: %v", err)
	}
}

func TestListAppointmentsByPatientClamping(t *testing.T) {
	f := newFixture(t)
	f.addWindow(t, 0, 8*60, 21*60)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if _, err := f.book(ctx, at(monday, 8, 30+i*30), f.patient.ID); err != nil {
			t.Fatalf("booking %d: %v", i, err)
		}
	}

	got, err := f.svc.ListAppointmentsByPatient(ctx, f.patient.ID, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("default limit: got %d, want 20", len(got))
	}

	got, err = f.svc.ListAppointmentsByPatient(ctx, f.patient.ID, 1000, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 25 {
		t.Fatalf("clamped limit: got %d, want all 25", len(got))
	}
}
