package scheduling

import (
	"context"
	"testing"
	"time"
)

func seedConflictFixture(t *testing.T) (*fixture, Resource, Appointment) {
	t.Helper()
	f := newFixture(t)
	f.addWindow(t, 0, 9*60, 12*60)

	room := f.repo.AddResource(Resource{HospitalID: f.doctor.HospitalID, Name: "B-201", Type: ResourceRoom, IsAvailable: true})

	appt, err := f.svc.AttemptBook(context.Background(), BookingRequest{
		DoctorID:        f.doctor.ID,
		PatientID:       f.patient.ID,
		ResourceIDs:     []int64{room.ID},
		Start:           at(monday, 10, 0),
		DurationMinutes: 30,
	})
	if err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	return f, room, *appt
}

func TestCheckConflictOverlapMatrix(t *testing.T) {
	f, _, appt := seedConflictFixture(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		start    time.Time
		duration time.Duration
		conflict bool
	}{
		{"identical interval", at(monday, 10, 0), 30 * time.Minute, true},
		{"starts inside", at(monday, 10, 15), 30 * time.Minute, true},
		{"ends inside", at(monday, 9, 45), 30 * time.Minute, true},
		{"contains", at(monday, 9, 30), 90 * time.Minute, true},
		{"ends exactly at start", at(monday, 9, 30), 30 * time.Minute, false},
		{"starts exactly at end", at(monday, 10, 30), 30 * time.Minute, false},
		{"disjoint", at(monday, 11, 0), 30 * time.Minute, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check, err := f.svc.CheckConflict(ctx, f.doctor.ID, nil, tc.start, tc.duration)
			if err != nil {
				t.Fatalf("check conflict: %v", err)
			}
			if check.Conflict != tc.conflict {
				t.Fatalf("conflict = %v, want %v", check.Conflict, tc.conflict)
			}
			if tc.conflict && (len(check.AppointmentIDs) != 1 || check.AppointmentIDs[0] != appt.ID) {
				t.Errorf("ids = %v, want [%d]", check.AppointmentIDs, appt.ID)
			}
		})
	}
}

func TestCheckConflictByResource(t *testing.T) {
	f, room, appt := seedConflictFixture(t)
	ctx := context.Background()

	otherDoctor := f.repo.AddDoctor(Doctor{
		HospitalID:           f.doctor.HospitalID,
		FirstName:            "Igor",
		LastName:             "Petrov",
		Email:                "igor.petrov@example.org",
		ConsultationDuration: 30,
	})

	// No shared doctor, no shared resource: clean.
	check, err := f.svc.CheckConflict(ctx, otherDoctor.ID, nil, at(monday, 10, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("check conflict: %v", err)
	}
	if check.Conflict {
		t.Fatalf("unexpected conflict: %v", check.AppointmentIDs)
	}

	// Shared room across doctors conflicts.
	check, err = f.svc.CheckConflict(ctx, otherDoctor.ID, []int64{room.ID}, at(monday, 10, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("check conflict: %v", err)
	}
	if !check.Conflict || len(check.AppointmentIDs) != 1 || check.AppointmentIDs[0] != appt.ID {
		t.Fatalf("expected resource conflict with %d, got %+v", appt.ID, check)
	}

	// Doctor and resource both hit the same appointment: reported once.
	check, err = f.svc.CheckConflict(ctx, f.doctor.ID, []int64{room.ID}, at(monday, 10, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("check conflict: %v", err)
	}
	if len(check.AppointmentIDs) != 1 {
		t.Fatalf("duplicate ids: %v", check.AppointmentIDs)
	}
}

func TestCheckConflictIgnoresTerminalStates(t *testing.T) {
	f, room, appt := seedConflictFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, appt.ID, StatusCancelled, "reception"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	check, err := f.svc.CheckConflict(ctx, f.doctor.ID, []int64{room.ID}, at(monday, 10, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("check conflict: %v", err)
	}
	if check.Conflict {
		t.Fatalf("cancelled appointment still blocks: %v", check.AppointmentIDs)
	}
}

func TestCheckConflictCompletedStillBlocks(t *testing.T) {
	f, _, appt := seedConflictFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Transition(ctx, appt.ID, StatusConfirmed, "reception"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.Transition(ctx, appt.ID, StatusCompleted, "reception"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	check, err := f.svc.CheckConflict(ctx, f.doctor.ID, nil, at(monday, 10, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf("check conflict: %v", err)
	}
	if !check.Conflict {
		t.Fatal("completed appointment should still occupy its interval")
	}
}
