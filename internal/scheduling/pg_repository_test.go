package scheduling

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMinuteToTime(t *testing.T) {
	cases := map[int]string{
		0:    "00:00:00",
		540:  "09:00:00",
		1439: "23:59:00",
		1440: "24:00:00", // midnight-ending window must not wrap to 00:00:00
	}
	for minute, want := range cases {
		if got := minuteToTime(minute); got != want {
			t.Errorf("minuteToTime(%d) = %q, want %q", minute, got, want)
		}
	}
}

func TestStorageErrTagsOutages(t *testing.T) {
	err := storageErr("list windows", errors.New("connection refused"))
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("infrastructure failure should be retryable, got %v", err)
	}
}

func TestStorageErrIntegrityViolationsAreNotRetryable(t *testing.T) {
	cases := []struct {
		name   string
		pgErr  *pgconn.PgError
		wantIs error
	}{
		{
			name:   "patient deleted between validation and insert",
			pgErr:  &pgconn.PgError{Code: "23503", ConstraintName: "appointments_patient_id_fkey"},
			wantIs: ErrPatientNotFound,
		},
		{
			name:   "doctor deleted",
			pgErr:  &pgconn.PgError{Code: "23503", ConstraintName: "appointments_doctor_id_fkey"},
			wantIs: ErrDoctorNotFound,
		},
		{
			name:   "resource deleted",
			pgErr:  &pgconn.PgError{Code: "23503", ConstraintName: "appointment_resources_resource_id_fkey"},
			wantIs: ErrResourceNotFound,
		},
		{
			name:  "other integrity violation",
			pgErr: &pgconn.PgError{Code: "23514", ConstraintName: "appointments_duration_minutes_check"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := storageErr("create appointment", tc.pgErr)
			if errors.Is(err, ErrStorageUnavailable) {
				t.Fatalf("integrity violation wrapped as retryable: %v", err)
			}
			if tc.wantIs != nil && !errors.Is(err, tc.wantIs) {
				t.Fatalf("expected %v, got %v", tc.wantIs, err)
			}
		})
	}
}
