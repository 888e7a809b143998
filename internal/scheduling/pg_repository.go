package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository is the production Repository over the hospital schema.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// fkSentinels maps foreign-key constraints to the row the booking
// validated moments earlier but lost to a concurrent delete.
var fkSentinels = map[string]error{
	"appointments_patient_id_fkey":           ErrPatientNotFound,
	"appointments_doctor_id_fkey":            ErrDoctorNotFound,
	"appointments_hospital_id_fkey":          ErrHospitalNotFound,
	"appointment_resources_resource_id_fkey": ErrResourceNotFound,
	"doctor_availability_doctor_id_fkey":     ErrDoctorNotFound,
}

// storageErr tags infrastructure failures so callers can retry with
// backoff. Integrity violations (SQLSTATE class 23) are permanent and
// stay out of ErrStorageUnavailable: a foreign key miss maps to the
// not-found sentinel of the row that vanished.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		if sentinel, ok := fkSentinels[pgErr.ConstraintName]; ok {
			return fmt.Errorf("%s: %w", op, sentinel)
		}
		return fmt.Errorf("%s: %v", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

// Helpers

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	err := row.Scan(&h.ID, &h.Name, &h.Address, &h.City, &h.State, &h.ZipCode, &h.Phone, &h.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHospitalNotFound
		}
		return nil, storageErr("scan hospital", err)
	}
	return &h, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.HospitalID,
		&d.FirstName,
		&d.LastName,
		&d.Specialization,
		&d.Phone,
		&d.Email,
		&d.ConsultationDuration,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, storageErr("scan doctor", err)
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.DateOfBirth,
		&p.Gender,
		&p.Phone,
		&p.Email,
		&p.MedicalHistory,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, storageErr("scan patient", err)
	}
	return &p, nil
}

func scanResource(row pgx.Row) (*Resource, error) {
	var r Resource
	err := row.Scan(&r.ID, &r.HospitalID, &r.Name, &r.Type, &r.IsAvailable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResourceNotFound
		}
		return nil, storageErr("scan resource", err)
	}
	return &r, nil
}

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	err := row.Scan(&w.ID, &w.DoctorID, &w.DayOfWeek, &w.StartMinute, &w.EndMinute, &w.IsAvailable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, storageErr("scan availability window", err)
	}
	return &w, nil
}

// appointmentCols selects the appointment row plus its resource links.
// Windows are stored as TIME columns; appointments as timestamptz.
const appointmentCols = `
	a.id, a.patient_id, a.doctor_id, a.hospital_id,
	a.appointment_datetime, a.duration_minutes, a.status,
	a.no_show_probability, a.reason, a.created_at, a.updated_at,
	(SELECT COALESCE(array_agg(ar.resource_id ORDER BY ar.resource_id), '{}')
	   FROM appointment_resources ar
	  WHERE ar.appointment_id = a.id) AS resource_ids
`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.HospitalID,
		&a.StartTime,
		&a.DurationMinutes,
		&a.Status,
		&a.NoShowProbability,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ResourceIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storageErr("scan appointment", err)
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate appointments", err)
	}
	return result, nil
}

// Interface methods

func (r *PgRepository) GetHospitalByID(ctx context.Context, id int64) (*Hospital, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(address, ''), COALESCE(city, ''), COALESCE(state, ''),
		       COALESCE(zip_code, ''), COALESCE(phone, ''), COALESCE(email, '')
		FROM hospitals
		WHERE id = $1
	`, id)
	return scanHospital(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id int64) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, hospital_id, first_name, last_name, COALESCE(specialization, ''),
		       COALESCE(phone, ''), email, consultation_duration, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id int64) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, first_name, last_name, date_of_birth, COALESCE(gender, ''),
		       COALESCE(phone, ''), email, medical_history, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetResourceByID(ctx context.Context, id int64) (*Resource, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, hospital_id, name, resource_type, is_available
		FROM resources
		WHERE id = $1
	`, id)
	return scanResource(row)
}

const windowCols = `
	id, doctor_id, day_of_week,
	EXTRACT(EPOCH FROM start_time)::int / 60,
	EXTRACT(EPOCH FROM end_time)::int / 60,
	is_available
`

func (r *PgRepository) ListWindows(ctx context.Context, doctorID int64) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+windowCols+`
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_time
	`, doctorID)
	if err != nil {
		return nil, storageErr("list windows", err)
	}
	return collectWindows(rows)
}

func (r *PgRepository) ListWindowsForDay(ctx context.Context, doctorID int64, dayOfWeek int) ([]AvailabilityWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+windowCols+`
		FROM doctor_availability
		WHERE doctor_id = $1 AND day_of_week = $2
		ORDER BY start_time
	`, doctorID, dayOfWeek)
	if err != nil {
		return nil, storageErr("list windows for day", err)
	}
	return collectWindows(rows)
}

func collectWindows(rows pgx.Rows) ([]AvailabilityWindow, error) {
	defer rows.Close()
	var result []AvailabilityWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate windows", err)
	}
	return result, nil
}

// minuteToTime renders minutes since midnight as a TIME literal.
// Casting an interval to time would wrap 1440 around to 00:00:00
// and trip the start < end check; Postgres accepts 24:00:00 directly.
func minuteToTime(m int) string {
	return fmt.Sprintf("%02d:%02d:00", m/60, m%60)
}

func (r *PgRepository) CreateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO doctor_availability (doctor_id, day_of_week, start_time, end_time, is_available)
		VALUES ($1, $2, $3::time, $4::time, $5)
		RETURNING `+windowCols+`
	`, w.DoctorID, w.DayOfWeek, minuteToTime(w.StartMinute), minuteToTime(w.EndMinute), w.IsAvailable)
	return scanWindow(row)
}

func (r *PgRepository) UpdateWindow(ctx context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE doctor_availability
		SET day_of_week = $3,
		    start_time = $4::time,
		    end_time = $5::time,
		    is_available = $6
		WHERE id = $1 AND doctor_id = $2
		RETURNING `+windowCols+`
	`, w.ID, w.DoctorID, w.DayOfWeek, minuteToTime(w.StartMinute), minuteToTime(w.EndMinute), w.IsAvailable)
	return scanWindow(row)
}

const blockingStatuses = `('scheduled', 'confirmed', 'completed')`

func (r *PgRepository) ListBlockingByDoctor(ctx context.Context, doctorID int64, start, end time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments a
		WHERE a.doctor_id = $1
		  AND a.status IN `+blockingStatuses+`
		  AND a.appointment_datetime < $3
		  AND a.appointment_datetime + make_interval(mins => a.duration_minutes) > $2
		ORDER BY a.appointment_datetime, a.id
	`, doctorID, start, end)
	if err != nil {
		return nil, storageErr("list blocking by doctor", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListBlockingByResources(ctx context.Context, resourceIDs []int64, start, end time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT `+appointmentCols+`
		FROM appointments a
		JOIN appointment_resources link ON link.appointment_id = a.id
		WHERE link.resource_id = ANY($1)
		  AND a.status IN `+blockingStatuses+`
		  AND a.appointment_datetime < $3
		  AND a.appointment_datetime + make_interval(mins => a.duration_minutes) > $2
		ORDER BY a.appointment_datetime, a.id
	`, resourceIDs, start, end)
	if err != nil {
		return nil, storageErr("list blocking by resources", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments a
		WHERE a.id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id int64) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &AppointmentDetail{Appointment: *appt}

	if doctor, err := r.GetDoctorByID(ctx, appt.DoctorID); err == nil {
		detail.Doctor = doctor
	} else if !errors.Is(err, ErrDoctorNotFound) {
		return nil, err
	}
	if patient, err := r.GetPatientByID(ctx, appt.PatientID); err == nil {
		detail.Patient = patient
	} else if !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}
	if hospital, err := r.GetHospitalByID(ctx, appt.HospitalID); err == nil {
		detail.Hospital = hospital
	} else if !errors.Is(err, ErrHospitalNotFound) {
		return nil, err
	}

	return detail, nil
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID int64, start, end time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments a
		WHERE a.doctor_id = $1
		  AND a.appointment_datetime >= $2
		  AND a.appointment_datetime < $3
		ORDER BY a.appointment_datetime, a.id
	`, doctorID, start, end)
	if err != nil {
		return nil, storageErr("list appointments by doctor", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments a
		WHERE a.patient_id = $1
		ORDER BY a.appointment_datetime, a.id
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, storageErr("list appointments by patient", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, n NewAppointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments
			(patient_id, doctor_id, hospital_id, appointment_datetime,
			 duration_minutes, status, no_show_probability, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'scheduled', $6, $7, now(), now())
		RETURNING id, patient_id, doctor_id, hospital_id, appointment_datetime,
		          duration_minutes, status, no_show_probability, reason, created_at, updated_at,
		          '{}'::bigint[]
	`, n.PatientID, n.DoctorID, n.HospitalID, n.StartTime, n.DurationMinutes,
		n.NoShowProbability, n.Reason)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	for _, resourceID := range n.ResourceIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO appointment_resources (appointment_id, resource_id)
			VALUES ($1, $2)
		`, appt.ID, resourceID); err != nil {
			return nil, storageErr("link resource", err)
		}
	}
	appt.ResourceIDs = append([]int64(nil), n.ResourceIDs...)

	if _, err := tx.Exec(ctx, `
		INSERT INTO schedule_mutation_log (appointment_id, old_status, new_status, actor, created_at)
		VALUES ($1, '', 'scheduled', $2, now())
	`, appt.ID, n.Actor); err != nil {
		return nil, storageErr("log creation", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit booking", err)
	}

	return appt, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id int64, from, to AppointmentStatus, actor string) (*Appointment, *MutationLogEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, storageErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments a
		SET status = $2,
		    updated_at = now()
		WHERE a.id = $1
		  AND a.status = $3
		RETURNING `+appointmentCols+`
	`, id, to, from)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, nil, err
	}

	entry := MutationLogEntry{
		AppointmentID: id,
		OldStatus:     from,
		NewStatus:     to,
		Actor:         actor,
	}
	logRow := tx.QueryRow(ctx, `
		INSERT INTO schedule_mutation_log (appointment_id, old_status, new_status, actor, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, created_at
	`, id, from, to, actor)
	if err := logRow.Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return nil, nil, storageErr("log transition", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, storageErr("commit transition", err)
	}

	return appt, &entry, nil
}

func (r *PgRepository) ListMutationLog(ctx context.Context, appointmentID int64) ([]MutationLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, old_status, new_status, actor, created_at
		FROM schedule_mutation_log
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, storageErr("list mutation log", err)
	}
	defer rows.Close()

	var result []MutationLogEntry
	for rows.Next() {
		var e MutationLogEntry
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.OldStatus, &e.NewStatus, &e.Actor, &e.CreatedAt); err != nil {
			return nil, storageErr("scan mutation log entry", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate mutation log", err)
	}
	return result, nil
}

func (r *PgRepository) FindOverdue(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments a
		WHERE a.status IN ('scheduled', 'confirmed')
		  AND a.appointment_datetime + make_interval(mins => a.duration_minutes) < $1
		ORDER BY a.appointment_datetime, a.id
	`, cutoff)
	if err != nil {
		return nil, storageErr("find overdue", err)
	}
	return collectAppointments(rows)
}
