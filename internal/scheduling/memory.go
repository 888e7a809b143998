package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository. It backs tests and
// single-node deployments; every method takes the store mutex so each
// call sees a consistent snapshot.
type MemoryRepository struct {
	mu sync.RWMutex

	seq          int64
	hospitals    map[int64]Hospital
	doctors      map[int64]Doctor
	patients     map[int64]Patient
	resources    map[int64]Resource
	windows      map[int64]AvailabilityWindow
	appointments map[int64]Appointment
	logEntries   []MutationLogEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		hospitals:    make(map[int64]Hospital),
		doctors:      make(map[int64]Doctor),
		patients:     make(map[int64]Patient),
		resources:    make(map[int64]Resource),
		windows:      make(map[int64]AvailabilityWindow),
		appointments: make(map[int64]Appointment),
	}
}

func (m *MemoryRepository) nextID() int64 {
	m.seq++
	return m.seq
}

// Fixture helpers. These assign IDs and return the stored copy.

func (m *MemoryRepository) AddHospital(h Hospital) Hospital {
	m.mu.Lock()
	defer m.mu.Unlock()
	h.ID = m.nextID()
	m.hospitals[h.ID] = h
	return h
}

func (m *MemoryRepository) AddDoctor(d Doctor) Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.nextID()
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	m.doctors[d.ID] = d
	return d
}

func (m *MemoryRepository) AddPatient(p Patient) Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.patients[p.ID] = p
	return p
}

func (m *MemoryRepository) AddResource(r Resource) Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID()
	m.resources[r.ID] = r
	return r
}

// Repository implementation

func (m *MemoryRepository) GetHospitalByID(_ context.Context, id int64) (*Hospital, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hospitals[id]
	if !ok {
		return nil, ErrHospitalNotFound
	}
	return &h, nil
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id int64) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *MemoryRepository) GetPatientByID(_ context.Context, id int64) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetResourceByID(_ context.Context, id int64) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, ErrResourceNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) ListWindows(_ context.Context, doctorID int64) ([]AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AvailabilityWindow
	for _, w := range m.windows {
		if w.DoctorID == doctorID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartMinute < out[j].StartMinute
	})
	return out, nil
}

func (m *MemoryRepository) ListWindowsForDay(_ context.Context, doctorID int64, dayOfWeek int) ([]AvailabilityWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AvailabilityWindow
	for _, w := range m.windows {
		if w.DoctorID == doctorID && w.DayOfWeek == dayOfWeek {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (m *MemoryRepository) CreateWindow(_ context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.ID = m.nextID()
	m.windows[w.ID] = w
	return &w, nil
}

func (m *MemoryRepository) UpdateWindow(_ context.Context, w AvailabilityWindow) (*AvailabilityWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.windows[w.ID]
	if !ok || existing.DoctorID != w.DoctorID {
		return nil, ErrAvailabilityNotFound
	}
	m.windows[w.ID] = w
	return &w, nil
}

func overlapsHalfOpen(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func (m *MemoryRepository) ListBlockingByDoctor(_ context.Context, doctorID int64, start, end time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Blocks() && overlapsHalfOpen(a.StartTime, a.EndTime(), start, end) {
			out = append(out, cloneAppointment(a))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (m *MemoryRepository) ListBlockingByResources(_ context.Context, resourceIDs []int64, start, end time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wanted := make(map[int64]struct{}, len(resourceIDs))
	for _, id := range resourceIDs {
		wanted[id] = struct{}{}
	}
	var out []Appointment
	for _, a := range m.appointments {
		if !a.Blocks() || !overlapsHalfOpen(a.StartTime, a.EndTime(), start, end) {
			continue
		}
		for _, rid := range a.ResourceIDs {
			if _, ok := wanted[rid]; ok {
				out = append(out, cloneAppointment(a))
				break
			}
		}
	}
	sortAppointments(out)
	return out, nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id int64) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	clone := cloneAppointment(a)
	return &clone, nil
}

func (m *MemoryRepository) GetAppointmentDetail(_ context.Context, id int64) (*AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	detail := &AppointmentDetail{Appointment: cloneAppointment(a)}
	if d, ok := m.doctors[a.DoctorID]; ok {
		detail.Doctor = &d
	}
	if p, ok := m.patients[a.PatientID]; ok {
		detail.Patient = &p
	}
	if h, ok := m.hospitals[a.HospitalID]; ok {
		detail.Hospital = &h
	}
	return detail, nil
}

func (m *MemoryRepository) ListAppointmentsByDoctor(_ context.Context, doctorID int64, start, end time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && !a.StartTime.Before(start) && a.StartTime.Before(end) {
			out = append(out, cloneAppointment(a))
		}
	}
	sortAppointments(out)
	return out, nil
}

func (m *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID int64, limit, offset int) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			all = append(all, cloneAppointment(a))
		}
	}
	sortAppointments(all)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryRepository) CreateAppointment(ctx context.Context, n NewAppointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Honor caller abandonment: nothing is inserted once the context
	// is cancelled, so no partial reservation can leak.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := time.Now()
	a := Appointment{
		ID:                m.nextID(),
		PatientID:         n.PatientID,
		DoctorID:          n.DoctorID,
		HospitalID:        n.HospitalID,
		StartTime:         n.StartTime,
		DurationMinutes:   n.DurationMinutes,
		Status:            StatusScheduled,
		NoShowProbability: n.NoShowProbability,
		Reason:            n.Reason,
		ResourceIDs:       append([]int64(nil), n.ResourceIDs...),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.appointments[a.ID] = a

	m.logEntries = append(m.logEntries, MutationLogEntry{
		ID:            m.nextID(),
		AppointmentID: a.ID,
		NewStatus:     StatusScheduled,
		Actor:         n.Actor,
		CreatedAt:     now,
	})

	clone := cloneAppointment(a)
	return &clone, nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id int64, from, to AppointmentStatus, actor string) (*Appointment, *MutationLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, nil, ErrAppointmentNotFound
	}

	now := time.Now()
	a.Status = to
	a.UpdatedAt = now
	m.appointments[id] = a

	entry := MutationLogEntry{
		ID:            m.nextID(),
		AppointmentID: id,
		OldStatus:     from,
		NewStatus:     to,
		Actor:         actor,
		CreatedAt:     now,
	}
	m.logEntries = append(m.logEntries, entry)

	clone := cloneAppointment(a)
	return &clone, &entry, nil
}

func (m *MemoryRepository) ListMutationLog(_ context.Context, appointmentID int64) ([]MutationLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MutationLogEntry
	for _, e := range m.logEntries {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryRepository) FindOverdue(_ context.Context, cutoff time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.Status != StatusScheduled && a.Status != StatusConfirmed {
			continue
		}
		if a.EndTime().Before(cutoff) {
			out = append(out, cloneAppointment(a))
		}
	}
	sortAppointments(out)
	return out, nil
}

func cloneAppointment(a Appointment) Appointment {
	a.ResourceIDs = append([]int64(nil), a.ResourceIDs...)
	return a
}

func sortAppointments(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].StartTime.Before(appts[j].StartTime)
		}
		return appts[i].ID < appts[j].ID
	})
}

// MutexLocker is an in-process Locker with the same non-blocking
// semantics as the Redis one: a contended key fails fast with
// ErrLockNotAcquired instead of queueing.
type MutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MutexLocker) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *MutexLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var held []*sync.Mutex
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}

	for _, key := range sorted {
		m := l.lockFor(key)
		if !m.TryLock() {
			release()
			return ErrLockNotAcquired
		}
		held = append(held, m)
	}
	defer release()

	return fn(ctx)
}
