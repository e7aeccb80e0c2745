package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type memoryRecord struct {
	seq  int64
	appt Appointment
}

// MemoryRepository backs the memory store backend and tests.
type MemoryRepository struct {
	mu     sync.Mutex
	seq    int64
	byID   map[uuid.UUID]*memoryRecord
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		byID: make(map[uuid.UUID]*memoryRecord),
		now:  now,
	}
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.insert(*a), nil
}

// insert must be called with mu held.
func (r *MemoryRepository) insert(a Appointment) *Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now

	r.seq++
	r.byID[a.ID] = &memoryRecord{seq: r.seq, appt: a}
	return &a
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a := rec.appt
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok || rec.appt.Status != from {
		return nil, ErrAppointmentNotFound
	}
	rec.appt.Status = to
	rec.appt.UpdatedAt = r.now()
	a := rec.appt
	return &a, nil
}

func (r *MemoryRepository) SupersedeAppointment(_ context.Context, oldID uuid.UUID, from AppointmentStatus, replacement *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[oldID]
	if !ok || rec.appt.Status != from {
		return nil, ErrAppointmentNotFound
	}

	next := *replacement
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	next.Supersedes = &oldID

	created := r.insert(next)

	newID := created.ID
	rec.appt.Status = StatusCancelled
	rec.appt.SupersededBy = &newID
	rec.appt.UpdatedAt = r.now()

	return created, nil
}

func (r *MemoryRepository) ListAppointmentsByDoctor(_ context.Context, doctorID string, limit, offset int) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool { return a.DoctorID == doctorID }, limit, offset), nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	return r.list(func(a *Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) SlotHasOwner(_ context.Context, ref schedule.SlotRef) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byID {
		if rec.appt.Slot() == ref && rec.appt.Status.HoldsSlot() {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) ListApprovedBefore(_ context.Context, date time.Time, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, rec := range r.byID {
		if rec.appt.Status == StatusApproved && rec.appt.Date.Before(date) {
			out = append(out, rec.appt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) list(match func(*Appointment) bool, limit, offset int) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recs []*memoryRecord
	for _, rec := range r.byID {
		if match(&rec.appt) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })

	if offset >= len(recs) {
		return []Appointment{}
	}
	recs = recs[offset:]
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]Appointment, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.appt)
	}
	return out
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLog(nil), r.events...)
}

var _ Repository = (*MemoryRepository)(nil)
