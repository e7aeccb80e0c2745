package reservation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var (
	ErrInvalidTTL          = errors.New("reservation ttl must be positive")
	ErrReservationNotFound = errors.New("no live reservation for this slot")
	ErrReservationExists   = errors.New("slot already has a reservation record")
)

// Reservation is a time-bounded exclusive hold on one slot.
type Reservation struct {
	Slot        schedule.SlotRef
	RequesterID string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// Booked marks a queued release of a BOOKED slot whose appointment
	// ended without the slot being freed. Such records are never live.
	Booked bool
}

// LiveAt reports whether the hold is still in force at now.
func (r Reservation) LiveAt(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Store keeps reservation records. Take and TakeExpired are atomic so that a
// reservation is consumed by exactly one of finalize, cancel or expiry.
type Store interface {
	Put(ctx context.Context, r Reservation) error
	Get(ctx context.Context, ref schedule.SlotRef) (*Reservation, error)

	// Take removes the record if requesterID holds it and it is live at now.
	Take(ctx context.Context, ref schedule.SlotRef, requesterID string, now time.Time) (*Reservation, error)
	// TakeExpired removes and returns the record only if it expired at or
	// before now; otherwise it returns ErrReservationNotFound.
	TakeExpired(ctx context.Context, ref schedule.SlotRef, now time.Time) (*Reservation, error)
	// Due lists slots whose reservation expired at or before now, soonest first.
	Due(ctx context.Context, now time.Time, limit int) ([]schedule.SlotRef, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[schedule.SlotRef]Reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[schedule.SlotRef]Reservation)}
}

func (m *MemoryStore) Put(_ context.Context, r Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.Slot]; ok {
		return ErrReservationExists
	}
	m.records[r.Slot] = r
	return nil
}

func (m *MemoryStore) Get(_ context.Context, ref schedule.SlotRef) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[ref]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return &r, nil
}

func (m *MemoryStore) Take(_ context.Context, ref schedule.SlotRef, requesterID string, now time.Time) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[ref]
	if !ok || r.RequesterID != requesterID || !r.LiveAt(now) {
		return nil, ErrReservationNotFound
	}
	delete(m.records, ref)
	return &r, nil
}

func (m *MemoryStore) TakeExpired(_ context.Context, ref schedule.SlotRef, now time.Time) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[ref]
	if !ok || r.LiveAt(now) {
		return nil, ErrReservationNotFound
	}
	delete(m.records, ref)
	return &r, nil
}

func (m *MemoryStore) Due(_ context.Context, now time.Time, limit int) ([]schedule.SlotRef, error) {
	m.mu.Lock()
	var due []Reservation
	for _, r := range m.records {
		if !r.LiveAt(now) {
			due = append(due, r)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	refs := make([]schedule.SlotRef, 0, len(due))
	for _, r := range due {
		refs = append(refs, r.Slot)
	}
	return refs, nil
}

var _ Store = (*MemoryStore)(nil)
