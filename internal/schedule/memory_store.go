package schedule

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps schedules in process. A single mutex serialises every
// read-modify-write, which is what makes TrySetSlotState atomic.
type MemoryStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*Schedule
	byDoctor  map[string]uuid.UUID // doctorID|date
	now       func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		schedules: make(map[uuid.UUID]*Schedule),
		byDoctor:  make(map[string]uuid.UUID),
		now:       now,
	}
}

func doctorDateKey(doctorID string, date time.Time) string {
	return doctorID + "|" + date.Format(DateLayout)
}

func (m *MemoryStore) CreateSchedule(_ context.Context, in NewSchedule) (*Schedule, error) {
	now := m.now()
	slots, err := prepareSlots(in, now)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := doctorDateKey(in.DoctorID, in.Date)
	if _, ok := m.byDoctor[key]; ok {
		return nil, ErrDuplicateSchedule
	}

	s := &Schedule{
		ID:             uuid.New(),
		DoctorID:       in.DoctorID,
		DoctorName:     in.DoctorName,
		Specialization: in.Specialization,
		Date:           Today(in.Date),
		Slots:          slots,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.schedules[s.ID] = s
	m.byDoctor[key] = s.ID

	return s.clone(), nil
}

func (m *MemoryStore) GetSchedule(_ context.Context, id uuid.UUID) (*Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) ListByDoctor(_ context.Context, doctorID string) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Schedule
	for _, s := range m.schedules {
		if s.DoctorID == doctorID {
			out = append(out, *s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) AddSlot(_ context.Context, scheduleID uuid.UUID, in NewSlot) (*Slot, error) {
	slot, err := newSlot(in)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	for _, existing := range s.Slots {
		if existing.Time == slot.Time {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, slot.Time)
		}
		if existing.ID == slot.ID {
			return nil, fmt.Errorf("%w: id %s", ErrDuplicateSlot, slot.ID)
		}
	}

	s.Slots = append(s.Slots, slot)
	s.UpdatedAt = m.now()
	return &slot, nil
}

func (m *MemoryStore) EditSlot(_ context.Context, ref SlotRef, timeLabel string) (*Slot, error) {
	label := strings.TrimSpace(timeLabel)
	if label == "" {
		return nil, ErrInvalidSlot
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, slot, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}
	// a held slot keeps the time its holder was shown
	if slot.State != SlotAvailable {
		return nil, fmt.Errorf("%w: slot is %s", ErrSlotUnavailable, slot.State)
	}
	for _, other := range s.Slots {
		if other.ID != slot.ID && other.Time == label {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, label)
		}
	}

	slot.Time = label
	s.UpdatedAt = m.now()
	cp := *slot
	return &cp, nil
}

func (m *MemoryStore) ToggleSlotActive(_ context.Context, ref SlotRef, active *bool) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, slot, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}

	if active != nil {
		slot.Active = *active
	} else {
		slot.Active = !slot.Active
	}
	s.UpdatedAt = m.now()
	cp := *slot
	return &cp, nil
}

func (m *MemoryStore) DeleteSlot(_ context.Context, ref SlotRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, slot, err := m.lookup(ref)
	if err != nil {
		return err
	}
	if slot.State != SlotAvailable {
		return fmt.Errorf("%w: slot is %s", ErrSlotUnavailable, slot.State)
	}

	kept := s.Slots[:0]
	for _, other := range s.Slots {
		if other.ID != ref.SlotID {
			kept = append(kept, other)
		}
	}
	s.Slots = kept
	s.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) GetSlot(_ context.Context, ref SlotRef) (*SlotDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, slot, err := m.lookup(ref)
	if err != nil {
		return nil, err
	}
	return &SlotDetail{
		ScheduleID:     s.ID,
		DoctorID:       s.DoctorID,
		DoctorName:     s.DoctorName,
		Specialization: s.Specialization,
		Date:           s.Date,
		Slot:           *slot,
	}, nil
}

func (m *MemoryStore) TrySetSlotState(_ context.Context, ref SlotRef, expected, next SlotState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, slot, err := m.lookup(ref)
	if err != nil {
		return false, err
	}
	if slot.State != expected {
		return false, nil
	}
	if expected == SlotAvailable && next != SlotAvailable && !slot.Active {
		return false, nil
	}

	slot.State = next
	s.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryStore) AvailableByDoctor(ctx context.Context) iter.Seq2[AvailableSchedule, error] {
	return func(yield func(AvailableSchedule, error) bool) {
		today := Today(m.now())

		m.mu.Lock()
		var snapshot []AvailableSchedule
		for _, s := range m.schedules {
			if s.Date.Before(today) {
				continue
			}
			var open []Slot
			for _, slot := range s.Slots {
				if slot.Active && slot.State == SlotAvailable {
					open = append(open, slot)
				}
			}
			if len(open) == 0 {
				continue
			}
			snapshot = append(snapshot, AvailableSchedule{
				ScheduleID:     s.ID,
				DoctorID:       s.DoctorID,
				DoctorName:     s.DoctorName,
				Specialization: s.Specialization,
				Date:           s.Date,
				Slots:          open,
			})
		}
		m.mu.Unlock()

		sort.Slice(snapshot, func(i, j int) bool {
			if snapshot[i].DoctorID != snapshot[j].DoctorID {
				return snapshot[i].DoctorID < snapshot[j].DoctorID
			}
			return snapshot[i].Date.Before(snapshot[j].Date)
		})

		for _, entry := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(AvailableSchedule{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// lookup must be called with mu held.
func (m *MemoryStore) lookup(ref SlotRef) (*Schedule, *Slot, error) {
	s, ok := m.schedules[ref.ScheduleID]
	if !ok {
		return nil, nil, ErrScheduleNotFound
	}
	slot, ok := s.Slot(ref.SlotID)
	if !ok {
		return nil, nil, ErrSlotNotFound
	}
	return s, slot, nil
}
