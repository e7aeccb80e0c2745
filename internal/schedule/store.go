package schedule

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateSchedule = errors.New("doctor already has a schedule for this date")
	ErrDuplicateSlot     = errors.New("slot time already exists in schedule")
	ErrPastDate          = errors.New("schedule date is in the past")
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrInvalidSlot       = errors.New("slot time is required")
)

// Store owns doctor schedules and the authoritative state of every slot.
//
// TrySetSlotState is the only way slot state changes. Leaving AVAILABLE
// additionally requires the slot to be active. EditSlot and DeleteSlot only
// apply to AVAILABLE slots and return ErrSlotUnavailable otherwise.
type Store interface {
	CreateSchedule(ctx context.Context, in NewSchedule) (*Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]Schedule, error)

	AddSlot(ctx context.Context, scheduleID uuid.UUID, in NewSlot) (*Slot, error)
	EditSlot(ctx context.Context, ref SlotRef, timeLabel string) (*Slot, error)
	ToggleSlotActive(ctx context.Context, ref SlotRef, active *bool) (*Slot, error)
	DeleteSlot(ctx context.Context, ref SlotRef) error
	GetSlot(ctx context.Context, ref SlotRef) (*SlotDetail, error)

	TrySetSlotState(ctx context.Context, ref SlotRef, expected, next SlotState) (bool, error)

	// AvailableByDoctor yields schedules dated today or later that still
	// have active AVAILABLE slots, ordered by doctor then date.
	AvailableByDoctor(ctx context.Context) iter.Seq2[AvailableSchedule, error]
}

// prepareSlots validates a new schedule and expands its slot list.
func prepareSlots(in NewSchedule, now time.Time) ([]Slot, error) {
	if IsPast(in.Date, now) {
		return nil, ErrPastDate
	}

	slots := make([]Slot, 0, len(in.Slots))
	seenID := make(map[string]struct{}, len(in.Slots))
	seenTime := make(map[string]struct{}, len(in.Slots))

	for _, ns := range in.Slots {
		slot, err := newSlot(ns)
		if err != nil {
			return nil, err
		}
		if _, ok := seenID[slot.ID]; ok {
			return nil, fmt.Errorf("%w: id %s", ErrDuplicateSlot, slot.ID)
		}
		if _, ok := seenTime[slot.Time]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, slot.Time)
		}
		seenID[slot.ID] = struct{}{}
		seenTime[slot.Time] = struct{}{}
		slots = append(slots, slot)
	}

	return slots, nil
}

func newSlot(ns NewSlot) (Slot, error) {
	label := strings.TrimSpace(ns.Time)
	if label == "" {
		return Slot{}, ErrInvalidSlot
	}

	id := strings.TrimSpace(ns.ID)
	if id == "" {
		id = uuid.NewString()
	}

	active := true
	if ns.Active != nil {
		active = *ns.Active
	}

	return Slot{ID: id, Time: label, Active: active, State: SlotAvailable}, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PgStore)(nil)
)
