package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2030, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestStore() *MemoryStore {
	return NewMemoryStore(func() time.Time { return fixedNow })
}

func boolPtr(b bool) *bool { return &b }

func seedSchedule(t *testing.T, store *MemoryStore, doctorID string, date time.Time, times ...string) *Schedule {
	t.Helper()
	var slots []NewSlot
	for _, tm := range times {
		slots = append(slots, NewSlot{Time: tm})
	}
	s, err := store.CreateSchedule(context.Background(), NewSchedule{
		DoctorID:       doctorID,
		DoctorName:     "Dr " + doctorID,
		Specialization: "Cardiology",
		Date:           date,
		Slots:          slots,
	})
	require.NoError(t, err)
	return s
}

func TestCreateSchedule(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	t.Run("slots start available and active", func(t *testing.T) {
		s := seedSchedule(t, store, "d1", fixedNow.AddDate(0, 0, 1), "09:00", "09:30")

		require.Len(t, s.Slots, 2)
		for _, slot := range s.Slots {
			assert.Equal(t, SlotAvailable, slot.State)
			assert.True(t, slot.Active)
			assert.NotEmpty(t, slot.ID)
		}
	})

	t.Run("same doctor and date is rejected", func(t *testing.T) {
		_, err := store.CreateSchedule(ctx, NewSchedule{DoctorID: "d1", Date: fixedNow.AddDate(0, 0, 1)})
		assert.ErrorIs(t, err, ErrDuplicateSchedule)
	})

	t.Run("today is allowed but yesterday is not", func(t *testing.T) {
		_, err := store.CreateSchedule(ctx, NewSchedule{DoctorID: "d2", Date: Today(fixedNow)})
		assert.NoError(t, err)

		_, err = store.CreateSchedule(ctx, NewSchedule{DoctorID: "d2", Date: fixedNow.AddDate(0, 0, -1)})
		assert.ErrorIs(t, err, ErrPastDate)
	})

	t.Run("duplicate slot time in payload", func(t *testing.T) {
		_, err := store.CreateSchedule(ctx, NewSchedule{
			DoctorID: "d3",
			Date:     fixedNow.AddDate(0, 0, 2),
			Slots:    []NewSlot{{Time: "10:00"}, {Time: "10:00"}},
		})
		assert.ErrorIs(t, err, ErrDuplicateSlot)
	})

	t.Run("explicit inactive slot", func(t *testing.T) {
		s, err := store.CreateSchedule(ctx, NewSchedule{
			DoctorID: "d4",
			Date:     fixedNow.AddDate(0, 0, 2),
			Slots:    []NewSlot{{ID: "s1", Time: "10:00", Active: boolPtr(false)}},
		})
		require.NoError(t, err)
		assert.False(t, s.Slots[0].Active)
		assert.Equal(t, "s1", s.Slots[0].ID)
	})
}

func TestSlotEditing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	s := seedSchedule(t, store, "d1", fixedNow.AddDate(0, 0, 1), "09:00")

	added, err := store.AddSlot(ctx, s.ID, NewSlot{Time: "09:30"})
	require.NoError(t, err)

	_, err = store.AddSlot(ctx, s.ID, NewSlot{Time: "09:30"})
	assert.ErrorIs(t, err, ErrDuplicateSlot)

	_, err = store.AddSlot(ctx, uuid.New(), NewSlot{Time: "11:00"})
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	ref := SlotRef{ScheduleID: s.ID, SlotID: added.ID}

	_, err = store.EditSlot(ctx, ref, "09:00")
	assert.ErrorIs(t, err, ErrDuplicateSlot)

	edited, err := store.EditSlot(ctx, ref, "10:15")
	require.NoError(t, err)
	assert.Equal(t, "10:15", edited.Time)

	toggled, err := store.ToggleSlotActive(ctx, ref, nil)
	require.NoError(t, err)
	assert.False(t, toggled.Active)

	toggled, err = store.ToggleSlotActive(ctx, ref, boolPtr(false))
	require.NoError(t, err)
	assert.False(t, toggled.Active, "explicit value is applied, not flipped")

	_, err = store.ToggleSlotActive(ctx, SlotRef{ScheduleID: s.ID, SlotID: "missing"}, nil)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	require.NoError(t, store.DeleteSlot(ctx, ref))
	assert.ErrorIs(t, store.DeleteSlot(ctx, ref), ErrSlotNotFound)

	got, err := store.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Slots, 1)
}

func TestHeldSlotCannotBeDeletedOrEdited(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	s := seedSchedule(t, store, "d1", fixedNow.AddDate(0, 0, 1), "09:00")
	ref := SlotRef{ScheduleID: s.ID, SlotID: s.Slots[0].ID}

	for _, held := range []SlotState{SlotReserved, SlotBooked} {
		ok, err := store.TrySetSlotState(ctx, ref, SlotAvailable, held)
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, store.DeleteSlot(ctx, ref), ErrSlotUnavailable, "%s", held)
		_, err = store.EditSlot(ctx, ref, "11:45")
		assert.ErrorIs(t, err, ErrSlotUnavailable, "%s", held)

		d, err := store.GetSlot(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, "09:00", d.Slot.Time)

		ok, err = store.TrySetSlotState(ctx, ref, held, SlotAvailable)
		require.NoError(t, err)
		require.True(t, ok)
	}

	edited, err := store.EditSlot(ctx, ref, "11:45")
	require.NoError(t, err)
	assert.Equal(t, "11:45", edited.Time)
}

func TestTrySetSlotState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	s := seedSchedule(t, store, "d1", fixedNow.AddDate(0, 0, 1), "09:00")
	ref := SlotRef{ScheduleID: s.ID, SlotID: s.Slots[0].ID}

	ok, err := store.TrySetSlotState(ctx, ref, SlotReserved, SlotBooked)
	require.NoError(t, err)
	assert.False(t, ok, "expected state mismatch must not change anything")

	ok, err = store.TrySetSlotState(ctx, ref, SlotAvailable, SlotBooked)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TrySetSlotState(ctx, ref, SlotBooked, SlotAvailable)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.TrySetSlotState(ctx, SlotRef{ScheduleID: uuid.New(), SlotID: "x"}, SlotAvailable, SlotReserved)
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	t.Run("inactive slot cannot leave available", func(t *testing.T) {
		_, err := store.ToggleSlotActive(ctx, ref, boolPtr(false))
		require.NoError(t, err)

		ok, err := store.TrySetSlotState(ctx, ref, SlotAvailable, SlotReserved)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTrySetSlotStateConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	s := seedSchedule(t, store, "d1", fixedNow.AddDate(0, 0, 1), "09:00")
	ref := SlotRef{ScheduleID: s.ID, SlotID: s.Slots[0].ID}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TrySetSlotState(ctx, ref, SlotAvailable, SlotReserved)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestAvailableByDoctor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	a := seedSchedule(t, store, "b-doc", fixedNow.AddDate(0, 0, 2), "09:00", "09:30")
	seedSchedule(t, store, "a-doc", fixedNow.AddDate(0, 0, 3), "14:00")
	full := seedSchedule(t, store, "c-doc", fixedNow.AddDate(0, 0, 1), "08:00")

	ok, err := store.TrySetSlotState(ctx, SlotRef{ScheduleID: a.ID, SlotID: a.Slots[0].ID}, SlotAvailable, SlotBooked)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = store.ToggleSlotActive(ctx, SlotRef{ScheduleID: full.ID, SlotID: full.Slots[0].ID}, boolPtr(false))
	require.NoError(t, err)

	var got []AvailableSchedule
	for entry, err := range store.AvailableByDoctor(ctx) {
		require.NoError(t, err)
		got = append(got, entry)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "a-doc", got[0].DoctorID)
	assert.Equal(t, "b-doc", got[1].DoctorID)
	require.Len(t, got[1].Slots, 1)
	assert.Equal(t, "09:30", got[1].Slots[0].Time)

	t.Run("stops early", func(t *testing.T) {
		n := 0
		for range store.AvailableByDoctor(ctx) {
			n++
			break
		}
		assert.Equal(t, 1, n)
	})
}
