package schedule

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/db"
)

// newPgTestStore runs against TEST_POSTGRES_DSN and is skipped without it.
func newPgTestStore(t *testing.T) *PgStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	m, err := db.NewMigrator(dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	pool, err := db.ConnectPostgres(context.Background(), dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewPgStore(pool, time.Now)
}

func seedPgSchedule(t *testing.T, store *PgStore, times ...string) *Schedule {
	t.Helper()
	var slots []NewSlot
	for _, tm := range times {
		slots = append(slots, NewSlot{Time: tm})
	}
	s, err := store.CreateSchedule(context.Background(), NewSchedule{
		DoctorID:   "doc-" + uuid.NewString(),
		DoctorName: "Dr Pg",
		Date:       time.Now().AddDate(0, 0, 3),
		Slots:      slots,
	})
	require.NoError(t, err)
	return s
}

func TestPgAddSlotTouchesSchedule(t *testing.T) {
	ctx := context.Background()
	store := newPgTestStore(t)
	s := seedPgSchedule(t, store, "09:00")

	time.Sleep(10 * time.Millisecond)

	added, err := store.AddSlot(ctx, s.ID, NewSlot{Time: "09:30"})
	require.NoError(t, err)
	assert.Equal(t, SlotAvailable, added.State)

	got, err := store.GetSchedule(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Slots, 2)
	assert.True(t, got.UpdatedAt.After(s.UpdatedAt))

	_, err = store.AddSlot(ctx, s.ID, NewSlot{Time: "09:30"})
	assert.ErrorIs(t, err, ErrDuplicateSlot)

	_, err = store.AddSlot(ctx, uuid.New(), NewSlot{Time: "10:00"})
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestPgHeldSlotCannotBeEdited(t *testing.T) {
	ctx := context.Background()
	store := newPgTestStore(t)
	s := seedPgSchedule(t, store, "09:00", "09:30")
	ref := SlotRef{ScheduleID: s.ID, SlotID: s.Slots[0].ID}

	ok, err := store.TrySetSlotState(ctx, ref, SlotAvailable, SlotBooked)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.EditSlot(ctx, ref, "12:00")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.ErrorIs(t, store.DeleteSlot(ctx, ref), ErrSlotUnavailable)

	_, err = store.EditSlot(ctx, SlotRef{ScheduleID: s.ID, SlotID: "missing"}, "12:00")
	assert.ErrorIs(t, err, ErrSlotNotFound)

	free := SlotRef{ScheduleID: s.ID, SlotID: s.Slots[1].ID}
	_, err = store.EditSlot(ctx, free, "09:00")
	assert.ErrorIs(t, err, ErrDuplicateSlot)

	edited, err := store.EditSlot(ctx, free, "12:00")
	require.NoError(t, err)
	assert.Equal(t, "12:00", edited.Time)
}
