package reservation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock *fakeClock
	slots *schedule.MemoryStore
	mgr   *Manager
	ref   schedule.SlotRef
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2030, time.May, 1, 8, 0, 0, 0, time.UTC)}
	slots := schedule.NewMemoryStore(clock.Now)

	s, err := slots.CreateSchedule(context.Background(), schedule.NewSchedule{
		DoctorID:   "doc-1",
		DoctorName: "Dr Who",
		Date:       clock.Now().AddDate(0, 0, 1),
		Slots:      []schedule.NewSlot{{ID: "s1", Time: "09:00"}},
	})
	require.NoError(t, err)

	mgr := NewManager(slots, NewMemoryStore(), zap.NewNop(), Options{
		MaxTTL: time.Hour,
		Now:    clock.Now,
	})
	return &fixture{
		clock: clock,
		slots: slots,
		mgr:   mgr,
		ref:   schedule.SlotRef{ScheduleID: s.ID, SlotID: "s1"},
	}
}

func (f *fixture) state(t *testing.T) schedule.SlotState {
	t.Helper()
	d, err := f.slots.GetSlot(context.Background(), f.ref)
	require.NoError(t, err)
	return d.Slot.State
}

func TestReserve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r, err := f.mgr.Reserve(ctx, f.ref, "patient-1", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), r.ExpiresAt)
	assert.Equal(t, schedule.SlotReserved, f.state(t))

	_, err = f.mgr.Reserve(ctx, f.ref, "patient-2", 5*time.Minute)
	assert.ErrorIs(t, err, schedule.ErrSlotUnavailable)

	live, ok, err := f.mgr.Live(ctx, f.ref)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "patient-1", live.RequesterID)
}

func TestReserveRejectsBadTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, ttl := range []time.Duration{0, -time.Second, 2 * time.Hour} {
		_, err := f.mgr.Reserve(ctx, f.ref, "patient-1", ttl)
		assert.ErrorIs(t, err, ErrInvalidTTL, "ttl %s", ttl)
	}
	assert.Equal(t, schedule.SlotAvailable, f.state(t))
}

func TestReserveUnknownSlot(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Reserve(context.Background(), schedule.SlotRef{ScheduleID: f.ref.ScheduleID, SlotID: "nope"}, "p", time.Minute)
	assert.ErrorIs(t, err, schedule.ErrSlotNotFound)
}

func TestConcurrentReserveHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 50
	results := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.mgr.Reserve(ctx, f.ref, fmt.Sprintf("patient-%d", i), time.Minute)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, schedule.ErrSlotUnavailable)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, schedule.SlotReserved, f.state(t))
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.Reserve(ctx, f.ref, "patient-1", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, f.mgr.Cancel(ctx, f.ref, "patient-2"), ErrReservationNotFound, "only the holder may cancel")

	require.NoError(t, f.mgr.Cancel(ctx, f.ref, "patient-1"))
	assert.Equal(t, schedule.SlotAvailable, f.state(t))

	assert.ErrorIs(t, f.mgr.Cancel(ctx, f.ref, "patient-1"), ErrReservationNotFound)
	assert.Equal(t, schedule.SlotAvailable, f.state(t))
}

func TestExpiredHoldIsNotLive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.Reserve(ctx, f.ref, "patient-1", 5*time.Second)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)

	_, ok, err := f.mgr.Live(ctx, f.ref)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.mgr.Consume(ctx, f.ref, "patient-1")
	assert.ErrorIs(t, err, ErrReservationNotFound)

	assert.ErrorIs(t, f.mgr.Cancel(ctx, f.ref, "patient-1"), ErrReservationNotFound)
	assert.Equal(t, schedule.SlotReserved, f.state(t), "slot stays held until swept")
}

func TestReleaseExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.Reserve(ctx, f.ref, "patient-1", 5*time.Second)
	require.NoError(t, err)

	n, err := f.mgr.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, schedule.SlotReserved, f.state(t))

	f.clock.Advance(5*time.Second + time.Millisecond)

	n, err = f.mgr.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, schedule.SlotAvailable, f.state(t))

	n, err = f.mgr.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a hold is released once")
}

func TestReleaseSkipsSlotThatMovedOn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.mgr.Reserve(ctx, f.ref, "patient-1", time.Second)
	require.NoError(t, err)

	// Simulate the slot being booked under a stale record.
	ok, err := f.slots.TrySetSlotState(ctx, f.ref, schedule.SlotReserved, schedule.SlotBooked)
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(2 * time.Second)

	n, err := f.mgr.ReleaseExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, schedule.SlotBooked, f.state(t))

	due, err := f.mgr.store.Due(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "stale record is dropped")
}

func TestTTLFromSeconds(t *testing.T) {
	f := newFixture(t)

	ttl, err := f.mgr.TTLFromSeconds(90)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, ttl)

	for _, seconds := range []int64{0, -1, 3601, 18446744074, math.MaxInt64} {
		_, err := f.mgr.TTLFromSeconds(seconds)
		assert.ErrorIs(t, err, ErrInvalidTTL, "seconds %d", seconds)
	}

	unbounded := NewManager(f.slots, NewMemoryStore(), zap.NewNop(), Options{})
	_, err = unbounded.TTLFromSeconds(math.MaxInt64)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

type ownerFunc func(ctx context.Context, ref schedule.SlotRef) (bool, error)

func (f ownerFunc) SlotOwned(ctx context.Context, ref schedule.SlotRef) (bool, error) {
	return f(ctx, ref)
}

func (f *fixture) book(t *testing.T) {
	t.Helper()
	ok, err := f.slots.TrySetSlotState(context.Background(), f.ref, schedule.SlotAvailable, schedule.SlotBooked)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestQueuedBookedRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("freed on next sweep", func(t *testing.T) {
		f := newFixture(t)
		f.book(t)
		f.mgr.SetSlotOwners(ownerFunc(func(context.Context, schedule.SlotRef) (bool, error) { return false, nil }))

		require.NoError(t, f.mgr.QueueBookedRelease(ctx, f.ref, "appt-1"))

		_, ok, err := f.mgr.Live(ctx, f.ref)
		require.NoError(t, err)
		assert.False(t, ok, "a queued release is not a hold")

		n, err := f.mgr.ReleaseExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, schedule.SlotAvailable, f.state(t))
	})

	t.Run("skipped when a new appointment owns the slot", func(t *testing.T) {
		f := newFixture(t)
		f.book(t)
		f.mgr.SetSlotOwners(ownerFunc(func(context.Context, schedule.SlotRef) (bool, error) { return true, nil }))

		require.NoError(t, f.mgr.QueueBookedRelease(ctx, f.ref, "appt-1"))

		n, err := f.mgr.ReleaseExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, schedule.SlotBooked, f.state(t))

		due, err := f.mgr.store.Due(ctx, f.clock.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("requeued when the owner check fails", func(t *testing.T) {
		f := newFixture(t)
		f.book(t)
		calls := 0
		f.mgr.SetSlotOwners(ownerFunc(func(context.Context, schedule.SlotRef) (bool, error) {
			calls++
			if calls == 1 {
				return false, errors.New("connection refused")
			}
			return false, nil
		}))

		require.NoError(t, f.mgr.QueueBookedRelease(ctx, f.ref, "appt-1"))

		_, err := f.mgr.ReleaseExpired(ctx)
		require.Error(t, err)
		assert.Equal(t, schedule.SlotBooked, f.state(t))

		n, err := f.mgr.ReleaseExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, schedule.SlotAvailable, f.state(t))
	})
}
