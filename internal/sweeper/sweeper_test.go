package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/reservation"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type stubReleaser struct {
	calls    atomic.Int32
	failFor  int32
	released int
	panics   bool
}

func (s *stubReleaser) ReleaseExpired(context.Context) (int, error) {
	n := s.calls.Add(1)
	if s.panics {
		panic("boom")
	}
	if n <= s.failFor {
		return 0, errors.New("store unavailable")
	}
	return s.released, nil
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type openLocker struct{ keys []string }

func (l *openLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

func TestRunOnceBacksOffAndRecovers(t *testing.T) {
	rel := &stubReleaser{failFor: 3, released: 2}
	s := New(rel, nil, zap.NewNop(), Config{Interval: time.Second, MaxBackoff: 5 * time.Second})
	ctx := context.Background()

	assert.Equal(t, 2*time.Second, s.RunOnce(ctx))
	assert.Equal(t, 4*time.Second, s.RunOnce(ctx))
	assert.Equal(t, 5*time.Second, s.RunOnce(ctx), "capped")
	assert.Equal(t, time.Second, s.RunOnce(ctx), "reset after success")
}

func TestRunOnceSurvivesPanic(t *testing.T) {
	s := New(&stubReleaser{panics: true}, nil, zap.NewNop(), Config{Interval: time.Second, MaxBackoff: time.Minute})

	assert.NotPanics(t, func() {
		assert.Equal(t, 2*time.Second, s.RunOnce(context.Background()))
	})
}

func TestRunOnceSkipsWithoutLock(t *testing.T) {
	rel := &stubReleaser{}
	s := New(rel, busyLocker{}, zap.NewNop(), Config{Interval: time.Second})

	assert.Equal(t, time.Second, s.RunOnce(context.Background()))
	assert.Equal(t, int32(0), rel.calls.Load())
}

func TestRunOnceUsesLeaderLock(t *testing.T) {
	rel := &stubReleaser{released: 1}
	locker := &openLocker{}
	s := New(rel, locker, zap.NewNop(), Config{Interval: time.Second})

	s.RunOnce(context.Background())

	assert.Equal(t, []string{lockName}, locker.keys)
	assert.Equal(t, int32(1), rel.calls.Load())
}

func TestRunStopsOnCancel(t *testing.T) {
	rel := &stubReleaser{}
	s := New(rel, nil, zap.NewNop(), Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return rel.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestExpiredHoldIsReleasedByRunningSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slots := schedule.NewMemoryStore(nil)
	s, err := slots.CreateSchedule(ctx, schedule.NewSchedule{
		DoctorID: "doc-1",
		Date:     time.Now().AddDate(0, 0, 1),
		Slots:    []schedule.NewSlot{{ID: "s1", Time: "09:00"}},
	})
	require.NoError(t, err)
	ref := schedule.SlotRef{ScheduleID: s.ID, SlotID: "s1"}

	mgr := reservation.NewManager(slots, reservation.NewMemoryStore(), zap.NewNop(), reservation.Options{})
	_, err = mgr.Reserve(ctx, ref, "patient-1", 300*time.Millisecond)
	require.NoError(t, err)

	go New(mgr, nil, zap.NewNop(), Config{Interval: 20 * time.Millisecond}).Run(ctx)

	state := func() schedule.SlotState {
		d, err := slots.GetSlot(ctx, ref)
		if err != nil {
			return ""
		}
		return d.Slot.State
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, schedule.SlotReserved, state(), "hold is still live")

	assert.Eventually(t, func() bool { return state() == schedule.SlotAvailable }, 2*time.Second, 10*time.Millisecond)

	_, ok, err := mgr.Live(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
}
