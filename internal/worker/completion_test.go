package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
)

type stubCompleter struct {
	mu      sync.Mutex
	pending int
	calls   int
	err     error
}

func (s *stubCompleter) CompletePastAppointments(_ context.Context, batch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	n := min(batch, s.pending)
	s.pending -= n
	return n, nil
}

type stubLocker struct {
	acquire bool
}

func (l stubLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	if !l.acquire {
		return redisclient.ErrLockNotAcquired
	}
	return fn(ctx)
}

func TestRunOnceDrainsBatches(t *testing.T) {
	c := &stubCompleter{pending: 25}
	w := NewCompletionWorker(c, nil, zap.NewNop(), "@hourly", 10)

	w.RunOnce(context.Background())

	assert.Equal(t, 0, c.pending)
	assert.Equal(t, 3, c.calls)
}

func TestRunOnceSkipsWithoutLock(t *testing.T) {
	c := &stubCompleter{pending: 5}
	w := NewCompletionWorker(c, stubLocker{acquire: false}, zap.NewNop(), "@hourly", 10)

	w.RunOnce(context.Background())

	assert.Equal(t, 0, c.calls)
	assert.Equal(t, 5, c.pending)
}

func TestRunOnceStopsOnError(t *testing.T) {
	c := &stubCompleter{pending: 5, err: errors.New("db down")}
	w := NewCompletionWorker(c, stubLocker{acquire: true}, zap.NewNop(), "@hourly", 10)

	w.RunOnce(context.Background())

	assert.Equal(t, 1, c.calls)
}

func TestStartStopWithInvalidCronExpression(t *testing.T) {
	w := NewCompletionWorker(&stubCompleter{}, nil, zap.NewNop(), "not a cron expression", 10)
	w.Start(context.Background())
	w.Stop()
}
