package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
)

const lockName = "expiry-sweeper"

// Releaser frees slots whose reservation has lapsed.
type Releaser interface {
	ReleaseExpired(ctx context.Context) (int, error)
}

type Config struct {
	Interval   time.Duration
	MaxBackoff time.Duration
	RunTimeout time.Duration
}

// Sweeper returns expired RESERVED slots to AVAILABLE. When a locker is set
// only the replica holding the lock sweeps on a given tick.
type Sweeper struct {
	releaser Releaser
	locker   redisclient.Locker
	log      *zap.Logger

	interval   time.Duration
	maxBackoff time.Duration
	runTimeout time.Duration
	failures   int
}

func New(releaser Releaser, locker redisclient.Locker, log *zap.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = 30 * cfg.Interval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 20 * time.Second
	}
	return &Sweeper{
		releaser:   releaser,
		locker:     locker,
		log:        log.Named("sweeper"),
		interval:   cfg.Interval,
		maxBackoff: cfg.MaxBackoff,
		runTimeout: cfg.RunTimeout,
	}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("expiry sweeper started", zap.Duration("interval", s.interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-timer.C:
			timer.Reset(s.RunOnce(ctx))
		}
	}
}

// RunOnce performs a single sweep and returns the wait before the next one.
func (s *Sweeper) RunOnce(ctx context.Context) time.Duration {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	released, err := s.sweep(runCtx)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.log.Debug("another instance holds the sweeper lock")
		s.failures = 0
		return s.interval
	case err != nil:
		s.failures++
		wait := s.backoff()
		s.log.Error("expiry sweep failed",
			zap.Error(err),
			zap.Int("released", released),
			zap.Int("consecutive_failures", s.failures),
			zap.Duration("retry_in", wait),
		)
		return wait
	}

	s.failures = 0
	if released > 0 {
		s.log.Info("released expired reservations",
			zap.Int("released", released),
			zap.Duration("took", time.Since(start)),
		)
	}
	return s.interval
}

func (s *Sweeper) sweep(ctx context.Context) (released int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	if s.locker == nil {
		return s.releaser.ReleaseExpired(ctx)
	}

	err = s.locker.WithLock(ctx, lockName, func(lockCtx context.Context) error {
		var runErr error
		released, runErr = s.releaser.ReleaseExpired(lockCtx)
		return runErr
	})
	return released, err
}

func (s *Sweeper) backoff() time.Duration {
	wait := s.interval
	for i := 0; i < s.failures; i++ {
		wait *= 2
		if wait >= s.maxBackoff {
			return s.maxBackoff
		}
	}
	return wait
}
