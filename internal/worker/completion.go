package worker

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
)

const completionLockKey = "completion-worker"

// Completer moves approved appointments whose date has passed to COMPLETED.
type Completer interface {
	CompletePastAppointments(ctx context.Context, batch int) (int, error)
}

// CompletionWorker runs the completer on a cron schedule.
type CompletionWorker struct {
	completer Completer
	locker    redisclient.Locker
	log       *zap.Logger
	cronExpr  string
	batch     int

	cron   *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

// NewCompletionWorker builds a worker. locker may be nil for single process setups.
func NewCompletionWorker(completer Completer, locker redisclient.Locker, log *zap.Logger, cronExpr string, batch int) *CompletionWorker {
	if batch <= 0 {
		batch = 200
	}
	return &CompletionWorker{
		completer: completer,
		locker:    locker,
		log:       log.Named("completion"),
		cronExpr:  cronExpr,
		batch:     batch,
	}
}

// Start schedules the job. An invalid expression falls back to @hourly.
func (w *CompletionWorker) Start(ctx context.Context) {
	w.runCtx, w.cancel = context.WithCancel(ctx)

	c := cron.New()
	if _, err := c.AddFunc(w.cronExpr, func() { w.RunOnce(w.runCtx) }); err != nil {
		w.log.Warn("invalid completion cron expression; falling back to @hourly", zap.String("cron", w.cronExpr), zap.Error(err))
		c = cron.New()
		_, _ = c.AddFunc("@hourly", func() { w.RunOnce(w.runCtx) })
	}
	c.Start()
	w.cron = c

	w.log.Info("completion worker started", zap.String("cron", w.cronExpr))
}

// Stop cancels in-flight runs and waits for them to return.
func (w *CompletionWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// RunOnce completes past appointments batch by batch until none are left.
func (w *CompletionWorker) RunOnce(ctx context.Context) {
	run := func(ctx context.Context) error {
		start := time.Now()
		total := 0
		for {
			n, err := w.completer.CompletePastAppointments(ctx, w.batch)
			total += n
			if err != nil {
				return err
			}
			if n < w.batch || ctx.Err() != nil {
				break
			}
		}
		w.log.Info("completion run finished", zap.Int("completed", total), zap.Duration("took", time.Since(start)))
		return nil
	}

	var err error
	if w.locker != nil {
		err = w.locker.WithLock(ctx, completionLockKey, run)
	} else {
		err = run(ctx)
	}

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.log.Debug("completion lock held by another instance")
	case err != nil:
		w.log.Error("completion run failed", zap.Error(err))
	}
}
