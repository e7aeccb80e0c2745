// Package app wires stores and services from configuration for the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/directory"
	"github.com/hackgods/clinic-slot-booking/internal/events"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
	"github.com/hackgods/clinic-slot-booking/internal/reservation"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
	"github.com/hackgods/clinic-slot-booking/internal/sweeper"
	"github.com/hackgods/clinic-slot-booking/internal/worker"
)

// App holds every long lived dependency of a process.
type App struct {
	Config    config.Config
	Log       *zap.Logger
	PgPool    *pgxpool.Pool // nil on the memory backend
	Redis     *redis.Client // nil on the memory backend
	Schedules schedule.Store
	Holds     *reservation.Manager
	Bookings  *appointment.Service
	Directory *directory.Directory
	Publisher events.Publisher
}

// Build connects the configured backends. On error everything opened so far
// is closed again.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var (
		schedules schedule.Store
		repo      appointment.Repository
		holdStore reservation.Store
	)

	if cfg.UsesMemory() {
		schedules = schedule.NewMemoryStore(time.Now)
		repo = appointment.NewMemoryRepository(time.Now)
		holdStore = reservation.NewMemoryStore()
		log.Warn("running on the in-memory backend; state is lost on restart and not shared between replicas")
	} else {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		a.PgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PgMaxConns)
		cancel()
		if err != nil {
			return nil, err
		}
		log.Info("connected to postgres")

		a.Redis, err = redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

		schedules = schedule.NewPgStore(a.PgPool, time.Now)
		repo = appointment.NewPgRepository(a.PgPool)
		holdStore = redisclient.NewReservationStore(a.Redis)
	}

	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsQueue)
		if err != nil {
			return nil, err
		}
		a.Publisher = pub
		log.Info("publishing appointment events", zap.String("queue", cfg.EventsQueue))
	} else {
		a.Publisher = events.NewLogPublisher(log)
	}

	a.Schedules = schedules
	a.Holds = reservation.NewManager(schedules, holdStore, log, reservation.Options{
		DefaultTTL: cfg.ReservationTTL,
		MaxTTL:     cfg.MaxReservationTTL,
		BatchSize:  cfg.SweepBatchSize,
	})
	a.Bookings = appointment.NewService(repo, schedules, a.Holds, a.Publisher, log)
	a.Directory = directory.New(schedules, repo)

	return a, nil
}

// Sweeper builds the expiry sweeper. With redis available, replicas share a
// leader lock so one of them sweeps per tick.
func (a *App) Sweeper() *sweeper.Sweeper {
	return sweeper.New(a.Holds, a.locker(), a.Log, sweeper.Config{
		Interval:   a.Config.SweepInterval,
		MaxBackoff: a.Config.SweepMaxBackoff,
	})
}

// CompletionWorker builds the cron job that completes past approved appointments.
func (a *App) CompletionWorker() *worker.CompletionWorker {
	return worker.NewCompletionWorker(a.Bookings, a.locker(), a.Log, a.Config.CompletionCron, a.Config.SweepBatchSize)
}

func (a *App) locker() redisclient.Locker {
	if a.Redis == nil {
		return nil
	}
	return redisclient.NewRedisLocker(a.Redis, a.Config.LockTTL, a.Log)
}

func (a *App) Close() {
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.PgPool != nil {
		a.PgPool.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.Log.Warn("error closing dependencies", zap.Error(err))
	}
}
