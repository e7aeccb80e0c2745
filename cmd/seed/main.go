package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/logger"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	doctors := flag.Int("doctors", 50, "number of doctors to create")
	days := flag.Int("days", 14, "days of schedules per doctor, starting today")
	slotsPerDay := flag.Int("slots", 16, "30 minute slots per day starting at 08:00")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.UsesMemory() {
		log.Fatal("seeding needs STORE_BACKEND=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PgMaxConns)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	store := schedule.NewPgStore(pool, time.Now)

	created, err := seedSchedules(context.Background(), store, log, *doctors, *days, *slotsPerDay)
	if err != nil {
		log.Fatal("seed schedules", zap.Error(err))
	}

	log.Info("seed complete", zap.Int("schedules", created))
}

func seedSchedules(ctx context.Context, store schedule.Store, log *zap.Logger, doctors, days, slotsPerDay int) (int, error) {
	log.Info("seeding schedules", zap.Int("doctors", doctors), zap.Int("days", days))

	times := slotTimes(slotsPerDay)
	today := schedule.Today(time.Now())
	created := 0

	for i := 0; i < doctors; i++ {
		doctorID := gofakeit.UUID()
		name := "Dr " + gofakeit.LastName()
		specialization := gofakeit.RandomString(specializations)

		for d := 0; d < days; d++ {
			slots := make([]schedule.NewSlot, 0, len(times))
			for _, t := range times {
				active := gofakeit.Number(1, 10) > 1
				slots = append(slots, schedule.NewSlot{Time: t, Active: &active})
			}

			_, err := store.CreateSchedule(ctx, schedule.NewSchedule{
				DoctorID:       doctorID,
				DoctorName:     name,
				Specialization: specialization,
				Date:           today.AddDate(0, 0, d),
				Slots:          slots,
			})
			if errors.Is(err, schedule.ErrDuplicateSchedule) {
				continue
			}
			if err != nil {
				return created, fmt.Errorf("doctor %s day %d: %w", doctorID, d, err)
			}
			created++
		}

		if (i+1)%10 == 0 {
			log.Info("doctors seeded", zap.Int("done", i+1), zap.Int("total", doctors))
		}
	}

	return created, nil
}

func slotTimes(n int) []string {
	start := time.Date(2000, 1, 1, 8, 0, 0, 0, time.UTC)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, start.Add(time.Duration(i)*30*time.Minute).Format("15:04"))
	}
	return out
}
