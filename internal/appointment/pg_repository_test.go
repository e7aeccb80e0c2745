package appointment

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-slot-booking/internal/db"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

func TestPgSlotHasOwner(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	m, err := db.NewMigrator(dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Close())

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	slots := schedule.NewPgStore(pool, time.Now)
	repo := NewPgRepository(pool)

	s, err := slots.CreateSchedule(ctx, schedule.NewSchedule{
		DoctorID:   "doc-" + uuid.NewString(),
		DoctorName: "Dr Pg",
		Date:       time.Now().AddDate(0, 0, 3),
		Slots:      []schedule.NewSlot{{ID: "s1", Time: "09:00"}},
	})
	require.NoError(t, err)
	ref := schedule.SlotRef{ScheduleID: s.ID, SlotID: "s1"}

	owned, err := repo.SlotHasOwner(ctx, ref)
	require.NoError(t, err)
	assert.False(t, owned)

	appt, err := repo.CreateAppointment(ctx, &Appointment{
		PatientID:  "p1",
		DoctorID:   s.DoctorID,
		DoctorName: s.DoctorName,
		ScheduleID: s.ID,
		SlotID:     "s1",
		Date:       s.Date,
		SlotTime:   "09:00",
		Status:     StatusPending,
	})
	require.NoError(t, err)

	owned, err = repo.SlotHasOwner(ctx, ref)
	require.NoError(t, err)
	assert.True(t, owned)

	_, err = repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled)
	require.NoError(t, err)

	owned, err = repo.SlotHasOwner(ctx, ref)
	require.NoError(t, err)
	assert.False(t, owned)
}
