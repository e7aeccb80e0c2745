package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Directory is the read side used for discovery and history views.
type Directory struct {
	slots schedule.Store
	repo  appointment.Repository
}

func New(slots schedule.Store, repo appointment.Repository) *Directory {
	return &Directory{slots: slots, repo: repo}
}

// AvailableSchedules collects every schedule that still has bookable slots.
func (d *Directory) AvailableSchedules(ctx context.Context) ([]schedule.AvailableSchedule, error) {
	result := []schedule.AvailableSchedule{}
	for entry, err := range d.slots.AvailableByDoctor(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list available schedules: %w", err)
		}
		result = append(result, entry)
	}
	return result, nil
}

func (d *Directory) Schedule(ctx context.Context, id uuid.UUID) (*schedule.Schedule, error) {
	s, err := d.slots.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

func (d *Directory) SchedulesByDoctor(ctx context.Context, doctorID string) ([]schedule.Schedule, error) {
	list, err := d.slots.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list schedules by doctor: %w", err)
	}
	if list == nil {
		list = []schedule.Schedule{}
	}
	return list, nil
}

// Appointment retrieves an appointment by ID
func (d *Directory) Appointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, err := d.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

// AppointmentsByDoctor lists a doctor's appointments, newest first
func (d *Directory) AppointmentsByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]appointment.Appointment, error) {
	limit, offset = page(limit, offset)
	list, err := d.repo.ListAppointmentsByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return list, nil
}

// AppointmentsByPatient lists a patient's appointments, newest first
func (d *Directory) AppointmentsByPatient(ctx context.Context, patientID string, limit, offset int) ([]appointment.Appointment, error) {
	limit, offset = page(limit, offset)
	list, err := d.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return list, nil
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
