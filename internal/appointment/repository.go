package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all persistence needed by the service.
type Repository interface {
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointmentStatus only applies when the row is still in from;
	// otherwise it returns ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// SupersedeAppointment cancels oldID (if still in from), links it to
	// replacement and inserts replacement, all or nothing.
	SupersedeAppointment(ctx context.Context, oldID uuid.UUID, from AppointmentStatus, replacement *Appointment) (*Appointment, error)

	// Newest first
	ListAppointmentsByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error)

	// SlotHasOwner reports whether a pending, approved or completed
	// appointment references the slot.
	SlotHasOwner(ctx context.Context, ref schedule.SlotRef) (bool, error)

	// Completion job
	ListApprovedBefore(ctx context.Context, date time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
