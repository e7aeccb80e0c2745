package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusApproved  AppointmentStatus = "APPROVED"
	StatusRejected  AppointmentStatus = "REJECTED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusCompleted AppointmentStatus = "COMPLETED"
)

// HoldsSlot reports whether an appointment in this status owns its BOOKED slot.
func (s AppointmentStatus) HoldsSlot() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCompleted:
		return true
	}
	return false
}

type Appointment struct {
	ID             uuid.UUID
	PatientID      string
	PatientName    string
	DoctorID       string
	DoctorName     string
	Specialization string
	ScheduleID     uuid.UUID
	SlotID         string
	Date           time.Time
	SlotTime       string
	Reason         string
	DocumentURL    *string
	Status         AppointmentStatus
	Supersedes     *uuid.UUID
	SupersededBy   *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a *Appointment) Slot() schedule.SlotRef {
	return schedule.SlotRef{ScheduleID: a.ScheduleID, SlotID: a.SlotID}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	ActorID       string
	Payload       []byte
	CreatedAt     time.Time
}

// BookingRequest carries what the patient supplies at finalize time. Doctor,
// date and slot time come from the slot store.
type BookingRequest struct {
	Slot        schedule.SlotRef
	PatientID   string
	PatientName string
	Reason      string
	DocumentURL *string
}
