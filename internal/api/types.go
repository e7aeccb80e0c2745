package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/reservation"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type SlotInput struct {
	ID     string `json:"id" validate:"max=64"`
	Time   string `json:"time" validate:"required,max=32"`
	Active *bool  `json:"active"`
}

type CreateScheduleRequest struct {
	DoctorID       string      `json:"doctorUserId" validate:"max=128"`
	DoctorName     string      `json:"doctorName" validate:"required,max=200"`
	Specialization string      `json:"specialization" validate:"max=200"`
	Date           string      `json:"date" validate:"required,datetime=2006-01-02"`
	Slots          []SlotInput `json:"slots" validate:"dive"`
}

type EditSlotRequest struct {
	Time string `json:"time" validate:"required,max=32"`
}

// ToggleSlotRequest flips the slot when Active is omitted.
type ToggleSlotRequest struct {
	Active *bool `json:"active"`
}

type ReserveRequest struct {
	PatientUserID string `json:"patientUserId" validate:"max=128"`
	TTL           *int   `json:"ttl"` // seconds
}

// FinalizeRequest books a slot. Doctor, date and slot time are accepted for
// display clients but the slot store is authoritative for them.
type FinalizeRequest struct {
	ScheduleID    string  `json:"scheduleId" validate:"required,uuid"`
	SlotID        string  `json:"slotId" validate:"required"`
	PatientUserID string  `json:"patientUserId" validate:"max=128"`
	PatientName   string  `json:"patientName" validate:"max=200"`
	DoctorUserID  string  `json:"doctorUserId"`
	DoctorName    string  `json:"doctorName"`
	Date          string  `json:"date"`
	SlotTime      string  `json:"slotTime"`
	Reason        string  `json:"reason" validate:"max=2000"`
	DocumentURL   *string `json:"documentUrl" validate:"omitempty,url"`
}

type CancelRequest struct {
	ActorID string `json:"actorId"`
}

type RescheduleRequest struct {
	ScheduleID string `json:"scheduleId" validate:"required,uuid"`
	SlotID     string `json:"slotId" validate:"required"`
}

type SlotResponse struct {
	ID     string `json:"id"`
	Time   string `json:"time"`
	Active bool   `json:"active"`
	State  string `json:"state"`
}

type ScheduleResponse struct {
	ID             uuid.UUID      `json:"id"`
	DoctorID       string         `json:"doctorUserId"`
	DoctorName     string         `json:"doctorName"`
	Specialization string         `json:"specialization"`
	Date           string         `json:"date"`
	Slots          []SlotResponse `json:"slots"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type AvailableScheduleResponse struct {
	ScheduleID     uuid.UUID      `json:"scheduleId"`
	DoctorID       string         `json:"doctorUserId"`
	DoctorName     string         `json:"doctorName"`
	Specialization string         `json:"specialization"`
	Date           string         `json:"date"`
	Slots          []SlotResponse `json:"slots"`
}

type ReservationResponse struct {
	ScheduleID    uuid.UUID `json:"scheduleId"`
	SlotID        string    `json:"slotId"`
	PatientUserID string    `json:"patientUserId"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	PatientUserID  string     `json:"patientUserId"`
	PatientName    string     `json:"patientName"`
	DoctorID       string     `json:"doctorUserId"`
	DoctorName     string     `json:"doctorName"`
	Specialization string     `json:"specialization"`
	ScheduleID     uuid.UUID  `json:"scheduleId"`
	SlotID         string     `json:"slotId"`
	Date           string     `json:"date"`
	SlotTime       string     `json:"slotTime"`
	Reason         string     `json:"reason,omitempty"`
	DocumentURL    *string    `json:"documentUrl,omitempty"`
	Status         string     `json:"status"`
	Supersedes     *uuid.UUID `json:"supersedes,omitempty"`
	SupersededBy   *uuid.UUID `json:"supersededBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func toSlotResponses(slots []schedule.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func toSlotResponse(s schedule.Slot) SlotResponse {
	return SlotResponse{ID: s.ID, Time: s.Time, Active: s.Active, State: string(s.State)}
}

func toScheduleResponse(s *schedule.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:             s.ID,
		DoctorID:       s.DoctorID,
		DoctorName:     s.DoctorName,
		Specialization: s.Specialization,
		Date:           s.Date.Format(schedule.DateLayout),
		Slots:          toSlotResponses(s.Slots),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func toAvailableResponses(in []schedule.AvailableSchedule) []AvailableScheduleResponse {
	out := make([]AvailableScheduleResponse, 0, len(in))
	for _, a := range in {
		out = append(out, AvailableScheduleResponse{
			ScheduleID:     a.ScheduleID,
			DoctorID:       a.DoctorID,
			DoctorName:     a.DoctorName,
			Specialization: a.Specialization,
			Date:           a.Date.Format(schedule.DateLayout),
			Slots:          toSlotResponses(a.Slots),
		})
	}
	return out
}

func toReservationResponse(r *reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		ScheduleID:    r.Slot.ScheduleID,
		SlotID:        r.Slot.SlotID,
		PatientUserID: r.RequesterID,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		PatientUserID:  a.PatientID,
		PatientName:    a.PatientName,
		DoctorID:       a.DoctorID,
		DoctorName:     a.DoctorName,
		Specialization: a.Specialization,
		ScheduleID:     a.ScheduleID,
		SlotID:         a.SlotID,
		Date:           a.Date.Format(schedule.DateLayout),
		SlotTime:       a.SlotTime,
		Reason:         a.Reason,
		DocumentURL:    a.DocumentURL,
		Status:         string(a.Status),
		Supersedes:     a.Supersedes,
		SupersededBy:   a.SupersededBy,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toAppointmentResponses(in []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(in))
	for i := range in {
		out = append(out, toAppointmentResponse(&in[i]))
	}
	return out
}
