package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/events"
	"github.com/hackgods/clinic-slot-booking/internal/reservation"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var (
	ErrInvalidStateTransition = errors.New("invalid appointment state transition")
)

const statusRetries = 3

// Service finalizes bookings and drives the appointment lifecycle. It is the
// only writer of the BOOKED slot state.
type Service struct {
	repo      Repository
	slots     schedule.Store
	holds     *reservation.Manager
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

// NewService also registers the service as the slot ownership check of holds,
// so queued BOOKED releases never free a slot a new appointment owns.
func NewService(repo Repository, slots schedule.Store, holds *reservation.Manager, publisher events.Publisher, log *zap.Logger) *Service {
	s := &Service{
		repo:      repo,
		slots:     slots,
		holds:     holds,
		publisher: publisher,
		log:       log.Named("appointment"),
		now:       time.Now,
	}
	holds.SetSlotOwners(s)
	return s
}

// WithClock replaces the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Finalize books a slot for a patient. A live hold owned by the patient is
// consumed; otherwise the slot must still be AVAILABLE.
func (s *Service) Finalize(ctx context.Context, req BookingRequest) (*Appointment, error) {
	detail, err := s.slots.GetSlot(ctx, req.Slot)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}

	viaHold := false
	hold, err := s.holds.Consume(ctx, req.Slot, req.PatientID)
	switch {
	case err == nil:
		viaHold = true
		ok, err := s.slots.TrySetSlotState(ctx, req.Slot, schedule.SlotReserved, schedule.SlotBooked)
		if err != nil {
			s.holds.Abandon(ctx, *hold)
			return nil, fmt.Errorf("book reserved slot: %w", err)
		}
		if !ok {
			return nil, schedule.ErrSlotUnavailable
		}
	case errors.Is(err, reservation.ErrReservationNotFound):
		ok, err := s.slots.TrySetSlotState(ctx, req.Slot, schedule.SlotAvailable, schedule.SlotBooked)
		if err != nil {
			return nil, fmt.Errorf("book slot: %w", err)
		}
		if !ok {
			s.log.Debug("finalize lost slot race", zap.Stringer("slot", req.Slot), zap.String("patient_id", req.PatientID))
			return nil, schedule.ErrSlotUnavailable
		}
	default:
		return nil, fmt.Errorf("consume reservation: %w", err)
	}

	appt, err := s.repo.CreateAppointment(ctx, &Appointment{
		PatientID:      req.PatientID,
		PatientName:    req.PatientName,
		DoctorID:       detail.DoctorID,
		DoctorName:     detail.DoctorName,
		Specialization: detail.Specialization,
		ScheduleID:     detail.ScheduleID,
		SlotID:         detail.Slot.ID,
		Date:           detail.Date,
		SlotTime:       detail.Slot.Time,
		Reason:         req.Reason,
		DocumentURL:    req.DocumentURL,
		Status:         StatusPending,
	})
	if err != nil {
		if relErr := s.releaseSlot(ctx, req.Slot, ""); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.logEvent(ctx, appt.ID, events.AppointmentBooked, req.PatientID, map[string]any{
		"schedule_id": appt.ScheduleID.String(),
		"slot_id":     appt.SlotID,
		"date":        appt.Date.Format(schedule.DateLayout),
		"slot_time":   appt.SlotTime,
		"via_hold":    viaHold,
	})

	return appt, nil
}

// Approve moves a pending appointment to APPROVED. The slot stays BOOKED.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actorID string) (*Appointment, error) {
	updated, err := s.transition(ctx, id, StatusApproved, StatusPending)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, updated.ID, events.AppointmentApproved, actorID, nil)
	return updated, nil
}

// Reject moves a pending appointment to REJECTED and frees its slot.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actorID string) (*Appointment, error) {
	updated, err := s.transition(ctx, id, StatusRejected, StatusPending)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, updated.ID, events.AppointmentRejected, actorID, nil)
	if err := s.releaseSlot(ctx, updated.Slot(), updated.ID.String()); err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel withdraws a pending or approved appointment and frees its slot.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID string) (*Appointment, error) {
	updated, err := s.transition(ctx, id, StatusCancelled, StatusPending, StatusApproved)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, updated.ID, events.AppointmentCancelled, actorID, nil)
	if err := s.releaseSlot(ctx, updated.Slot(), updated.ID.String()); err != nil {
		return nil, err
	}
	return updated, nil
}

// Complete marks an approved appointment as attended.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actorID string) (*Appointment, error) {
	updated, err := s.transition(ctx, id, StatusCompleted, StatusApproved)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, updated.ID, events.AppointmentCompleted, actorID, nil)
	return updated, nil
}

// Reschedule moves an active appointment to another slot. The new slot is
// claimed first; the old one is freed only once the swap is committed.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, actorID string, target schedule.SlotRef) (*Appointment, error) {
	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if current.Status != StatusPending && current.Status != StatusApproved {
		return nil, fmt.Errorf("%w: cannot reschedule %s appointment", ErrInvalidStateTransition, current.Status)
	}

	detail, err := s.slots.GetSlot(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("load target slot: %w", err)
	}

	ok, err := s.slots.TrySetSlotState(ctx, target, schedule.SlotAvailable, schedule.SlotBooked)
	if err != nil {
		return nil, fmt.Errorf("book target slot: %w", err)
	}
	if !ok {
		return nil, schedule.ErrSlotUnavailable
	}

	// approval does not carry over to another doctor
	status := current.Status
	if detail.DoctorID != current.DoctorID {
		status = StatusPending
	}

	replacement, err := s.repo.SupersedeAppointment(ctx, current.ID, current.Status, &Appointment{
		PatientID:      current.PatientID,
		PatientName:    current.PatientName,
		DoctorID:       detail.DoctorID,
		DoctorName:     detail.DoctorName,
		Specialization: detail.Specialization,
		ScheduleID:     detail.ScheduleID,
		SlotID:         detail.Slot.ID,
		Date:           detail.Date,
		SlotTime:       detail.Slot.Time,
		Reason:         current.Reason,
		DocumentURL:    current.DocumentURL,
		Status:         status,
	})
	if err != nil {
		if relErr := s.releaseSlot(ctx, target, ""); relErr != nil {
			s.log.Error("target slot left booked after failed reschedule", zap.Stringer("slot", target), zap.Error(relErr))
		}
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment changed during reschedule", ErrInvalidStateTransition)
		}
		return nil, fmt.Errorf("supersede appointment: %w", err)
	}

	s.logEvent(ctx, current.ID, events.AppointmentCancelled, actorID, map[string]any{
		"reason":        "rescheduled",
		"superseded_by": replacement.ID.String(),
	})
	s.logEvent(ctx, replacement.ID, events.AppointmentRescheduled, actorID, map[string]any{
		"supersedes":    current.ID.String(),
		"from_slot":     current.Slot().String(),
		"to_slot":       target.String(),
		"carried_state": string(status),
	})

	if err := s.releaseSlot(ctx, current.Slot(), current.ID.String()); err != nil {
		return nil, err
	}
	return replacement, nil
}

// CompletePastAppointments is intended to be called by the worker on a schedule.
func (s *Service) CompletePastAppointments(ctx context.Context, batch int) (int, error) {
	due, err := s.repo.ListApprovedBefore(ctx, schedule.Today(s.now()), batch)
	if err != nil {
		return 0, fmt.Errorf("find past approved appointments: %w", err)
	}

	completed := 0
	for _, appt := range due {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusApproved, StatusCompleted)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error("failed to complete appointment", zap.Stringer("appointment_id", appt.ID), zap.Error(err))
			}
			continue
		}
		completed++
		s.logEvent(ctx, appt.ID, events.AppointmentCompleted, "", map[string]any{
			"reason": "worker",
		})
	}

	return completed, nil
}

// transition applies a status CAS, re-reading when a concurrent writer wins.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, from ...AppointmentStatus) (*Appointment, error) {
	for attempt := 0; attempt < statusRetries; attempt++ {
		current, err := s.repo.GetAppointmentByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load appointment: %w", err)
		}
		if !slices.Contains(from, current.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, current.Status, to)
		}

		updated, err := s.repo.UpdateAppointmentStatus(ctx, id, current.Status, to)
		if errors.Is(err, ErrAppointmentNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update appointment status: %w", err)
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: concurrent update", ErrInvalidStateTransition)
}

// releaseSlot frees a BOOKED slot. When the store fails, the release is
// queued for the sweeper; an error is returned only if that fails too.
func (s *Service) releaseSlot(ctx context.Context, ref schedule.SlotRef, appointmentID string) error {
	ok, err := s.slots.TrySetSlotState(ctx, ref, schedule.SlotBooked, schedule.SlotAvailable)
	if err == nil {
		if !ok {
			s.log.Warn("booked slot was not in BOOKED state on release", zap.Stringer("slot", ref))
		}
		return nil
	}

	s.log.Error("failed to release booked slot", zap.Stringer("slot", ref), zap.Error(err))
	if qErr := s.holds.QueueBookedRelease(ctx, ref, appointmentID); qErr != nil {
		return fmt.Errorf("release slot %s: %w", ref, errors.Join(err, qErr))
	}
	return nil
}

// SlotOwned reports whether a pending, approved or completed appointment
// holds the slot.
func (s *Service) SlotOwned(ctx context.Context, ref schedule.SlotRef) (bool, error) {
	return s.repo.SlotHasOwner(ctx, ref)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType, actorID string, payload map[string]any) {
	now := s.now()

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			s.log.Warn("failed to marshal event payload", zap.String("event_type", eventType), zap.Error(err))
			data = nil
		}
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		ActorID:       actorID,
		Payload:       data,
		CreatedAt:     now,
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error("failed to insert event log",
			zap.String("event_type", eventType),
			zap.Stringer("appointment_id", appointmentID),
			zap.Error(err),
		)
	}

	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.Event{
		ID:            uuid.New(),
		Type:          eventType,
		AppointmentID: appointmentID,
		ActorID:       actorID,
		Payload:       payload,
		OccurredAt:    now,
	})
	if err != nil {
		s.log.Warn("failed to publish appointment event",
			zap.String("event_type", eventType),
			zap.Stringer("appointment_id", appointmentID),
			zap.Error(err),
		)
	}
}
