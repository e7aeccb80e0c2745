package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/directory"
	"github.com/hackgods/clinic-slot-booking/internal/identity"
	"github.com/hackgods/clinic-slot-booking/internal/reservation"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

var (
	errMissingPatient  = errors.New("patientUserId is required")
	errPatientMismatch = errors.New("patients may only act for themselves")
	errMissingDoctor   = errors.New("doctorUserId is required")
)

// decodeBody decodes a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

// resolvePatient picks the patient a request acts for. A patient caller may
// only name themselves.
func resolvePatient(r *http.Request, claimed string) (string, error) {
	requester, ok := identity.FromContext(r.Context())
	if claimed == "" {
		if !ok {
			return "", errMissingPatient
		}
		return requester.ID, nil
	}
	if ok && requester.Is(identity.RolePatient) && requester.ID != claimed {
		return "", errPatientMismatch
	}
	return claimed, nil
}

func actorID(r *http.Request, fallback string) string {
	if requester, ok := identity.FromContext(r.Context()); ok {
		return requester.ID
	}
	return fallback
}

func slotRefParam(w http.ResponseWriter, r *http.Request) (schedule.SlotRef, bool) {
	id, ok := uuidParam(w, r, "scheduleId")
	if !ok {
		return schedule.SlotRef{}, false
	}
	return schedule.SlotRef{ScheduleID: id, SlotID: chi.URLParam(r, "slotId")}, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// handleDomainError maps store and service errors onto HTTP statuses.
func handleDomainError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, schedule.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, schedule.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, reservation.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, schedule.ErrDuplicateSchedule):
		writeError(w, http.StatusConflict, "duplicate_schedule", err.Error())
	case errors.Is(err, schedule.ErrDuplicateSlot):
		writeError(w, http.StatusConflict, "duplicate_slot", err.Error())
	case errors.Is(err, schedule.ErrSlotUnavailable),
		errors.Is(err, reservation.ErrReservationExists):
		writeError(w, http.StatusConflict, "slot_unavailable", schedule.ErrSlotUnavailable.Error())
	case errors.Is(err, appointment.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, schedule.ErrPastDate):
		writeError(w, http.StatusBadRequest, "past_date", err.Error())
	case errors.Is(err, schedule.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, reservation.ErrInvalidTTL):
		writeError(w, http.StatusBadRequest, "invalid_ttl", err.Error())
	case errors.Is(err, errMissingPatient), errors.Is(err, errMissingDoctor):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, errPatientMismatch):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func createScheduleHandler(store schedule.Store, v *requestValidator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateScheduleRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if fields := v.Validate(req); fields != nil {
			writeValidationError(w, fields)
			return
		}

		doctorID := req.DoctorID
		if doctorID == "" {
			if requester, ok := identity.FromContext(r.Context()); ok && requester.Is(identity.RoleDoctor) {
				doctorID = requester.ID
			}
		}
		if doctorID == "" {
			handleDomainError(w, log, errMissingDoctor)
			return
		}

		date, err := schedule.ParseDate(req.Date)
		if err != nil {
			writeValidationError(w, map[string]string{"date": "date must be a date in 2006-01-02 format"})
			return
		}

		slots := make([]schedule.NewSlot, 0, len(req.Slots))
		for _, s := range req.Slots {
			slots = append(slots, schedule.NewSlot{ID: s.ID, Time: s.Time, Active: s.Active})
		}

		created, err := store.CreateSchedule(r.Context(), schedule.NewSchedule{
			DoctorID:       doctorID,
			DoctorName:     req.DoctorName,
			Specialization: req.Specialization,
			Date:           date,
			Slots:          slots,
		})
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusCreated, "schedule created", toScheduleResponse(created))
	}
}

func addSlotHandler(store schedule.Store, v *requestValidator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "scheduleId")
		if !ok {
			return
		}

		var req SlotInput
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if fields := v.Validate(req); fields != nil {
			writeValidationError(w, fields)
			return
		}

		slot, err := store.AddSlot(r.Context(), id, schedule.NewSlot{ID: req.ID, Time: req.Time, Active: req.Active})
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusCreated, "slot added", toSlotResponse(*slot))
	}
}

func editSlotHandler(store schedule.Store, v *requestValidator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := slotRefParam(w, r)
		if !ok {
			return
		}

		var req EditSlotRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if fields := v.Validate(req); fields != nil {
			writeValidationError(w, fields)
			return
		}

		slot, err := store.EditSlot(r.Context(), ref, req.Time)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusOK, "slot updated", toSlotResponse(*slot))
	}
}

func toggleSlotHandler(store schedule.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := slotRefParam(w, r)
		if !ok {
			return
		}

		var req ToggleSlotRequest
		if err := decodeBody(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot, err := store.ToggleSlotActive(r.Context(), ref, req.Active)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusOK, "slot toggled", toSlotResponse(*slot))
	}
}

func deleteSlotHandler(store schedule.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := slotRefParam(w, r)
		if !ok {
			return
		}

		if err := store.DeleteSlot(r.Context(), ref); err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusOK, "slot deleted", nil)
	}
}

func availableSchedulesHandler(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := dir.AvailableSchedules(r.Context())
		if err != nil {
			handleDomainError(w, log, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toAvailableResponses(list))
	}
}

func getScheduleHandler(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "scheduleId")
		if !ok {
			return
		}

		s, err := dir.Schedule(r.Context(), id)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toScheduleResponse(s))
	}
}

func doctorSchedulesHandler(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := dir.SchedulesByDoctor(r.Context(), chi.URLParam(r, "doctorId"))
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		out := make([]ScheduleResponse, 0, len(list))
		for i := range list {
			out = append(out, toScheduleResponse(&list[i]))
		}
		writeSuccess(w, http.StatusOK, "", out)
	}
}

func reserveHandler(holds *reservation.Manager, v *requestValidator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := slotRefParam(w, r)
		if !ok {
			return
		}

		var req ReserveRequest
		if err := decodeBody(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if fields := v.Validate(req); fields != nil {
			writeValidationError(w, fields)
			return
		}

		patientID, err := resolvePatient(r, req.PatientUserID)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		ttl := holds.DefaultTTL()
		if req.TTL != nil {
			ttl, err = holds.TTLFromSeconds(int64(*req.TTL))
			if err != nil {
				handleDomainError(w, log, err)
				return
			}
		}

		hold, err := holds.Reserve(r.Context(), ref, patientID, ttl)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		expiresAt := hold.ExpiresAt
		writeJSON(w, http.StatusCreated, Envelope{
			Success:   true,
			Message:   "slot reserved",
			ExpiresAt: &expiresAt,
			Data:      toReservationResponse(hold),
		})
	}
}

func getReservationHandler(holds *reservation.Manager, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := slotRefParam(w, r)
		if !ok {
			return
		}

		hold, live, err := holds.Live(r.Context(), ref)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}
		if !live {
			handleDomainError(w, log, reservation.ErrReservationNotFound)
			return
		}

		expiresAt := hold.ExpiresAt
		writeJSON(w, http.StatusOK, Envelope{
			Success:   true,
			ExpiresAt: &expiresAt,
			Data:      toReservationResponse(hold),
		})
	}
}

func cancelReservationHandler(holds *reservation.Manager, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref, ok := slotRefParam(w, r)
		if !ok {
			return
		}

		patientID, err := resolvePatient(r, r.URL.Query().Get("patientUserId"))
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		if err := holds.Cancel(r.Context(), ref, patientID); err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusOK, "reservation cancelled", nil)
	}
}

func finalizeHandler(svc *appointment.Service, v *requestValidator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FinalizeRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if fields := v.Validate(req); fields != nil {
			writeValidationError(w, fields)
			return
		}

		patientID, err := resolvePatient(r, req.PatientUserID)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		appt, err := svc.Finalize(r.Context(), appointment.BookingRequest{
			Slot:        schedule.SlotRef{ScheduleID: uuid.MustParse(req.ScheduleID), SlotID: req.SlotID},
			PatientID:   patientID,
			PatientName: req.PatientName,
			Reason:      req.Reason,
			DocumentURL: req.DocumentURL,
		})
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusCreated, "appointment booked", toAppointmentResponse(appt))
	}
}

type transitionFunc func(r *http.Request, id uuid.UUID, actorID string) (*appointment.Appointment, error)

// transitionHandler runs a status change on /appointments/{id}/...
func transitionHandler(message string, log *zap.Logger, apply transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := apply(r, id, actorID(r, ""))
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusOK, message, toAppointmentResponse(appt))
	}
}

func approveHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return transitionHandler("appointment approved", log, func(r *http.Request, id uuid.UUID, actor string) (*appointment.Appointment, error) {
		return svc.Approve(r.Context(), id, actor)
	})
}

func rejectHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return transitionHandler("appointment rejected", log, func(r *http.Request, id uuid.UUID, actor string) (*appointment.Appointment, error) {
		return svc.Reject(r.Context(), id, actor)
	})
}

func completeHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return transitionHandler("appointment completed", log, func(r *http.Request, id uuid.UUID, actor string) (*appointment.Appointment, error) {
		return svc.Complete(r.Context(), id, actor)
	})
}

func cancelAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req CancelRequest
		if err := decodeBody(r, &req, true); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, actorID(r, req.ActorID))
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusOK, "appointment cancelled", toAppointmentResponse(appt))
	}
}

func rescheduleHandler(svc *appointment.Service, v *requestValidator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if fields := v.Validate(req); fields != nil {
			writeValidationError(w, fields)
			return
		}

		target := schedule.SlotRef{ScheduleID: uuid.MustParse(req.ScheduleID), SlotID: req.SlotID}
		appt, err := svc.Reschedule(r.Context(), id, actorID(r, ""), target)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}

		writeSuccess(w, http.StatusOK, "appointment rescheduled", toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := dir.Appointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toAppointmentResponse(appt))
	}
}

func doctorAppointmentsHandler(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pageParams(r)
		list, err := dir.AppointmentsByDoctor(r.Context(), chi.URLParam(r, "doctorId"), limit, offset)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toAppointmentResponses(list))
	}
}

func patientAppointmentsHandler(dir *directory.Directory, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID := chi.URLParam(r, "patientId")
		if _, err := resolvePatient(r, patientID); err != nil {
			handleDomainError(w, log, err)
			return
		}

		limit, offset := pageParams(r)
		list, err := dir.AppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleDomainError(w, log, err)
			return
		}
		writeSuccess(w, http.StatusOK, "", toAppointmentResponses(list))
	}
}
