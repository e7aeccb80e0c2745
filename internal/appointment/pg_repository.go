package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

const appointmentColumns = `
	id, patient_id, patient_name, doctor_id, doctor_name, specialization,
	schedule_id, slot_id, appointment_date, slot_time, reason, document_url,
	status, supersedes, superseded_by, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PatientName,
		&a.DoctorID,
		&a.DoctorName,
		&a.Specialization,
		&a.ScheduleID,
		&a.SlotID,
		&a.Date,
		&a.SlotTime,
		&a.Reason,
		&a.DocumentURL,
		&status,
		&a.Supersedes,
		&a.SupersededBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAppointment(ctx context.Context, q queryRower, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, patient_name, doctor_id, doctor_name, specialization,
			schedule_id, slot_id, appointment_date, slot_time, reason, document_url,
			status, supersedes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.PatientName, a.DoctorID, a.DoctorName, a.Specialization,
		a.ScheduleID, a.SlotID, a.Date, a.SlotTime, a.Reason, a.DocumentURL,
		string(a.Status), a.Supersedes,
	)
	return scanAppointment(row)
}

// Interface methods

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	created, err := insertAppointment(ctx, r.pool, a)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, string(to), string(from))

	return scanAppointment(row)
}

func (r *PgRepository) SupersedeAppointment(ctx context.Context, oldID uuid.UUID, from AppointmentStatus, replacement *Appointment) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	newID := replacement.ID
	if newID == uuid.Nil {
		newID = uuid.New()
	}

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'CANCELLED',
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
	`, oldID, string(from))
	if err != nil {
		return nil, fmt.Errorf("cancel superseded appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAppointmentNotFound
	}

	next := *replacement
	next.ID = newID
	next.Supersedes = &oldID
	created, err := insertAppointment(ctx, tx, &next)
	if err != nil {
		return nil, fmt.Errorf("insert replacement appointment: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments SET superseded_by = $2 WHERE id = $1
	`, oldID, newID); err != nil {
		return nil, fmt.Errorf("link superseded appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reschedule: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID string, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) SlotHasOwner(ctx context.Context, ref schedule.SlotRef) (bool, error) {
	var owned bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE schedule_id = $1
			  AND slot_id = $2
			  AND status IN ('PENDING', 'APPROVED', 'COMPLETED')
		)
	`, ref.ScheduleID, ref.SlotID).Scan(&owned)
	if err != nil {
		return false, fmt.Errorf("check slot owner: %w", err)
	}
	return owned, nil
}

func (r *PgRepository) ListApprovedBefore(ctx context.Context, date time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'APPROVED'
		  AND appointment_date < $1
		ORDER BY appointment_date
		LIMIT $2
	`, date, limit)
	if err != nil {
		return nil, fmt.Errorf("list approved appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Repository = (*PgRepository)(nil)
