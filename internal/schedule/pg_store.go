package schedule

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	constraintDoctorDate = "doctor_schedules_doctor_date_key"
)

// PgStore persists schedules in Postgres. Slot state transitions are single
// conditional UPDATE statements so no lock is held across round trips.
type PgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPgStore(pool *pgxpool.Pool, now func() time.Time) *PgStore {
	if now == nil {
		now = time.Now
	}
	return &PgStore{pool: pool, now: now}
}

// Helpers

func pgErrorCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var state string

	err := row.Scan(&s.ID, &s.Time, &s.Active, &state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.State = SlotState(state)
	return &s, nil
}

func scanScheduleHeader(row pgx.Row) (*Schedule, error) {
	var s Schedule

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.DoctorName,
		&s.Specialization,
		&s.Date,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	return &s, nil
}

// missing resolves which half of a slot reference does not exist.
func (p *PgStore) missing(ctx context.Context, ref SlotRef) error {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM doctor_schedules WHERE id = $1)
	`, ref.ScheduleID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schedule: %w", err)
	}
	if !exists {
		return ErrScheduleNotFound
	}
	return ErrSlotNotFound
}

// Interface methods

func (p *PgStore) CreateSchedule(ctx context.Context, in NewSchedule) (*Schedule, error) {
	slots, err := prepareSlots(in, p.now())
	if err != nil {
		return nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO doctor_schedules (id, doctor_id, doctor_name, specialization, schedule_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING id, doctor_id, doctor_name, specialization, schedule_date, created_at, updated_at
	`, id, in.DoctorID, in.DoctorName, in.Specialization, Today(in.Date))

	s, err := scanScheduleHeader(row)
	if err != nil {
		if code, constraint := pgErrorCode(err); code == pgUniqueViolation && constraint == constraintDoctorDate {
			return nil, ErrDuplicateSchedule
		}
		return nil, fmt.Errorf("insert schedule: %w", err)
	}

	for i, slot := range slots {
		_, err := tx.Exec(ctx, `
			INSERT INTO schedule_slots (schedule_id, slot_id, time_label, active, state, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, slot.ID, slot.Time, slot.Active, string(slot.State), i+1)
		if err != nil {
			return nil, fmt.Errorf("insert slot %s: %w", slot.Time, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if code, constraint := pgErrorCode(err); code == pgUniqueViolation && constraint == constraintDoctorDate {
			return nil, ErrDuplicateSchedule
		}
		return nil, fmt.Errorf("commit schedule: %w", err)
	}

	s.Slots = slots
	return s, nil
}

func (p *PgStore) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, doctor_id, doctor_name, specialization, schedule_date, created_at, updated_at
		FROM doctor_schedules
		WHERE id = $1
	`, id)
	s, err := scanScheduleHeader(row)
	if err != nil {
		return nil, err
	}

	bySchedule, err := p.loadSlots(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	s.Slots = bySchedule[id]
	return s, nil
}

func (p *PgStore) ListByDoctor(ctx context.Context, doctorID string) ([]Schedule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, doctor_id, doctor_name, specialization, schedule_date, created_at, updated_at
		FROM doctor_schedules
		WHERE doctor_id = $1
		ORDER BY schedule_date
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var result []Schedule
	var ids []uuid.UUID
	for rows.Next() {
		s, err := scanScheduleHeader(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
		ids = append(ids, s.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return result, nil
	}

	bySchedule, err := p.loadSlots(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Slots = bySchedule[result[i].ID]
	}
	return result, nil
}

func (p *PgStore) loadSlots(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]Slot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT schedule_id, slot_id, time_label, active, state
		FROM schedule_slots
		WHERE schedule_id = ANY($1)
		ORDER BY schedule_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]Slot, len(ids))
	for rows.Next() {
		var scheduleID uuid.UUID
		var s Slot
		var state string
		if err := rows.Scan(&scheduleID, &s.ID, &s.Time, &s.Active, &state); err != nil {
			return nil, err
		}
		s.State = SlotState(state)
		out[scheduleID] = append(out[scheduleID], s)
	}
	return out, rows.Err()
}

func (p *PgStore) AddSlot(ctx context.Context, scheduleID uuid.UUID, in NewSlot) (*Slot, error) {
	slot, err := newSlot(in)
	if err != nil {
		return nil, err
	}

	// the schedule touch runs in the same statement as the insert
	row := p.pool.QueryRow(ctx, `
		WITH inserted AS (
			INSERT INTO schedule_slots (schedule_id, slot_id, time_label, active, state, position)
			SELECT $1, $2, $3, $4, 'AVAILABLE', COALESCE(MAX(position), 0) + 1
			FROM schedule_slots
			WHERE schedule_id = $1
			RETURNING slot_id, time_label, active, state
		), touched AS (
			UPDATE doctor_schedules
			SET updated_at = now()
			WHERE id = $1
		)
		SELECT slot_id, time_label, active, state FROM inserted
	`, scheduleID, slot.ID, slot.Time, slot.Active)

	created, err := scanSlot(row)
	if err != nil {
		switch code, _ := pgErrorCode(err); code {
		case pgUniqueViolation:
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, slot.Time)
		case pgForeignKeyViolation:
			return nil, ErrScheduleNotFound
		}
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return created, nil
}

func (p *PgStore) EditSlot(ctx context.Context, ref SlotRef, timeLabel string) (*Slot, error) {
	label := strings.TrimSpace(timeLabel)
	if label == "" {
		return nil, ErrInvalidSlot
	}

	row := p.pool.QueryRow(ctx, `
		UPDATE schedule_slots
		SET time_label = $3,
		    updated_at = now()
		WHERE schedule_id = $1
		  AND slot_id = $2
		  AND state = 'AVAILABLE'
		RETURNING slot_id, time_label, active, state
	`, ref.ScheduleID, ref.SlotID, label)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			detail, getErr := p.GetSlot(ctx, ref)
			if getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: slot is %s", ErrSlotUnavailable, detail.Slot.State)
		}
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, label)
		}
		return nil, fmt.Errorf("edit slot: %w", err)
	}
	return slot, nil
}

func (p *PgStore) ToggleSlotActive(ctx context.Context, ref SlotRef, active *bool) (*Slot, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE schedule_slots
		SET active = COALESCE($3::boolean, NOT active),
		    updated_at = now()
		WHERE schedule_id = $1
		  AND slot_id = $2
		RETURNING slot_id, time_label, active, state
	`, ref.ScheduleID, ref.SlotID, active)

	slot, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, p.missing(ctx, ref)
		}
		return nil, fmt.Errorf("toggle slot: %w", err)
	}
	return slot, nil
}

func (p *PgStore) DeleteSlot(ctx context.Context, ref SlotRef) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM schedule_slots
		WHERE schedule_id = $1
		  AND slot_id = $2
		  AND state = 'AVAILABLE'
	`, ref.ScheduleID, ref.SlotID)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	detail, err := p.GetSlot(ctx, ref)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: slot is %s", ErrSlotUnavailable, detail.Slot.State)
}

func (p *PgStore) GetSlot(ctx context.Context, ref SlotRef) (*SlotDetail, error) {
	var d SlotDetail
	var state string

	err := p.pool.QueryRow(ctx, `
		SELECT s.id, s.doctor_id, s.doctor_name, s.specialization, s.schedule_date,
		       sl.slot_id, sl.time_label, sl.active, sl.state
		FROM schedule_slots sl
		JOIN doctor_schedules s ON s.id = sl.schedule_id
		WHERE sl.schedule_id = $1
		  AND sl.slot_id = $2
	`, ref.ScheduleID, ref.SlotID).Scan(
		&d.ScheduleID,
		&d.DoctorID,
		&d.DoctorName,
		&d.Specialization,
		&d.Date,
		&d.Slot.ID,
		&d.Slot.Time,
		&d.Slot.Active,
		&state,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, p.missing(ctx, ref)
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}

	d.Slot.State = SlotState(state)
	return &d, nil
}

func (p *PgStore) TrySetSlotState(ctx context.Context, ref SlotRef, expected, next SlotState) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE schedule_slots
		SET state = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE schedule_id = $1
		  AND slot_id = $2
		  AND state = $3
		  AND (active OR $3 <> 'AVAILABLE' OR $4 = 'AVAILABLE')
	`, ref.ScheduleID, ref.SlotID, string(expected), string(next))
	if err != nil {
		return false, fmt.Errorf("set slot state: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = p.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM schedule_slots WHERE schedule_id = $1 AND slot_id = $2)
	`, ref.ScheduleID, ref.SlotID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	if !exists {
		return false, p.missing(ctx, ref)
	}
	return false, nil
}

func (p *PgStore) AvailableByDoctor(ctx context.Context) iter.Seq2[AvailableSchedule, error] {
	return func(yield func(AvailableSchedule, error) bool) {
		rows, err := p.pool.Query(ctx, `
			SELECT s.id, s.doctor_id, s.doctor_name, s.specialization, s.schedule_date,
			       sl.slot_id, sl.time_label, sl.active, sl.state
			FROM doctor_schedules s
			JOIN schedule_slots sl ON sl.schedule_id = s.id
			WHERE s.schedule_date >= $1
			  AND sl.active
			  AND sl.state = 'AVAILABLE'
			ORDER BY s.doctor_id, s.schedule_date, s.id, sl.position
		`, Today(p.now()))
		if err != nil {
			yield(AvailableSchedule{}, fmt.Errorf("query available slots: %w", err))
			return
		}
		defer rows.Close()

		var current *AvailableSchedule
		for rows.Next() {
			var (
				header AvailableSchedule
				slot   Slot
				state  string
			)
			err := rows.Scan(
				&header.ScheduleID,
				&header.DoctorID,
				&header.DoctorName,
				&header.Specialization,
				&header.Date,
				&slot.ID,
				&slot.Time,
				&slot.Active,
				&state,
			)
			if err != nil {
				yield(AvailableSchedule{}, err)
				return
			}
			slot.State = SlotState(state)

			if current != nil && current.ScheduleID != header.ScheduleID {
				if !yield(*current, nil) {
					return
				}
				current = nil
			}
			if current == nil {
				current = &header
			}
			current.Slots = append(current.Slots, slot)
		}
		if err := rows.Err(); err != nil {
			yield(AvailableSchedule{}, err)
			return
		}
		if current != nil {
			yield(*current, nil)
		}
	}
}
