package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the civil date format schedules are published under.
const DateLayout = "2006-01-02"

type SlotState string

const (
	SlotAvailable SlotState = "AVAILABLE"
	SlotReserved  SlotState = "RESERVED"
	SlotBooked    SlotState = "BOOKED"
)

func (s SlotState) Valid() bool {
	switch s {
	case SlotAvailable, SlotReserved, SlotBooked:
		return true
	}
	return false
}

// SlotRef identifies a slot. Slot ids are only unique inside their schedule.
type SlotRef struct {
	ScheduleID uuid.UUID
	SlotID     string
}

func (r SlotRef) String() string {
	return fmt.Sprintf("%s/%s", r.ScheduleID, r.SlotID)
}

type Slot struct {
	ID     string
	Time   string
	Active bool
	State  SlotState
}

type Schedule struct {
	ID             uuid.UUID
	DoctorID       string
	DoctorName     string
	Specialization string
	Date           time.Time
	Slots          []Slot
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Slot looks up a slot by id.
func (s *Schedule) Slot(id string) (*Slot, bool) {
	for i := range s.Slots {
		if s.Slots[i].ID == id {
			return &s.Slots[i], true
		}
	}
	return nil, false
}

func (s *Schedule) clone() *Schedule {
	cp := *s
	cp.Slots = append([]Slot(nil), s.Slots...)
	return &cp
}

// SlotDetail is a slot together with the header of the schedule that owns it.
type SlotDetail struct {
	ScheduleID     uuid.UUID
	DoctorID       string
	DoctorName     string
	Specialization string
	Date           time.Time
	Slot           Slot
}

func (d SlotDetail) Ref() SlotRef {
	return SlotRef{ScheduleID: d.ScheduleID, SlotID: d.Slot.ID}
}

type NewSlot struct {
	ID     string // generated when empty
	Time   string
	Active *bool // nil means active
}

type NewSchedule struct {
	DoctorID       string
	DoctorName     string
	Specialization string
	Date           time.Time
	Slots          []NewSlot
}

// AvailableSchedule is one entry of the public discovery listing.
type AvailableSchedule struct {
	ScheduleID     uuid.UUID
	DoctorID       string
	DoctorName     string
	Specialization string
	Date           time.Time
	Slots          []Slot
}

// ParseDate parses a YYYY-MM-DD date as midnight UTC.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return d, nil
}

// Today truncates now to its UTC civil date.
func Today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// IsPast reports whether date is strictly before the current date.
func IsPast(date, now time.Time) bool {
	return Today(date).Before(Today(now))
}
