package reservation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type Options struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration // zero means unbounded
	BatchSize  int           // reservations released per sweep
	Now        func() time.Time
}

// SlotOwners reports whether an appointment still owns a slot. The sweeper
// asks it before freeing a BOOKED slot from a queued release.
type SlotOwners interface {
	SlotOwned(ctx context.Context, ref schedule.SlotRef) (bool, error)
}

// Manager is the only writer of the RESERVED slot state.
type Manager struct {
	slots  schedule.Store
	store  Store
	owners SlotOwners
	log    *zap.Logger

	defaultTTL time.Duration
	maxTTL     time.Duration
	batchSize  int
	now        func() time.Time
}

func NewManager(slots schedule.Store, store Store, log *zap.Logger, opts Options) *Manager {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 300 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		slots:      slots,
		store:      store,
		log:        log.Named("reservation"),
		defaultTTL: opts.DefaultTTL,
		maxTTL:     opts.MaxTTL,
		batchSize:  opts.BatchSize,
		now:        opts.Now,
	}
}

func (m *Manager) DefaultTTL() time.Duration {
	return m.defaultTTL
}

// TTLFromSeconds converts a client supplied hold length. Non-positive values
// and values above the configured maximum are ErrInvalidTTL.
func (m *Manager) TTLFromSeconds(seconds int64) (time.Duration, error) {
	if seconds <= 0 {
		return 0, ErrInvalidTTL
	}
	if m.maxTTL > 0 && seconds > int64(m.maxTTL/time.Second) {
		return 0, fmt.Errorf("%w: at most %s", ErrInvalidTTL, m.maxTTL)
	}
	if seconds > math.MaxInt64/int64(time.Second) {
		return 0, fmt.Errorf("%w: too long", ErrInvalidTTL)
	}
	return time.Duration(seconds) * time.Second, nil
}

// SetSlotOwners installs the ownership check used for queued BOOKED releases.
// Without one the sweeper frees such slots unconditionally.
func (m *Manager) SetSlotOwners(owners SlotOwners) {
	m.owners = owners
}

// Reserve places a hold on an AVAILABLE slot for ttl.
func (m *Manager) Reserve(ctx context.Context, ref schedule.SlotRef, requesterID string, ttl time.Duration) (*Reservation, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if m.maxTTL > 0 && ttl > m.maxTTL {
		return nil, fmt.Errorf("%w: at most %s", ErrInvalidTTL, m.maxTTL)
	}

	ok, err := m.slots.TrySetSlotState(ctx, ref, schedule.SlotAvailable, schedule.SlotReserved)
	if err != nil {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}
	if !ok {
		m.log.Debug("reserve lost slot race", zap.Stringer("slot", ref), zap.String("requester", requesterID))
		return nil, schedule.ErrSlotUnavailable
	}

	now := m.now()
	r := Reservation{
		Slot:        ref,
		RequesterID: requesterID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	if err := m.store.Put(ctx, r); err != nil {
		if _, relErr := m.releaseSlot(ctx, ref, schedule.SlotReserved); relErr != nil {
			m.log.Error("failed to roll back reserved slot", zap.Stringer("slot", ref), zap.Error(relErr))
		}
		return nil, fmt.Errorf("store reservation: %w", err)
	}

	m.log.Debug("slot reserved",
		zap.Stringer("slot", ref),
		zap.String("requester", requesterID),
		zap.Time("expires_at", r.ExpiresAt),
	)
	return &r, nil
}

// Cancel drops the requester's live hold and frees the slot.
func (m *Manager) Cancel(ctx context.Context, ref schedule.SlotRef, requesterID string) error {
	r, err := m.store.Take(ctx, ref, requesterID, m.now())
	if err != nil {
		return err
	}

	if _, err := m.releaseSlot(ctx, ref, schedule.SlotReserved); err != nil {
		m.Abandon(ctx, *r)
		return fmt.Errorf("release cancelled slot: %w", err)
	}
	return nil
}

// Live returns the current hold on a slot, if any.
func (m *Manager) Live(ctx context.Context, ref schedule.SlotRef) (*Reservation, bool, error) {
	r, err := m.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load reservation: %w", err)
	}
	if !r.LiveAt(m.now()) {
		return nil, false, nil
	}
	return r, true, nil
}

// Consume removes the requester's live hold without touching the slot. The
// caller takes over the RESERVED slot.
func (m *Manager) Consume(ctx context.Context, ref schedule.SlotRef, requesterID string) (*Reservation, error) {
	return m.store.Take(ctx, ref, requesterID, m.now())
}

// Abandon re-queues a consumed hold as already expired so the sweeper frees
// the slot. Used when a slot could not be moved on after Consume or Cancel.
func (m *Manager) Abandon(ctx context.Context, r Reservation) {
	r.ExpiresAt = m.now()
	if err := m.store.Put(ctx, r); err != nil && !errors.Is(err, ErrReservationExists) {
		m.log.Error("failed to requeue abandoned reservation", zap.Stringer("slot", r.Slot), zap.Error(err))
	}
}

// QueueBookedRelease records a BOOKED slot that could not be freed when its
// appointment ended. The sweeper retries the release on its next pass.
func (m *Manager) QueueBookedRelease(ctx context.Context, ref schedule.SlotRef, appointmentID string) error {
	now := m.now()
	err := m.store.Put(ctx, Reservation{
		Slot:        ref,
		RequesterID: appointmentID,
		CreatedAt:   now,
		ExpiresAt:   now,
		Booked:      true,
	})
	if err != nil {
		return fmt.Errorf("queue booked release: %w", err)
	}
	m.log.Warn("booked slot queued for release", zap.Stringer("slot", ref), zap.String("appointment_id", appointmentID))
	return nil
}

// ReleaseExpired frees every slot whose hold has lapsed, along with queued
// BOOKED releases. Slots that moved on in the meantime are skipped.
func (m *Manager) ReleaseExpired(ctx context.Context) (int, error) {
	now := m.now()
	due, err := m.store.Due(ctx, now, m.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due reservations: %w", err)
	}

	released := 0
	var errs []error
	for _, ref := range due {
		r, err := m.store.TakeExpired(ctx, ref, now)
		if errors.Is(err, ErrReservationNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("take %s: %w", ref, err))
			continue
		}

		freed, err := m.release(ctx, *r)
		if err != nil {
			m.Abandon(ctx, *r)
			errs = append(errs, fmt.Errorf("release %s: %w", ref, err))
			continue
		}
		if freed {
			released++
		}
	}

	return released, errors.Join(errs...)
}

func (m *Manager) release(ctx context.Context, r Reservation) (bool, error) {
	if !r.Booked {
		return m.releaseSlot(ctx, r.Slot, schedule.SlotReserved)
	}

	if m.owners != nil {
		owned, err := m.owners.SlotOwned(ctx, r.Slot)
		if err != nil {
			return false, fmt.Errorf("check slot owner: %w", err)
		}
		if owned {
			m.log.Info("queued release skipped, slot has a new owner", zap.Stringer("slot", r.Slot))
			return false, nil
		}
	}
	return m.releaseSlot(ctx, r.Slot, schedule.SlotBooked)
}

func (m *Manager) releaseSlot(ctx context.Context, ref schedule.SlotRef, from schedule.SlotState) (bool, error) {
	ok, err := m.slots.TrySetSlotState(ctx, ref, from, schedule.SlotAvailable)
	if err != nil {
		if errors.Is(err, schedule.ErrSlotNotFound) || errors.Is(err, schedule.ErrScheduleNotFound) {
			return false, nil
		}
		return false, err
	}
	if !ok {
		m.log.Debug("slot already moved on, nothing to release", zap.Stringer("slot", ref))
	}
	return ok, nil
}
