package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-slot-booking/internal/reservation"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

const (
	reservationKeyPrefix = "reservation:"
	reservationExpiryKey = "reservations:expiry"
)

// ReservationStore keeps holds in Redis so every api-server replica and the
// expiry worker see the same records. Each hold is a hash; a sorted set
// scored by expiry (unix ms) drives the sweeper.
type ReservationStore struct {
	client *redis.Client
}

func NewReservationStore(client *redis.Client) *ReservationStore {
	return &ReservationStore{client: client}
}

func reservationKey(ref schedule.SlotRef) string {
	return reservationKeyPrefix + ref.String()
}

func parseMember(member string) (schedule.SlotRef, error) {
	scheduleID, slotID, ok := strings.Cut(member, "/")
	if !ok {
		return schedule.SlotRef{}, fmt.Errorf("malformed reservation member %q", member)
	}
	id, err := uuid.Parse(scheduleID)
	if err != nil {
		return schedule.SlotRef{}, fmt.Errorf("malformed reservation member %q: %w", member, err)
	}
	return schedule.SlotRef{ScheduleID: id, SlotID: slotID}, nil
}

var putScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "requester", ARGV[1], "created_at", ARGV[2], "expires_at", ARGV[3], "booked", ARGV[5])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// takeScript returns {created_at, expires_at} or nil when the caller does
// not hold a live reservation.
var takeScript = redis.NewScript(`
local holder = redis.call("HGET", KEYS[1], "requester")
if (not holder) or holder ~= ARGV[1] then
  return nil
end
local expires = redis.call("HGET", KEYS[1], "expires_at")
if tonumber(expires) <= tonumber(ARGV[2]) then
  return nil
end
local created = redis.call("HGET", KEYS[1], "created_at")
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[3])
return {created, expires}
`)

// takeExpiredScript returns {requester, created_at, expires_at, booked} or
// nil when there is no lapsed record.
var takeExpiredScript = redis.NewScript(`
local expires = redis.call("HGET", KEYS[1], "expires_at")
if not expires then
  redis.call("ZREM", KEYS[2], ARGV[2])
  return nil
end
if tonumber(expires) > tonumber(ARGV[1]) then
  return nil
end
local requester = redis.call("HGET", KEYS[1], "requester") or ""
local created = redis.call("HGET", KEYS[1], "created_at") or "0"
local booked = redis.call("HGET", KEYS[1], "booked") or "0"
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[2])
return {requester, created, expires, booked}
`)

func (s *ReservationStore) Put(ctx context.Context, r reservation.Reservation) error {
	n, err := putScript.Run(ctx, s.client,
		[]string{reservationKey(r.Slot), reservationExpiryKey},
		r.RequesterID,
		r.CreatedAt.UnixMilli(),
		r.ExpiresAt.UnixMilli(),
		r.Slot.String(),
		boolFlag(r.Booked),
	).Int()
	if err != nil {
		return fmt.Errorf("put reservation: %w", err)
	}
	if n == 0 {
		return reservation.ErrReservationExists
	}
	return nil
}

func (s *ReservationStore) Get(ctx context.Context, ref schedule.SlotRef) (*reservation.Reservation, error) {
	fields, err := s.client.HGetAll(ctx, reservationKey(ref)).Result()
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if len(fields) == 0 {
		return nil, reservation.ErrReservationNotFound
	}

	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	return &reservation.Reservation{
		Slot:        ref,
		RequesterID: fields["requester"],
		CreatedAt:   time.UnixMilli(created),
		ExpiresAt:   time.UnixMilli(expires),
		Booked:      fields["booked"] == "1",
	}, nil
}

func (s *ReservationStore) Take(ctx context.Context, ref schedule.SlotRef, requesterID string, now time.Time) (*reservation.Reservation, error) {
	vals, err := takeScript.Run(ctx, s.client,
		[]string{reservationKey(ref), reservationExpiryKey},
		requesterID,
		now.UnixMilli(),
		ref.String(),
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("take reservation: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("take reservation: unexpected reply %v", vals)
	}

	created, _ := strconv.ParseInt(vals[0], 10, 64)
	expires, _ := strconv.ParseInt(vals[1], 10, 64)
	return &reservation.Reservation{
		Slot:        ref,
		RequesterID: requesterID,
		CreatedAt:   time.UnixMilli(created),
		ExpiresAt:   time.UnixMilli(expires),
	}, nil
}

func (s *ReservationStore) TakeExpired(ctx context.Context, ref schedule.SlotRef, now time.Time) (*reservation.Reservation, error) {
	vals, err := takeExpiredScript.Run(ctx, s.client,
		[]string{reservationKey(ref), reservationExpiryKey},
		now.UnixMilli(),
		ref.String(),
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("take expired reservation: %w", err)
	}
	if len(vals) != 4 {
		return nil, fmt.Errorf("take expired reservation: unexpected reply %v", vals)
	}

	created, _ := strconv.ParseInt(vals[1], 10, 64)
	expires, _ := strconv.ParseInt(vals[2], 10, 64)
	return &reservation.Reservation{
		Slot:        ref,
		RequesterID: vals[0],
		CreatedAt:   time.UnixMilli(created),
		ExpiresAt:   time.UnixMilli(expires),
		Booked:      vals[3] == "1",
	}, nil
}

func (s *ReservationStore) Due(ctx context.Context, now time.Time, limit int) ([]schedule.SlotRef, error) {
	members, err := s.client.ZRangeByScore(ctx, reservationExpiryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due reservations: %w", err)
	}

	refs := make([]schedule.SlotRef, 0, len(members))
	for _, member := range members {
		ref, err := parseMember(member)
		if err != nil {
			// unparseable members would be returned forever
			_ = s.client.ZRem(ctx, reservationExpiryKey, member).Err()
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var _ reservation.Store = (*ReservationStore)(nil)
