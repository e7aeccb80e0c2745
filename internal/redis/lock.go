package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	leaderKeyPrefix = "lock:"
	defaultLeaseTTL = 5 * time.Second
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

// Locker elects one leader among replicas for a periodic job. The expiry
// sweeper and the completion worker run each pass under it, so with several
// api-server or worker processes only one of them sweeps or completes at a
// time. A replica that loses the election skips the pass with
// ErrLockNotAcquired.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	lease  time.Duration
	log    *zap.Logger
}

// NewRedisLocker elects leaders with a SET NX lease under lock:<name>. The
// lease bounds how long a crashed leader blocks the others; fn's context is
// cancelled when the lease runs out so a slow pass never overlaps the next
// leader.
func NewRedisLocker(client *redis.Client, lease time.Duration, log *zap.Logger) Locker {
	if lease <= 0 {
		lease = defaultLeaseTTL
	}
	return &redisLocker{
		client: client,
		lease:  lease,
		log:    log.Named("leader"),
	}
}

func (l *redisLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := leaderKeyPrefix + name
	token := uuid.NewString()

	won, err := l.client.SetNX(ctx, key, token, l.lease).Result()
	if err != nil {
		return fmt.Errorf("elect leader for %s: %w", name, err)
	}
	if !won {
		return ErrLockNotAcquired
	}

	defer func() {
		// ctx may already be done here
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.resign(releaseCtx, key, token); err != nil {
			l.log.Warn("failed to resign leadership; lease will lapse on its own",
				zap.String("job", name),
				zap.Duration("lease", l.lease),
				zap.Error(err),
			)
		}
	}()

	leaseCtx, cancel := context.WithTimeout(ctx, l.lease)
	defer cancel()

	return fn(leaseCtx)
}

// resignScript deletes the lease only while this replica still owns it.
var resignScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisLocker) resign(ctx context.Context, key, token string) error {
	_, err := resignScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("resign %s: %w", key, err)
	}
	return nil
}
