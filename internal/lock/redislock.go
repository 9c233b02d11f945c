package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired indicates the lock is currently held by another owner.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker provides a Redis-backed advisory lock, used to serialise order
// processing attempts across instances.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// Lease represents a held lock. Release is safe to call once.
type Lease struct {
	locker Locker
	key    string
	token  string
}

// Acquire takes the lock without waiting. It returns ErrNotAcquired when the
// key is already held.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	token := uuid.NewString()
	ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release gives the lock back if this lease still owns it.
func (le *Lease) Release(ctx context.Context) {
	if le == nil {
		return
	}
	le.locker.release(ctx, le.key, le.token)
}

// WithLock executes fn while holding a lock for the provided key, retrying
// acquisition until the context is cancelled. The lock is released even when
// fn returns an error.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	for {
		lease, err := l.Acquire(ctx, key, ttl)
		if err == nil {
			defer lease.Release(context.Background())
			return fn(ctx)
		}
		if !errors.Is(err, ErrNotAcquired) {
			return err
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(ctx context.Context, key, token string) {
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	if err := l.R.Eval(ctx, script, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
