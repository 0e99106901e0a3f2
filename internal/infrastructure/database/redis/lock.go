package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	apperrors "github.com/chemcloud/calcstore/pkg/errors"
)

// unlockScript deletes the lock key only when it still holds this owner's
// token, so an expired-and-reacquired lock is never released by the old
// holder.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// Mutex is a single-attempt distributed lock.  Cube computation uses it to
// ensure only one request generates a given cube while the rest wait on the
// cache.
type Mutex struct {
	rdb    redis.UniversalClient
	name   string
	token  string
	ttl    time.Duration
	logger logging.Logger
}

// LockFactory creates mutexes sharing one Redis client.
type LockFactory struct {
	rdb    redis.UniversalClient
	prefix string
	logger logging.Logger
}

// NewLockFactory constructs a LockFactory.
func NewLockFactory(rdb redis.UniversalClient, prefix string, logger logging.Logger) *LockFactory {
	if prefix == "" {
		prefix = "calcstore:"
	}
	return &LockFactory{rdb: rdb, prefix: prefix, logger: logger.Named("lock")}
}

// NewMutex creates a mutex with the given name and TTL.  The TTL bounds how
// long a crashed holder can block others.
func (f *LockFactory) NewMutex(name string, ttl time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mutex{
		rdb:    f.rdb,
		name:   f.prefix + "lock:" + name,
		token:  uuid.NewString(),
		ttl:    ttl,
		logger: f.logger,
	}
}

// TryLock attempts to acquire the lock without waiting.
func (m *Mutex) TryLock(ctx context.Context) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.name, m.token, m.ttl).Result()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeDependentService, "lock acquisition failed")
	}
	return ok, nil
}

// Unlock releases the lock if this mutex still holds it.
func (m *Mutex) Unlock(ctx context.Context) error {
	res, err := m.rdb.Eval(ctx, unlockScript, []string{m.name}, m.token).Result()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDependentService, "lock release failed")
	}
	if n, ok := res.(int64); ok && n == 0 {
		m.logger.Warn("lock expired before release", logging.String("name", m.name))
	}
	return nil
}
