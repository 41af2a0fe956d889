// Package lock provides the advisory mutex that serializes booking attempts
// for one instructor on one day.
//
// Every lock carries a random token and a lease. Release only removes a lock
// whose token matches, so a late release can never free a lock another
// caller has since taken over. The lease bounds how long a crashed holder
// can block the key. A holder that outlives its lease must not write: it
// calls Confirm right before committing.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"edubook/pkg/config"
	"edubook/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	// ErrLockLost means the lease ran out and another caller may own the key.
	ErrLockLost = errors.New("lock lease lost")
)

const maxPollInterval = 250 * time.Millisecond

// Key identifies a lockable (instructor, date) pair. Day granularity keeps
// the key space small and avoids gaps between partially overlapping slots.
type Key struct {
	InstructorID string
	Date         string
}

func (k Key) String() string {
	return "booking:" + k.InstructorID + ":" + k.Date
}

// Handle is proof of ownership returned by Acquire.
type Handle struct {
	Key        Key
	Token      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

type Manager interface {
	// Acquire waits at most timeout for key. It returns ErrLockNotAcquired
	// (possibly wrapped) when the wait runs out.
	Acquire(ctx context.Context, key Key, timeout time.Duration) (*Handle, error)
	// Confirm fails with ErrLockLost unless h still owns its key, and
	// extends the lease when it does. The mongo backend joins the database
	// transaction carried by ctx, so the check commits or aborts together
	// with the writes it guards.
	Confirm(ctx context.Context, h *Handle) error
	// Release is idempotent and ignores locks held under another token.
	Release(ctx context.Context, h *Handle) error
}

// NewManager builds the backend selected by cfg.LockBackend. The matching
// client must already be connected.
func NewManager(cfg *config.Config) (Manager, error) {
	log := cfg.Log.With("component", "lock", "backend", cfg.LockBackend)

	switch cfg.LockBackend {
	case config.LockBackendMongo:
		if cfg.Client.Mongo == nil {
			return nil, fmt.Errorf("mongo lock backend requires a mongo client")
		}
		coll := cfg.Client.Mongo.Database(cfg.MongoDatabaseName).Collection(CollectionName)
		return NewMongoManager(coll, cfg.LockTTL, cfg.LockPollInterval, log), nil
	case config.LockBackendRedis:
		if cfg.Client.Redis == nil {
			return nil, fmt.Errorf("redis lock backend requires a redis client")
		}
		return NewRedisManager(cfg.Client.Redis, cfg.LockTTL, cfg.LockPollInterval, log), nil
	case config.LockBackendMemory:
		return NewMemoryManager(cfg.LockTTL), nil
	default:
		return nil, fmt.Errorf("unknown lock backend: %s", cfg.LockBackend)
	}
}

func newToken() string {
	return uuid.NewString()
}

// tryFunc makes one non-blocking acquisition attempt.
type tryFunc func(ctx context.Context) (bool, error)

// poll retries try with a doubling interval until it succeeds, the timeout
// elapses or ctx is done. Backend errors end the wait immediately.
func poll(ctx context.Context, log *logger.Logger, key Key, timeout, interval time.Duration, try tryFunc) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := interval
	for {
		ok, err := try(ctx)
		if ok {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s after %s", ErrLockNotAcquired, key, timeout)
		}
		if err != nil {
			log.Warn("Lock backend error", "key", key.String(), "error", err)
			return fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, err)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s after %s", ErrLockNotAcquired, key, timeout)
		case <-t.C:
		}
		wait = min(wait*2, maxPollInterval)
	}
}
