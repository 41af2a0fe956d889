package lock

import (
	"context"
	"fmt"
	"time"

	"edubook/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type redisManager struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	log          *logger.Logger
	now          func() time.Time
}

func NewRedisManager(client *redis.Client, ttl, pollInterval time.Duration, log *logger.Logger) Manager {
	return &redisManager{
		client:       client,
		ttl:          ttl,
		pollInterval: pollInterval,
		log:          log,
		now:          time.Now,
	}
}

func (m *redisManager) Acquire(ctx context.Context, key Key, timeout time.Duration) (*Handle, error) {
	token := newToken()
	var acquiredAt time.Time

	err := poll(ctx, m.log, key, timeout, m.pollInterval, func(ctx context.Context) (bool, error) {
		acquiredAt = m.now()
		ok, err := m.client.SetNX(ctx, key.String(), token, m.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("failed to set lock: %w", err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	return &Handle{
		Key:        key,
		Token:      token,
		AcquiredAt: acquiredAt,
		ExpiresAt:  acquiredAt.Add(m.ttl),
	}, nil
}

// Confirm cannot join the database transaction. It narrows the window to
// the commit round trip, and the renewed lease covers that round trip.
func (m *redisManager) Confirm(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrLockLost
	}

	now := m.now()
	renewed, err := renewScript.Run(ctx, m.client, []string{h.Key.String()}, h.Token, m.ttl.Milliseconds()).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to confirm lock %s: %w", h.Key, err)
	}
	if renewed != 1 {
		return fmt.Errorf("%w: %s", ErrLockLost, h.Key)
	}

	h.ExpiresAt = now.Add(m.ttl)
	return nil
}

func (m *redisManager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	err := releaseScript.Run(ctx, m.client, []string{h.Key.String()}, h.Token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lock %s: %w", h.Key, err)
	}
	return nil
}
