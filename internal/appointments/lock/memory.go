package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryManager is a per-key semaphore table for single-process runs and
// tests. Blocked waiters are woken in arrival order by the runtime.
type memoryManager struct {
	mu    sync.Mutex
	slots map[Key]*memorySlot
	ttl   time.Duration
	now   func() time.Time
}

type memorySlot struct {
	sem   chan struct{}
	token string
	refs  int
}

func NewMemoryManager(ttl time.Duration) Manager {
	return &memoryManager{
		slots: make(map[Key]*memorySlot),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (m *memoryManager) ref(key Key) *memorySlot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[key]
	if !ok {
		s = &memorySlot{sem: make(chan struct{}, 1)}
		m.slots[key] = s
	}
	s.refs++
	return s
}

func (m *memoryManager) unref(key Key, s *memorySlot) {
	s.refs--
	if s.refs == 0 {
		delete(m.slots, key)
	}
}

func (m *memoryManager) Acquire(ctx context.Context, key Key, timeout time.Duration) (*Handle, error) {
	s := m.ref(key)

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case s.sem <- struct{}{}:
	case <-t.C:
		m.mu.Lock()
		m.unref(key, s)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s after %s", ErrLockNotAcquired, key, timeout)
	case <-ctx.Done():
		m.mu.Lock()
		m.unref(key, s)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, ctx.Err())
	}

	now := m.now()
	h := &Handle{
		Key:        key,
		Token:      newToken(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}

	m.mu.Lock()
	s.token = h.Token
	m.mu.Unlock()

	return h, nil
}

// Confirm only checks ownership. Nothing takes over a memory lock, so the
// lease is renewed without being enforced.
func (m *memoryManager) Confirm(_ context.Context, h *Handle) error {
	if h == nil {
		return ErrLockLost
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[h.Key]
	if !ok || s.token == "" || s.token != h.Token {
		return fmt.Errorf("%w: %s", ErrLockLost, h.Key)
	}

	h.ExpiresAt = m.now().Add(m.ttl)
	return nil
}

func (m *memoryManager) Release(_ context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[h.Key]
	if !ok || s.token == "" || s.token != h.Token {
		return nil
	}

	s.token = ""
	<-s.sem
	m.unref(h.Key, s)
	return nil
}
