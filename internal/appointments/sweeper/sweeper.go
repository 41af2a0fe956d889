// Package sweeper periodically expires booking transactions whose
// coordinator never finished them.
package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"edubook/internal/appointments/service"
	"edubook/pkg/logger"
)

type Cleaner interface {
	CleanupExpiredTransactions(ctx context.Context) (*service.CleanupReport, error)
}

type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	log      *logger.Logger

	started  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func New(cleaner Cleaner, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		cleaner:  cleaner,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a sweep every interval until Stop is called.
func (s *Sweeper) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.loop()
	s.log.Info("Transaction sweeper started", "interval", s.interval)
}

func (s *Sweeper) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs a single cleanup pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	report, err := s.cleaner.CleanupExpiredTransactions(ctx)
	if err != nil {
		s.log.Error("Transaction sweep failed", "error", err)
		return
	}
	for _, msg := range report.Errors {
		s.log.Warn("Transaction sweep error", "error", msg)
	}
}

// Stop ends the loop and waits for an in-flight sweep to return. It is safe
// to call more than once, and before Start.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if !s.started.Load() {
		return
	}
	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		s.log.Warn("Transaction sweeper did not stop in time")
	}
}
