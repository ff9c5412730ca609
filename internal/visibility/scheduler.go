package visibility

import (
	"context"
	"sync"
	"time"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/models"
)

// SyncDriver is the subset of the sync controller the scheduler drives.
type SyncDriver interface {
	RequestSync()
	CancelSync()
}

// Scheduler consumes control messages and drives periodic background syncs.
// Registration and unregistration arrive as messages from the visibility
// coordinator; the ticker exists only between the two.
type Scheduler struct {
	driver   SyncDriver
	interval time.Duration
	logger   *events.Logger

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
}

// NewScheduler creates a scheduler. interval is the period between
// background syncs while registered.
func NewScheduler(driver SyncDriver, interval time.Duration, logger *events.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		driver:   driver,
		interval: interval,
		logger:   logger.WithField("component", "sync_scheduler"),
	}
}

// Run consumes messages until the channel closes or the context ends.
func (s *Scheduler) Run(ctx context.Context, msgs <-chan models.SyncMessage) {
	defer s.unregister()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			s.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, msg models.SyncMessage) {
	switch msg.Type {
	case models.MsgRegisterPeriodicSync:
		s.register(ctx)
	case models.MsgUnregisterPeriodicSync:
		s.unregister()
	case models.MsgCancelSync:
		s.driver.CancelSync()
	case models.MsgRequestSync:
		s.driver.RequestSync()
	}
}

// register starts the periodic ticker. Repeat registrations are no-ops.
func (s *Scheduler) register(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}

	s.logger.WithField("interval", s.interval.String()).Info("Periodic sync registered")

	s.ticker = time.NewTicker(s.interval)
	s.stop = make(chan struct{})

	go func(tick <-chan time.Time, stop <-chan struct{}) {
		for {
			select {
			case <-tick:
				s.logger.Debug("Periodic sync firing")
				s.driver.RequestSync()
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}(s.ticker.C, s.stop)
}

// unregister stops the ticker if one is running.
func (s *Scheduler) unregister() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}

	s.logger.Info("Periodic sync unregistered")

	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.stop = nil
}

// Registered reports whether the periodic ticker is active.
func (s *Scheduler) Registered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker != nil
}
