package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/lock"
	"github.com/marksync/marksync/internal/models"
	syncengine "github.com/marksync/marksync/internal/sync"
)

// Config contains worker configuration.
type Config struct {
	// LockTimeout bounds lock acquisition so a stuck run cannot block other
	// contexts from ever syncing.
	LockTimeout time.Duration

	// Inline runs the engine in the caller's execution context instead of
	// an isolated one. Messages are then delivered only after the run
	// completes; live progress requires the isolated context.
	Inline bool

	// Buffer is the per-run message channel capacity.
	Buffer int
}

// Manager is the boundary that starts and cancels engine execution in a
// context isolated from the caller. No shared memory crosses the boundary,
// only the typed messages relayed on the per-run channel.
type Manager struct {
	engine *syncengine.Engine
	locks  lock.Coordinator
	logger *events.Logger

	lockTimeout time.Duration
	inline      bool
	buffer      int

	mu      sync.Mutex
	running bool
}

// NewManager creates a worker manager.
func NewManager(engine *syncengine.Engine, locks lock.Coordinator, cfg *Config, logger *events.Logger) *Manager {
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}

	return &Manager{
		engine:      engine,
		locks:       locks,
		logger:      logger.WithField("component", "worker_manager"),
		lockTimeout: lockTimeout,
		inline:      cfg.Inline,
		buffer:      buffer,
	}
}

// Running reports whether this manager currently has a run in flight.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start acquires the sync lock and launches one run. Every message for the
// run is tagged with runID and delivered on the returned channel, which is
// closed once the run ends and the lock is released. The lock is held for
// the whole run; other contexts observe only broadcast messages.
func (m *Manager) Start(ctx context.Context, runID string, settings syncengine.Settings) (<-chan models.SyncMessage, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, models.ErrSyncInProgress
	}
	m.running = true
	m.mu.Unlock()

	release, err := m.locks.Acquire(ctx, m.lockTimeout)
	if err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}

	m.logger.WithField("run_id", runID).Debug("Sync run starting")

	if m.inline {
		return m.runInline(ctx, runID, settings, release), nil
	}
	return m.runIsolated(ctx, runID, settings, release), nil
}

// runIsolated executes the engine in its own goroutine, relaying messages
// live to the consumer.
func (m *Manager) runIsolated(ctx context.Context, runID string, settings syncengine.Settings, release lock.ReleaseFunc) <-chan models.SyncMessage {
	msgs := make(chan models.SyncMessage, m.buffer)

	emit := func(msg models.SyncMessage) {
		msg.RunID = runID
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		select {
		case msgs <- msg:
		case <-ctx.Done():
			// Consumer gone; discard rather than block the engine.
		}
	}

	go func() {
		defer func() {
			release()
			close(msgs)
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
		}()

		if _, err := m.engine.PerformSync(ctx, settings, emit); err != nil {
			// Terminal message already emitted by the engine.
			m.logger.WithError(err).WithField("run_id", runID).Debug("Sync run ended with error")
		}
	}()

	return msgs
}

// runInline is the degraded same-context mode: the engine runs synchronously
// and the buffered message stream is handed over after completion.
func (m *Manager) runInline(ctx context.Context, runID string, settings syncengine.Settings, release lock.ReleaseFunc) <-chan models.SyncMessage {
	var collected []models.SyncMessage

	emit := func(msg models.SyncMessage) {
		msg.RunID = runID
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		collected = append(collected, msg)
	}

	func() {
		defer func() {
			release()
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
		}()

		if _, err := m.engine.PerformSync(ctx, settings, emit); err != nil {
			m.logger.WithError(err).WithField("run_id", runID).Debug("Sync run ended with error")
		}
	}()

	msgs := make(chan models.SyncMessage, len(collected))
	for _, msg := range collected {
		msgs <- msg
	}
	close(msgs)
	return msgs
}

// Cancel requests cooperative cancellation of the in-flight run. The engine
// checks the flag between items; an already-issued network request completes
// and its result is discarded.
func (m *Manager) Cancel() {
	m.engine.Cancel()
}

// EmergencyLockCleanup clears locks orphaned by a crashed previous session.
// Invoke at application startup, before any new sync is attempted.
func (m *Manager) EmergencyLockCleanup() error {
	return m.locks.EmergencyCleanup()
}
