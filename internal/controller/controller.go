package controller

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/models"
	syncengine "github.com/marksync/marksync/internal/sync"
	"github.com/marksync/marksync/internal/worker"
)

// Listener receives a snapshot after every state change.
type Listener func(models.SyncState)

// Controller is the per-context sync state machine consumed by UIs.
// State transitions: idle -> starting -> syncing(phase) -> complete|failed
// -> idle, with syncing <-> paused as a UI-only branch. The state is mutated
// only by reducing inbound messages.
type Controller struct {
	manager *worker.Manager
	logger  *events.Logger

	mu        sync.Mutex
	state     models.SyncState
	runID     string
	cancelRun context.CancelFunc
	listeners []Listener
	runDone   chan struct{}
}

// New creates a controller in the idle state.
func New(manager *worker.Manager, logger *events.Logger) *Controller {
	return &Controller{
		manager: manager,
		logger:  logger.WithField("component", "sync_controller"),
		state:   models.NewSyncState(),
	}
}

// State returns a snapshot of the current sync state.
func (c *Controller) State() models.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// OnChange subscribes a typed handler to state changes.
func (c *Controller) OnChange(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// RequestSync starts a run. It is a no-op while a run is already starting
// or syncing. The state flips to starting immediately, before the lock is
// even acquired, so the UI gets optimistic feedback.
func (c *Controller) RequestSync(ctx context.Context, settings syncengine.Settings) error {
	c.mu.Lock()
	if c.state.SyncStatus == models.StatusStarting || c.state.SyncStatus == models.StatusSyncing {
		c.mu.Unlock()
		return nil
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	c.runID = runID
	c.cancelRun = cancel
	c.runDone = make(chan struct{})
	done := c.runDone

	next := models.NewSyncState()
	next.SyncStatus = models.StatusStarting
	next.IsSyncing = true
	c.setState(next)
	c.mu.Unlock()

	c.logger.WithField("run_id", runID).Debug("Sync requested")

	msgs, err := c.manager.Start(runCtx, runID, settings)
	if err != nil {
		c.logger.WithError(err).Warn("Sync run failed to start")
		cancel()
		c.mu.Lock()
		failed := c.state.Clone()
		failed.SyncStatus = models.StatusFailed
		failed.IsSyncing = false
		failed.LastError = err.Error()
		failed.Recoverable = models.Recoverable(err)
		c.setState(failed)
		close(done)
		c.mu.Unlock()
		return err
	}

	go c.consume(runID, msgs, done)
	return nil
}

// CancelSync requests a cooperative abort of the in-flight run. The clean
// terminal state is idle; if the run already failed mid-item, failed wins.
func (c *Controller) CancelSync() {
	c.mu.Lock()
	if !c.state.Active() {
		c.mu.Unlock()
		return
	}
	cancel := c.cancelRun
	c.mu.Unlock()

	c.manager.Cancel()
	if cancel != nil {
		cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.SyncStatus != models.StatusFailed {
		c.setState(models.NewSyncState())
	}
}

// Pause gates the progress display only; the underlying run keeps going.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.SyncStatus == models.StatusSyncing {
		next := c.state.Clone()
		next.SyncStatus = models.StatusPaused
		c.setState(next)
	}
}

// Resume undoes Pause.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.SyncStatus == models.StatusPaused {
		next := c.state.Clone()
		next.SyncStatus = models.StatusSyncing
		c.setState(next)
	}
}

// Dismiss clears a terminal failed state back to idle. The error surface is
// persistent until dismissed.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.SyncStatus == models.StatusFailed || c.state.SyncStatus == models.StatusComplete {
		c.setState(models.NewSyncState())
	}
}

// Wait blocks until the most recently requested run has ended.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.runDone
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// consume folds the run's message stream into the state.
func (c *Controller) consume(runID string, msgs <-chan models.SyncMessage, done chan struct{}) {
	for msg := range msgs {
		c.apply(runID, msg)
	}

	c.mu.Lock()
	if c.runID == runID {
		switch c.state.SyncStatus {
		case models.StatusFailed:
			// Persistent error surface; cleared by Dismiss.
		case models.StatusComplete:
			// Completion collapses back to idle once the stream ends.
			c.setState(models.NewSyncState())
		default:
			// Cancelled or stream ended without a terminal message.
			c.setState(models.NewSyncState())
		}
	}
	close(done)
	c.mu.Unlock()
}

// apply reduces one message, ignoring messages from runs this controller did
// not request: a backgrounded context's stale run must not corrupt a freshly
// started foreground run's displayed state.
func (c *Controller) apply(runID string, msg models.SyncMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.RunID != runID || c.runID != runID {
		return
	}

	c.setState(Reduce(c.state, msg))
}

// setState replaces the state and notifies listeners. Callers hold c.mu.
func (c *Controller) setState(next models.SyncState) {
	c.state = next
	snapshot := next.Clone()
	for _, fn := range c.listeners {
		fn(snapshot)
	}
}

// Reduce folds one message into a sync state, immutably. A paused status is
// sticky across progress messages: pause gates the display only, so counters
// keep advancing underneath it.
func Reduce(state models.SyncState, msg models.SyncMessage) models.SyncState {
	next := state.Clone()

	switch msg.Type {
	case models.MsgSyncInitiated:
		next.SyncStatus = models.StatusStarting
		next.IsSyncing = true
		next.Phase = models.PhaseNone
		next.LastError = ""

	case models.MsgSyncStarted:
		if next.SyncStatus != models.StatusPaused {
			next.SyncStatus = models.StatusSyncing
		}
		next.IsSyncing = true
		next.Phase = msg.Phase
		next.SyncTotal = msg.Total
		next.SyncProgress = 0

	case models.MsgSyncProgress:
		if next.SyncStatus != models.StatusPaused {
			next.SyncStatus = models.StatusSyncing
		}
		next.IsSyncing = true
		next.Phase = msg.Phase
		next.SyncProgress = msg.Current
		next.SyncTotal = msg.Total

	case models.MsgBookmarkSynced:
		if next.SyncStatus != models.StatusPaused {
			next.SyncStatus = models.StatusSyncing
		}
		next.IsSyncing = true
		next.Phase = msg.Phase
		next.SyncProgress = msg.Current
		next.SyncTotal = msg.Total
		if msg.Bookmark != nil {
			next.SyncedBookmarkIDs[msg.Bookmark.ID] = struct{}{}
		}

	case models.MsgSyncComplete:
		next.SyncStatus = models.StatusComplete
		next.IsSyncing = false
		next.Phase = models.PhaseComplete
		next.SyncProgress = msg.Processed
		next.SyncedBookmarkIDs = make(map[string]struct{})

	case models.MsgSyncError:
		next.SyncStatus = models.StatusFailed
		next.IsSyncing = false
		next.Phase = models.PhaseNone
		next.LastError = msg.Error
		next.Recoverable = msg.Recoverable
		next.SyncedBookmarkIDs = make(map[string]struct{})
	}

	return next
}
