package visibility

import (
	"context"
	"time"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/lock"
	"github.com/marksync/marksync/internal/models"
)

// Change is a foreground/background transition of the application.
type Change struct {
	Foreground bool
	Timestamp  time.Time
}

// Messenger delivers control messages to the sync side. A nil Messenger is
// valid and drops everything: the application may background before sync is
// wired up.
type Messenger interface {
	Send(msg models.SyncMessage) error
}

// ChanMessenger delivers messages on a channel, dropping when full so a slow
// consumer never stalls a lifecycle transition.
type ChanMessenger struct {
	C chan models.SyncMessage
}

// NewChanMessenger creates a messenger with the given buffer.
func NewChanMessenger(buffer int) *ChanMessenger {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanMessenger{C: make(chan models.SyncMessage, buffer)}
}

func (m *ChanMessenger) Send(msg models.SyncMessage) error {
	select {
	case m.C <- msg:
	default:
	}
	return nil
}

// Config contains visibility coordinator configuration.
type Config struct {
	// AutoSync registers periodic background sync when the app backgrounds.
	AutoSync bool

	// ResumeWait bounds how long a foreground transition waits for an
	// in-flight background run to release the sync lock.
	ResumeWait time.Duration
}

// Coordinator translates application lifecycle transitions into sync control
// messages. Every handler is best-effort: a lifecycle transition must never
// fail because sync plumbing is absent or broken, so errors are logged and
// swallowed.
type Coordinator struct {
	messenger   Messenger
	locks       lock.Coordinator
	requestSync func()
	autoSync    bool
	resumeWait  time.Duration
	logger      *events.Logger
}

// New creates a visibility coordinator. requestSync is invoked after a
// foreground transition once the sync lock is free; it may be nil.
func New(messenger Messenger, locks lock.Coordinator, requestSync func(), cfg *Config, logger *events.Logger) *Coordinator {
	resumeWait := cfg.ResumeWait
	if resumeWait <= 0 {
		resumeWait = 10 * time.Second
	}

	return &Coordinator{
		messenger:   messenger,
		locks:       locks,
		requestSync: requestSync,
		autoSync:    cfg.AutoSync,
		resumeWait:  resumeWait,
		logger:      logger.WithField("component", "visibility_coordinator"),
	}
}

// Watch consumes lifecycle transitions until the channel closes or the
// context ends.
func (c *Coordinator) Watch(ctx context.Context, changes <-chan Change) {
	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return
			}
			c.Handle(ctx, change)
		case <-ctx.Done():
			return
		}
	}
}

// Handle processes one transition.
func (c *Coordinator) Handle(ctx context.Context, change Change) {
	if change.Foreground {
		c.handleForeground(ctx, change)
	} else {
		c.handleBackground(change)
	}
}

// handleBackground announces the transition and hands ongoing sync duty to
// the periodic scheduler.
func (c *Coordinator) handleBackground(change Change) {
	c.logger.Debug("Application backgrounded")

	c.send(models.SyncMessage{Type: models.MsgAppBackground, Timestamp: change.Timestamp})

	if c.autoSync {
		c.send(models.SyncMessage{Type: models.MsgRegisterPeriodicSync, Timestamp: change.Timestamp})
	}
}

// handleForeground cancels any background run, reclaims sync duty, and kicks
// off a fresh foreground run once the lock is free.
func (c *Coordinator) handleForeground(ctx context.Context, change Change) {
	c.logger.Debug("Application foregrounded")

	c.send(models.SyncMessage{Type: models.MsgAppForeground, Timestamp: change.Timestamp})
	c.send(models.SyncMessage{Type: models.MsgCancelSync, Timestamp: change.Timestamp})
	c.send(models.SyncMessage{Type: models.MsgUnregisterPeriodicSync, Timestamp: change.Timestamp})

	// The cancelled background run still finishes its current item; wait for
	// it to let go of the lock before starting the foreground run.
	if err := c.locks.WaitForRelease(ctx, c.resumeWait); err != nil {
		c.logger.WithError(err).Warn("Background run did not release the sync lock in time")
	}

	if c.requestSync != nil {
		c.requestSync()
	}
}

// send delivers a message, logging rather than propagating failures.
func (c *Coordinator) send(msg models.SyncMessage) {
	if c.messenger == nil {
		return
	}
	if err := c.messenger.Send(msg); err != nil {
		c.logger.WithError(err).WithField("type", string(msg.Type)).Warn("Failed to deliver lifecycle message")
	}
}
