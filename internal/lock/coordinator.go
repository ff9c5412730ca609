package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/models"
)

// SyncLockName is the named lock guarding sync runs across contexts.
const SyncLockName = "marksync-sync"

// ReleaseFunc releases a held lock.
type ReleaseFunc func()

// Coordinator provides cross-context mutual exclusion on a named lock.
// Exactly one execution context may hold the lock at a time; no component
// outside the coordinator inspects or mutates the lock record directly.
type Coordinator interface {
	// IsAvailable is a non-blocking probe of the named lock.
	IsAvailable() bool

	// Acquire blocks until the lock is free or the timeout elapses, then
	// returns a callback that releases it. Returns models.ErrLockTimeout
	// when the bound is exceeded, so a stuck run cannot block other
	// contexts forever.
	Acquire(ctx context.Context, timeout time.Duration) (ReleaseFunc, error)

	// WaitForRelease resolves when the lock becomes free or times out.
	WaitForRelease(ctx context.Context, timeout time.Duration) error

	// EmergencyCleanup reclaims a lock marked held whose holding context
	// terminated without releasing it.
	EmergencyCleanup() error
}

// holder is the on-disk record of the current lock owner.
type holder struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileCoordinator implements Coordinator with a kernel file lock plus a
// holder record used for zombie detection.
type FileCoordinator struct {
	dir    string
	name   string
	retry  time.Duration
	logger *events.Logger
}

// New creates a coordinator for a named lock under dir. When the lock
// directory is unusable the coordinator degrades to always-available rather
// than failing closed: sync still functions, just without the cross-context
// guarantee.
func New(dir, name string, logger *events.Logger) Coordinator {
	logger = logger.WithField("component", "lock_coordinator")

	if err := os.MkdirAll(dir, 0700); err != nil {
		logger.WithError(err).Warn("Lock directory unavailable, mutual exclusion disabled")
		return &nopCoordinator{}
	}

	return &FileCoordinator{
		dir:    dir,
		name:   name,
		retry:  50 * time.Millisecond,
		logger: logger,
	}
}

// IsAvailable probes the named lock without blocking.
func (c *FileCoordinator) IsAvailable() bool {
	// A holder record means the lock is marked held, whether or not the
	// holding context is still alive. Zombies need EmergencyCleanup first.
	if _, err := os.Stat(c.holderPath()); err == nil {
		return false
	}

	fl := flock.New(c.lockPath())
	locked, err := fl.TryLock()
	if err != nil || !locked {
		return false
	}
	_ = fl.Unlock()
	return true
}

// Acquire blocks (queued) until the lock is free or the timeout elapses.
func (c *FileCoordinator) Acquire(ctx context.Context, timeout time.Duration) (ReleaseFunc, error) {
	deadline := time.Now().Add(timeout)

	for {
		release, ok, err := c.tryAcquire()
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}

		if time.Now().After(deadline) {
			return nil, models.ErrLockTimeout
		}

		select {
		case <-time.After(c.retry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryAcquire attempts one non-blocking acquisition.
func (c *FileCoordinator) tryAcquire() (ReleaseFunc, bool, error) {
	fl := flock.New(c.lockPath())
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire file lock: %w", err)
	}
	if !locked {
		return nil, false, nil
	}

	// We hold the kernel lock. A leftover holder record here belongs to a
	// context that terminated without releasing; it stays until an explicit
	// EmergencyCleanup reclaims it.
	if _, err := os.Stat(c.holderPath()); err == nil {
		_ = fl.Unlock()
		return nil, false, nil
	}

	if err := c.writeHolder(); err != nil {
		_ = fl.Unlock()
		return nil, false, fmt.Errorf("write holder record: %w", err)
	}

	c.logger.WithField("lock", c.name).Debug("Lock acquired")

	release := func() {
		if err := os.Remove(c.holderPath()); err != nil && !os.IsNotExist(err) {
			c.logger.WithError(err).Warn("Failed to remove holder record")
		}
		if err := fl.Unlock(); err != nil {
			c.logger.WithError(err).Warn("Failed to release file lock")
		}
		c.logger.WithField("lock", c.name).Debug("Lock released")
	}
	return release, true, nil
}

// WaitForRelease resolves when the lock becomes free or times out.
func (c *FileCoordinator) WaitForRelease(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if c.IsAvailable() {
			return nil
		}

		if time.Now().After(deadline) {
			return models.ErrLockTimeout
		}

		select {
		case <-time.After(c.retry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EmergencyCleanup reclaims a lock whose holder record points at a context
// that no longer exists. Intended for application startup, before any new
// sync is attempted.
func (c *FileCoordinator) EmergencyCleanup() error {
	data, err := os.ReadFile(c.holderPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read holder record: %w", err)
	}

	var h holder
	if err := json.Unmarshal(data, &h); err != nil {
		// Corrupt record: nothing can own it, reclaim.
		c.logger.Warn("Removing corrupt lock holder record")
		return os.Remove(c.holderPath())
	}

	hostname, _ := os.Hostname()
	if h.Hostname == hostname && processAlive(h.PID) {
		// Holder is still running; not ours to reclaim.
		return nil
	}

	c.logger.WithFields(map[string]interface{}{
		"lock":        c.name,
		"holder_pid":  h.PID,
		"acquired_at": h.AcquiredAt,
	}).Warn("Reclaiming lock from dead holder")

	if err := os.Remove(c.holderPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove holder record: %w", err)
	}
	return nil
}

// Helpers

func (c *FileCoordinator) lockPath() string {
	return filepath.Join(c.dir, c.name+".lock")
}

func (c *FileCoordinator) holderPath() string {
	return filepath.Join(c.dir, c.name+".holder.json")
}

func (c *FileCoordinator) writeHolder() error {
	hostname, _ := os.Hostname()
	data, err := json.Marshal(holder{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(c.holderPath(), data, 0600)
}

// processAlive checks whether a pid refers to a running process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// nopCoordinator behaves as if the lock is always available. Used when the
// underlying primitive is unavailable on the host platform.
type nopCoordinator struct{}

func (n *nopCoordinator) IsAvailable() bool { return true }

func (n *nopCoordinator) Acquire(ctx context.Context, timeout time.Duration) (ReleaseFunc, error) {
	return func() {}, nil
}

func (n *nopCoordinator) WaitForRelease(ctx context.Context, timeout time.Duration) error {
	return nil
}

func (n *nopCoordinator) EmergencyCleanup() error { return nil }
