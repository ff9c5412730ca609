package client

import (
	"context"
	"fmt"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/controller"
	"github.com/marksync/marksync/internal/events"
	"github.com/marksync/marksync/internal/lock"
	"github.com/marksync/marksync/internal/remote"
	"github.com/marksync/marksync/internal/store"
	syncengine "github.com/marksync/marksync/internal/sync"
	"github.com/marksync/marksync/internal/visibility"
	"github.com/marksync/marksync/internal/worker"
)

// Client bundles all marksync services behind one constructor.
type Client struct {
	config *config.Config
	logger *events.Logger

	Remote     remote.Client
	Store      store.Store
	Locks      lock.Coordinator
	Engine     *syncengine.Engine
	Worker     *worker.Manager
	Controller *controller.Controller
}

// New creates a fully wired client from configuration.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rc := remote.NewHTTPClient(&cfg.API, logger)
	locks := lock.New(cfg.Storage.LockDir, lock.SyncLockName, logger)

	engine := syncengine.NewEngine(rc, st, &syncengine.Config{
		YieldEvery: cfg.Sync.YieldEvery,
	}, logger)

	mgr := worker.NewManager(engine, locks, &worker.Config{
		LockTimeout: cfg.Sync.LockTimeout,
		Inline:      cfg.Sync.InlineWorker,
		Buffer:      cfg.Sync.EventBuffer,
	}, logger)

	return &Client{
		config:     cfg,
		logger:     logger,
		Remote:     rc,
		Store:      st,
		Locks:      locks,
		Engine:     engine,
		Worker:     mgr,
		Controller: controller.New(mgr, logger),
	}, nil
}

// Startup performs one-time initialization for a fresh session: locks
// orphaned by a crashed previous session are reclaimed before any new sync
// can be attempted.
func (c *Client) Startup() error {
	if err := c.Worker.EmergencyLockCleanup(); err != nil {
		return fmt.Errorf("emergency lock cleanup: %w", err)
	}
	return nil
}

// Sync runs one synchronization and blocks until it finishes.
func (c *Client) Sync(ctx context.Context, full bool) error {
	if err := c.Controller.RequestSync(ctx, syncengine.Settings{Full: full}); err != nil {
		return err
	}
	c.Controller.Wait()

	state := c.Controller.State()
	if state.LastError != "" {
		return fmt.Errorf("sync failed: %s", state.LastError)
	}
	return nil
}

// Driver adapts the controller to the scheduler interface.
func (c *Client) Driver(ctx context.Context) visibility.SyncDriver {
	return &controllerDriver{ctx: ctx, ctrl: c.Controller, logger: c.logger}
}

// Close releases held resources.
func (c *Client) Close() error {
	return c.Store.Close()
}

type controllerDriver struct {
	ctx    context.Context
	ctrl   *controller.Controller
	logger *events.Logger
}

func (d *controllerDriver) RequestSync() {
	if err := d.ctrl.RequestSync(d.ctx, syncengine.Settings{}); err != nil {
		d.logger.WithError(err).Warn("Scheduled sync failed to start")
	}
}

func (d *controllerDriver) CancelSync() {
	d.ctrl.CancelSync()
}
