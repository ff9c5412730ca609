package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/visibility"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Daemon keeps bookmarks in sync continuously. It reacts to
application lifecycle signals:

  SIGUSR1  foreground: cancel any background run, then sync immediately
  SIGUSR2  background: register periodic sync at the configured interval

Stop with SIGINT or SIGTERM.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := ensureToken(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messenger := visibility.NewChanMessenger(cfg.Sync.EventBuffer)
	driver := apiClient.Driver(ctx)

	scheduler := visibility.NewScheduler(driver, cfg.Sync.PeriodicInterval, logger)
	go scheduler.Run(ctx, messenger.C)

	coord := visibility.New(messenger, apiClient.Locks, driver.RequestSync,
		&visibility.Config{
			AutoSync:   cfg.Sync.AutoSync,
			ResumeWait: cfg.Sync.LockTimeout,
		}, logger)

	changes := make(chan visibility.Change, 4)
	go coord.Watch(ctx, changes)

	lifecycle := make(chan os.Signal, 2)
	signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	printInfo("Daemon started (pid %d)", os.Getpid())

	// Start in the foreground state.
	changes <- visibility.Change{Foreground: true, Timestamp: time.Now()}

	for {
		select {
		case sig := <-lifecycle:
			changes <- visibility.Change{
				Foreground: sig == syscall.SIGUSR1,
				Timestamp:  time.Now(),
			}
		case <-stop:
			printInfo("Daemon stopping")
			apiClient.Controller.CancelSync()
			cancel()
			return nil
		}
	}
}
