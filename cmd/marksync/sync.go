package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marksync/marksync/internal/models"
	syncengine "github.com/marksync/marksync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize bookmarks with the remote server",
	Long: `Sync fetches bookmarks changed since the last successful run and
merges them into the local library. Use --full to ignore the stored
cursor and fetch everything.`,
	Example: `  marksync sync
  marksync sync --full`,
	RunE: runSync,
}

var syncFull bool

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVarP(&syncFull, "full", "f", false,
		"Force full sync instead of incremental")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ensureToken(); err != nil {
		return err
	}

	// Ctrl-C requests a cooperative cancel; the in-flight item finishes.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		printWarning("\nSync interrupted, cancelling...")
		apiClient.Controller.CancelSync()
		cancel()
	}()

	if jsonOutput {
		return runSyncJSON(ctx)
	}
	return runSyncInteractive(ctx)
}

// ensureToken prompts for an API token when neither config nor environment
// provides one.
func ensureToken() error {
	if cfg.API.Token != "" {
		return nil
	}

	fmt.Fprint(os.Stderr, "API token: ")
	token, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	cfg.API.Token = string(token)

	// The client was built before the prompt; rebuild with the token.
	var rebuildErr error
	apiClient, rebuildErr = rebuildClient()
	return rebuildErr
}

func runSyncInteractive(ctx context.Context) error {
	var lastLine int

	apiClient.Controller.OnChange(func(state models.SyncState) {
		switch state.SyncStatus {
		case models.StatusStarting:
			printInfo("Starting sync...")
		case models.StatusSyncing:
			if state.SyncTotal > 0 && state.SyncProgress != lastLine {
				lastLine = state.SyncProgress
				fmt.Printf("\r[%s] %d/%d bookmarks",
					state.Phase, state.SyncProgress, state.SyncTotal)
			}
		}
	})

	startTime := time.Now()
	err := apiClient.Controller.RequestSync(ctx, syncengine.Settings{Full: syncFull})
	if err != nil {
		return err
	}
	apiClient.Controller.Wait()
	duration := time.Since(startTime)

	fmt.Println()

	final := apiClient.Controller.State()
	if final.LastError != "" {
		printError("Sync failed: %s", final.LastError)
		if final.Recoverable {
			printInfo("The error is transient; try again.")
		}
		apiClient.Controller.Dismiss()
		return fmt.Errorf("sync failed")
	}

	printSuccess("Sync completed in %s", duration.Round(time.Second))
	return nil
}

func runSyncJSON(ctx context.Context) error {
	var states []models.SyncState

	apiClient.Controller.OnChange(func(state models.SyncState) {
		states = append(states, state)
	})

	err := apiClient.Controller.RequestSync(ctx, syncengine.Settings{Full: syncFull})
	if err == nil {
		apiClient.Controller.Wait()
	}

	final := apiClient.Controller.State()
	result := map[string]interface{}{
		"success": err == nil && final.LastError == "",
		"full":    syncFull,
		"states":  states,
	}
	if err != nil {
		result["error"] = err.Error()
	} else if final.LastError != "" {
		result["error"] = final.LastError
	}

	printJSON(result)

	if err != nil {
		return err
	}
	if final.LastError != "" {
		apiClient.Controller.Dismiss()
		return fmt.Errorf("sync failed")
	}
	return nil
}
