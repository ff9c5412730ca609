package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local sync state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cursor, err := apiClient.Store.Cursor()
	if err != nil {
		return err
	}

	bookmarks, err := apiClient.Store.ListBookmarks()
	if err != nil {
		return err
	}

	pendingRead, err := apiClient.Store.BookmarksNeedingReadSync()
	if err != nil {
		return err
	}

	lockFree := apiClient.Locks.IsAvailable()

	if jsonOutput {
		printJSON(map[string]interface{}{
			"bookmarks":         len(bookmarks),
			"pending_read_sync": len(pendingRead),
			"last_sync_cursor":  cursor,
			"lock_available":    lockFree,
		})
		return nil
	}

	printInfo("Bookmarks:          %d", len(bookmarks))
	printInfo("Pending read sync:  %d", len(pendingRead))
	if cursor == "" {
		printInfo("Last sync:          never")
	} else {
		printInfo("Last sync:          %s", cursor)
	}
	if lockFree {
		printInfo("Sync lock:          available")
	} else {
		printWarning("Sync lock:          held by another context")
	}
	return nil
}
