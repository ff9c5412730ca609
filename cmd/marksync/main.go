package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/client"
	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/events"
)

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "marksync",
	Short: "Bookmark synchronization client",
	Long: `Marksync keeps a local bookmark library in sync with a remote server.

Syncs are incremental by default, fetching only bookmarks changed since
the last successful run. A cross-context lock guarantees at most one
sync runs at a time, even across processes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		var err error
		cfg, err = loader.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if verbose {
			cfg.Log.Level = "debug"
		}
		if jsonOutput {
			cfg.Log.Format = "json"
		}

		logger, err = events.NewLogger(&cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}

		apiClient, err = client.New(cfg, logger)
		if err != nil {
			return fmt.Errorf("initialize client: %w", err)
		}

		// A previous session may have died holding the sync lock.
		if err := apiClient.Startup(); err != nil {
			logger.WithError(err).Warn("Startup lock cleanup failed")
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if apiClient != nil {
			return apiClient.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// rebuildClient recreates the wired client after a config mutation.
func rebuildClient() (*client.Client, error) {
	if apiClient != nil {
		_ = apiClient.Close()
	}
	return client.New(cfg, logger)
}

// Output helpers

func printSuccess(format string, args ...interface{}) {
	color.Green(format, args...)
}

func printError(format string, args ...interface{}) {
	color.Red(format, args...)
}

func printWarning(format string, args ...interface{}) {
	color.Yellow(format, args...)
}

func printInfo(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("marshal output: %v", err)
		return
	}
	fmt.Println(string(data))
}
