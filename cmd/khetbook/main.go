// Command khetbook is the offline-first client for the khetbook farm
// ledger: it keeps a local copy of crops, queues writes while offline, and
// replays them when the API is reachable again.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tikaramgahane2k4/khetbook/internal/config"
	"github.com/tikaramgahane2k4/khetbook/internal/logging"
	"github.com/tikaramgahane2k4/khetbook/internal/ui"
)

// skipConfig marks commands that run without loading the config file.
const skipConfig = "khetbook/skip-config"

var (
	cfgFile string
	loader  *config.Loader
	cfg     *config.Config

	logger    = zerolog.Nop()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "khetbook",
	Short: "Offline-first client for the khetbook farm ledger",
	Long: `khetbook keeps a local copy of your crops and the writes you make.

Writes made while offline are stored in a queue and replayed in order once
the API is reachable. Run 'khetbook daemon' to sync automatically, or
'khetbook sync' to drain the queue once.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init(os.Stdout)
		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}

		loader = config.NewLoader(cfgFile)
		flags := cmd.Flags()
		for key, name := range map[string]string{
			"store.path":   "db",
			"log.level":    "log-level",
			"api.base_url": "api",
		} {
			if err := loader.BindFlag(key, flags.Lookup(name)); err != nil {
				return err
			}
		}

		loaded, err := loader.Load()
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		logger, logCloser, err = logging.New(logging.Options{
			Level: cfg.Log.Level,
			File:  cfg.Log.File,
		})
		if err != nil {
			return err
		}
		logger.Debug().Str("config", loader.File()).Str("store", cfg.Store.Path).Msg("configuration loaded")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Working With Data:"},
		&cobra.Group{ID: "sync", Title: "Sync & Queue:"},
		&cobra.Group{ID: "advanced", Title: "Services & Setup:"},
	)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./khetbook.toml)")
	rootCmd.PersistentFlags().String("db", "", "Local database path (overrides store.path)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("api", "", "API base URL (overrides api.base_url)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
