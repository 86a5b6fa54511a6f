// Package commands implements the bp6 command line interface.
package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grant-traynor/bp6-sub001/internal/config"
	"github.com/grant-traynor/bp6-sub001/internal/logging"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "bp6",
	Short: "bp6 - agent session orchestrator",
	Long: `bp6 supervises coding-agent CLI sessions. It spawns a claude or
gemini process per turn, multiplexes the streamed output into events,
and manages session lifecycle from headless prompt queues through to
interactive handover.

Start the orchestrator with 'bp6 serve', or run a single session from
the terminal with 'bp6 run'.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.SetVersionTemplate(fmt.Sprintf("bp6 %s (built %s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(personasCmd)
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context, which drives graceful shutdown in serve and run.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// setupLogging configures the global logger from the loaded config.
// The --log-level flag wins over the config; fallback applies when
// neither names a level. appConfig may be nil.
func setupLogging(appConfig *types.Config, fallback string) {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(fallback)
	if appConfig != nil && appConfig.Log != nil {
		if appConfig.Log.Level != "" {
			cfg.Level = logging.ParseLevel(appConfig.Log.Level)
		}
		cfg.Pretty = appConfig.Log.Pretty
		if appConfig.Log.File {
			cfg.LogToFile = true
			cfg.LogDir = config.PathsAt(appConfig.DataDir).Logs
		}
	}
	if logLevel != "" {
		cfg.Level = logging.ParseLevel(logLevel)
	}
	logging.Init(cfg)
}
