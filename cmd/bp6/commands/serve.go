package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/config"
	"github.com/grant-traynor/bp6-sub001/internal/logging"
	"github.com/grant-traynor/bp6-sub001/internal/persona"
	"github.com/grant-traynor/bp6-sub001/internal/server"
	"github.com/grant-traynor/bp6-sub001/internal/session"
	"github.com/grant-traynor/bp6-sub001/internal/storage"
	"github.com/grant-traynor/bp6-sub001/internal/task"
)

var (
	servePort     int
	serveHostname string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server",
	Long: `Start the bp6 HTTP server. Clients create and drive agent sessions
through its REST API and follow their output on the SSE event stream.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	appConfig, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(appConfig, "info")

	paths := config.PathsAt(appConfig.DataDir)
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	personaDir := paths.Personas
	if appConfig.Persona != nil && appConfig.Persona.Dir != "" {
		personaDir = appConfig.Persona.Dir
	}
	personas, err := persona.NewRegistry(personaDir)
	if err != nil {
		return err
	}

	backends := backend.DefaultRegistry(appConfig)
	store := storage.New(paths.Storage)
	sessions := session.NewService(appConfig, backends, personas, store, paths.Sessions)
	sessions.PruneIndex(cmd.Context())

	feed := task.NewFeed(task.FeedPath(appConfig))
	watcher, err := task.NewWatcher(feed)
	if err != nil {
		return err
	}
	if watcher != nil {
		watcher.Start()
		defer watcher.Stop()
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Version = Version
	if appConfig.Server != nil {
		if appConfig.Server.Host != "" {
			serverConfig.Host = appConfig.Server.Host
		}
		if appConfig.Server.Port != 0 {
			serverConfig.Port = appConfig.Server.Port
		}
	}
	if serveHostname != "" {
		serverConfig.Host = serveHostname
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}

	srv := server.New(serverConfig, appConfig, sessions, backends, personas, feed)

	go func() {
		logging.Info().
			Str("host", serverConfig.Host).
			Int("port", serverConfig.Port).
			Str("version", Version).
			Msg("orchestrator listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	<-cmd.Context().Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Sessions first: terminating agents publishes final events that
	// connected SSE clients should still receive.
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("session shutdown incomplete")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown incomplete")
	}

	logging.Info().Msg("stopped")
	return nil
}
