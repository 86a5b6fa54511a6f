// Command bp6-server runs the orchestrator HTTP server without the CLI
// wrapper, for deployments that only need the API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grant-traynor/bp6-sub001/internal/backend"
	"github.com/grant-traynor/bp6-sub001/internal/config"
	"github.com/grant-traynor/bp6-sub001/internal/logging"
	"github.com/grant-traynor/bp6-sub001/internal/persona"
	"github.com/grant-traynor/bp6-sub001/internal/server"
	"github.com/grant-traynor/bp6-sub001/internal/session"
	"github.com/grant-traynor/bp6-sub001/internal/storage"
	"github.com/grant-traynor/bp6-sub001/internal/task"
)

var version = "0.1.0"

func main() {
	var (
		port        = flag.Int("port", 0, "Port to listen on (overrides config)")
		hostname    = flag.String("hostname", "", "Hostname to listen on (overrides config)")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("bp6-server %s\n", version)
		return
	}

	if err := run(*hostname, *port); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(hostname string, port int) error {
	appConfig, err := config.Load()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if appConfig.Log != nil {
		if appConfig.Log.Level != "" {
			logCfg.Level = logging.ParseLevel(appConfig.Log.Level)
		}
		logCfg.Pretty = appConfig.Log.Pretty
		if appConfig.Log.File {
			logCfg.LogToFile = true
			logCfg.LogDir = config.PathsAt(appConfig.DataDir).Logs
		}
	}
	logging.Init(logCfg)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions.PruneIndex(ctx)

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
	serverConfig.Version = version
	if appConfig.Server != nil {
		if appConfig.Server.Host != "" {
			serverConfig.Host = appConfig.Server.Host
		}
		if appConfig.Server.Port != 0 {
			serverConfig.Port = appConfig.Server.Port
		}
	}
	if hostname != "" {
		serverConfig.Host = hostname
	}
	if port != 0 {
		serverConfig.Port = port
	}

	srv := server.New(serverConfig, appConfig, sessions, backends, personas, feed)

	go func() {
		logging.Info().
			Str("host", serverConfig.Host).
			Int("port", serverConfig.Port).
			Msg("orchestrator listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("session shutdown incomplete")
	}
	return srv.Shutdown(shutdownCtx)
}
