// tether-agent server — hosts agent sessions, streams their event logs,
// and bridges them to chat platforms.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tether-ai/tether-agent/pkg/api"
	"github.com/tether-ai/tether-agent/pkg/bridge"
	"github.com/tether-ai/tether-agent/pkg/bridge/slack"
	"github.com/tether-ai/tether-agent/pkg/config"
	"github.com/tether-ai/tether-agent/pkg/database"
	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/external"
	"github.com/tether-ai/tether-agent/pkg/maintenance"
	"github.com/tether-ai/tether-agent/pkg/runner"
	"github.com/tether-ai/tether-agent/pkg/runner/claude"
	"github.com/tether-ai/tether-agent/pkg/services"
	"github.com/tether-ai/tether-agent/pkg/state"
	"github.com/tether-ai/tether-agent/pkg/store"
	"github.com/tether-ai/tether-agent/pkg/tools"
	"github.com/tether-ai/tether-agent/pkg/version"
)

func main() {
	ctx := context.Background()

	// 1. Configuration (process env > ./.env > ~/.config/tether-agent/env)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting tether-agent",
		"version", version.Version,
		"addr", cfg.Addr(),
		"data_dir", cfg.DataDir)

	// 2. Database
	dbClient, err := database.NewClient(cfg.DatabasePath())
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", cfg.DatabasePath())

	// 3. Core services
	st := store.New(dbClient.DB())
	machine := state.NewMachine(st)
	emitter := events.NewEmitter(st)
	adapter := runner.NewEventsAdapter(st, machine, emitter)
	executor := tools.NewExecutor(st)

	backend := claude.New(st, adapter, cfg.AnthropicAPIKey, cfg.Model)
	agentRunner := runner.NewGeneric(st, adapter, backend, executor)
	if err := agentRunner.Available(); err != nil {
		slog.Warn("Runner backend unavailable, sessions cannot start until configured", "error", err)
	}

	// 4. Chat bridges
	bridges := bridge.NewManager()
	if b := slack.New(cfg.SlackToken, cfg.SlackChannel); b != nil {
		bridges.Register(b)
		slog.Info("Slack bridge enabled", "channel", cfg.SlackChannel)
	}
	router := bridge.NewRouter(st, bridges)

	externalSvc := external.NewService(st, emitter, nil)
	sessionService := services.NewSessionService(
		st, machine, emitter, agentRunner, router, bridges,
		cfg.WorkdirRoot(), cfg.DefaultAdapter)

	// 5. Recover persisted sessions: rebuild workdirs, rebind platform
	// threads, settle sessions orphaned mid-run by the previous process.
	if err := sessionService.Recover(ctx); err != nil {
		slog.Error("Session recovery failed", "error", err)
		os.Exit(1)
	}

	// 6. Maintenance loop (retention pruning, idle interruption)
	maint := maintenance.NewService(st, sessionService,
		cfg.SessionRetentionDays, cfg.SessionIdleTimeout, cfg.MaintenanceInterval)
	maint.Start(ctx)
	defer maint.Stop()

	// 7. HTTP server
	server := api.NewServer(cfg, dbClient, st, sessionService, externalSvc)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: drain HTTP, then detach bridge consumers.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	router.Shutdown()

	slog.Info("Shutdown complete")
}
