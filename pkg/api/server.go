// Package api exposes the HTTP control surface: session lifecycle
// endpoints, external attach/sync, health, and the per-session SSE event
// stream, all under /api.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tether-ai/tether-agent/pkg/config"
	"github.com/tether-ai/tether-agent/pkg/database"
	"github.com/tether-ai/tether-agent/pkg/external"
	"github.com/tether-ai/tether-agent/pkg/services"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg      *config.Config
	db       *database.Client
	store    *store.Store
	sessions *services.SessionService
	external *external.Service
	logger   *slog.Logger
}

// NewServer creates the server and registers all routes.
func NewServer(
	cfg *config.Config,
	db *database.Client,
	st *store.Store,
	sessions *services.SessionService,
	externalSvc *external.Service,
) *Server {
	s := &Server{
		echo:     echo.New(),
		cfg:      cfg,
		db:       db,
		store:    st,
		sessions: sessions,
		external: externalSvc,
		logger:   slog.Default().With("component", "api"),
	}

	s.echo.HTTPErrorHandler = s.httpErrorHandler
	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.echo.Group("/api")
	api.GET("/health", s.healthHandler)

	authed := s.echo.Group("/api")
	if !s.cfg.AuthDisabled() {
		authed.Use(bearerAuth(s.cfg.Token))
	}

	authed.GET("/sessions", s.listSessionsHandler)
	authed.POST("/sessions", s.createSessionHandler)
	authed.POST("/sessions/attach", s.attachSessionHandler)
	authed.GET("/sessions/:id", s.getSessionHandler)
	authed.DELETE("/sessions/:id", s.deleteSessionHandler)
	authed.POST("/sessions/:id/start", s.startSessionHandler)
	authed.POST("/sessions/:id/input", s.sessionInputHandler)
	authed.POST("/sessions/:id/stop", s.stopSessionHandler)
	authed.PATCH("/sessions/:id/rename", s.renameSessionHandler)
	authed.POST("/sessions/:id/sync", s.syncSessionHandler)
	authed.GET("/events/sessions/:id", s.sessionEventsHandler)
}

// Start begins serving and blocks until the listener fails or is shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", s.cfg.Addr())
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
