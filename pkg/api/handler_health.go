package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/version"
)

// healthHandler handles GET /api/health.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.db.Health(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, models.HealthResponse{
			Version:  version.Version,
			Protocol: version.Protocol,
		})
	}

	count, err := s.store.CountSessions(ctx)
	if err != nil {
		count = 0
	}
	return c.JSON(http.StatusOK, models.HealthResponse{
		OK:       true,
		Version:  version.Version,
		Protocol: version.Protocol,
		Sessions: count,
	})
}
