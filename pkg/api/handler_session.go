package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tether-ai/tether-agent/pkg/models"
)

// createSessionHandler handles POST /api/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req models.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.sessions.Create(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, models.SessionResponse{Session: sess})
}

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions, err := s.sessions.List(c.Request().Context())
	if err != nil {
		return err
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	return c.JSON(http.StatusOK, models.SessionListResponse{Sessions: sessions})
}

// getSessionHandler handles GET /api/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.SessionResponse{Session: sess})
}

// deleteSessionHandler handles DELETE /api/sessions/:id.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	if err := s.sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.OKResponse{OK: true})
}

// startSessionHandler handles POST /api/sessions/:id/start.
func (s *Server) startSessionHandler(c *echo.Context) error {
	var req models.StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.sessions.Start(c.Request().Context(), c.Param("id"), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.SessionResponse{Session: sess})
}

// sessionInputHandler handles POST /api/sessions/:id/input.
func (s *Server) sessionInputHandler(c *echo.Context) error {
	var req models.SessionInputRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.sessions.Input(c.Request().Context(), c.Param("id"), req.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.SessionResponse{Session: sess})
}

// stopSessionHandler handles POST /api/sessions/:id/stop.
func (s *Server) stopSessionHandler(c *echo.Context) error {
	sess, err := s.sessions.Stop(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.SessionResponse{Session: sess})
}

// renameSessionHandler handles PATCH /api/sessions/:id/rename.
func (s *Server) renameSessionHandler(c *echo.Context) error {
	var req models.RenameSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.sessions.Rename(c.Request().Context(), c.Param("id"), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.SessionResponse{Session: sess})
}

// attachSessionHandler handles POST /api/sessions/attach.
func (s *Server) attachSessionHandler(c *echo.Context) error {
	var req models.AttachSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sess, err := s.external.Attach(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, models.SessionResponse{Session: sess})
}

// syncSessionHandler handles POST /api/sessions/:id/sync.
func (s *Server) syncSessionHandler(c *echo.Context) error {
	resp, err := s.external.Sync(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
