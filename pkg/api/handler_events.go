package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/tether-ai/tether-agent/pkg/events"
	"github.com/tether-ai/tether-agent/pkg/models"
)

const (
	sseKeepaliveInterval = 15 * time.Second
	sseDefaultLimit      = 500
	sseMaxLimit          = 5000
)

// sessionEventsHandler handles GET /api/events/sessions/:id, a
// replay-then-follow SSE stream of the session's event log. The subscriber
// is registered before the backlog is read, so no event appended during
// replay can be missed; duplicates across the replay/live boundary are
// dropped by seq.
func (s *Server) sessionEventsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	ctx := c.Request().Context()

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return err
	}

	since, err := queryInt64(c, "since", 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid since parameter")
	}
	limit, err := queryInt64(c, "limit", sseDefaultLimit)
	if err != nil || limit < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid limit parameter")
	}
	if limit > sseMaxLimit {
		limit = sseMaxLimit
	}

	sub := s.store.Subscribe(sessionID)
	defer s.store.Unsubscribe(sessionID, sub)

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	lastSeq := since
	backlog, err := s.store.ListEventsSince(ctx, sessionID, since, int(limit))
	if err != nil {
		return err
	}
	for _, ev := range backlog {
		if s.staleReplayEvent(sessionID, ev.Type, ev.Data) {
			lastSeq = ev.Seq
			continue
		}
		if err := writeSSE(w, rc, ev); err != nil {
			return nil
		}
		lastSeq = ev.Seq
	}
	if err := rc.Flush(); err != nil {
		return nil
	}

	for {
		nextCtx, cancel := context.WithTimeout(ctx, sseKeepaliveInterval)
		ev, err := sub.Next(nextCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return nil
				}
				if err := rc.Flush(); err != nil {
					return nil
				}
				continue
			}
			// Client disconnect or subscriber closed by session deletion.
			return nil
		}

		if ev.Seq <= lastSeq {
			continue
		}
		lastSeq = ev.Seq
		if err := writeSSE(w, rc, ev); err != nil {
			return nil
		}
	}
}

// staleReplayEvent reports whether a replayed event should be dropped: a
// permission_request whose request is no longer pending is stale, and
// resending it would prompt the client for an answer nobody wants.
func (s *Server) staleReplayEvent(sessionID, eventType string, data json.RawMessage) bool {
	if eventType != events.TypePermissionRequest {
		return false
	}
	var p events.PermissionRequestPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RequestID == "" {
		return true
	}
	return !s.store.IsPendingPermission(sessionID, p.RequestID)
}

func writeSSE(w http.ResponseWriter, rc *http.ResponseController, ev *models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return rc.Flush()
}

func queryInt64(c *echo.Context, name string, fallback int64) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
