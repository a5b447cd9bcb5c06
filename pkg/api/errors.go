package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tether-ai/tether-agent/pkg/models"
	"github.com/tether-ai/tether-agent/pkg/runner"
	"github.com/tether-ai/tether-agent/pkg/state"
	"github.com/tether-ai/tether-agent/pkg/store"
)

// Error codes of the uniform envelope.
const (
	codeBadRequest       = "BAD_REQUEST"
	codeUnauthorized     = "UNAUTHORIZED"
	codeForbidden        = "FORBIDDEN"
	codeNotFound         = "NOT_FOUND"
	codeInvalidState     = "INVALID_STATE"
	codeAlreadyExists    = "ALREADY_EXISTS"
	codeValidation       = "VALIDATION_ERROR"
	codeInternal         = "INTERNAL_ERROR"
	codeUnavailable      = "AGENT_UNAVAILABLE"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// mapError maps any error onto a status and the error envelope. Service
// and store sentinels take priority; echo HTTP errors pass their status
// through; everything else is a 500.
func mapError(err error) (int, models.ErrorEnvelope) {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return http.StatusUnprocessableEntity, envelope(codeValidation, validErr.Message,
			map[string]string{"field": validErr.Field})
	}

	var transErr *state.TransitionError
	if errors.As(err, &transErr) {
		return http.StatusConflict, envelope(codeInvalidState, transErr.Error(), nil)
	}

	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, envelope(codeNotFound, "resource not found", nil)
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return http.StatusConflict, envelope(codeAlreadyExists, "resource already exists", nil)
	}
	if errors.Is(err, runner.ErrUnavailable) {
		return http.StatusServiceUnavailable, envelope(codeUnavailable, err.Error(), nil)
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg := http.StatusText(httpErr.Code)
		if httpErr.Message != "" {
			msg = httpErr.Message
		}
		return httpErr.Code, envelope(codeForStatus(httpErr.Code), msg, nil)
	}

	slog.Error("Unexpected error", "error", err)
	return http.StatusInternalServerError, envelope(codeInternal, "internal server error", nil)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return codeBadRequest
	case http.StatusUnauthorized:
		return codeUnauthorized
	case http.StatusForbidden:
		return codeForbidden
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusMethodNotAllowed:
		return codeMethodNotAllowed
	case http.StatusConflict:
		return codeInvalidState
	case http.StatusUnprocessableEntity:
		return codeValidation
	case http.StatusServiceUnavailable:
		return codeUnavailable
	default:
		return codeInternal
	}
}

func envelope(code, message string, details any) models.ErrorEnvelope {
	return models.ErrorEnvelope{Error: models.ErrorBody{Code: code, Message: message, Details: details}}
}

// httpErrorHandler renders every error through the uniform envelope.
func (s *Server) httpErrorHandler(c *echo.Context, err error) {
	if resp, _ := echo.UnwrapResponse(c.Response()); resp != nil && resp.Committed {
		return
	}
	status, body := mapError(err)
	if jsonErr := c.JSON(status, body); jsonErr != nil {
		s.logger.Error("Writing error response failed", "error", jsonErr)
	}
}
