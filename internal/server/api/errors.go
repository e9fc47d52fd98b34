package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrStateConflict),
		errors.Is(err, common.ErrAlreadyRevealed),
		errors.Is(err, common.ErrRevealInProgress):
		return http.StatusConflict
	case errors.Is(err, common.ErrProofInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrTransientNetwork),
		errors.Is(err, common.ErrInsufficientShares),
		errors.Is(err, common.ErrPartialDistribution):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as an ErrorResponse. Internal errors are logged and
// reported without detail.
func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed", "path", c.Path(), "error", err)
		return c.JSON(status, ErrorResponse{Error: "internal error"})
	}
	return c.JSON(status, ErrorResponse{Error: err.Error()})
}

func (s *Server) invalid(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: ToFieldErrors(err)})
}
