package handler // handler defines http handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/meeting-sync/internal/service"
)

// getUserID extracts the user_id placed in the context by JWTAuth and
// converts it to uint64.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		if t > 0 {
			return uint64(t), nil
		}
	case int64:
		if t > 0 {
			return uint64(t), nil
		}
	case float64: // numeric JWT claims decode as float64
		if t > 0 {
			return uint64(t), nil
		}
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// currentUser is getUserID with the 401 response already written.
func currentUser(c echo.Context) (uint64, bool, error) {
	uid, err := getUserID(c)
	if err != nil {
		return 0, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	return uid, true, nil
}

func parseRoomNo(c echo.Context) (uint64, bool) {
	n, err := strconv.ParseUint(c.Param("room"), 10, 64)
	return n, err == nil && n > 0
}

// writeError maps service errors onto HTTP responses.  Anything that is not
// a known service error is logged and reported as 500 without detail.
func writeError(c echo.Context, err error) error {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "validation_failed", "fields": vErr.FieldErrors})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	log.Error().Err(err).Str("module", "handler").Str("method", c.Request().Method).Str("path", c.Path()).Msg("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
}
