package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/toolcrib/common/models"
	"github.com/lyzr/toolcrib/common/store"
)

// statusFor maps a domain error kind to its HTTP status
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindInvalid:
		return http.StatusBadRequest
	case models.KindPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error", "kind"} with the matching status
func respondError(c echo.Context, err error) error {
	// Direct applies surface raw store sentinels
	switch {
	case errors.Is(err, store.ErrNotFound) && models.KindOf(err) == "":
		err = models.NotFound("record not found")
	case errors.Is(err, store.ErrUnavailable) && models.KindOf(err) == "":
		err = models.Persistence(err, "store unavailable")
	}

	kind := models.KindOf(err)
	status := statusFor(kind)

	body := map[string]interface{}{
		"error": models.ReasonOf(err),
	}
	if kind != "" {
		body["kind"] = kind
	}
	if status == http.StatusInternalServerError {
		// Don't leak internals for unclassified failures
		body["error"] = "internal error"
	}

	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error": msg,
		"kind":  models.KindInvalid,
	})
}

// parseTime accepts RFC 3339 timestamps
func parseTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, models.Invalid("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, models.Invalid("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}
