package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/eventbox/eventbox/internal/repository"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// listDeadLettersHandler exposes quarantined events for operator inspection.
func listDeadLettersHandler(repo repository.OutboxRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		rows, err := repo.ListByStatus(c.Request().Context(), model.StatusDeadLetter, limit, offset)
		if err != nil {
			log.Errorf("list dead letters failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}

// cancelEventHandler administratively terminates a pending or failed event.
// Terminal and in-flight rows are rejected with 409.
func cancelEventHandler(repo repository.OutboxRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		err := repo.Cancel(c.Request().Context(), id)
		if errors.Is(err, repository.ErrEventNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		if errors.Is(err, repository.ErrNotCancellable) {
			return c.JSON(http.StatusConflict, map[string]string{
				"error":       "not_cancellable",
				"description": "only pending or failed events can be cancelled",
			})
		}
		if err != nil {
			log.Errorf("cancel event failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{"cancelled": true, "id": id})
	}
}
