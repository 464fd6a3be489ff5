package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/eventbox/eventbox/internal/model"
	"github.com/eventbox/eventbox/internal/repository"
	echo "github.com/labstack/echo/v4"
)

// transactionLogHandler serves saga step diagnostics from the ClickHouse
// mirror (read side; the write side lives in MySQL).
func transactionLogHandler(chRepo repository.CHTransactionLogRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		transactionID := strings.TrimSpace(c.Param("id"))
		if transactionID == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		limit := 100
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

		var level model.LogLevel
		if raw := strings.TrimSpace(c.QueryParam("level")); raw != "" {
			tmp, ok := model.ParseLogLevel(raw)
			if !ok {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid level"})
			}
			level = tmp
		}

		entries, err := chRepo.ListByTransaction(c.Request().Context(), transactionID, level, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse txlog list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"transaction_id": transactionID,
			"limit":          limit,
			"offset":         offset,
			"count":          len(entries),
			"results":        entries,
		})
	}
}
