package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/eventbox/eventbox/internal/entitystore"
	"github.com/eventbox/eventbox/internal/metrics"
	"github.com/eventbox/eventbox/internal/service/entities"
	"github.com/eventbox/eventbox/internal/util"
	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

var kindRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

type createEntityReq struct {
	ID        string          `json:"id"` // optional; generated when empty
	Data      json.RawMessage `json:"data"`
	EventType string          `json:"event_type"`
	Metadata  json.RawMessage `json:"metadata"`
}

type updateEntityReq struct {
	ExpectedVersion int64           `json:"expected_version"`
	Data            json.RawMessage `json:"data"`
	EventType       string          `json:"event_type"`
	Metadata        json.RawMessage `json:"metadata"`
}

func createEntityHandler(svc *entities.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind := strings.TrimSpace(c.Param("kind"))
		if !kindRe.MatchString(kind) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid kind"})
		}

		var req createEntityReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if len(req.Data) == 0 || !json.Valid(req.Data) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "data must be valid JSON"})
		}

		eventType := strings.TrimSpace(req.EventType)
		if eventType == "" {
			eventType = kind + ".created"
		}

		id := strings.TrimSpace(req.ID)
		if id == "" {
			id = util.New()
		}

		res, err := svc.Create(c.Request().Context(), kind, id, req.Data, eventType, req.Metadata)
		if err != nil {
			log.Errorf("create entity failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusCreated, map[string]any{
			"id":             id,
			"kind":           kind,
			"version":        res.Version,
			"event_id":       res.EventID,
			"transaction_id": res.TransactionID,
		})
	}
}

func getEntityHandler(svc *entities.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind := strings.TrimSpace(c.Param("kind"))
		id := strings.TrimSpace(c.Param("id"))
		if !kindRe.MatchString(kind) || id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		data, version, err := svc.Get(c.Request().Context(), kind, id)
		if errors.Is(err, entitystore.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		if err != nil {
			log.Errorf("get entity failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"id":      id,
			"kind":    kind,
			"version": version,
			"data":    data,
		})
	}
}

// updateEntityHandler performs an optimistic update. A stale expected_version
// comes back as 409 with the current version so the caller can re-read,
// merge, and retry if that is safe for them.
func updateEntityHandler(svc *entities.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind := strings.TrimSpace(c.Param("kind"))
		id := strings.TrimSpace(c.Param("id"))
		if !kindRe.MatchString(kind) || id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		var req updateEntityReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		if req.ExpectedVersion < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "expected_version is required"})
		}
		if len(req.Data) == 0 || !json.Valid(req.Data) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "data must be valid JSON"})
		}

		eventType := strings.TrimSpace(req.EventType)
		if eventType == "" {
			eventType = kind + ".updated"
		}

		res, err := svc.Update(c.Request().Context(), kind, id, req.ExpectedVersion, req.Data, eventType, req.Metadata)
		if errors.Is(err, entitystore.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
		}
		if errors.Is(err, entitystore.ErrConcurrencyConflict) {
			metrics.ConflictsTotal.Inc()

			_, current, readErr := svc.Get(c.Request().Context(), kind, id)
			if readErr != nil {
				current = 0
			}
			return c.JSON(http.StatusConflict, map[string]any{
				"error":            "version_conflict",
				"description":      "stored version no longer matches expected_version; re-read and retry if safe",
				"expected_version": req.ExpectedVersion,
				"current_version":  current,
			})
		}
		if err != nil {
			log.Errorf("update entity failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"id":             id,
			"kind":           kind,
			"version":        res.Version,
			"event_id":       res.EventID,
			"transaction_id": res.TransactionID,
		})
	}
}
