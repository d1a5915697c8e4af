package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/safetyvision/internal/sqlite"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// handleRaiseAlert raises a new alert.
// POST /api/v1/alerts
func (s *Server) handleRaiseAlert(c *fiber.Ctx) error {
	var req models.RaiseRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}

	id, err := s.alerts.Raise(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidAlert) {
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		}
		s.log.Error("failed to raise alert", "title", req.Title, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to raise alert", models.GeneralErrorType)
	}

	alert, err := s.alerts.Get(id)
	if err != nil {
		// Resolved between raise and read; the id is still valid.
		return SendSuccess(c, fiber.StatusCreated, fiber.Map{"id": id})
	}
	return SendSuccess(c, fiber.StatusCreated, alert)
}

// handleListActiveAlerts returns unresolved alerts, oldest first.
// GET /api/v1/alerts
func (s *Server) handleListActiveAlerts(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, nonNil(s.alerts.ActiveAlerts()))
}

// handleAlertHistory returns recent alerts, newest first. With
// ?persisted=true the audit database is queried instead of memory, and
// ?state= filters by lifecycle state.
// GET /api/v1/alerts/history
func (s *Server) handleAlertHistory(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	if c.QueryBool("persisted") {
		if s.sqlite == nil {
			return SendErrorWithType(c, fiber.StatusNotImplemented, "Persisted history is not enabled", models.GeneralErrorType)
		}
		state := models.AlertState(strings.ToLower(c.Query("state")))
		alerts, err := s.sqlite.ListAlerts(c.UserContext(), state, limit)
		if err != nil {
			s.log.Error("failed to list persisted alerts", "error", err)
			return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to list alert history", models.GeneralErrorType)
		}
		return SendSuccess(c, fiber.StatusOK, nonNil(alerts))
	}
	return SendSuccess(c, fiber.StatusOK, nonNil(s.alerts.History(limit)))
}

// handleAlertStats returns alert statistics.
// GET /api/v1/alerts/stats
func (s *Server) handleAlertStats(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, s.alerts.Statistics())
}

// handleGetAlert returns one alert with its pending escalation deadline.
// GET /api/v1/alerts/:id
func (s *Server) handleGetAlert(c *fiber.Ctx) error {
	id := models.AlertID(c.Params("id"))
	alert, err := s.alerts.Get(id)
	if err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found", models.NotFoundErrorType)
		}
		s.log.Error("failed to get alert", "alert_id", id, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to retrieve alert", models.GeneralErrorType)
	}

	resp := fiber.Map{"alert": alert}
	if due, ok := s.alerts.PendingEscalation(id); ok {
		resp["escalates_at"] = due
	}
	return SendSuccess(c, fiber.StatusOK, resp)
}

// handleAlertTransitions returns the persisted audit trail for an alert.
// GET /api/v1/alerts/:id/transitions
func (s *Server) handleAlertTransitions(c *fiber.Ctx) error {
	if s.sqlite == nil {
		return SendErrorWithType(c, fiber.StatusNotImplemented, "Persisted history is not enabled", models.GeneralErrorType)
	}
	id := models.AlertID(c.Params("id"))
	if _, err := s.sqlite.GetAlert(c.UserContext(), id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found", models.NotFoundErrorType)
		}
		s.log.Error("failed to get persisted alert", "alert_id", id, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to retrieve alert", models.GeneralErrorType)
	}
	trail, err := s.sqlite.ListAlertTransitions(c.UserContext(), id)
	if err != nil {
		s.log.Error("failed to list alert transitions", "alert_id", id, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to list transitions", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, nonNil(trail))
}

// handleAcknowledgeAlert acknowledges an alert and cancels its escalation.
// POST /api/v1/alerts/:id/acknowledge
func (s *Server) handleAcknowledgeAlert(c *fiber.Ctx) error {
	id := models.AlertID(c.Params("id"))
	var req models.AcknowledgeRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return SendErrorWithType(c, fiber.StatusBadRequest, "user_id is required", models.ValidationErrorType)
	}

	if err := s.alerts.Acknowledge(c.UserContext(), id, userID, strings.TrimSpace(req.Note)); err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found or already resolved", models.NotFoundErrorType)
		}
		s.log.Error("failed to acknowledge alert", "alert_id", id, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to acknowledge alert", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"message": "Alert acknowledged", "id": id})
}

// handleResolveAlert resolves an alert.
// POST /api/v1/alerts/:id/resolve
func (s *Server) handleResolveAlert(c *fiber.Ctx) error {
	id := models.AlertID(c.Params("id"))
	var req models.ResolveRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return SendErrorWithType(c, fiber.StatusBadRequest, "user_id is required", models.ValidationErrorType)
	}

	if err := s.alerts.Resolve(c.UserContext(), id, userID, strings.TrimSpace(req.Note)); err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			return SendErrorWithType(c, fiber.StatusNotFound, "Alert not found or already resolved", models.NotFoundErrorType)
		}
		s.log.Error("failed to resolve alert", "alert_id", id, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to resolve alert", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, fiber.Map{"message": "Alert resolved", "id": id})
}

// parseLimit reads ?limit=, defaulting to DefaultAlertHistoryLimit.
func parseLimit(c *fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return models.DefaultAlertHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "limit must be a positive integer")
	}
	return limit, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
