package server

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// handleEvaluateEmergency classifies a sensor snapshot and, when a threshold
// is breached, runs the stop sequence.
// POST /api/v1/emergency/evaluate
func (s *Server) handleEvaluateEmergency(c *fiber.Ctx) error {
	var snapshot models.SensorSnapshot
	if err := c.BodyParser(&snapshot); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid sensor snapshot", models.ValidationErrorType)
	}

	event, triggered := s.emergency.Process(c.UserContext(), snapshot)
	return SendSuccess(c, fiber.StatusOK, models.EmergencyEvaluation{Event: event, Triggered: triggered})
}

// handleTriggerEmergency runs the stop sequence for an operator-declared event.
// POST /api/v1/emergency/trigger
func (s *Server) handleTriggerEmergency(c *fiber.Ctx) error {
	var req models.EmergencyTriggerRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}
	if !req.Level.Valid() {
		return SendErrorWithType(c, fiber.StatusBadRequest, "level must be one of LOW, MEDIUM, HIGH, CRITICAL", models.ValidationErrorType)
	}
	trigger := strings.TrimSpace(req.Trigger)
	if trigger == "" {
		trigger = "manual"
	}
	location := req.Location
	if location == "" {
		location = s.config.Emergency.Location
	}

	event := models.EmergencyEvent{
		Level:              req.Level,
		Trigger:            trigger,
		Description:        req.Description,
		Timestamp:          time.Now(),
		Sensors:            req.Sensors,
		Location:           location,
		RequiresEvacuation: req.RequiresEvacuation,
	}
	triggered := s.emergency.TriggerStop(c.UserContext(), event)
	return SendSuccess(c, fiber.StatusOK, models.EmergencyEvaluation{Event: &event, Triggered: triggered})
}

// handleResetEmergency clears the active emergency.
// POST /api/v1/emergency/reset
func (s *Server) handleResetEmergency(c *fiber.Ctx) error {
	var req models.EmergencyResetRequest
	if err := c.BodyParser(&req); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}
	operator := strings.TrimSpace(req.OperatorID)
	if operator == "" {
		return SendErrorWithType(c, fiber.StatusBadRequest, "operator_id is required", models.ValidationErrorType)
	}

	if !s.emergency.Reset(c.UserContext(), operator, strings.TrimSpace(req.Reason)) {
		return SendErrorWithType(c, fiber.StatusConflict, "No active emergency", models.ConflictErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, s.emergency.Status())
}

// handleEmergencyStatus returns the controller state.
// GET /api/v1/emergency/status
func (s *Server) handleEmergencyStatus(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, s.emergency.Status())
}

// handleEmergencyHistory returns controller transitions. Persisted history is
// used when the audit database is enabled; otherwise recent events in memory.
// GET /api/v1/emergency/history
func (s *Server) handleEmergencyHistory(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	if s.sqlite == nil {
		recent := s.emergency.Recent()
		if len(recent) > limit {
			recent = recent[len(recent)-limit:]
		}
		return SendSuccess(c, fiber.StatusOK, nonNil(recent))
	}

	records, err := s.sqlite.ListEmergencies(c.UserContext(), limit)
	if err != nil {
		s.log.Error("failed to list emergencies", "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to list emergency history", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusOK, nonNil(records))
}
