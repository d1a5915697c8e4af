package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// handleListSubscriptions returns system then user subscriptions.
// GET /api/v1/subscriptions
func (s *Server) handleListSubscriptions(c *fiber.Ctx) error {
	return SendSuccess(c, fiber.StatusOK, nonNil(s.alerts.Subscriptions()))
}

// handleCreateSubscription registers a user subscription.
// POST /api/v1/subscriptions
func (s *Server) handleCreateSubscription(c *fiber.Ctx) error {
	var sub models.Subscription
	if err := c.BodyParser(&sub); err != nil {
		return SendErrorWithType(c, fiber.StatusBadRequest, "Invalid request body", models.ValidationErrorType)
	}
	sub.System = false

	if err := s.alerts.Subscribe(sub); err != nil {
		if errors.Is(err, models.ErrInvalidSubscription) {
			return SendErrorWithType(c, fiber.StatusBadRequest, err.Error(), models.ValidationErrorType)
		}
		s.log.Error("failed to add subscription", "recipient_id", sub.RecipientID, "error", err)
		return SendErrorWithType(c, fiber.StatusInternalServerError, "Failed to add subscription", models.GeneralErrorType)
	}
	return SendSuccess(c, fiber.StatusCreated, sub)
}
