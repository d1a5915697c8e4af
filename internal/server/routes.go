package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Get("/health", s.handleHealth)
	s.app.Get("/metrics", s.handleMetrics)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.hub.Serve))

	api := s.app.Group("/api/v1")
	api.Get("/meta", s.handleGetMeta)

	alertsGroup := api.Group("/alerts")
	alertsGroup.Post("/", s.handleRaiseAlert)
	alertsGroup.Get("/", s.handleListActiveAlerts)
	alertsGroup.Get("/history", s.handleAlertHistory)
	alertsGroup.Get("/stats", s.handleAlertStats)
	alertsGroup.Get("/:id", s.handleGetAlert)
	alertsGroup.Get("/:id/transitions", s.handleAlertTransitions)
	alertsGroup.Post("/:id/acknowledge", s.handleAcknowledgeAlert)
	alertsGroup.Post("/:id/resolve", s.handleResolveAlert)

	api.Get("/subscriptions", s.handleListSubscriptions)
	api.Post("/subscriptions", s.handleCreateSubscription)

	em := api.Group("/emergency")
	em.Post("/evaluate", s.handleEvaluateEmergency)
	em.Post("/trigger", s.handleTriggerEmergency)
	em.Post("/reset", s.handleResetEmergency)
	em.Get("/status", s.handleEmergencyStatus)
	em.Get("/history", s.handleEmergencyHistory)

	if s.sqlite != nil {
		admin := api.Group("/admin/settings")
		admin.Get("/", s.handleListSettings)
		admin.Get("/category/:category", s.handleListSettingsByCategory)
		admin.Get("/:key", s.handleGetSetting)
		admin.Put("/:key", s.handleUpdateSetting)
		admin.Delete("/:key", s.handleDeleteSetting)
	}
}
