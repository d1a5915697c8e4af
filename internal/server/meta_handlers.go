package server

import (
	"github.com/gofiber/fiber/v2"
)

// MetaResponse represents the server metadata response
type MetaResponse struct {
	Version           string   `json:"version"`
	BuildInfo         string   `json:"build_info,omitempty"`
	HTTPServerTimeout string   `json:"http_server_timeout"`
	Channels          []string `json:"channels"`
	PersistedHistory  bool     `json:"persisted_history"`
}

// handleGetMeta returns server metadata including version and enabled channels.
// URL: GET /api/v1/meta
func (s *Server) handleGetMeta(c *fiber.Ctx) error {
	meta := MetaResponse{
		Version:           s.version,
		BuildInfo:         s.buildInfo,
		HTTPServerTimeout: s.config.Server.HTTPServerTimeout.String(),
		Channels:          []string{},
		PersistedHistory:  s.sqlite != nil,
	}
	for _, ch := range s.alerts.Channels() {
		meta.Channels = append(meta.Channels, string(ch))
	}
	return SendSuccess(c, fiber.StatusOK, meta)
}

// handleHealth reports liveness plus the state of optional dependencies.
// GET /health
func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"status":            "ok",
		"emergency_active":  s.emergency.Status().Active,
		"active_alerts":     len(s.alerts.ActiveAlerts()),
		"dashboard_viewers": s.hub.Count(),
	}
	if s.sqlite != nil {
		if err := s.sqlite.Ping(c.UserContext()); err != nil {
			s.log.Warn("sqlite health check failed", "error", err)
			resp["status"] = "degraded"
			resp["sqlite"] = err.Error()
			return SendSuccess(c, fiber.StatusServiceUnavailable, resp)
		}
		resp["sqlite"] = "ok"
	}
	return SendSuccess(c, fiber.StatusOK, resp)
}

// handleMetrics writes Prometheus text exposition.
// GET /metrics
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	w := c.Response().BodyWriter()
	s.metrics.WritePrometheus(w)
	return nil
}
