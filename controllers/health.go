package controllers

import (
	"schoolreg/services/health"

	"github.com/gofiber/fiber/v2"
)

// HealthController exposes the dependency health report.
type HealthController struct {
	service *health.Service
}

// NewHealthController constructs a controller backed by the provided service.
func NewHealthController(service *health.Service) *HealthController {
	return &HealthController{service: service}
}

// GetHealthStatus returns the aggregated health report.
func (hc *HealthController) GetHealthStatus(c *fiber.Ctx) error {
	report := hc.service.Report(c.UserContext())
	return c.Status(health.HTTPStatus(report.Status)).JSON(report)
}
