package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/crosspilot/crosspilot/internal/queue"
)

type HealthHandler struct {
	scheduler *queue.Scheduler
}

func NewHealthHandler(scheduler *queue.Scheduler) *HealthHandler {
	return &HealthHandler{scheduler: scheduler}
}

func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	health, err := h.scheduler.Health()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Unable to inspect queue",
		})
	}

	status := fiber.StatusOK
	if !health.Healthy {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(health)
}
