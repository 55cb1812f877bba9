package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/pkg/logger"
)

// Check probes one dependency. Required checks gate readiness; optional
// ones only downgrade the reported status.
type Check struct {
	Name     string
	Required bool
	Ping     func(ctx context.Context) error
}

type HealthHandler struct {
	checks  []Check
	timeout time.Duration
}

func NewHealthHandler(timeout time.Duration, checks ...Check) *HealthHandler {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	status := "ready"
	code := fiber.StatusOK
	results := make(map[string]string, len(h.checks))

	for _, check := range h.checks {
		if check.Ping == nil {
			results[check.Name] = "disabled"
			continue
		}
		if err := check.Ping(ctx); err != nil {
			logger.Warn("Readiness check failed", zap.String("check", check.Name), zap.Error(err))
			results[check.Name] = "unavailable"
			if check.Required {
				status, code = "not_ready", fiber.StatusServiceUnavailable
			} else if status == "ready" {
				status = "degraded"
			}
			continue
		}
		results[check.Name] = "ok"
	}

	return c.Status(code).JSON(fiber.Map{
		"status": status,
		"checks": results,
	})
}
