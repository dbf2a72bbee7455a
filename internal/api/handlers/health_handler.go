package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc adapts a plain function, such as a redis ping, to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	deps    map[string]Pinger
	timeout time.Duration
	logger  *zap.Logger
}

func NewHealthHandler(deps map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, timeout: 2 * time.Second, logger: logger.Named("health")}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	defer cancel()

	checks := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.PingContext(ctx); err != nil {
			h.logger.Warn("Dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "up"
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "ok", "checks": checks})
}
