package control

import (
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// authMiddleware requires a bearer shared secret on every route it
// guards, comparing it in constant time so response latency can't leak
// how many leading bytes matched.
func authMiddleware(sharedSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("Authorization")
		const prefix = "Bearer "
		if len(got) > len(prefix) && got[:len(prefix)] == prefix {
			got = got[len(prefix):]
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(sharedSecret)) != 1 {
			return errEnvelope(c, fiber.StatusUnauthorized, "invalid or missing credentials")
		}
		return c.Next()
	}
}

// corsMiddleware allows only the configured origins, the way the
// teacher restricts cross-origin access for its own control plane.
// With an empty allow-list every origin is allowed.
func corsMiddleware(allow []string) fiber.Handler {
	allowed := map[string]struct{}{}
	for _, o := range allow {
		allowed[o] = struct{}{}
	}
	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || len(allowed) == 0 {
				c.Set("Access-Control-Allow-Origin", origin)
				c.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
				c.Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
		}
		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}

// requestMetricsMiddleware stamps a request ID and records latency the
// way the teacher's router.go does for every response.
func requestMetricsMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)

		err := c.Next()

		latency := time.Since(start)
		if logger != nil {
			logger.Info("request", "method", c.Method(), "path", c.Path(), "status", c.Response().StatusCode(), "latency_ms", latency.Milliseconds(), "request_id", reqID)
		}
		return err
	}
}

func requestID(c *fiber.Ctx) string {
	if v, ok := c.Locals("request_id").(string); ok {
		return v
	}
	return uuid.New().String()
}
