package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/ratelimit"
)

// RateLimit counts every request against operation for the authenticated
// caller, falling back to the client IP.
func RateLimit(l *ratelimit.Limiter, operation string, limit int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject, _ := c.Locals("user_id").(string)
		if subject == "" {
			subject = "ip:" + c.IP()
		}

		d, err := l.Check(c.UserContext(), subject, operation)
		if err != nil {
			slog.Error("rate limiter unavailable", "operation", operation, "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Rate limiter unavailable",
			})
		}

		handlers.SetRateLimitHeaders(c, limit, d.Remaining, d.ResetAt)

		if !d.Allowed {
			c.Set(fiber.HeaderRetryAfter, handlers.RetryAfter(d.ResetAt))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":     "Too many requests",
				"remaining": d.Remaining,
				"reset_at":  d.ResetAt.UTC(),
			})
		}
		return c.Next()
	}
}
