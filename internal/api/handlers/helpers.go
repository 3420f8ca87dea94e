package handlers

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
)

func GetUserID(c *fiber.Ctx) int64 {
	s, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(s, 10, 64)
	return userID
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for a decision.
func SetRateLimitHeaders(c *fiber.Ctx, limit, remaining int, resetAt time.Time) {
	if limit > 0 {
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	}
	if remaining >= 0 {
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if !resetAt.IsZero() {
		c.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

// RetryAfter is the Retry-After value in whole seconds, at least one.
func RetryAfter(resetAt time.Time) string {
	secs := int(time.Until(resetAt).Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// errorResponse maps a service error onto a status code and JSON body.
func errorResponse(c *fiber.Ctx, err error) error {
	return errorResponseWith(c, err, nil)
}

// errorResponseWith adds extra fields to the body of a mapped error.
func errorResponseWith(c *fiber.Ctx, err error, extra fiber.Map) error {
	var rl *models.RateLimitError
	if errors.As(err, &rl) {
		SetRateLimitHeaders(c, 0, rl.Remaining, rl.ResetAt)
		c.Set(fiber.HeaderRetryAfter, RetryAfter(rl.ResetAt))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":     rl.Error(),
			"remaining": rl.Remaining,
			"reset_at":  rl.ResetAt.UTC(),
		})
	}

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrPostNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidSchedule),
		errors.Is(err, models.ErrInvalidTimezone):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition):
		status = fiber.StatusConflict
	case errors.Is(err, models.ErrPublishFailed):
		status = fiber.StatusBadGateway
	case errors.Is(err, models.ErrSchedulerUnavailable):
		status = fiber.StatusServiceUnavailable
	}

	if status == fiber.StatusInternalServerError {
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
	body := fiber.Map{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}
