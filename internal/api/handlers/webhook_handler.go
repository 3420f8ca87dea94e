package handlers

import (
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const SchedulerSecretHeader = "X-Scheduler-Secret"

// WebhookHandler receives job fires from an external delayed-job service.
type WebhookHandler struct {
	h      queue.FireHandler
	secret string
}

func NewWebhookHandler(h queue.FireHandler, secret string) *WebhookHandler {
	return &WebhookHandler{h: h, secret: secret}
}

func (w *WebhookHandler) FireJob(c *fiber.Ctx) error {
	given := c.Get(SchedulerSecretHeader)
	if w.secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(w.secret)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid scheduler secret",
		})
	}

	var payload transfer.SchedulerWebhook
	if err := c.BodyParser(&payload); err != nil || payload.PostID == 0 || payload.JobID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid payload",
		})
	}

	err := w.h.FireJob(c.UserContext(), payload.PostID, payload.JobID)
	if errors.Is(err, models.ErrPublishFailed) {
		// Retries already ran, acknowledge so the sender does not redeliver.
		slog.Error("scheduled publish failed", "post_id", payload.PostID, "job_id", payload.JobID, "error", err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "failed",
			"error":  err.Error(),
		})
	}
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "ok",
	})
}
