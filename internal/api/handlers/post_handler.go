package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{s: service}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var pc transfer.PostCreation
	if err := c.BodyParser(&pc); err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}

	post, err := h.s.CreatePost(c.UserContext(), userID, &pc)
	if err != nil {
		// A post that was created but failed to publish or schedule is still
		// returned so the client can retry on it.
		if post != nil {
			slog.Info("post created with follow-up error", "post_id", post.ID, "error", err)
			return errorResponseWith(c, err, fiber.Map{"post": post})
		}
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	if publicID := c.Query("id"); publicID != "" {
		post, err := h.s.PostInfo(c.UserContext(), userID, publicID)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.Status(fiber.StatusOK).JSON(post)
	}

	status := models.PostStatus(c.Query("status"))
	switch status {
	case "", models.PostStatusDraft, models.PostStatusScheduled, models.PostStatusPosted, models.PostStatusFailed:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown status filter",
		})
	}

	posts, err := h.s.List(c.UserContext(), userID, status)
	if err != nil {
		return errorResponse(c, err)
	}
	if posts == nil {
		posts = []*models.Post{}
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) parseSchedule(c *fiber.Ctx) (*transfer.ScheduleRequest, error) {
	var req transfer.ScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		slog.Error(err.Error())
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}
	return &req, nil
}

func (h *PostHandler) SchedulePost(c *fiber.Ctx) error {
	req, err := h.parseSchedule(c)
	if req == nil {
		return err
	}

	post, err := h.s.Schedule(c.UserContext(), GetUserID(c), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) ReschedulePost(c *fiber.Ctx) error {
	req, err := h.parseSchedule(c)
	if req == nil {
		return err
	}

	post, err := h.s.Reschedule(c.UserContext(), GetUserID(c), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) PublishPost(c *fiber.Ctx) error {
	publicID := c.Query("id")

	post, err := h.s.PublishNow(c.UserContext(), GetUserID(c), publicID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	publicID := c.Query("id")

	if err := h.s.Remove(c.UserContext(), GetUserID(c), publicID); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}
