// Package api wires the HTTP routes onto a fiber app.
package api

import (
	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/ratelimit"
	"github.com/maheshrc27/postflow/internal/service"
)

type Deps struct {
	Config  config.Config
	Posts   service.PostService
	Media   service.MediaService
	Fire    queue.FireHandler
	Limiter *ratelimit.Limiter
	Health  func() error
	// Metrics serves /metrics and records request metrics when set.
	Metrics *fiberprometheus.FiberPrometheus
}

func Register(app *fiber.App, d Deps) {
	if d.Metrics != nil {
		d.Metrics.RegisterAt(app, "/metrics")
		app.Use(d.Metrics.Middleware)
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		if d.Health != nil {
			if err := d.Health(); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
			}
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	webhook := handlers.NewWebhookHandler(d.Fire, d.Config.Scheduler.WebhookSecret)
	app.Post("/hooks/scheduler", webhook.FireJob)

	authMiddleware := middleware.NewAuthMiddleware(d.Config)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	// Post operations are rate limited inside the post service.
	post := handlers.NewPostHandler(d.Posts)
	api.Post("/posts/create", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/schedule", post.SchedulePost)
	api.Post("/posts/reschedule", post.ReschedulePost)
	api.Post("/posts/publish", post.PublishPost)
	api.Post("/posts/remove", post.RemovePost)

	uploads := handlers.NewUploadHandler(d.Media, d.Config.Upload)
	uploadLimit := middleware.RateLimit(d.Limiter, config.OpUpload, d.Config.RateLimit.Upload)
	api.Post("/uploads", uploadLimit, uploads.Upload)
	api.Post("/uploads/remove", uploadLimit, uploads.Remove)
}
