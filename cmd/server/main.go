package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/ratelimit"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI, ContextTimeoutEnabled: true})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis is unreachable, rate limits fall back to memory", "error", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()
	inspector := asynq.NewInspector(redisConn)
	defer inspector.Close()

	// rate limiting: redis first, bounded memory when redis fails
	memoryCounters := ratelimit.NewMemoryStore(cfg.RateLimit.MemoryMax)
	counters := ratelimit.NewChain(
		ratelimit.Link{Name: "redis", Store: ratelimit.NewRedisStore(rdb, cfg.RateLimit.StoreTTL)},
		ratelimit.Link{Name: "memory", Store: memoryCounters},
	)
	rules := make(map[string]ratelimit.Rule)
	for op, r := range cfg.RateLimitRules() {
		rules[op] = ratelimit.Rule{Limit: r.Limit, Window: r.Window}
	}
	limiter := ratelimit.NewLimiter(counters, rules)

	postRepo := repository.NewPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	historyRepo := repository.NewPostingHistoryRepository(db)

	r2Service, err := service.NewR2Service(ctx, cfg.R2)
	if err != nil {
		log.Fatalf("Failed to configure object storage: %v", err)
	}
	threadsService := service.NewThreadsService(*cfg, r2Service.URL)

	jobClient := queue.NewJobClient(client, inspector, cfg.Scheduler.Queue)
	schedulerService := service.NewSchedulerService(jobClient, cfg.Scheduler)
	publishService := service.NewPublishService(threadsService, socialAccountRepo, historyRepo, cfg.Publish)
	notifier := service.NewRedisNotifier(rdb, cfg.NotifyTimeout)
	postService := service.NewPostService(postRepo, socialAccountRepo, schedulerService, publishService, limiter, notifier, cfg.Scheduler)
	mediaService := service.NewMediaService(r2Service, mediaAssetRepo)

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Printf("Error: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	api.Register(app, api.Deps{
		Config:  *cfg,
		Posts:   postService,
		Media:   mediaService,
		Fire:    postService,
		Limiter: limiter,
		Health:  db.Ping,
		Metrics: fiberprometheus.New("postflow"),
	})

	// cron jobs
	maintenanceJob := job.NewMaintenanceJob(postService, memoryCounters, time.Minute)

	c := cron.New()
	if err := c.AddFunc(cfg.Scheduler.RecoveryPeriod, maintenanceJob.RecoverOverdue); err != nil {
		log.Fatalf("Invalid recovery schedule %q: %v", cfg.Scheduler.RecoveryPeriod, err)
	}
	if err := c.AddFunc("@every 1m", maintenanceJob.SweepCounters); err != nil {
		log.Fatalf("Invalid sweep schedule: %v", err)
	}
	c.Start()

	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.Scheduler.Concurrency,
		Queues:      map[string]int{jobClient.Queue(): 1},
	})
	mux := asynq.NewServeMux()
	queue.NewWorker(postService).Register(mux)

	go func() {
		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on http://localhost:%s", cfg.Port)

	gracefulShutdown(app, server, c, rdb, db)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, server *asynq.Server, c *cron.Cron, rdb *redis.Client, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.Shutdown(); err != nil {
		log.Printf("Failed to shut down server: %v", err)
	}

	c.Stop()
	server.Shutdown()

	if err := rdb.Close(); err != nil {
		log.Printf("Failed to close redis: %v", err)
	}
	closeDB(db)
	log.Println("Server shutdown complete.")
}
