package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type R2 struct {
	AccountID  string `env:"R2_ACCOUNT_ID"`
	AccessKey  string `env:"R2_ACCESS_KEY"`
	SecretKey  string `env:"R2_SECRET_KEY"`
	BucketName string `env:"R2_BUCKET_NAME"`
	PublicURL  string `env:"R2_PUBLIC_URL,default=https://media.postflow.app"`
}

type Scheduler struct {
	Queue          string        `env:"SCHEDULER_QUEUE,default=posts"`
	MaxAhead       time.Duration `env:"SCHEDULER_MAX_AHEAD,default=168h"`
	CallTimeout    time.Duration `env:"SCHEDULER_CALL_TIMEOUT,default=5s"`
	Concurrency    int           `env:"WORKER_CONCURRENCY,default=10"`
	WebhookSecret  string        `env:"WEBHOOK_SECRET"`
	RecoveryGrace  time.Duration `env:"RECOVERY_GRACE,default=5m"`
	RecoveryPeriod string        `env:"RECOVERY_SCHEDULE,default=@every 1m"`
}

type Publish struct {
	MaxAttempts   int           `env:"PUBLISH_MAX_ATTEMPTS,default=3"`
	Timeout       time.Duration `env:"PUBLISH_TIMEOUT,default=30s"`
	RatePerSec    int           `env:"PUBLISH_RATE_PER_SEC,default=5"`
	ThreadsAPIURL string        `env:"THREADS_API_URL,default=https://graph.threads.net/v1.0"`
}

type RateLimit struct {
	Window     time.Duration `env:"RATE_LIMIT_WINDOW,default=60s"`
	List       int           `env:"RATE_LIMIT_LIST,default=30"`
	Create     int           `env:"RATE_LIMIT_CREATE,default=20"`
	Schedule   int           `env:"RATE_LIMIT_SCHEDULE,default=20"`
	Reschedule int           `env:"RATE_LIMIT_RESCHEDULE,default=20"`
	Post       int           `env:"RATE_LIMIT_POST,default=10"`
	Delete     int           `env:"RATE_LIMIT_DELETE,default=20"`
	Upload     int           `env:"RATE_LIMIT_UPLOAD,default=30"`
	MemoryMax  int           `env:"RATE_LIMIT_MEMORY_MAX,default=10000"`
	StoreTTL   time.Duration `env:"RATE_LIMIT_STORE_TIMEOUT,default=250ms"`
}

type Upload struct {
	SuccessDelay time.Duration `env:"UPLOAD_SUCCESS_DELAY,default=100ms"`
	FailureDelay time.Duration `env:"UPLOAD_FAILURE_DELAY,default=500ms"`
	MaxFiles     int           `env:"UPLOAD_MAX_FILES,default=20"`
}

type Config struct {
	Port        string `env:"PORT,default=3000"`
	PostgresURI string `env:"POSTGRES_URI"`
	RedisURI    string `env:"REDIS_URI,default=localhost:6379"`
	FrontendURL string `env:"FRONTEND_URL,default=http://localhost:5173"`
	SecretKey   string `env:"SECRET_KEY"`
	CookieName  string `env:"COOKIE_NAME,default=postflow_session"`
	// NotifyTimeout bounds one post event publish.
	NotifyTimeout time.Duration `env:"NOTIFY_TIMEOUT,default=500ms"`
	R2          R2
	Scheduler   Scheduler
	Publish     Publish
	RateLimit   RateLimit
	Upload      Upload
}

// Operation names shared by the rate limiter, the HTTP layer and the post service.
const (
	OpList       = "list"
	OpCreate     = "create"
	OpSchedule   = "schedule"
	OpReschedule = "reschedule"
	OpPost       = "post"
	OpDelete     = "delete"
	OpUpload     = "upload"
)

// RateRule is the limit for a single operation within one fixed window.
type RateRule struct {
	Limit  int
	Window time.Duration
}

func LoadConfig() (*Config, error) {
	return loadConfig(context.Background(), envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &cfg, l); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Publish.MaxAttempts < 1 {
		return fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be at least 1, got %d", c.Publish.MaxAttempts)
	}
	if c.Scheduler.MaxAhead <= 0 {
		return fmt.Errorf("SCHEDULER_MAX_AHEAD must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.Scheduler.Concurrency < 1 {
		c.Scheduler.Concurrency = 1
	}
	return nil
}

func (c *Config) RateLimitRules() map[string]RateRule {
	w := c.RateLimit.Window
	return map[string]RateRule{
		OpList:       {Limit: c.RateLimit.List, Window: w},
		OpCreate:     {Limit: c.RateLimit.Create, Window: w},
		OpSchedule:   {Limit: c.RateLimit.Schedule, Window: w},
		OpReschedule: {Limit: c.RateLimit.Reschedule, Window: w},
		OpPost:       {Limit: c.RateLimit.Post, Window: w},
		OpDelete:     {Limit: c.RateLimit.Delete, Window: w},
		OpUpload:     {Limit: c.RateLimit.Upload, Window: w},
	}
}
