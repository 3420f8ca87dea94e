package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Notifier pushes post changes to subscribers. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, event string, post *models.Post)
}

type PostEvent struct {
	Event string       `json:"event"`
	Post  *models.Post `json:"post"`
	At    time.Time    `json:"at"`
}

func UserChannel(userID int64) string {
	return fmt.Sprintf("posts:user:%d", userID)
}

const defaultNotifyTimeout = 500 * time.Millisecond

type RedisNotifier struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisNotifier publishes to posts:user:<id>. A nil client drops events.
// Each publish is bounded by timeout.
func NewRedisNotifier(rdb *redis.Client, timeout time.Duration) *RedisNotifier {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &RedisNotifier{rdb: rdb, timeout: timeout}
}

func (n *RedisNotifier) Notify(ctx context.Context, event string, post *models.Post) {
	if n.rdb == nil || post == nil {
		return
	}

	payload, err := json.Marshal(PostEvent{Event: event, Post: post, At: time.Now().UTC()})
	if err != nil {
		slog.Error("failed to encode post event", "post_id", post.ID, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.rdb.Publish(pubCtx, UserChannel(post.UserID), payload).Err(); err != nil {
		slog.Warn("failed to publish post event", "event", event, "post_id", post.ID, "error", err)
	}
}
