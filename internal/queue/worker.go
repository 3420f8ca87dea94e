package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/observability"
)

// FireHandler runs when a delayed job fires for a post.
type FireHandler interface {
	FireJob(ctx context.Context, postID int64, jobID string) error
}

type Worker struct {
	h FireHandler
}

func NewWorker(h FireHandler) *Worker {
	return &Worker{h: h}
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypeSchedulePost, w.HandleSchedulePostTask)
}

func (w *Worker) HandleSchedulePostTask(ctx context.Context, task *asynq.Task) error {
	payload, err := DecodePayload(task.Payload())
	if err != nil {
		observability.SchedulerJobs.WithLabelValues("fire", "bad_payload").Inc()
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if id, ok := asynq.GetTaskID(ctx); ok && id != payload.JobID {
		slog.Warn("task id differs from payload job id", "task_id", id, "job_id", payload.JobID)
	}

	// The executor already retried, a failed publish must not run again.
	if err := w.h.FireJob(ctx, payload.PostID, payload.JobID); err != nil {
		observability.SchedulerJobs.WithLabelValues("fire", "error").Inc()
		slog.Error("scheduled publish failed", "post_id", payload.PostID, "job_id", payload.JobID, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	observability.SchedulerJobs.WithLabelValues("fire", "ok").Inc()
	return nil
}
