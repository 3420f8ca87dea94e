package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nrednav/cuid2"
)

// JobClient is the delayed-job service backed by asynq. Each job is a
// schedule:post task whose asynq task id is the job id.
type JobClient struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	newID     func() string
}

func NewJobClient(client *asynq.Client, inspector *asynq.Inspector, queueName string) *JobClient {
	if queueName == "" {
		queueName = "default"
	}
	return &JobClient{
		client:    client,
		inspector: inspector,
		queue:     queueName,
		newID:     cuid2.Generate,
	}
}

func (j *JobClient) Queue() string {
	return j.queue
}

func (j *JobClient) CreateJob(ctx context.Context, fireAt time.Time, postID int64) (string, error) {
	jobID := j.newID()
	taskPayload, err := json.Marshal(SchedulePostPayload{PostID: postID, JobID: jobID})
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(TaskTypeSchedulePost, taskPayload)
	info, err := j.client.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(j.queue),
		asynq.ProcessAt(fireAt),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", err
	}

	slog.Info("Task scheduled", "post_id", postID, "job_id", info.ID, "fire_at", info.NextProcessAt)
	return info.ID, nil
}

func (j *JobClient) CancelJob(ctx context.Context, jobID string) (CancelResult, error) {
	if jobID == "" {
		return CancelAlreadyGone, nil
	}

	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		done <- result{err: j.inspector.DeleteTask(j.queue, jobID)}
	}()

	var err error
	select {
	case <-ctx.Done():
		return CancelOK, fmt.Errorf("cancel job %s: %w", jobID, ctx.Err())
	case r := <-done:
		err = r.err
	}

	switch {
	case err == nil:
		return CancelOK, nil
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		return CancelAlreadyGone, nil
	default:
		return CancelOK, fmt.Errorf("cancel job %s: %w", jobID, err)
	}
}
