package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/observability"
	"github.com/maheshrc27/postflow/internal/queue"
)

// JobScheduler is the delayed-job service the orchestrator drives.
type JobScheduler interface {
	CreateJob(ctx context.Context, fireAt time.Time, postID int64) (string, error)
	CancelJob(ctx context.Context, jobID string) (queue.CancelResult, error)
}

type ScheduledJob struct {
	JobID  string
	FireAt time.Time
}

// Local layouts accepted from the composer, interpreted in the request's time zone.
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

type SchedulerService struct {
	jobs        JobScheduler
	maxAhead    time.Duration
	callTimeout time.Duration
	now         func() time.Time
}

func NewSchedulerService(jobs JobScheduler, cfg config.Scheduler) *SchedulerService {
	maxAhead := cfg.MaxAhead
	if maxAhead <= 0 {
		maxAhead = 7 * 24 * time.Hour
	}
	return &SchedulerService{
		jobs:        jobs,
		maxAhead:    maxAhead,
		callTimeout: cfg.CallTimeout,
		now:         time.Now,
	}
}

// ResolveFireAt turns a wall-clock time in the named IANA zone into a UTC
// instant with second precision. An empty zone means UTC. Values carrying
// their own offset (RFC 3339) are taken as-is.
func (s *SchedulerService) ResolveFireAt(local, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", models.ErrInvalidTimezone, timezone)
	}

	local = strings.TrimSpace(local)
	if local == "" {
		return time.Time{}, fmt.Errorf("%w: scheduled time is empty", models.ErrInvalidSchedule)
	}

	if t, err := time.Parse(time.RFC3339, local); err == nil {
		return t.UTC().Truncate(time.Second), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, local, loc); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot parse %q", models.ErrInvalidSchedule, local)
}

// ValidateFireAt accepts instants in (now, now+maxAhead].
func (s *SchedulerService) ValidateFireAt(fireAt time.Time) error {
	now := s.now()
	if !fireAt.After(now) {
		return fmt.Errorf("%w: %s is not in the future", models.ErrInvalidSchedule, fireAt.Format(time.RFC3339))
	}
	if fireAt.After(now.Add(s.maxAhead)) {
		return fmt.Errorf("%w: %s is more than %s ahead", models.ErrInvalidSchedule, fireAt.Format(time.RFC3339), s.maxAhead)
	}
	return nil
}

func (s *SchedulerService) resolveAndValidate(local, timezone string) (time.Time, error) {
	fireAt, err := s.ResolveFireAt(local, timezone)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.ValidateFireAt(fireAt); err != nil {
		return time.Time{}, err
	}
	return fireAt, nil
}

func (s *SchedulerService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// Schedule validates the requested time and creates one delayed job for the post.
func (s *SchedulerService) Schedule(ctx context.Context, postID int64, local, timezone string) (ScheduledJob, error) {
	fireAt, err := s.resolveAndValidate(local, timezone)
	if err != nil {
		return ScheduledJob{}, err
	}
	return s.create(ctx, postID, fireAt)
}

// ScheduleAt creates a job for an already validated instant.
func (s *SchedulerService) ScheduleAt(ctx context.Context, postID int64, fireAt time.Time) (ScheduledJob, error) {
	if err := s.ValidateFireAt(fireAt); err != nil {
		return ScheduledJob{}, err
	}
	return s.create(ctx, postID, fireAt)
}

func (s *SchedulerService) create(ctx context.Context, postID int64, fireAt time.Time) (ScheduledJob, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	jobID, err := s.jobs.CreateJob(callCtx, fireAt, postID)
	if err != nil {
		observability.SchedulerJobs.WithLabelValues("create", "error").Inc()
		return ScheduledJob{}, fmt.Errorf("%w: create job for post %d: %v", models.ErrSchedulerUnavailable, postID, err)
	}
	observability.SchedulerJobs.WithLabelValues("create", "ok").Inc()
	return ScheduledJob{JobID: jobID, FireAt: fireAt}, nil
}

// Reschedule validates the new time and creates the replacement job while
// the old one is still live. commit persists the new job; when it fails the
// new job is cancelled and the old one kept. Only after a successful commit
// is the old job cancelled, best-effort.
func (s *SchedulerService) Reschedule(ctx context.Context, postID int64, oldJobID, local, timezone string,
	commit func(ScheduledJob) error) (ScheduledJob, error) {
	fireAt, err := s.resolveAndValidate(local, timezone)
	if err != nil {
		return ScheduledJob{}, err
	}

	job, err := s.create(ctx, postID, fireAt)
	if err != nil {
		return ScheduledJob{}, err
	}

	if commit != nil {
		if err := commit(job); err != nil {
			if cerr := s.Cancel(context.WithoutCancel(ctx), job.JobID); cerr != nil {
				slog.Warn("cancel of uncommitted job failed", "post_id", postID, "job_id", job.JobID, "error", cerr)
			}
			return ScheduledJob{}, err
		}
	}

	if err := s.Cancel(ctx, oldJobID); err != nil {
		slog.Warn("cancel of replaced job failed", "post_id", postID, "job_id", oldJobID, "error", err)
	}
	return job, nil
}

// Cancel removes a job. Jobs that already fired or were already removed are
// not an error.
func (s *SchedulerService) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return nil
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.jobs.CancelJob(callCtx, jobID)
	if err != nil {
		observability.SchedulerJobs.WithLabelValues("cancel", "error").Inc()
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: cancel job %s: %v", models.ErrSchedulerUnavailable, jobID, err)
	}
	observability.SchedulerJobs.WithLabelValues("cancel", res.String()).Inc()
	return nil
}
