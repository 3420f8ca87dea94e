package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/lifecycle"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/ratelimit"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	publicIDLength  = 10
	recoveryBatch   = 100
	maxSegmentCount = 25
)

type RateLimiter interface {
	Enforce(ctx context.Context, subject, operation string) (ratelimit.Decision, error)
}

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.Post, error)
	List(ctx context.Context, userID int64, status models.PostStatus) ([]*models.Post, error)
	PostInfo(ctx context.Context, userID int64, publicID string) (*models.Post, error)
	Schedule(ctx context.Context, userID int64, req *transfer.ScheduleRequest) (*models.Post, error)
	Reschedule(ctx context.Context, userID int64, req *transfer.ScheduleRequest) (*models.Post, error)
	PublishNow(ctx context.Context, userID int64, publicID string) (*models.Post, error)
	Remove(ctx context.Context, userID int64, publicID string) error
	FireJob(ctx context.Context, postID int64, jobID string) error
	RecoverOverdue(ctx context.Context) (int, error)
}

type postService struct {
	pr        repository.PostRepository
	ac        repository.SocialAccountRepository
	scheduler *SchedulerService
	executor  *PublishService
	limiter   RateLimiter
	notifier  Notifier
	locks     *postLocks
	grace     time.Duration
	now       func() time.Time
	newID     func() (string, error)
}

func NewPostService(
	pr repository.PostRepository,
	ac repository.SocialAccountRepository,
	scheduler *SchedulerService,
	executor *PublishService,
	limiter RateLimiter,
	notifier Notifier,
	cfg config.Scheduler) PostService {
	if notifier == nil {
		notifier = NewRedisNotifier(nil, 0)
	}
	return &postService{
		pr:        pr,
		ac:        ac,
		scheduler: scheduler,
		executor:  executor,
		limiter:   limiter,
		notifier:  notifier,
		locks:     newPostLocks(),
		grace:     cfg.RecoveryGrace,
		now:       time.Now,
		newID:     func() (string, error) { return gonanoid.New(publicIDLength) },
	}
}

func (s *postService) enforce(ctx context.Context, userID int64, op string) error {
	if s.limiter == nil {
		return nil
	}
	_, err := s.limiter.Enforce(ctx, strconv.FormatInt(userID, 10), op)
	return err
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation) (*models.Post, error) {
	if pc == nil {
		err := fmt.Errorf("%w: post creation data is nil", models.ErrValidation)
		slog.Error(err.Error())
		return nil, err
	}
	if err := s.enforce(ctx, userID, config.OpCreate); err != nil {
		return nil, err
	}

	post, err := buildPost(userID, pc)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	exists, err := s.ac.CheckByUserID(ctx, pc.SourceAccountID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: check social account %d: %v", models.ErrStorage, pc.SourceAccountID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: social account %d does not exist", models.ErrValidation, pc.SourceAccountID)
	}

	// Resolve the schedule up front so a bad time never leaves a stray draft.
	var fireAt time.Time
	scheduled := !pc.PublishNow && strings.TrimSpace(pc.ScheduledTime) != ""
	if scheduled {
		fireAt, err = s.scheduler.ResolveFireAt(pc.ScheduledTime, pc.Timezone)
		if err != nil {
			return nil, err
		}
		if err := s.scheduler.ValidateFireAt(fireAt); err != nil {
			return nil, err
		}
	}

	post.PublicID, err = s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate public id: %w", err)
	}

	if _, err := s.pr.Create(ctx, nil, post); err != nil {
		return nil, fmt.Errorf("%w: create post: %v", models.ErrStorage, err)
	}
	s.notifier.Notify(ctx, EventCreated, post)

	switch {
	case pc.PublishNow:
		return s.withPost(ctx, post.ID, func(p *models.Post) error {
			return s.publishNow(ctx, p)
		})
	case scheduled:
		return s.withPost(ctx, post.ID, func(p *models.Post) error {
			return s.schedule(ctx, p, func() (ScheduledJob, error) {
				return s.scheduler.ScheduleAt(ctx, p.ID, fireAt)
			})
		})
	}
	return post, nil
}

func buildPost(userID int64, pc *transfer.PostCreation) (*models.Post, error) {
	post := &models.Post{
		UserID:          userID,
		SourceAccountID: pc.SourceAccountID,
		GroupID:         strings.TrimSpace(pc.GroupID),
		Status:          models.PostStatusDraft,
	}

	kind := models.PostKind(pc.Kind)
	if kind == "" {
		kind = models.PostKindSingle
		if len(pc.Segments) > 0 {
			kind = models.PostKindThread
		}
	}

	switch kind {
	case models.PostKindSingle:
		body := strings.TrimSpace(pc.Body)
		if body == "" && len(pc.MediaRefs) == 0 {
			return nil, fmt.Errorf("%w: post body cannot be empty", models.ErrValidation)
		}
		if len(pc.MediaRefs) > models.MaxMediaPerItem {
			return nil, fmt.Errorf("%w: a post has at most %d media items", models.ErrValidation, models.MaxMediaPerItem)
		}
		post.Body = body
		post.MediaRefs = pc.MediaRefs
	case models.PostKindThread:
		if len(pc.Segments) == 0 {
			return nil, fmt.Errorf("%w: a thread needs at least one segment", models.ErrValidation)
		}
		if len(pc.Segments) > maxSegmentCount {
			return nil, fmt.Errorf("%w: a thread has at most %d segments", models.ErrValidation, maxSegmentCount)
		}
		segments := make(models.Segments, 0, len(pc.Segments))
		for i, in := range pc.Segments {
			text := strings.TrimSpace(in.Text)
			if text == "" && len(in.MediaRefs) == 0 {
				return nil, fmt.Errorf("%w: segment %d is empty", models.ErrValidation, i+1)
			}
			if len(in.MediaRefs) > models.MaxMediaPerItem {
				return nil, fmt.Errorf("%w: segment %d has more than %d media items", models.ErrValidation, i+1, models.MaxMediaPerItem)
			}
			segments = append(segments, models.Segment{Text: text, MediaRefs: in.MediaRefs})
		}
		post.Segments = segments
		post.Body = models.ThreadBody(segments)
	default:
		return nil, fmt.Errorf("%w: unknown post kind %q", models.ErrValidation, pc.Kind)
	}

	post.Kind = kind
	if pc.SourceAccountID == 0 {
		return nil, fmt.Errorf("%w: no social account selected", models.ErrValidation)
	}
	return post, nil
}

func (s *postService) List(ctx context.Context, userID int64, status models.PostStatus) ([]*models.Post, error) {
	if err := s.enforce(ctx, userID, config.OpList); err != nil {
		return nil, err
	}
	posts, err := s.pr.GetByUserID(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("%w: list posts: %v", models.ErrStorage, err)
	}
	return posts, nil
}

func (s *postService) PostInfo(ctx context.Context, userID int64, publicID string) (*models.Post, error) {
	if err := s.enforce(ctx, userID, config.OpList); err != nil {
		return nil, err
	}
	return s.owned(ctx, userID, publicID)
}

// owned resolves a public id for its owner. Posts of other users are reported
// as missing.
func (s *postService) owned(ctx context.Context, userID int64, publicID string) (*models.Post, error) {
	if strings.TrimSpace(publicID) == "" {
		return nil, fmt.Errorf("%w: post id is required", models.ErrValidation)
	}
	post, err := s.pr.GetByPublicID(ctx, userID, publicID)
	if err != nil {
		return nil, fmt.Errorf("%w: load post: %v", models.ErrStorage, err)
	}
	if post == nil {
		return nil, models.ErrPostNotFound
	}
	return post, nil
}

// withPost takes the post lock, reloads the post and runs fn on the fresh
// copy. fn is responsible for persisting its changes.
func (s *postService) withPost(ctx context.Context, postID int64, fn func(p *models.Post) error) (*models.Post, error) {
	unlock, err := s.locks.Lock(ctx, postID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("%w: load post: %v", models.ErrStorage, err)
	}
	if post == nil {
		return nil, models.ErrPostNotFound
	}

	if err := fn(post); err != nil {
		return post, err
	}
	return post, nil
}

func (s *postService) save(ctx context.Context, post *models.Post) error {
	if err := s.pr.Save(ctx, post); err != nil {
		if errors.Is(err, models.ErrPostNotFound) {
			return err
		}
		return fmt.Errorf("%w: save post %d: %v", models.ErrStorage, post.ID, err)
	}
	return nil
}

func (s *postService) Schedule(ctx context.Context, userID int64, req *transfer.ScheduleRequest) (*models.Post, error) {
	if err := s.enforce(ctx, userID, config.OpSchedule); err != nil {
		return nil, err
	}
	target, err := s.owned(ctx, userID, req.ID)
	if err != nil {
		return nil, err
	}
	return s.withPost(ctx, target.ID, func(p *models.Post) error {
		return s.schedule(ctx, p, func() (ScheduledJob, error) {
			return s.scheduler.Schedule(ctx, p.ID, req.ScheduledTime, req.Timezone)
		})
	})
}

func (s *postService) schedule(ctx context.Context, post *models.Post, create func() (ScheduledJob, error)) error {
	next, err := lifecycle.CanTransition(post.Status, lifecycle.ActionSchedule)
	if err != nil {
		return err
	}

	job, err := create()
	if err != nil {
		return err
	}
	return s.commitSchedule(ctx, post, next, job)
}

func (s *postService) Reschedule(ctx context.Context, userID int64, req *transfer.ScheduleRequest) (*models.Post, error) {
	if err := s.enforce(ctx, userID, config.OpReschedule); err != nil {
		return nil, err
	}
	target, err := s.owned(ctx, userID, req.ID)
	if err != nil {
		return nil, err
	}
	return s.withPost(ctx, target.ID, func(p *models.Post) error {
		next, err := lifecycle.CanTransition(p.Status, lifecycle.ActionReschedule)
		if err != nil {
			return err
		}
		_, err = s.scheduler.Reschedule(ctx, p.ID, p.SchedulerJobID, req.ScheduledTime, req.Timezone,
			func(job ScheduledJob) error {
				return s.storeSchedule(ctx, p, next, job)
			})
		if err != nil {
			return err
		}
		s.notifier.Notify(ctx, EventUpdated, p)
		return nil
	})
}

// commitSchedule stores a new job on the post. If the write fails the new job
// is cancelled so it cannot fire for a post that does not reference it.
func (s *postService) commitSchedule(ctx context.Context, post *models.Post, next models.PostStatus, job ScheduledJob) error {
	if err := s.storeSchedule(ctx, post, next, job); err != nil {
		if cerr := s.scheduler.Cancel(context.WithoutCancel(ctx), job.JobID); cerr != nil {
			slog.Warn("cancel of unsaved job failed", "post_id", post.ID, "job_id", job.JobID, "error", cerr)
		}
		return err
	}

	s.notifier.Notify(ctx, EventUpdated, post)
	return nil
}

// storeSchedule writes job onto post and restores post if the write fails.
func (s *postService) storeSchedule(ctx context.Context, post *models.Post, next models.PostStatus, job ScheduledJob) error {
	prev := *post
	fireAt := job.FireAt
	post.Status = next
	post.ScheduledAt = &fireAt
	post.SchedulerJobID = job.JobID

	if err := s.save(ctx, post); err != nil {
		*post = prev
		return err
	}
	return nil
}

func (s *postService) PublishNow(ctx context.Context, userID int64, publicID string) (*models.Post, error) {
	if err := s.enforce(ctx, userID, config.OpPost); err != nil {
		return nil, err
	}
	target, err := s.owned(ctx, userID, publicID)
	if err != nil {
		return nil, err
	}
	return s.withPost(ctx, target.ID, func(p *models.Post) error {
		return s.publishNow(ctx, p)
	})
}

func (s *postService) publishNow(ctx context.Context, post *models.Post) error {
	if _, err := lifecycle.CanTransition(post.Status, lifecycle.ActionPublishNow); err != nil {
		return err
	}

	if lifecycle.CancelsPendingJob(post.Status, lifecycle.ActionPublishNow) {
		if err := s.scheduler.Cancel(ctx, post.SchedulerJobID); err != nil {
			slog.Warn("cancel before publish failed", "post_id", post.ID, "job_id", post.SchedulerJobID, "error", err)
		}
	}

	return s.publish(ctx, post)
}

// publish runs the executor and stores whatever state it left the post in.
func (s *postService) publish(ctx context.Context, post *models.Post) error {
	pubErr := s.executor.Execute(ctx, post)
	if errors.Is(pubErr, models.ErrStorage) {
		return pubErr
	}

	if err := s.save(context.WithoutCancel(ctx), post); err != nil {
		if pubErr == nil {
			slog.Error("published post could not be saved", "post_id", post.ID, "external_post_id", post.ExternalPostID, "error", err)
		}
		return err
	}

	s.notifier.Notify(ctx, EventUpdated, post)
	return pubErr
}

func (s *postService) Remove(ctx context.Context, userID int64, publicID string) error {
	if err := s.enforce(ctx, userID, config.OpDelete); err != nil {
		return err
	}
	target, err := s.owned(ctx, userID, publicID)
	if err != nil {
		return err
	}
	_, err = s.withPost(ctx, target.ID, func(p *models.Post) error {
		if _, err := lifecycle.CanTransition(p.Status, lifecycle.ActionDelete); err != nil {
			return err
		}
		if lifecycle.CancelsPendingJob(p.Status, lifecycle.ActionDelete) {
			if err := s.scheduler.Cancel(ctx, p.SchedulerJobID); err != nil {
				slog.Warn("cancel before delete failed", "post_id", p.ID, "job_id", p.SchedulerJobID, "error", err)
			}
		}
		if err := s.pr.Remove(ctx, p.ID); err != nil {
			return fmt.Errorf("%w: remove post %d: %v", models.ErrStorage, p.ID, err)
		}
		s.notifier.Notify(ctx, EventDeleted, p)
		return nil
	})
	return err
}

// FireJob handles a delayed job firing. It does nothing unless the post is
// still scheduled under this very job.
func (s *postService) FireJob(ctx context.Context, postID int64, jobID string) error {
	_, err := s.withPost(ctx, postID, func(p *models.Post) error {
		if p.Status != models.PostStatusScheduled || p.SchedulerJobID != jobID {
			slog.Info("ignoring stale job", "post_id", postID, "job_id", jobID, "status", p.Status, "current_job_id", p.SchedulerJobID)
			return nil
		}
		if _, err := lifecycle.CanTransition(p.Status, lifecycle.ActionJobFire); err != nil {
			return err
		}
		return s.publish(ctx, p)
	})
	if errors.Is(err, models.ErrPostNotFound) {
		slog.Info("job fired for a removed post", "post_id", postID, "job_id", jobID)
		return nil
	}
	return err
}

// RecoverOverdue fires scheduled posts whose job should have run more than the
// grace period ago.
func (s *postService) RecoverOverdue(ctx context.Context) (int, error) {
	before := s.now().UTC().Add(-s.grace)
	posts, err := s.pr.ListOverdueScheduled(ctx, before, recoveryBatch)
	if err != nil {
		return 0, fmt.Errorf("%w: list overdue posts: %v", models.ErrStorage, err)
	}

	recovered := 0
	for _, p := range posts {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		slog.Warn("recovering overdue post", "post_id", p.ID, "job_id", p.SchedulerJobID, "scheduled_at", p.ScheduledAt)
		if err := s.FireJob(ctx, p.ID, p.SchedulerJobID); err != nil {
			slog.Error("overdue publish failed", "post_id", p.ID, "error", err)
			continue
		}
		recovered++
	}
	return recovered, nil
}
