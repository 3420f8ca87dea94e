package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/lifecycle"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/observability"
	"github.com/maheshrc27/postflow/internal/repository"
)

type PublishRequest struct {
	Content   string
	Segments  []models.Segment
	MediaRefs []string
	Account   *models.SocialAccount
	GroupID   string
	// Progress is shared across the attempts of one execution. A publisher
	// appends each item it makes live and skips the ones already there.
	Progress *PublishProgress
}

// PublishProgress holds the external ids of items already published, in
// order. The first one is the root of the post.
type PublishProgress struct {
	Published []string
}

func (p *PublishProgress) root() string {
	if p == nil || len(p.Published) == 0 {
		return ""
	}
	return p.Published[0]
}

// Publisher is the social platform API.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (string, error)
}

type PublishService struct {
	publisher   Publisher
	accounts    repository.SocialAccountRepository
	history     repository.PostingHistoryRepository
	maxAttempts int
	timeout     time.Duration
	now         func() time.Time
}

func NewPublishService(
	publisher Publisher,
	accounts repository.SocialAccountRepository,
	history repository.PostingHistoryRepository,
	cfg config.Publish) *PublishService {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	return &PublishService{
		publisher:   publisher,
		accounts:    accounts,
		history:     history,
		maxAttempts: attempts,
		timeout:     cfg.Timeout,
		now:         time.Now,
	}
}

// Execute publishes post and updates it in memory. On success the post is
// posted with its external id. When every attempt fails the post goes back
// to draft with no schedule and a *models.PublishError is returned. The
// caller persists the post either way.
func (s *PublishService) Execute(ctx context.Context, post *models.Post) error {
	account, err := s.accounts.GetByID(ctx, post.SourceAccountID)
	if err != nil {
		return fmt.Errorf("%w: load account %d: %v", models.ErrStorage, post.SourceAccountID, err)
	}
	if account == nil {
		s.rollback(post)
		return fmt.Errorf("%w: source account %d not found", models.ErrPublishFailed, post.SourceAccountID)
	}

	req := PublishRequest{
		Content:   post.Body,
		MediaRefs: post.MediaRefs,
		Account:   account,
		GroupID:   post.GroupID,
		Progress:  &PublishProgress{},
	}
	if post.Kind == models.PostKindThread {
		req.Segments = post.Segments
	}

	var lastErr error
	attempts := 0
	for attempts < s.maxAttempts {
		attempts++
		externalID, err := s.attempt(ctx, req)
		s.record(ctx, post, account.ID, attempts, externalID, err)
		if err == nil {
			observability.PublishAttempts.WithLabelValues("success").Inc()
			s.markPosted(post, externalID)
			return nil
		}

		observability.PublishAttempts.WithLabelValues("error").Inc()
		slog.Warn("publish attempt failed", "post_id", post.ID, "attempt", attempts, "error", err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	// The root is already live. Rolling back would let the next publish post
	// it a second time.
	if root := req.Progress.root(); root != "" {
		observability.PublishAttempts.WithLabelValues("partial").Inc()
		slog.Warn("thread partially published", "post_id", post.ID, "external_id", root,
			"published", len(req.Progress.Published), "error", lastErr)
		s.markPosted(post, root)
		return nil
	}

	s.rollback(post)
	return &models.PublishError{Attempts: attempts, Err: lastErr}
}

func (s *PublishService) markPosted(post *models.Post, externalID string) {
	now := s.now().UTC()
	post.Status = models.PostStatusPosted
	post.ExternalPostID = externalID
	post.PublishedAt = &now
	post.ClearSchedule()
}

func (s *PublishService) attempt(ctx context.Context, req PublishRequest) (string, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.publisher.Publish(callCtx, req)
}

func (s *PublishService) rollback(post *models.Post) {
	post.Status = lifecycle.OnPublishFailure(post.Status)
	post.ExternalPostID = ""
	post.PublishedAt = nil
	post.ClearSchedule()
}

func (s *PublishService) record(ctx context.Context, post *models.Post, accountID int64, attempt int, externalID string, err error) {
	if s.history == nil {
		return
	}
	entry := &models.PostingHistory{
		UserID:     post.UserID,
		PostID:     post.ID,
		AccountID:  accountID,
		Attempt:    attempt,
		ExternalID: externalID,
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}
	if _, herr := s.history.Create(context.WithoutCancel(ctx), entry); herr != nil {
		slog.Warn("failed to record posting history", "post_id", post.ID, "error", herr)
	}
}
