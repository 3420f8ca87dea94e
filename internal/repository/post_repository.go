package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/models"
)

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	GetByPublicID(ctx context.Context, userID int64, publicID string) (*models.Post, error)
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByUserID(ctx context.Context, userID int64, status models.PostStatus) ([]*models.Post, error)
	ListOverdueScheduled(ctx context.Context, before time.Time, limit int) ([]*models.Post, error)
	Save(ctx context.Context, post *models.Post) error
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, public_id, user_id, source_account_id, group_id, kind, status, body, segments, media_refs,
	scheduled_at, published_at, external_post_id, scheduler_job_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var post models.Post
	err := row.Scan(&post.ID, &post.PublicID, &post.UserID, &post.SourceAccountID, &post.GroupID, &post.Kind,
		&post.Status, &post.Body, &post.Segments, pq.Array(&post.MediaRefs), &post.ScheduledAt, &post.PublishedAt,
		&post.ExternalPostID, &post.SchedulerJobID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// mediaRefsArg binds refs as a text[]. pq sends a nil slice as NULL, which
// the NOT NULL column rejects.
func mediaRefsArg(refs []string) interface{} {
	if refs == nil {
		refs = []string{}
	}
	return pq.Array(refs)
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (public_id, user_id, source_account_id, group_id, kind, status, body, segments, media_refs,
			scheduled_at, published_at, external_post_id, scheduler_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`
	args := []interface{}{post.PublicID, post.UserID, post.SourceAccountID, post.GroupID, post.Kind, post.Status,
		post.Body, post.Segments, mediaRefsArg(post.MediaRefs), post.ScheduledAt, post.PublishedAt, post.ExternalPostID,
		post.SchedulerJobID}

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, args...)
	} else {
		row = r.db.QueryRowContext(ctx, query, args...)
	}
	if err := row.Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return post.ID, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) GetByPublicID(ctx context.Context, userID int64, publicID string) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 AND public_id = $2`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, userID, publicID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64, status models.PostStatus) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 AND ($2 = '' OR status = $2) ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID, string(status))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

func (r *postRepository) ListOverdueScheduled(ctx context.Context, before time.Time, limit int) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE status = $1 AND scheduled_at < $2 ORDER BY scheduled_at LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, models.PostStatusScheduled, before, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	return collectPosts(rows)
}

func collectPosts(rows *sql.Rows) ([]*models.Post, error) {
	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}

// Save writes the mutable state of a post in one statement, so status and
// schedule fields always change together.
func (r *postRepository) Save(ctx context.Context, post *models.Post) error {
	query := `
		UPDATE posts
		SET status = $1,
			body = $2,
			segments = $3,
			media_refs = $4,
			scheduled_at = $5,
			published_at = $6,
			external_post_id = $7,
			scheduler_job_id = $8,
			updated_at = $9
		WHERE id = $10
	`
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, post.Status, post.Body, post.Segments, mediaRefsArg(post.MediaRefs),
		post.ScheduledAt, post.PublishedAt, post.ExternalPostID, post.SchedulerJobID, now, post.ID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected == 0 {
		return models.ErrPostNotFound
	}

	post.UpdatedAt = now
	return nil
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
