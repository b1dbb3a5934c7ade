package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/crosspilot/crosspilot/internal/models"
	"github.com/lib/pq"
)

type ScheduledPostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) error
	GetByID(ctx context.Context, id string) (*models.ScheduledPost, error)
	ListByOwner(ctx context.Context, ownerID int64, status, platform string, limit, offset int) ([]*models.ScheduledPost, int, error)
	ListDue(ctx context.Context, horizon time.Time, stuckBefore time.Time) ([]*models.ScheduledPost, error)
	ClaimForPublishing(ctx context.Context, id string, stuckBefore time.Time) (bool, error)
	CancelIfScheduled(ctx context.Context, id, reason string) (bool, error)
	UpdateStatus(ctx context.Context, id, status, lastError string) error
	UpdateSchedule(ctx context.Context, id string, publishAt time.Time, timezone, jobRef string) error
	UpdateJobRef(ctx context.Context, id, jobRef string) error
	MarkRetry(ctx context.Context, id string, retryCount int, lastError string) error
}

type scheduledPostRepository struct {
	db *sql.DB
}

func NewScheduledPostRepository(db *sql.DB) ScheduledPostRepository {
	return &scheduledPostRepository{db: db}
}

const postColumns = `id, owner_id, creative_ref, caption, target_platforms, publish_at, timezone, status, retry_count, last_error, job_ref, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	var platforms pq.StringArray
	err := row.Scan(&post.ID, &post.OwnerID, &post.CreativeRef, &post.Caption, &platforms,
		&post.PublishAt, &post.Timezone, &post.Status, &post.RetryCount, &post.LastError,
		&post.JobRef, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	post.TargetPlatforms = platforms
	return &post, nil
}

func (r *scheduledPostRepository) Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) error {
	query := `
		INSERT INTO scheduled_posts (id, owner_id, creative_ref, caption, target_platforms, publish_at, timezone, status, job_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, post.ID, post.OwnerID, post.CreativeRef, post.Caption,
			pq.Array(post.TargetPlatforms), post.PublishAt, post.Timezone, post.Status, post.JobRef)
	} else {
		_, err = r.db.ExecContext(ctx, query, post.ID, post.OwnerID, post.CreativeRef, post.Caption,
			pq.Array(post.TargetPlatforms), post.PublishAt, post.Timezone, post.Status, post.JobRef)
	}
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}

func (r *scheduledPostRepository) GetByID(ctx context.Context, id string) (*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *scheduledPostRepository) ListByOwner(ctx context.Context, ownerID int64, status, platform string, limit, offset int) ([]*models.ScheduledPost, int, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE owner_id = $1
		AND ($2 = '' OR status = $2)
		AND ($3 = '' OR $3 = ANY(target_platforms))
		ORDER BY publish_at DESC
		LIMIT $4 OFFSET $5`

	rows, err := r.db.QueryContext(ctx, query, ownerID, status, platform, limit, offset)
	if err != nil {
		slog.Info(err.Error())
		return nil, 0, err
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, 0, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM scheduled_posts
		WHERE owner_id = $1
		AND ($2 = '' OR status = $2)
		AND ($3 = '' OR $3 = ANY(target_platforms))`

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, ownerID, status, platform).Scan(&total); err != nil {
		slog.Info(err.Error())
		return nil, 0, err
	}

	return posts, total, nil
}

// ListDue selects posts ready for processing: scheduled posts due within the
// horizon, plus publishing posts whose claim went stale (crashed worker).
func (r *scheduledPostRepository) ListDue(ctx context.Context, horizon time.Time, stuckBefore time.Time) ([]*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts
		WHERE (status = $1 AND publish_at <= $2)
		OR (status = $3 AND updated_at < $4)
		ORDER BY publish_at ASC`

	rows, err := r.db.QueryContext(ctx, query, models.PostStatusScheduled, horizon, models.PostStatusPublishing, stuckBefore)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ClaimForPublishing is the compare-and-swap guard: only one trigger path wins
// the transition to publishing. A stale publishing row (stuck past the safety
// timeout) can be re-claimed.
func (r *scheduledPostRepository) ClaimForPublishing(ctx context.Context, id string, stuckBefore time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			updated_at = NOW()
		WHERE id = $2
		AND (status = $3 OR (status = $1 AND updated_at < $4))
	`
	res, err := r.db.ExecContext(ctx, query, models.PostStatusPublishing, id, models.PostStatusScheduled, stuckBefore)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *scheduledPostRepository) CancelIfScheduled(ctx context.Context, id, reason string) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			last_error = $2,
			updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query, models.PostStatusCanceled, reason, id, models.PostStatusScheduled)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *scheduledPostRepository) UpdateStatus(ctx context.Context, id, status, lastError string) error {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			last_error = $2,
			updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, status, lastError, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// UpdateSchedule resets a post back to scheduled with a fresh target time.
// Used by operator reschedule and publish-now, which also reset the retry
// budget.
func (r *scheduledPostRepository) UpdateSchedule(ctx context.Context, id string, publishAt time.Time, timezone, jobRef string) error {
	query := `
		UPDATE scheduled_posts
		SET publish_at = $1,
			timezone = $2,
			job_ref = $3,
			status = $4,
			retry_count = 0,
			last_error = '',
			updated_at = NOW()
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, publishAt, timezone, jobRef, models.PostStatusScheduled, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *scheduledPostRepository) UpdateJobRef(ctx context.Context, id, jobRef string) error {
	query := `UPDATE scheduled_posts SET job_ref = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, jobRef, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// MarkRetry bumps the retry counter and hands the post back to the scheduler
// (status scheduled, pending the backoff delay).
func (r *scheduledPostRepository) MarkRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	query := `
		UPDATE scheduled_posts
		SET status = $1,
			retry_count = $2,
			last_error = $3,
			updated_at = NOW()
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusScheduled, retryCount, lastError, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
