package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/crosspilot/crosspilot/internal/models"
)

type PublishRecordRepository interface {
	Create(ctx context.Context, rec *models.PublishRecord) (int64, error)
	ListByPostID(ctx context.Context, postID string) ([]*models.PublishRecord, error)
	ListLatestByPostID(ctx context.Context, postID string) ([]*models.PublishRecord, error)
}

type publishRecordRepository struct {
	db *sql.DB
}

func NewPublishRecordRepository(db *sql.DB) PublishRecordRepository {
	return &publishRecordRepository{db: db}
}

func (r *publishRecordRepository) Create(ctx context.Context, rec *models.PublishRecord) (int64, error) {
	query := `
		INSERT INTO publish_records (post_id, platform, status, external_id, error_message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, rec.PostID, rec.Platform, rec.Status, rec.ExternalID, rec.Error, rec.Meta).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *publishRecordRepository) ListByPostID(ctx context.Context, postID string) ([]*models.PublishRecord, error) {
	query := `SELECT id, post_id, platform, status, external_id, error_message, meta, created_at
		FROM publish_records WHERE post_id = $1 ORDER BY created_at ASC`
	return r.query(ctx, query, postID)
}

// ListLatestByPostID returns the authoritative record per platform: the most
// recent one across all retry attempts.
func (r *publishRecordRepository) ListLatestByPostID(ctx context.Context, postID string) ([]*models.PublishRecord, error) {
	query := `SELECT DISTINCT ON (platform) id, post_id, platform, status, external_id, error_message, meta, created_at
		FROM publish_records WHERE post_id = $1 ORDER BY platform, created_at DESC, id DESC`
	return r.query(ctx, query, postID)
}

func (r *publishRecordRepository) query(ctx context.Context, query, postID string) ([]*models.PublishRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var records []*models.PublishRecord
	for rows.Next() {
		var rec models.PublishRecord
		err := rows.Scan(&rec.ID, &rec.PostID, &rec.Platform, &rec.Status, &rec.ExternalID, &rec.Error, &rec.Meta, &rec.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
