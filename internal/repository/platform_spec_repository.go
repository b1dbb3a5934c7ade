package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/crosspilot/crosspilot/internal/models"
)

type PlatformSpecRepository interface {
	Create(ctx context.Context, tx *sql.Tx, spec *models.PlatformPublishSpec) (int64, error)
	ListByPostID(ctx context.Context, postID string) ([]*models.PlatformPublishSpec, error)
}

type platformSpecRepository struct {
	db *sql.DB
}

func NewPlatformSpecRepository(db *sql.DB) PlatformSpecRepository {
	return &platformSpecRepository{db: db}
}

func (r *platformSpecRepository) Create(ctx context.Context, tx *sql.Tx, spec *models.PlatformPublishSpec) (int64, error) {
	query := `
		INSERT INTO platform_publish_specs (post_id, platform, ciphertext, iv, auth_tag, targeting, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, spec.PostID, spec.Platform, spec.Credentials.Ciphertext,
			spec.Credentials.IV, spec.Credentials.AuthTag, spec.Targeting, spec.Options).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, spec.PostID, spec.Platform, spec.Credentials.Ciphertext,
			spec.Credentials.IV, spec.Credentials.AuthTag, spec.Targeting, spec.Options).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *platformSpecRepository) ListByPostID(ctx context.Context, postID string) ([]*models.PlatformPublishSpec, error) {
	query := `SELECT id, post_id, platform, ciphertext, iv, auth_tag, targeting, options, created_at
		FROM platform_publish_specs WHERE post_id = $1`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var specs []*models.PlatformPublishSpec
	for rows.Next() {
		var spec models.PlatformPublishSpec
		err := rows.Scan(&spec.ID, &spec.PostID, &spec.Platform, &spec.Credentials.Ciphertext,
			&spec.Credentials.IV, &spec.Credentials.AuthTag, &spec.Targeting, &spec.Options, &spec.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		specs = append(specs, &spec)
	}
	return specs, rows.Err()
}
