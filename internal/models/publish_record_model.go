package models

import (
	"encoding/json"
	"time"
)

// PublishRecord is one resolved outcome for a (post, platform) pair. Retries
// append new records; the most recent per platform is authoritative.
type PublishRecord struct {
	ID         int64           `db:"id" json:"id"`
	PostID     string          `db:"post_id" json:"post_id"`
	Platform   string          `db:"platform" json:"platform"`
	Status     string          `db:"status" json:"status"`
	ExternalID string          `db:"external_id" json:"external_id,omitempty"`
	Error      string          `db:"error_message" json:"error,omitempty"`
	Meta       json.RawMessage `db:"meta" json:"meta,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

const (
	RecordStatusPublished = "published"
	RecordStatusFailed    = "failed"
)
