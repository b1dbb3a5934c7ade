package models

import "time"

type ScheduledPost struct {
	ID              string    `db:"id" json:"id"`
	OwnerID         int64     `db:"owner_id" json:"owner_id"`
	CreativeRef     string    `db:"creative_ref" json:"creative_ref"`
	Caption         string    `db:"caption" json:"caption"`
	TargetPlatforms []string  `db:"target_platforms" json:"target_platforms"`
	PublishAt       time.Time `db:"publish_at" json:"publish_at"`
	Timezone        string    `db:"timezone" json:"timezone"`
	Status          string    `db:"status" json:"status"`
	RetryCount      int       `db:"retry_count" json:"retry_count"`
	LastError       string    `db:"last_error" json:"last_error,omitempty"`
	JobRef          string    `db:"job_ref" json:"job_ref"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

const (
	PostStatusScheduled  = "scheduled"
	PostStatusPublishing = "publishing"
	PostStatusPublished  = "published"
	PostStatusPartial    = "partial"
	PostStatusFailed     = "failed"
	PostStatusCanceled   = "canceled"
)

// IsTerminal reports whether a post can never be picked up by the
// orchestrator again without an explicit operator action.
func IsTerminal(status string) bool {
	switch status {
	case PostStatusPublished, PostStatusPartial, PostStatusFailed, PostStatusCanceled:
		return true
	}
	return false
}
