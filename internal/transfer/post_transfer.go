package transfer

import (
	"encoding/json"
	"time"

	"github.com/crosspilot/crosspilot/internal/models"
)

type PlatformTarget struct {
	Platform    string            `json:"platform"`
	Credentials map[string]string `json:"credentials"`
	Targeting   json.RawMessage   `json:"targeting,omitempty"`
	Options     json.RawMessage   `json:"options,omitempty"`
}

type ScheduleRequest struct {
	CreativeRef string           `json:"creative_ref"`
	Caption     string           `json:"caption"`
	Platforms   []PlatformTarget `json:"platforms"`
	PublishAt   string           `json:"publish_at"`
	Timezone    string           `json:"timezone"`
	Metadata    json.RawMessage  `json:"metadata,omitempty"`
}

type RescheduleRequest struct {
	PostID    string `json:"post_id"`
	PublishAt string `json:"publish_at"`
	Timezone  string `json:"timezone"`
}

type CancelRequest struct {
	PostID string `json:"post_id"`
	Reason string `json:"reason,omitempty"`
}

type ScheduleResult struct {
	ScheduledPostID string    `json:"scheduled_post_id"`
	JobID           string    `json:"job_id"`
	PublishAt       time.Time `json:"publish_at"`
	Platforms       []string  `json:"platforms,omitempty"`
	Status          string    `json:"status"`
}

type CancelResult struct {
	ScheduledPostID string    `json:"scheduled_post_id"`
	Status          string    `json:"status"`
	CanceledAt      time.Time `json:"canceled_at"`
}

type StatusSummary struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

type PostStatus struct {
	ScheduledPostID string                  `json:"scheduled_post_id"`
	Status          string                  `json:"status"`
	PublishAt       time.Time               `json:"publish_at"`
	Platforms       []string                `json:"platforms"`
	RetryCount      int                     `json:"retry_count"`
	LastError       string                  `json:"last_error,omitempty"`
	PublishRecords  []*models.PublishRecord `json:"publish_records"`
	Summary         StatusSummary           `json:"summary"`
}

type Pagination struct {
	Page    int `json:"page"`
	Limit   int `json:"limit"`
	Total   int `json:"total"`
	HasMore bool `json:"has_more"`
}

type PostList struct {
	Items      []*models.ScheduledPost `json:"items"`
	Pagination Pagination              `json:"pagination"`
}

type ListFilter struct {
	Status   string
	Platform string
	Page     int
	Limit    int
}

type QueueHealth struct {
	Waiting   int  `json:"waiting"`
	Active    int  `json:"active"`
	Retrying  int  `json:"retrying"`
	Failed    int  `json:"failed"`
	Healthy   bool `json:"healthy"`
}
