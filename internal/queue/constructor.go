package queue

import (
	"context"
	"time"

	"github.com/crosspilot/crosspilot/internal/models"
	"github.com/crosspilot/crosspilot/internal/repository"
	"github.com/crosspilot/crosspilot/internal/service"
	"github.com/crosspilot/crosspilot/internal/vault"
)

// RetryScheduler re-enqueues a post after a retryable failure. Implemented by
// Scheduler; split out so the worker can be tested without Redis.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, post *models.ScheduledPost, at time.Time) (string, error)
}

type Queue struct {
	sp       repository.ScheduledPostRepository
	ps       repository.PlatformSpecRepository
	pr       repository.PublishRecordRepository
	vault    *vault.Vault
	adapters *service.Registry
	media    service.MediaResolver
	retry    RetryScheduler
}

func NewQueue(
	sp repository.ScheduledPostRepository,
	ps repository.PlatformSpecRepository,
	pr repository.PublishRecordRepository,
	v *vault.Vault,
	adapters *service.Registry,
	media service.MediaResolver,
	retry RetryScheduler) *Queue {
	return &Queue{
		sp:       sp,
		ps:       ps,
		pr:       pr,
		vault:    v,
		adapters: adapters,
		media:    media,
		retry:    retry,
	}
}

const TaskTypePublishPost = "publish:post"

// PublishQueue is the asynq queue all publish jobs go through.
const PublishQueue = "publish"

type PublishPostPayload struct {
	PostID string `json:"post_id"`
}
