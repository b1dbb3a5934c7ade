package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/crosspilot/crosspilot/internal/models"
	"github.com/crosspilot/crosspilot/internal/transfer"
)

const (
	// Attempt budget for the durable job itself (handler crashes, DB
	// outages). Adapter-level retries use the orchestrator's backoff
	// schedule instead.
	jobMaxAttempts = 5

	// Completed/failed job records older than this are swept away.
	jobRetention = 7 * 24 * time.Hour

	dedupeScanPageSize = 500
)

// Enqueuer is the slice of asynq.Client the scheduler needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector is the slice of asynq.Inspector the scheduler needs.
type Inspector interface {
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListActiveTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Scheduler owns durable job submission: it computes the execution delay from
// the target publish time and collapses duplicate submissions onto one job.
type Scheduler struct {
	client          Enqueuer
	insp            Inspector
	failedThreshold int
}

func NewScheduler(client Enqueuer, insp Inspector, failedThreshold int) *Scheduler {
	return &Scheduler{client: client, insp: insp, failedThreshold: failedThreshold}
}

// Schedule submits a durable publish job for the post. A publish time in the
// past yields delay zero, not an error. Returns the job reference to persist
// on the post.
func (s *Scheduler) Schedule(ctx context.Context, post *models.ScheduledPost) (string, error) {
	key := ComputeKey(post.ID, post.CreativeRef, post.Caption, post.TargetPlatforms, post.PublishAt)

	if existing := s.findDuplicate(key, post.ID); existing != "" {
		log.Printf("Duplicate schedule request for post %s collapsed onto job %s", post.ID, existing)
		return existing, nil
	}

	delay := time.Until(post.PublishAt)
	if delay < 0 {
		delay = 0
	}

	jobRef, err := s.enqueue(ctx, post.ID, key, delay)
	if err != nil {
		return "", err
	}

	log.Printf("Publish job scheduled: post=%s job=%s delay=%s", post.ID, jobRef, delay)
	return jobRef, nil
}

// ScheduleRetry re-enqueues the post for a later attempt. The retry counter
// is part of the job id so the retry does not collide with the original job,
// which is still marked active while its handler runs.
func (s *Scheduler) ScheduleRetry(ctx context.Context, post *models.ScheduledPost, at time.Time) (string, error) {
	base := ComputeKey(post.ID, post.CreativeRef, post.Caption, post.TargetPlatforms, post.PublishAt)
	key := fmt.Sprintf("%s:retry:%d", base, post.RetryCount)

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	jobRef, err := s.enqueue(ctx, post.ID, key, delay)
	if err != nil {
		return "", err
	}

	log.Printf("Publish retry %d scheduled: post=%s job=%s delay=%s", post.RetryCount, post.ID, jobRef, delay)
	return jobRef, nil
}

func (s *Scheduler) enqueue(ctx context.Context, postID, key string, delay time.Duration) (string, error) {
	payload, err := json.Marshal(PublishPostPayload{PostID: postID})
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(TaskTypePublishPost, payload)

	info, err := s.client.EnqueueContext(ctx, task,
		asynq.Queue(PublishQueue),
		asynq.TaskID(key),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(jobMaxAttempts),
		asynq.Retention(jobRetention),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// The queue already holds a job for this key.
			log.Printf("Job %s already enqueued for post %s", key, postID)
			return key, nil
		}
		slog.Info(err.Error())
		return "", err
	}

	return info.ID, nil
}

// findDuplicate scans waiting, delayed and active jobs for the same key
// belonging to the same post. Only a hit on both counts is a true duplicate.
func (s *Scheduler) findDuplicate(key, postID string) string {
	lists := []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		s.insp.ListPendingTasks,
		s.insp.ListScheduledTasks,
		s.insp.ListActiveTasks,
	}

	for _, list := range lists {
		tasks, err := list(PublishQueue, asynq.PageSize(dedupeScanPageSize))
		if err != nil {
			slog.Info(err.Error())
			continue
		}
		for _, task := range tasks {
			if task.ID != key {
				continue
			}
			var payload PublishPostPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				continue
			}
			if payload.PostID == postID {
				return task.ID
			}
		}
	}
	return ""
}

// Cancel removes a job that has not started executing. Returns false if the
// job is already running or gone; callers must not assume cancellation once
// execution has begun.
func (s *Scheduler) Cancel(ctx context.Context, jobRef string) bool {
	if err := s.insp.DeleteTask(PublishQueue, jobRef); err != nil {
		slog.Info(err.Error())
		return false
	}
	return true
}

// CleanupExpired removes finished job records older than the retention
// window. Runs on a cron cadence.
func (s *Scheduler) CleanupExpired() {
	cutoff := time.Now().Add(-jobRetention)
	removed := 0

	archived, err := s.insp.ListArchivedTasks(PublishQueue, asynq.PageSize(dedupeScanPageSize))
	if err != nil {
		slog.Info(err.Error())
	}
	for _, task := range archived {
		if !task.LastFailedAt.IsZero() && task.LastFailedAt.Before(cutoff) {
			if err := s.insp.DeleteTask(PublishQueue, task.ID); err == nil {
				removed++
			}
		}
	}

	completed, err := s.insp.ListCompletedTasks(PublishQueue, asynq.PageSize(dedupeScanPageSize))
	if err != nil {
		slog.Info(err.Error())
	}
	for _, task := range completed {
		if !task.CompletedAt.IsZero() && task.CompletedAt.Before(cutoff) {
			if err := s.insp.DeleteTask(PublishQueue, task.ID); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		log.Printf("Queue retention sweep removed %d job records", removed)
	}
}

// Health reports queue depth and flags the queue unhealthy once the failed
// count crosses the configured threshold.
func (s *Scheduler) Health() (*transfer.QueueHealth, error) {
	info, err := s.insp.GetQueueInfo(PublishQueue)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &transfer.QueueHealth{
		Waiting:  info.Pending + info.Scheduled,
		Active:   info.Active,
		Retrying: info.Retry,
		Failed:   info.Archived,
		Healthy:  info.Archived <= s.failedThreshold,
	}, nil
}
