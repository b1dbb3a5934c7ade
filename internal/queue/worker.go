package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/crosspilot/crosspilot/internal/models"
	"github.com/crosspilot/crosspilot/internal/service"
)

const (
	// MaxRetries bounds post-level retry rounds for retryable adapter
	// failures. Attempt count is therefore MaxRetries + 1.
	MaxRetries = 5

	// StuckTimeout is how long a post may sit in publishing before a
	// sweep treats the claim as abandoned (crashed worker) and re-claims.
	StuckTimeout = 10 * time.Minute

	inFlightLimit = 5
)

// Backoff schedule between retry rounds; past the table the last value
// repeats.
var backoffSchedule = []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute}

func backoffDelay(retryCount int) time.Duration {
	idx := retryCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return backoffSchedule[idx]
}

func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	return q.ProcessPost(ctx, payload.PostID)
}

type platformOutcome struct {
	platform   string
	externalID string
	err        error
}

// ProcessPost runs one publish cycle for a post. Idempotent: re-invoking it
// for a terminal post is a no-op, and the claim CAS makes it safe to call
// from both the sweep and the job queue concurrently.
func (q *Queue) ProcessPost(ctx context.Context, postID string) error {
	post, err := q.sp.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		log.Printf("Publish job for unknown post %s dropped", postID)
		return nil
	}
	if models.IsTerminal(post.Status) {
		return nil
	}

	claimed, err := q.sp.ClaimForPublishing(ctx, post.ID, time.Now().Add(-StuckTimeout))
	if err != nil {
		return err
	}
	if !claimed {
		// Another trigger path won the claim.
		return nil
	}

	specs, err := q.ps.ListByPostID(ctx, post.ID)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return q.sp.UpdateStatus(ctx, post.ID, models.PostStatusFailed, "no platform publish specs")
	}

	records, err := q.pr.ListLatestByPostID(ctx, post.ID)
	if err != nil {
		return err
	}
	alreadyPublished := make(map[string]bool)
	for _, rec := range records {
		if rec.Status == models.RecordStatusPublished {
			alreadyPublished[rec.Platform] = true
		}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		outcomes  []platformOutcome
		semaphore = make(chan struct{}, inFlightLimit)
	)

	for _, spec := range specs {
		// Success is sticky across retries: a platform that already
		// published must not be re-published when a sibling retries.
		if alreadyPublished[spec.Platform] {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(spec *models.PlatformPublishSpec) {
			defer wg.Done()
			defer func() { <-semaphore }()

			outcome := q.publishOne(ctx, post, spec)
			if outcome.err != nil {
				log.Printf("Error publishing post %s to %s: %v", post.ID, spec.Platform, outcome.err)
			}

			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(spec)
	}

	wg.Wait()

	retryNeeded := false
	lastError := ""
	for _, outcome := range outcomes {
		if outcome.err == nil {
			rec := &models.PublishRecord{
				PostID:     post.ID,
				Platform:   outcome.platform,
				Status:     models.RecordStatusPublished,
				ExternalID: outcome.externalID,
			}
			if _, err := q.pr.Create(ctx, rec); err != nil {
				return fmt.Errorf("error saving publish record for post %s: %w", post.ID, err)
			}
			continue
		}

		lastError = outcome.err.Error()

		if service.IsRetryable(outcome.err) && post.RetryCount < MaxRetries {
			// Stays pending; the whole post comes back after backoff
			// and only unpublished platforms are re-attempted.
			retryNeeded = true
			continue
		}

		rec := &models.PublishRecord{
			PostID:   post.ID,
			Platform: outcome.platform,
			Status:   models.RecordStatusFailed,
			Error:    outcome.err.Error(),
		}
		if _, err := q.pr.Create(ctx, rec); err != nil {
			return fmt.Errorf("error saving publish record for post %s: %w", post.ID, err)
		}
	}

	if retryNeeded {
		return q.scheduleRetry(ctx, post, lastError)
	}

	latest, err := q.pr.ListLatestByPostID(ctx, post.ID)
	if err != nil {
		return err
	}

	status := Aggregate(post.TargetPlatforms, latest, models.PostStatusPublishing)
	return q.sp.UpdateStatus(ctx, post.ID, status, lastError)
}

func (q *Queue) publishOne(ctx context.Context, post *models.ScheduledPost, spec *models.PlatformPublishSpec) platformOutcome {
	// Credentials live decrypted only inside this call.
	creds, err := q.vault.Decrypt(&spec.Credentials)
	if err != nil {
		slog.Info(err.Error())
		return platformOutcome{
			platform: spec.Platform,
			err:      service.NewPublishError(spec.Platform, false, err),
		}
	}

	adapter, ok := q.adapters.Get(spec.Platform)
	if !ok {
		return platformOutcome{
			platform: spec.Platform,
			err:      service.NewPublishError(spec.Platform, false, errors.New("no adapter registered")),
		}
	}

	mediaURL, err := q.media.ResolveURL(ctx, post.CreativeRef)
	if err != nil {
		return platformOutcome{
			platform: spec.Platform,
			err:      service.NewPublishError(spec.Platform, true, fmt.Errorf("resolving creative: %w", err)),
		}
	}

	result, err := adapter.Publish(ctx, post.OwnerID, mediaURL, post.Caption, spec.Options, creds)
	if err != nil {
		return platformOutcome{platform: spec.Platform, err: err}
	}

	return platformOutcome{platform: spec.Platform, externalID: result.ExternalID}
}

func (q *Queue) scheduleRetry(ctx context.Context, post *models.ScheduledPost, lastError string) error {
	retryCount := post.RetryCount + 1

	if err := q.sp.MarkRetry(ctx, post.ID, retryCount, lastError); err != nil {
		return err
	}
	post.RetryCount = retryCount

	retryAt := time.Now().Add(backoffDelay(retryCount))
	jobRef, err := q.retry.ScheduleRetry(ctx, post, retryAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	if err := q.sp.UpdateJobRef(ctx, post.ID, jobRef); err != nil {
		return err
	}

	log.Printf("Post %s rescheduled for retry %d at %s", post.ID, retryCount, retryAt.UTC().Format(time.RFC3339))
	return nil
}
