package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/crosspilot/crosspilot/internal/models"
	"github.com/crosspilot/crosspilot/internal/repository"
	"github.com/crosspilot/crosspilot/internal/transfer"
	"github.com/crosspilot/crosspilot/internal/vault"
)

const scheduleTimeLayout = "2006-01-02T15:04"

// DelayScheduler is the job-queue boundary the API layer schedules through.
// Implemented by queue.Scheduler.
type DelayScheduler interface {
	Schedule(ctx context.Context, post *models.ScheduledPost) (string, error)
	Cancel(ctx context.Context, jobRef string) bool
}

type PostService interface {
	Schedule(ctx context.Context, ownerID int64, req *transfer.ScheduleRequest) (*transfer.ScheduleResult, error)
	Reschedule(ctx context.Context, ownerID int64, postID, publishAt, timezone string) (*transfer.ScheduleResult, error)
	Cancel(ctx context.Context, ownerID int64, postID, reason string) (*transfer.CancelResult, error)
	PublishNow(ctx context.Context, ownerID int64, postID string) (*transfer.ScheduleResult, error)
	GetStatus(ctx context.Context, ownerID int64, postID string) (*transfer.PostStatus, error)
	List(ctx context.Context, ownerID int64, filter transfer.ListFilter) (*transfer.PostList, error)
}

type postService struct {
	db        *sql.DB
	sp        repository.ScheduledPostRepository
	ps        repository.PlatformSpecRepository
	pr        repository.PublishRecordRepository
	vault     *vault.Vault
	scheduler DelayScheduler
	registry  *Registry
}

func NewPostService(
	db *sql.DB,
	sp repository.ScheduledPostRepository,
	ps repository.PlatformSpecRepository,
	pr repository.PublishRecordRepository,
	v *vault.Vault,
	scheduler DelayScheduler,
	registry *Registry) PostService {
	return &postService{
		db:        db,
		sp:        sp,
		ps:        ps,
		pr:        pr,
		vault:     v,
		scheduler: scheduler,
		registry:  registry,
	}
}

func (s *postService) Schedule(ctx context.Context, ownerID int64, req *transfer.ScheduleRequest) (*transfer.ScheduleResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", ErrValidation)
	}
	if req.Caption == "" {
		return nil, fmt.Errorf("%w: caption cannot be empty", ErrValidation)
	}
	if req.CreativeRef == "" {
		return nil, fmt.Errorf("%w: creative_ref cannot be empty", ErrValidation)
	}
	if len(req.Platforms) == 0 {
		return nil, fmt.Errorf("%w: no target platforms", ErrValidation)
	}

	platforms := make([]string, 0, len(req.Platforms))
	seen := make(map[string]bool)
	for _, target := range req.Platforms {
		if _, ok := s.registry.Get(target.Platform); !ok {
			return nil, fmt.Errorf("%w: unknown platform %q", ErrValidation, target.Platform)
		}
		if seen[target.Platform] {
			return nil, fmt.Errorf("%w: duplicate platform %q", ErrValidation, target.Platform)
		}
		if len(target.Credentials) == 0 {
			return nil, fmt.Errorf("%w: missing credentials for %q", ErrValidation, target.Platform)
		}
		seen[target.Platform] = true
		platforms = append(platforms, target.Platform)
	}

	publishAt, err := parsePublishAt(req.PublishAt, req.Timezone)
	if err != nil {
		return nil, err
	}

	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	post := &models.ScheduledPost{
		ID:              id,
		OwnerID:         ownerID,
		CreativeRef:     req.CreativeRef,
		Caption:         req.Caption,
		TargetPlatforms: platforms,
		PublishAt:       publishAt,
		Timezone:        req.Timezone,
		Status:          models.PostStatusScheduled,
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if err = s.sp.Create(ctx, tx, post); err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}

	for _, target := range req.Platforms {
		encrypted, encErr := s.vault.Encrypt(target.Credentials)
		if encErr != nil {
			err = fmt.Errorf("error encrypting credentials for %q: %w", target.Platform, encErr)
			return nil, err
		}

		spec := &models.PlatformPublishSpec{
			PostID:      post.ID,
			Platform:    target.Platform,
			Credentials: *encrypted,
			Targeting:   target.Targeting,
			Options:     target.Options,
		}
		if _, err = s.ps.Create(ctx, tx, spec); err != nil {
			return nil, fmt.Errorf("error saving platform spec: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	jobRef, err := s.scheduler.Schedule(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("error scheduling publish job: %w", err)
	}

	if err := s.sp.UpdateJobRef(ctx, post.ID, jobRef); err != nil {
		return nil, err
	}

	return &transfer.ScheduleResult{
		ScheduledPostID: post.ID,
		JobID:           jobRef,
		PublishAt:       publishAt,
		Platforms:       platforms,
		Status:          models.PostStatusScheduled,
	}, nil
}

func (s *postService) Reschedule(ctx context.Context, ownerID int64, postID, publishAt, timezone string) (*transfer.ScheduleResult, error) {
	post, err := s.ownedPost(ctx, ownerID, postID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(post.Status) {
		return nil, fmt.Errorf("%w: post is %s", ErrPostAlreadyPublished, post.Status)
	}

	newPublishAt, err := parsePublishAt(publishAt, timezone)
	if err != nil {
		return nil, err
	}

	// Best-effort: a job already executing cannot be removed.
	if post.JobRef != "" && !s.scheduler.Cancel(ctx, post.JobRef) {
		log := fmt.Sprintf("reschedule: existing job %s not cancelable for post %s", post.JobRef, post.ID)
		slog.Info(log)
	}

	post.PublishAt = newPublishAt
	post.Timezone = timezone

	jobRef, err := s.scheduler.Schedule(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("error scheduling publish job: %w", err)
	}

	if err := s.sp.UpdateSchedule(ctx, post.ID, newPublishAt, timezone, jobRef); err != nil {
		return nil, err
	}

	return &transfer.ScheduleResult{
		ScheduledPostID: post.ID,
		JobID:           jobRef,
		PublishAt:       newPublishAt,
		Status:          models.PostStatusScheduled,
	}, nil
}

func (s *postService) Cancel(ctx context.Context, ownerID int64, postID, reason string) (*transfer.CancelResult, error) {
	post, err := s.ownedPost(ctx, ownerID, postID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(post.Status) {
		return nil, fmt.Errorf("%w: post is %s", ErrPostAlreadyPublished, post.Status)
	}

	records, err := s.pr.ListLatestByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Status == models.RecordStatusPublished {
			return nil, fmt.Errorf("%w: %s already published", ErrPostAlreadyPublished, rec.Platform)
		}
	}

	if post.JobRef != "" {
		s.scheduler.Cancel(ctx, post.JobRef)
	}

	canceled, err := s.sp.CancelIfScheduled(ctx, postID, reason)
	if err != nil {
		return nil, err
	}
	if !canceled {
		// Lost the race against the orchestrator claiming the post.
		return nil, fmt.Errorf("%w: post is being published", ErrPostAlreadyPublished)
	}

	return &transfer.CancelResult{
		ScheduledPostID: postID,
		Status:          models.PostStatusCanceled,
		CanceledAt:      time.Now().UTC(),
	}, nil
}

func (s *postService) PublishNow(ctx context.Context, ownerID int64, postID string) (*transfer.ScheduleResult, error) {
	post, err := s.ownedPost(ctx, ownerID, postID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(post.Status) {
		return nil, fmt.Errorf("%w: post is %s", ErrPostAlreadyPublished, post.Status)
	}

	if post.JobRef != "" {
		s.scheduler.Cancel(ctx, post.JobRef)
	}

	now := time.Now().UTC()
	post.PublishAt = now

	jobRef, err := s.scheduler.Schedule(ctx, post)
	if err != nil {
		return nil, fmt.Errorf("error scheduling publish job: %w", err)
	}

	if err := s.sp.UpdateSchedule(ctx, post.ID, now, post.Timezone, jobRef); err != nil {
		return nil, err
	}

	return &transfer.ScheduleResult{
		ScheduledPostID: post.ID,
		JobID:           jobRef,
		PublishAt:       now,
		Status:          models.PostStatusPublishing,
	}, nil
}

func (s *postService) GetStatus(ctx context.Context, ownerID int64, postID string) (*transfer.PostStatus, error) {
	post, err := s.ownedPost(ctx, ownerID, postID)
	if err != nil {
		return nil, err
	}

	records, err := s.pr.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*models.PublishRecord)
	for _, rec := range records {
		latest[rec.Platform] = rec
	}

	summary := transfer.StatusSummary{Total: len(post.TargetPlatforms)}
	for _, platform := range post.TargetPlatforms {
		rec, ok := latest[platform]
		switch {
		case ok && rec.Status == models.RecordStatusPublished:
			summary.Published++
		case ok && rec.Status == models.RecordStatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}

	return &transfer.PostStatus{
		ScheduledPostID: post.ID,
		Status:          post.Status,
		PublishAt:       post.PublishAt,
		Platforms:       post.TargetPlatforms,
		RetryCount:      post.RetryCount,
		LastError:       post.LastError,
		PublishRecords:  records,
		Summary:         summary,
	}, nil
}

func (s *postService) List(ctx context.Context, ownerID int64, filter transfer.ListFilter) (*transfer.PostList, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	offset := (filter.Page - 1) * filter.Limit
	posts, total, err := s.sp.ListByOwner(ctx, ownerID, filter.Status, filter.Platform, filter.Limit, offset)
	if err != nil {
		return nil, err
	}

	return &transfer.PostList{
		Items: posts,
		Pagination: transfer.Pagination{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasMore: offset+len(posts) < total,
		},
	}, nil
}

func (s *postService) ownedPost(ctx context.Context, ownerID int64, postID string) (*models.ScheduledPost, error) {
	post, err := s.sp.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil || post.OwnerID != ownerID {
		return nil, ErrPostNotFound
	}
	return post, nil
}

func parsePublishAt(value, timezone string) (time.Time, error) {
	loc := time.UTC
	if timezone != "" {
		parsed, err := time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid timezone %q", ErrValidation, timezone)
		}
		loc = parsed
	}

	publishAt, err := time.ParseInLocation(scheduleTimeLayout, value, loc)
	if err != nil {
		// Accept RFC3339 as well for API clients that send full timestamps.
		publishAt, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: invalid publish time format", ErrValidation)
		}
	}

	return publishAt.UTC(), nil
}
