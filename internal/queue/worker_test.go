package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspilot/crosspilot/internal/models"
	"github.com/crosspilot/crosspilot/internal/service"
	"github.com/crosspilot/crosspilot/internal/transfer"
	"github.com/crosspilot/crosspilot/internal/vault"
)

var testVaultKey = []byte("0123456789abcdef0123456789abcdef")

type fakePostRepo struct {
	mu    sync.Mutex
	posts map[string]*models.ScheduledPost

	claimCalls    int
	statusUpdates []string
	retryCounts   []int
}

func (f *fakePostRepo) Create(ctx context.Context, tx *sql.Tx, post *models.ScheduledPost) error {
	f.posts[post.ID] = post
	return nil
}

func (f *fakePostRepo) GetByID(ctx context.Context, id string) (*models.ScheduledPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.posts[id]
	if !ok {
		return nil, nil
	}
	cp := *post
	return &cp, nil
}

func (f *fakePostRepo) ListByOwner(ctx context.Context, ownerID int64, status, platform string, limit, offset int) ([]*models.ScheduledPost, int, error) {
	return nil, 0, nil
}

func (f *fakePostRepo) ListDue(ctx context.Context, horizon, stuckBefore time.Time) ([]*models.ScheduledPost, error) {
	return nil, nil
}

func (f *fakePostRepo) ClaimForPublishing(ctx context.Context, id string, stuckBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	post, ok := f.posts[id]
	if !ok {
		return false, nil
	}
	switch post.Status {
	case models.PostStatusScheduled:
		post.Status = models.PostStatusPublishing
		return true, nil
	case models.PostStatusPublishing:
		if post.UpdatedAt.Before(stuckBefore) {
			return true, nil
		}
		return false, nil
	default:
		return false, nil
	}
}

func (f *fakePostRepo) CancelIfScheduled(ctx context.Context, id, reason string) (bool, error) {
	post, ok := f.posts[id]
	if !ok || post.Status != models.PostStatusScheduled {
		return false, nil
	}
	post.Status = models.PostStatusCanceled
	return true, nil
}

func (f *fakePostRepo) UpdateStatus(ctx context.Context, id, status, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, status)
	if post, ok := f.posts[id]; ok {
		post.Status = status
		post.LastError = lastError
	}
	return nil
}

func (f *fakePostRepo) UpdateSchedule(ctx context.Context, id string, publishAt time.Time, timezone, jobRef string) error {
	return nil
}

func (f *fakePostRepo) UpdateJobRef(ctx context.Context, id, jobRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if post, ok := f.posts[id]; ok {
		post.JobRef = jobRef
	}
	return nil
}

func (f *fakePostRepo) MarkRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryCounts = append(f.retryCounts, retryCount)
	if post, ok := f.posts[id]; ok {
		post.Status = models.PostStatusScheduled
		post.RetryCount = retryCount
		post.LastError = lastError
	}
	return nil
}

type fakeSpecRepo struct {
	specs map[string][]*models.PlatformPublishSpec
}

func (f *fakeSpecRepo) Create(ctx context.Context, tx *sql.Tx, spec *models.PlatformPublishSpec) (int64, error) {
	f.specs[spec.PostID] = append(f.specs[spec.PostID], spec)
	return int64(len(f.specs[spec.PostID])), nil
}

func (f *fakeSpecRepo) ListByPostID(ctx context.Context, postID string) ([]*models.PlatformPublishSpec, error) {
	return f.specs[postID], nil
}

type fakeRecordRepo struct {
	mu      sync.Mutex
	records []*models.PublishRecord
}

func (f *fakeRecordRepo) Create(ctx context.Context, rec *models.PublishRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = int64(len(f.records) + 1)
	rec.CreatedAt = time.Now()
	f.records = append(f.records, rec)
	return rec.ID, nil
}

func (f *fakeRecordRepo) ListByPostID(ctx context.Context, postID string) ([]*models.PublishRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PublishRecord
	for _, rec := range f.records {
		if rec.PostID == postID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRecordRepo) ListLatestByPostID(ctx context.Context, postID string) ([]*models.PublishRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]*models.PublishRecord)
	for _, rec := range f.records {
		if rec.PostID == postID {
			latest[rec.Platform] = rec
		}
	}
	out := make([]*models.PublishRecord, 0, len(latest))
	for _, rec := range latest {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeRecordRepo) byPlatform(platform string) []*models.PublishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PublishRecord
	for _, rec := range f.records {
		if rec.Platform == platform {
			out = append(out, rec)
		}
	}
	return out
}

type fakeAdapter struct {
	mu       sync.Mutex
	platform string
	calls    int
	result   *transfer.PublishResult
	err      error

	// fail the first failTimes calls, then succeed
	failTimes int
}

func (f *fakeAdapter) Platform() string { return f.platform }

func (f *fakeAdapter) Publish(ctx context.Context, ownerID int64, mediaURL, caption string, options json.RawMessage, creds service.Credentials) (*transfer.PublishResult, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if f.err != nil && (f.failTimes == 0 || calls <= f.failTimes) {
		return nil, f.err
	}
	return f.result, nil
}

type fakeResolver struct{ err error }

func (f *fakeResolver) ResolveURL(ctx context.Context, creativeRef string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/" + creativeRef, nil
}

type retryCall struct {
	postID string
	at     time.Time
}

type fakeRetryScheduler struct {
	calls []retryCall
}

func (f *fakeRetryScheduler) ScheduleRetry(ctx context.Context, post *models.ScheduledPost, at time.Time) (string, error) {
	f.calls = append(f.calls, retryCall{postID: post.ID, at: at})
	return "retry_job", nil
}

type workerFixture struct {
	queue   *Queue
	posts   *fakePostRepo
	specs   *fakeSpecRepo
	records *fakeRecordRepo
	retry   *fakeRetryScheduler
	vault   *vault.Vault
}

func newWorkerFixture(t *testing.T, adapters ...service.PublishAdapter) *workerFixture {
	t.Helper()

	v, err := vault.New(testVaultKey)
	require.NoError(t, err)

	fx := &workerFixture{
		posts:   &fakePostRepo{posts: make(map[string]*models.ScheduledPost)},
		specs:   &fakeSpecRepo{specs: make(map[string][]*models.PlatformPublishSpec)},
		records: &fakeRecordRepo{},
		retry:   &fakeRetryScheduler{},
		vault:   v,
	}
	fx.queue = NewQueue(fx.posts, fx.specs, fx.records, v, service.NewRegistry(adapters...), &fakeResolver{}, fx.retry)
	return fx
}

func (fx *workerFixture) addPost(t *testing.T, platforms ...string) *models.ScheduledPost {
	t.Helper()

	post := &models.ScheduledPost{
		ID:              "post_1",
		OwnerID:         42,
		CreativeRef:     "media/clip.mp4",
		Caption:         "launch day",
		TargetPlatforms: platforms,
		PublishAt:       time.Now().Add(-time.Minute),
		Status:          models.PostStatusScheduled,
		UpdatedAt:       time.Now(),
	}
	fx.posts.posts[post.ID] = post

	blob, err := fx.vault.Encrypt(map[string]string{"access_token": "tok"})
	require.NoError(t, err)
	for _, platform := range platforms {
		fx.specs.specs[post.ID] = append(fx.specs.specs[post.ID], &models.PlatformPublishSpec{
			PostID:      post.ID,
			Platform:    platform,
			Credentials: *blob,
		})
	}
	return post
}

func TestProcessPostAllPlatformsSucceed(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", result: &transfer.PublishResult{ExternalID: "tt_1"}}
	youtube := &fakeAdapter{platform: "youtube", result: &transfer.PublishResult{ExternalID: "yt_1"}}
	fx := newWorkerFixture(t, tiktok, youtube)
	fx.addPost(t, "tiktok", "youtube")

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Equal(t, 1, tiktok.calls)
	assert.Equal(t, 1, youtube.calls)
	assert.Equal(t, models.PostStatusPublished, fx.posts.posts["post_1"].Status)

	recs := fx.records.byPlatform("tiktok")
	require.Len(t, recs, 1)
	assert.Equal(t, models.RecordStatusPublished, recs[0].Status)
	assert.Equal(t, "tt_1", recs[0].ExternalID)
}

func TestProcessPostSkipsAlreadyPublishedPlatforms(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", result: &transfer.PublishResult{ExternalID: "tt_2"}}
	youtube := &fakeAdapter{platform: "youtube", result: &transfer.PublishResult{ExternalID: "yt_1"}}
	fx := newWorkerFixture(t, tiktok, youtube)
	fx.addPost(t, "tiktok", "youtube")

	// tiktok already published in an earlier round.
	_, err := fx.records.Create(context.Background(), &models.PublishRecord{
		PostID: "post_1", Platform: "tiktok", Status: models.RecordStatusPublished, ExternalID: "tt_1",
	})
	require.NoError(t, err)

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Equal(t, 0, tiktok.calls, "published platform must not be re-attempted")
	assert.Equal(t, 1, youtube.calls)
	assert.Equal(t, models.PostStatusPublished, fx.posts.posts["post_1"].Status)
	assert.Len(t, fx.records.byPlatform("tiktok"), 1, "no duplicate record for the sticky platform")
}

func TestProcessPostRetryableFailureSchedulesRetry(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", err: service.NewPublishError("tiktok", true, errors.New("rate limited"))}
	fx := newWorkerFixture(t, tiktok)
	fx.addPost(t, "tiktok")

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	require.Len(t, fx.retry.calls, 1)
	assert.Equal(t, []int{1}, fx.posts.retryCounts)
	assert.Equal(t, models.PostStatusScheduled, fx.posts.posts["post_1"].Status)
	assert.Equal(t, "retry_job", fx.posts.posts["post_1"].JobRef)
	assert.Empty(t, fx.records.byPlatform("tiktok"), "pending retry must not write a failed record")

	delay := time.Until(fx.retry.calls[0].at)
	assert.InDelta(t, (5 * time.Minute).Seconds(), delay.Seconds(), 5)
}

func TestProcessPostNonRetryableFailureIsTerminal(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", err: service.NewPublishError("tiktok", false, errors.New("invalid credentials"))}
	fx := newWorkerFixture(t, tiktok)
	fx.addPost(t, "tiktok")

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Empty(t, fx.retry.calls)
	assert.Equal(t, models.PostStatusFailed, fx.posts.posts["post_1"].Status)

	recs := fx.records.byPlatform("tiktok")
	require.Len(t, recs, 1)
	assert.Equal(t, models.RecordStatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].Error, "invalid credentials")
}

func TestProcessPostRetryBudgetExhausted(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", err: service.NewPublishError("tiktok", true, errors.New("still down"))}
	fx := newWorkerFixture(t, tiktok)
	post := fx.addPost(t, "tiktok")
	post.RetryCount = MaxRetries

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Empty(t, fx.retry.calls, "budget spent, no further retries")
	assert.Equal(t, models.PostStatusFailed, fx.posts.posts["post_1"].Status)
	require.Len(t, fx.records.byPlatform("tiktok"), 1)
}

func TestProcessPostMixedOutcomesIsPartial(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", result: &transfer.PublishResult{ExternalID: "tt_1"}}
	youtube := &fakeAdapter{platform: "youtube", err: service.NewPublishError("youtube", false, errors.New("video rejected"))}
	fx := newWorkerFixture(t, tiktok, youtube)
	fx.addPost(t, "tiktok", "youtube")

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Equal(t, models.PostStatusPartial, fx.posts.posts["post_1"].Status)
}

func TestProcessPostCorruptCredentialsFailOnlyThatPlatform(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", result: &transfer.PublishResult{ExternalID: "tt_1"}}
	youtube := &fakeAdapter{platform: "youtube", result: &transfer.PublishResult{ExternalID: "yt_1"}}
	fx := newWorkerFixture(t, tiktok, youtube)
	fx.addPost(t, "tiktok", "youtube")

	for _, spec := range fx.specs.specs["post_1"] {
		if spec.Platform == "youtube" {
			spec.Credentials.AuthTag = "bm90LWEtdGFn"
		}
	}

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Equal(t, 1, tiktok.calls)
	assert.Equal(t, 0, youtube.calls)
	assert.Equal(t, models.PostStatusPartial, fx.posts.posts["post_1"].Status)

	recs := fx.records.byPlatform("youtube")
	require.Len(t, recs, 1)
	assert.Equal(t, models.RecordStatusFailed, recs[0].Status)
}

func TestProcessPostTerminalPostIsNoOp(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", result: &transfer.PublishResult{ExternalID: "tt_1"}}
	fx := newWorkerFixture(t, tiktok)
	post := fx.addPost(t, "tiktok")
	post.Status = models.PostStatusCanceled

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Equal(t, 0, tiktok.calls)
	assert.Equal(t, 0, fx.posts.claimCalls)
}

func TestProcessPostUnknownPostIsDropped(t *testing.T) {
	fx := newWorkerFixture(t)

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "missing"))
	assert.Equal(t, 0, fx.posts.claimCalls)
}

func TestProcessPostLosingClaimBacksOff(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", result: &transfer.PublishResult{ExternalID: "tt_1"}}
	fx := newWorkerFixture(t, tiktok)
	post := fx.addPost(t, "tiktok")
	post.Status = models.PostStatusPublishing
	post.UpdatedAt = time.Now()

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Equal(t, 0, tiktok.calls, "fresh publishing claim belongs to another worker")
}

func TestProcessPostStaleClaimIsReclaimed(t *testing.T) {
	tiktok := &fakeAdapter{platform: "tiktok", result: &transfer.PublishResult{ExternalID: "tt_1"}}
	fx := newWorkerFixture(t, tiktok)
	post := fx.addPost(t, "tiktok")
	post.Status = models.PostStatusPublishing
	post.UpdatedAt = time.Now().Add(-StuckTimeout - time.Minute)

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))

	assert.Equal(t, 1, tiktok.calls)
	assert.Equal(t, models.PostStatusPublished, fx.posts.posts["post_1"].Status)
}

func TestProcessPostNoSpecsFails(t *testing.T) {
	fx := newWorkerFixture(t)
	post := fx.addPost(t, "tiktok")
	fx.specs.specs[post.ID] = nil

	require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))
	assert.Equal(t, models.PostStatusFailed, fx.posts.posts["post_1"].Status)
}

func TestProcessPostRetriesUntilSuccess(t *testing.T) {
	youtube := &fakeAdapter{
		platform:  "youtube",
		err:       service.NewPublishError("youtube", true, errors.New("upstream flake")),
		failTimes: 3,
		result:    &transfer.PublishResult{ExternalID: "yt_1"},
	}
	fx := newWorkerFixture(t, youtube)
	fx.addPost(t, "youtube")

	// Each retry round hands the post back to the scheduler; drive the rounds
	// the way the durable jobs would.
	for round := 0; round < 4; round++ {
		require.NoError(t, fx.queue.ProcessPost(context.Background(), "post_1"))
	}

	assert.Equal(t, 4, youtube.calls)
	assert.Equal(t, []int{1, 2, 3}, fx.posts.retryCounts)
	assert.Len(t, fx.retry.calls, 3)
	assert.Equal(t, models.PostStatusPublished, fx.posts.posts["post_1"].Status)
	assert.Equal(t, 3, fx.posts.posts["post_1"].RetryCount)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 5*time.Minute, backoffDelay(1))
	assert.Equal(t, 15*time.Minute, backoffDelay(2))
	assert.Equal(t, 30*time.Minute, backoffDelay(3))
	assert.Equal(t, 30*time.Minute, backoffDelay(4))
	assert.Equal(t, 30*time.Minute, backoffDelay(MaxRetries))
}
