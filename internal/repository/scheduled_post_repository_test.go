package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosspilot/crosspilot/internal/models"
)

func newMockRepo(t *testing.T) (ScheduledPostRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewScheduledPostRepository(db), mock
}

func postRows(posts ...*models.ScheduledPost) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "creative_ref", "caption", "target_platforms", "publish_at",
		"timezone", "status", "retry_count", "last_error", "job_ref", "created_at", "updated_at",
	})
	for _, p := range posts {
		rows.AddRow(p.ID, p.OwnerID, p.CreativeRef, p.Caption, pq.StringArray(p.TargetPlatforms),
			p.PublishAt, p.Timezone, p.Status, p.RetryCount, p.LastError, p.JobRef, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func TestClaimForPublishing(t *testing.T) {
	repo, mock := newMockRepo(t)
	stuckBefore := time.Now().Add(-10 * time.Minute)

	mock.ExpectExec(`UPDATE scheduled_posts`).
		WithArgs(models.PostStatusPublishing, "p1", models.PostStatusScheduled, stuckBefore).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.ClaimForPublishing(context.Background(), "p1", stuckBefore)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimForPublishingLosesRace(t *testing.T) {
	repo, mock := newMockRepo(t)
	stuckBefore := time.Now().Add(-10 * time.Minute)

	mock.ExpectExec(`UPDATE scheduled_posts`).
		WithArgs(models.PostStatusPublishing, "p1", models.PostStatusScheduled, stuckBefore).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.ClaimForPublishing(context.Background(), "p1", stuckBefore)
	require.NoError(t, err)
	assert.False(t, claimed, "zero rows affected means another worker already holds the post")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelIfScheduled(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE scheduled_posts`).
		WithArgs(models.PostStatusCanceled, "client request", "p1", models.PostStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	canceled, err := repo.CancelIfScheduled(context.Background(), "p1", "client request")
	require.NoError(t, err)
	assert.True(t, canceled)

	mock.ExpectExec(`UPDATE scheduled_posts`).
		WithArgs(models.PostStatusCanceled, "", "p2", models.PostStatusScheduled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	canceled, err = repo.CancelIfScheduled(context.Background(), "p2", "")
	require.NoError(t, err)
	assert.False(t, canceled, "a publishing post cannot be canceled")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT (.+) FROM scheduled_posts WHERE id`).
		WithArgs("missing").
		WillReturnRows(postRows())

	post, err := repo.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, post)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	want := &models.ScheduledPost{
		ID: "p1", OwnerID: 42, CreativeRef: "media/clip.mp4", Caption: "launch day",
		TargetPlatforms: []string{"tiktok", "youtube"},
		PublishAt:       time.Now().Add(time.Hour).UTC(),
		Status:          models.PostStatusScheduled,
		JobRef:          "job_1",
	}

	mock.ExpectQuery(`SELECT (.+) FROM scheduled_posts WHERE id`).
		WithArgs("p1").
		WillReturnRows(postRows(want))

	post, err := repo.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, want.ID, post.ID)
	assert.Equal(t, want.OwnerID, post.OwnerID)
	assert.Equal(t, []string{"tiktok", "youtube"}, post.TargetPlatforms)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDue(t *testing.T) {
	repo, mock := newMockRepo(t)
	horizon := time.Now().Add(time.Minute)
	stuckBefore := time.Now().Add(-10 * time.Minute)

	due := &models.ScheduledPost{
		ID: "p1", OwnerID: 42, TargetPlatforms: []string{"tiktok"},
		PublishAt: time.Now().Add(-time.Minute), Status: models.PostStatusScheduled,
	}
	stuck := &models.ScheduledPost{
		ID: "p2", OwnerID: 42, TargetPlatforms: []string{"youtube"},
		PublishAt: time.Now().Add(-time.Hour), Status: models.PostStatusPublishing,
	}

	mock.ExpectQuery(`SELECT (.+) FROM scheduled_posts`).
		WithArgs(models.PostStatusScheduled, horizon, models.PostStatusPublishing, stuckBefore).
		WillReturnRows(postRows(due, stuck))

	posts, err := repo.ListDue(context.Background(), horizon, stuckBefore)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p1", posts[0].ID)
	assert.Equal(t, "p2", posts[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByOwnerFilters(t *testing.T) {
	repo, mock := newMockRepo(t)

	post := &models.ScheduledPost{
		ID: "p1", OwnerID: 42, TargetPlatforms: []string{"tiktok"},
		Status: models.PostStatusScheduled,
	}

	mock.ExpectQuery(`SELECT (.+) FROM scheduled_posts`).
		WithArgs(int64(42), models.PostStatusScheduled, "tiktok", 20, 0).
		WillReturnRows(postRows(post))
	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(int64(42), models.PostStatusScheduled, "tiktok").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	posts, total, err := repo.ListByOwner(context.Background(), 42, models.PostStatusScheduled, "tiktok", 20, 0)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRetryResetsToScheduled(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(`UPDATE scheduled_posts`).
		WithArgs(models.PostStatusScheduled, 2, "rate limited", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkRetry(context.Background(), "p1", 2, "rate limited"))
	require.NoError(t, mock.ExpectationsWereMet())
}
