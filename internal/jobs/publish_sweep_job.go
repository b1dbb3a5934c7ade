package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crosspilot/crosspilot/internal/models"
	"github.com/crosspilot/crosspilot/internal/queue"
	"github.com/crosspilot/crosspilot/internal/repository"
)

// Lookahead for the due-post sweep; posts due within it are processed this
// cycle instead of waiting for the next.
const sweepLookahead = time.Minute

// PublishSweepJob is the second trigger path: a periodic sweep that catches
// due posts whose queue job was lost, plus posts stuck in publishing after a
// crash. Both paths converge on the same ProcessPost routine.
type PublishSweepJob struct {
	sp repository.ScheduledPostRepository
	q  *queue.Queue
}

func NewPublishSweepJob(sp repository.ScheduledPostRepository, q *queue.Queue) *PublishSweepJob {
	return &PublishSweepJob{sp: sp, q: q}
}

func (j *PublishSweepJob) SweepDuePosts() {
	ctx := context.Background()

	horizon := time.Now().Add(sweepLookahead)
	stuckBefore := time.Now().Add(-queue.StuckTimeout)

	posts, err := j.sp.ListDue(ctx, horizon, stuckBefore)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 5
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, post := range posts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(post *models.ScheduledPost) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := j.q.ProcessPost(ctx, post.ID); err != nil {
				slog.Info(err.Error())
			}
		}(post)
	}

	wg.Wait()
}
