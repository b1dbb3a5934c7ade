package queue

import "github.com/crosspilot/crosspilot/internal/models"

// Aggregate derives the post-level status from the latest publish record per
// platform. Pure function: published iff every platform published, failed iff
// every platform failed, partial on a mix of both; otherwise the current
// status stands (nothing terminal yet).
func Aggregate(targets []string, records []*models.PublishRecord, current string) string {
	if len(targets) == 0 {
		return current
	}

	latest := make(map[string]*models.PublishRecord, len(records))
	for _, rec := range records {
		latest[rec.Platform] = rec
	}

	published, failed := 0, 0
	for _, platform := range targets {
		rec, ok := latest[platform]
		if !ok {
			continue
		}
		switch rec.Status {
		case models.RecordStatusPublished:
			published++
		case models.RecordStatusFailed:
			failed++
		}
	}

	switch {
	case published == len(targets):
		return models.PostStatusPublished
	case failed == len(targets):
		return models.PostStatusFailed
	case published > 0 && failed > 0:
		return models.PostStatusPartial
	default:
		return current
	}
}
