package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ComputeKey derives the durable job identity from a schedule request's
// logical content. Two requests describing the same intent (same post,
// creative, caption, platforms and target time) collapse to the same key, so
// the job queue enforces at most one active job per intent. The platform list
// is sorted first: input order does not change identity.
func ComputeKey(postID, creativeRef, caption string, platforms []string, publishAt time.Time) string {
	sorted := append([]string(nil), platforms...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, part := range []string{
		postID,
		creativeRef,
		caption,
		strings.Join(sorted, ","),
		strconv.FormatInt(publishAt.UTC().Unix(), 10),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
