package service

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/crosspilot/crosspilot/internal/transfer"
)

// Credentials is a platform credential set, decrypted in memory for the
// duration of one publish call.
type Credentials map[string]string

// PublishAdapter is the uniform wrapper around one platform's publish API.
// Implementations return *PublishError so the orchestrator can classify
// failures.
type PublishAdapter interface {
	Platform() string
	Publish(ctx context.Context, ownerID int64, mediaURL, caption string, options json.RawMessage, creds Credentials) (*transfer.PublishResult, error)
}

// Registry maps platform names to adapters. Adding a platform means
// registering it here; the orchestrator's control flow does not change.
type Registry struct {
	adapters map[string]PublishAdapter
}

func NewRegistry(adapters ...PublishAdapter) *Registry {
	r := &Registry{adapters: make(map[string]PublishAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Get(platform string) (PublishAdapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}

func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// classifyStatus maps an HTTP response code onto the retryable/terminal split:
// 429 and 5xx can heal on their own, auth and client errors cannot.
func classifyStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
