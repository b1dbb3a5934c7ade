package service

import (
	"errors"
	"fmt"
)

// Errors surfaced synchronously to callers of the scheduling API. Everything
// that happens after enqueue is recorded on the post and its publish records
// instead of propagating.
var (
	ErrValidation           = errors.New("validation failed")
	ErrPostNotFound         = errors.New("scheduled post not found")
	ErrPostAlreadyPublished = errors.New("post already published")
)

// PublishError is the adapter failure taxonomy. Retryable covers transient
// conditions (network, 5xx, rate limit); everything else is terminal for the
// platform it belongs to.
type PublishError struct {
	Platform  string
	Retryable bool
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s publish failed: %v", e.Platform, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func NewPublishError(platform string, retryable bool, err error) *PublishError {
	return &PublishError{Platform: platform, Retryable: retryable, Err: err}
}

// IsRetryable reports whether a publish failure should re-enter the backoff
// schedule. Unknown error types are treated as retryable so that transport
// failures wrapped by adapters are not silently terminal.
func IsRetryable(err error) bool {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
