package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrRetrievalUnavailable is returned by retrievers whose backing store is
// absent or empty.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// GenerationError reports a language-model collaborator failure (transport,
// auth, quota or a broken stream). StatusCode is zero when no HTTP response
// was received.
type GenerationError struct {
	StatusCode int
	Err        error
}

func (e *GenerationError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("generation failed (status=%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatusCode exposes the upstream status for callers that classify
// errors by status.
func (e *GenerationError) HTTPStatusCode() int {
	return e.StatusCode
}

// RateLimited reports whether the collaborator rejected the request for quota.
func (e *GenerationError) RateLimited() bool {
	return e != nil && e.StatusCode == http.StatusTooManyRequests
}
