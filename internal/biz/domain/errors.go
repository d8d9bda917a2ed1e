package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfigurationMissing means the chat cannot be processed until it is configured
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrChatDisabled means moderation is switched off for the chat
	ErrChatDisabled = errors.New("moderation disabled for chat")
	// ErrRetriesExhausted wraps the last provider error after the final attempt
	ErrRetriesExhausted = errors.New("model retries exhausted")

	ErrReviewNotFound        = errors.New("review not found")
	ErrReviewAlreadyResolved = errors.New("review already handled")
	ErrReviewExpired         = errors.New("review expired")
	ErrReviewUnauthorized    = errors.New("not allowed to decide reviews")
)

// ProviderError is a failure reported by the model provider
type ProviderError struct {
	StatusCode     int    // HTTP status, 0 when the request never got a response
	ProviderStatus string // provider-specific error code or type
	Temporary      bool   // worth retrying
	Err            error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (status %d %s): %v", e.StatusCode, e.ProviderStatus, e.Err)
	}
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether the provider throttled the request
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.ProviderStatus == "rate_limit_exceeded"
}

// IsTemporary reports whether err is a retryable provider error
func IsTemporary(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary
	}
	return false
}
