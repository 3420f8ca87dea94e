package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrInvalidSchedule      = errors.New("invalid schedule")
	ErrInvalidTimezone      = errors.New("invalid timezone")
	ErrRateLimited          = errors.New("rate limited")
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
	ErrPublishFailed        = errors.New("publish failed")
	ErrStorage              = errors.New("storage error")
	ErrPostNotFound         = errors.New("post not found")
	ErrValidation           = errors.New("validation error")
)

// RateLimitError is returned when a subject exhausted an operation's window.
type RateLimitError struct {
	Operation string
	Remaining int
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Operation, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// PublishError keeps the last platform error after every attempt failed.
type PublishError struct {
	Attempts int
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublishFailed, e.Err}
}
