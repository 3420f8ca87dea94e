// Package lifecycle holds the post state machine. It has no I/O: callers ask
// whether an action is allowed from a status and get the next status back.
package lifecycle

import (
	"fmt"

	"github.com/maheshrc27/postflow/internal/models"
)

type Action string

const (
	ActionSchedule   Action = "schedule"
	ActionReschedule Action = "reschedule"
	ActionPublishNow Action = "publish-now"
	ActionJobFire    Action = "job-fire"
	ActionDelete     Action = "delete"
)

// StatusRemoved is the outcome of a delete. It is never stored.
const StatusRemoved models.PostStatus = "removed"

type transitionKey struct {
	from   models.PostStatus
	action Action
}

var transitions = map[transitionKey]models.PostStatus{
	{models.PostStatusDraft, ActionSchedule}:       models.PostStatusScheduled,
	{models.PostStatusDraft, ActionPublishNow}:     models.PostStatusPosted,
	{models.PostStatusScheduled, ActionReschedule}: models.PostStatusScheduled,
	{models.PostStatusScheduled, ActionPublishNow}: models.PostStatusPosted,
	{models.PostStatusScheduled, ActionJobFire}:    models.PostStatusPosted,
}

// normalize maps stored statuses onto the states the machine knows about.
func normalize(s models.PostStatus) models.PostStatus {
	if s == models.PostStatusFailed {
		return models.PostStatusDraft
	}
	return s
}

// CanTransition returns the status a post moves to when action is applied in
// status current, or an error wrapping models.ErrInvalidTransition.
func CanTransition(current models.PostStatus, action Action) (models.PostStatus, error) {
	if action == ActionDelete {
		return StatusRemoved, nil
	}
	next, ok := transitions[transitionKey{normalize(current), action}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a post that is %s", models.ErrInvalidTransition, action, current)
	}
	return next, nil
}

// OnPublishFailure is where a post lands once every publish attempt failed.
func OnPublishFailure(models.PostStatus) models.PostStatus {
	return models.PostStatusDraft
}

// CancelsPendingJob reports whether applying action in status current must
// first cancel the live delayed job.
func CancelsPendingJob(current models.PostStatus, action Action) bool {
	if current != models.PostStatusScheduled {
		return false
	}
	switch action {
	case ActionReschedule, ActionPublishNow, ActionDelete:
		return true
	}
	return false
}
