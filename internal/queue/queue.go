package queue

import (
	"encoding/json"
	"fmt"
)

const TaskTypeSchedulePost = "schedule:post"

type SchedulePostPayload struct {
	PostID int64  `json:"post_id"`
	JobID  string `json:"job_id"`
}

func (p SchedulePostPayload) Validate() error {
	if p.PostID <= 0 {
		return fmt.Errorf("invalid post_id %d", p.PostID)
	}
	if p.JobID == "" {
		return fmt.Errorf("job_id is empty")
	}
	return nil
}

func DecodePayload(b []byte) (SchedulePostPayload, error) {
	var p SchedulePostPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, p.Validate()
}

// CancelResult tells whether a cancel removed a pending job or found nothing
// left to remove.
type CancelResult int

const (
	CancelOK CancelResult = iota
	CancelAlreadyGone
)

func (r CancelResult) String() string {
	if r == CancelAlreadyGone {
		return "already_gone"
	}
	return "ok"
}
