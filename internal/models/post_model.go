package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type PostKind string

const (
	PostKindSingle PostKind = "single"
	PostKindThread PostKind = "thread"
)

type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusScheduled PostStatus = "scheduled"
	PostStatusPosted    PostStatus = "posted"
	// PostStatusFailed is accepted when reading old rows but never assigned;
	// exhausted publishes go back to draft.
	PostStatusFailed PostStatus = "failed"
)

// MaxMediaPerItem is the most media one published item can carry.
const MaxMediaPerItem = 10

type Segment struct {
	Text      string   `json:"text"`
	MediaRefs []string `json:"media_refs,omitempty"`
}

// Segments is stored as a JSONB column.
type Segments []Segment

func (s Segments) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

func (s *Segments) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("segments: unsupported column type")
	}
	return json.Unmarshal(b, s)
}

type Post struct {
	ID              int64      `db:"id" json:"-"`
	PublicID        string     `db:"public_id" json:"id"`
	UserID          int64      `db:"user_id" json:"user_id"`
	SourceAccountID int64      `db:"source_account_id" json:"source_account_id"`
	GroupID         string     `db:"group_id" json:"group_id,omitempty"`
	Kind            PostKind   `db:"kind" json:"kind"`
	Status          PostStatus `db:"status" json:"status"`
	Body            string     `db:"body" json:"body"`
	Segments        Segments   `db:"segments" json:"segments,omitempty"`
	MediaRefs       []string   `db:"media_refs" json:"media_refs,omitempty"`
	ScheduledAt     *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	PublishedAt     *time.Time `db:"published_at" json:"published_at,omitempty"`
	ExternalPostID  string     `db:"external_post_id" json:"external_post_id,omitempty"`
	SchedulerJobID  string     `db:"scheduler_job_id" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// ThreadBody joins segment texts the way a thread body is stored.
func ThreadBody(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ClearSchedule drops the schedule fields; callers pair it with a status change.
func (p *Post) ClearSchedule() {
	p.ScheduledAt = nil
	p.SchedulerJobID = ""
}

type MediaAsset struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	FileName  string    `db:"file_name"`
	FileType  string    `db:"file_type"`
	FileSize  int64     `db:"file_size"`
	FileURL   string    `db:"file_url"`
	CreatedAt time.Time `db:"created_at"`
}
