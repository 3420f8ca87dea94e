package transfer

type SegmentInput struct {
	Text      string   `json:"text"`
	MediaRefs []string `json:"media_refs"`
}

type PostCreation struct {
	Kind            string         `json:"kind"`
	Body            string         `json:"body"`
	Segments        []SegmentInput `json:"segments"`
	MediaRefs       []string       `json:"media_refs"`
	SourceAccountID int64          `json:"source_account_id"`
	GroupID         string         `json:"group_id"`
	PublishNow      bool           `json:"publish_now"`
	ScheduledTime   string         `json:"scheduled_time"`
	Timezone        string         `json:"timezone"`
}

type ScheduleRequest struct {
	ID            string `json:"id"`
	ScheduledTime string `json:"scheduled_time"`
	Timezone      string `json:"timezone"`
}

type UploadResult struct {
	Slot     string `json:"slot"`
	Status   string `json:"status"`
	MediaRef string `json:"media_ref,omitempty"`
	Error    string `json:"error,omitempty"`
}

type MediaRemoval struct {
	MediaRefs []string `json:"media_refs"`
}

type SchedulerWebhook struct {
	PostID int64  `json:"post_id"`
	JobID  string `json:"job_id"`
}
