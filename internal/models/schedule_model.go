package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type ScheduleStatus string

const (
	ScheduleStatusPending    ScheduleStatus = "pending"
	ScheduleStatusProcessing ScheduleStatus = "processing"
	ScheduleStatusCompleted  ScheduleStatus = "completed"
	ScheduleStatusFailed     ScheduleStatus = "failed"
	ScheduleStatusCancelled  ScheduleStatus = "cancelled"
)

var scheduleTransitions = map[ScheduleStatus][]ScheduleStatus{
	ScheduleStatusPending:    {ScheduleStatusProcessing, ScheduleStatusCancelled},
	ScheduleStatusProcessing: {ScheduleStatusCompleted, ScheduleStatusFailed, ScheduleStatusPending},
}

func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleStatusPending, ScheduleStatusProcessing, ScheduleStatusCompleted,
		ScheduleStatusFailed, ScheduleStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
// processing -> pending is the retry edge.
func (s ScheduleStatus) CanTransitionTo(next ScheduleStatus) bool {
	for _, allowed := range scheduleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s ScheduleStatus) Terminal() bool {
	return len(scheduleTransitions[s]) == 0
}

const (
	PrivacyPrivate  = "private"
	PrivacyUnlisted = "unlisted"
	PrivacyPublic   = "public"
)

// VideoData is what gets published: either an existing platform video (VideoID)
// or a file staged in object storage (SourceKey).
type VideoData struct {
	VideoID     string   `json:"video_id,omitempty"`
	SourceKey   string   `json:"source_key,omitempty"`
	SourceSize  int64    `json:"source_size,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	FileName    string   `json:"file_name,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Privacy     string   `json:"privacy"`
	CategoryID  string   `json:"category_id,omitempty"`
	MadeForKids bool     `json:"made_for_kids"`
	Language    string   `json:"language,omitempty"`
}

func (v VideoData) Value() (driver.Value, error) {
	return json.Marshal(v)
}

func (v *VideoData) Scan(src any) error {
	switch b := src.(type) {
	case []byte:
		return json.Unmarshal(b, v)
	case string:
		return json.Unmarshal([]byte(b), v)
	}
	return errors.New("unsupported video_data column type")
}

type Schedule struct {
	ID                  string         `db:"id" json:"id"`
	PostID              *string        `db:"post_id" json:"post_id,omitempty"`
	UserID              string         `db:"user_id" json:"user_id"`
	Platform            Platform       `db:"platform" json:"platform"`
	SocialAccountID     string         `db:"social_account_id" json:"social_account_id"`
	VideoData           VideoData      `db:"video_data" json:"video_data"`
	ScheduledTime       time.Time      `db:"scheduled_time" json:"scheduled_time"`
	Timezone            string         `db:"timezone" json:"timezone"`
	NextAttemptAt       time.Time      `db:"next_attempt_at" json:"next_attempt_at"`
	Status              ScheduleStatus `db:"status" json:"status"`
	RetryCount          int            `db:"retry_count" json:"retry_count"`
	FailureReason       string         `db:"failure_reason" json:"failure_reason,omitempty"`
	PublishedVideoID    string         `db:"published_video_id" json:"published_video_id,omitempty"`
	PublishedVideoURL   string         `db:"published_video_url" json:"published_video_url,omitempty"`
	ProcessingStartedAt *time.Time     `db:"processing_started_at" json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt            *time.Time     `db:"failed_at" json:"failed_at,omitempty"`
	CancelledAt         *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	LastAttemptAt       *time.Time     `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}
