package models

import "time"

const (
	AttemptOutcomeSuccess = "success"
	AttemptOutcomeRetry   = "retry"
	AttemptOutcomeFailed  = "failed"
)

// PublishAttempt records one execution of a schedule against its platform.
type PublishAttempt struct {
	ID           int64     `db:"id" json:"id"`
	ScheduleID   string    `db:"schedule_id" json:"schedule_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Platform     Platform  `db:"platform" json:"platform"`
	Attempt      int       `db:"attempt" json:"attempt"`
	Outcome      string    `db:"outcome" json:"outcome"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
