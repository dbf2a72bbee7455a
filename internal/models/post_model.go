package models

import "time"

// Post groups the schedules created for the same video across several platforms.
type Post struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	Title         string     `db:"title" json:"title"`
	Description   string     `db:"description" json:"description"`
	Tags          []string   `db:"tags" json:"tags"`
	Privacy       string     `db:"privacy" json:"privacy"`
	Platforms     []Platform `db:"platforms" json:"platforms"`
	ScheduledTime time.Time  `db:"scheduled_time" json:"scheduled_time"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}
