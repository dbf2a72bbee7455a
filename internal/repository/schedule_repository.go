package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/videoblade/videoblade-api/internal/models"
)

type ScheduleFilter struct {
	Status   models.ScheduleStatus
	Platform models.Platform
	From     *time.Time
	To       *time.Time
}

// ScheduleRepository persists schedules. Every status change is a conditional
// UPDATE on the current status, so concurrent callers cannot skip a state.
type ScheduleRepository interface {
	Create(ctx context.Context, tx *sql.Tx, s *models.Schedule) error
	GetByID(ctx context.Context, id string) (*models.Schedule, error)
	ListByUserID(ctx context.Context, userID string, filter ScheduleFilter) ([]*models.Schedule, error)
	ListByPostID(ctx context.Context, postID string) ([]*models.Schedule, error)
	UpdatePending(ctx context.Context, s *models.Schedule) (bool, error)
	Cancel(ctx context.Context, id, userID string, now time.Time) (*models.Schedule, error)
	Claim(ctx context.Context, id string, now time.Time) (*models.Schedule, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error)
	MarkCompleted(ctx context.Context, id, videoID, videoURL string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, reason string, now time.Time) (bool, error)
	Reschedule(ctx context.Context, id, reason string, retryCount int, nextAttempt, now time.Time) (bool, error)
	FailStale(ctx context.Context, startedBefore, now time.Time) (int64, error)
}

const scheduleColumns = `
	id, post_id, user_id, platform, social_account_id, video_data, scheduled_time, timezone,
	next_attempt_at, status, retry_count, failure_reason, published_video_id, published_video_url,
	processing_started_at, completed_at, failed_at, cancelled_at, last_attempt_at, created_at, updated_at`

type scheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var s models.Schedule
	err := row.Scan(&s.ID, &s.PostID, &s.UserID, &s.Platform, &s.SocialAccountID, &s.VideoData,
		&s.ScheduledTime, &s.Timezone, &s.NextAttemptAt, &s.Status, &s.RetryCount, &s.FailureReason,
		&s.PublishedVideoID, &s.PublishedVideoURL, &s.ProcessingStartedAt, &s.CompletedAt,
		&s.FailedAt, &s.CancelledAt, &s.LastAttemptAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *scheduleRepository) Create(ctx context.Context, tx *sql.Tx, s *models.Schedule) error {
	query := `
		INSERT INTO schedules (
			id, post_id, user_id, platform, social_account_id, video_data,
			scheduled_time, timezone, next_attempt_at, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	args := []any{
		s.ID,
		s.PostID,
		s.UserID,
		s.Platform,
		s.SocialAccountID,
		s.VideoData,
		s.ScheduledTime,
		s.Timezone,
		s.NextAttemptAt,
		s.Status,
	}

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, args...)
	} else {
		row = r.db.QueryRowContext(ctx, query, args...)
	}

	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) GetByID(ctx context.Context, id string) (*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + ` FROM schedules WHERE id = $1`

	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

func (r *scheduleRepository) ListByUserID(ctx context.Context, userID string, filter ScheduleFilter) ([]*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + ` FROM schedules WHERE user_id = $1`
	args := []any{userID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.Platform != "" {
		args = append(args, filter.Platform)
		query += fmt.Sprintf(` AND platform = $%d`, len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(` AND scheduled_time >= $%d`, len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(` AND scheduled_time <= $%d`, len(args))
	}
	query += ` ORDER BY scheduled_time ASC`

	return r.list(ctx, query, args...)
}

func (r *scheduleRepository) ListByPostID(ctx context.Context, postID string) ([]*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + ` FROM schedules WHERE post_id = $1 ORDER BY platform`
	return r.list(ctx, query, postID)
}

func (r *scheduleRepository) list(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	schedules := []*models.Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

func (r *scheduleRepository) UpdatePending(ctx context.Context, s *models.Schedule) (bool, error) {
	query := `
		UPDATE schedules
		SET video_data = $3, scheduled_time = $4, timezone = $5, next_attempt_at = $6, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.VideoData, s.ScheduledTime, s.Timezone, s.NextAttemptAt)
	if err != nil {
		return false, fmt.Errorf("update schedule: %w", err)
	}
	return affectedOne(result)
}

// Cancel moves a pending schedule owned by userID to cancelled. It returns nil when
// the schedule is not pending any more.
func (r *scheduleRepository) Cancel(ctx context.Context, id, userID string, now time.Time) (*models.Schedule, error) {
	query := `
		UPDATE schedules
		SET status = 'cancelled', cancelled_at = $3, updated_at = $3
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
		RETURNING` + scheduleColumns

	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, id, userID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cancel schedule: %w", err)
	}
	return s, nil
}

// Claim atomically moves a due pending schedule to processing. Exactly one of
// several concurrent callers gets the row back; the others get nil.
func (r *scheduleRepository) Claim(ctx context.Context, id string, now time.Time) (*models.Schedule, error) {
	query := `
		UPDATE schedules
		SET status = 'processing', processing_started_at = $2, last_attempt_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending' AND next_attempt_at <= $2
		RETURNING` + scheduleColumns

	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, id, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim schedule: %w", err)
	}
	return s, nil
}

func (r *scheduleRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	query := `
		UPDATE schedules
		SET status = 'processing', processing_started_at = $1, last_attempt_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM schedules
			WHERE status = 'pending' AND next_attempt_at <= $1
			ORDER BY next_attempt_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + scheduleColumns

	return r.list(ctx, query, now, limit)
}

func (r *scheduleRepository) MarkCompleted(ctx context.Context, id, videoID, videoURL string, now time.Time) (bool, error) {
	query := `
		UPDATE schedules
		SET status = 'completed', published_video_id = $2, published_video_url = $3,
			completed_at = $4, failure_reason = '', updated_at = $4
		WHERE id = $1 AND status = 'processing'`

	result, err := r.db.ExecContext(ctx, query, id, videoID, videoURL, now)
	if err != nil {
		return false, fmt.Errorf("complete schedule: %w", err)
	}
	return affectedOne(result)
}

func (r *scheduleRepository) MarkFailed(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	query := `
		UPDATE schedules
		SET status = 'failed', failure_reason = $2, failed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing'`

	result, err := r.db.ExecContext(ctx, query, id, reason, now)
	if err != nil {
		return false, fmt.Errorf("fail schedule: %w", err)
	}
	return affectedOne(result)
}

// Reschedule sends a processing schedule back to pending for another attempt.
// scheduled_time is left untouched; only next_attempt_at moves.
func (r *scheduleRepository) Reschedule(ctx context.Context, id, reason string, retryCount int, nextAttempt, now time.Time) (bool, error) {
	query := `
		UPDATE schedules
		SET status = 'pending', failure_reason = $2, retry_count = $3, next_attempt_at = $4,
			processing_started_at = NULL, updated_at = $5
		WHERE id = $1 AND status = 'processing'`

	result, err := r.db.ExecContext(ctx, query, id, reason, retryCount, nextAttempt, now)
	if err != nil {
		return false, fmt.Errorf("reschedule: %w", err)
	}
	return affectedOne(result)
}

// FailStale fails schedules left in processing by a crashed worker. They are not
// retried because the platform may already have received the video.
func (r *scheduleRepository) FailStale(ctx context.Context, startedBefore, now time.Time) (int64, error) {
	query := `
		UPDATE schedules
		SET status = 'failed', failure_reason = 'publish interrupted before completion', failed_at = $2, updated_at = $2
		WHERE status = 'processing' AND processing_started_at < $1`

	result, err := r.db.ExecContext(ctx, query, startedBefore, now)
	if err != nil {
		return 0, fmt.Errorf("fail stale schedules: %w", err)
	}
	return result.RowsAffected()
}

func affectedOne(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
