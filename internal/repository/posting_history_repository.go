package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/videoblade/videoblade-api/internal/models"
)

// PostingHistoryRepository keeps the audit trail of publish attempts per schedule.
type PostingHistoryRepository interface {
	Create(ctx context.Context, attempt *models.PublishAttempt) error
	ListByScheduleID(ctx context.Context, scheduleID string) ([]*models.PublishAttempt, error)
}

type postingHistoryRepository struct {
	db *sql.DB
}

func NewPostingHistoryRepository(db *sql.DB) PostingHistoryRepository {
	return &postingHistoryRepository{db: db}
}

func (r *postingHistoryRepository) Create(ctx context.Context, attempt *models.PublishAttempt) error {
	query := `
		INSERT INTO publish_attempts (schedule_id, user_id, platform, attempt, outcome, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		attempt.ScheduleID,
		attempt.UserID,
		attempt.Platform,
		attempt.Attempt,
		attempt.Outcome,
		attempt.ErrorMessage,
	).Scan(&attempt.ID, &attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("record publish attempt: %w", err)
	}
	return nil
}

func (r *postingHistoryRepository) ListByScheduleID(ctx context.Context, scheduleID string) ([]*models.PublishAttempt, error) {
	query := `
		SELECT id, schedule_id, user_id, platform, attempt, outcome, error_message, created_at
		FROM publish_attempts
		WHERE schedule_id = $1
		ORDER BY attempt`

	rows, err := r.db.QueryContext(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list publish attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*models.PublishAttempt{}
	for rows.Next() {
		var a models.PublishAttempt
		if err := rows.Scan(&a.ID, &a.ScheduleID, &a.UserID, &a.Platform, &a.Attempt, &a.Outcome,
			&a.ErrorMessage, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan publish attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}
