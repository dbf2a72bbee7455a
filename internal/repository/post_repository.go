package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/videoblade/videoblade-api/internal/models"
)

type PostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) error
	GetByID(ctx context.Context, id, userID string) (*models.Post, error)
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) error {
	query := `
		INSERT INTO posts (id, user_id, title, description, tags, privacy, platforms, scheduled_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	platforms := make([]string, len(post.Platforms))
	for i, p := range post.Platforms {
		platforms[i] = string(p)
	}

	args := []any{
		post.ID,
		post.UserID,
		post.Title,
		post.Description,
		pq.Array(post.Tags),
		post.Privacy,
		pq.Array(platforms),
		post.ScheduledTime,
	}

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, args...)
	} else {
		row = r.db.QueryRowContext(ctx, query, args...)
	}

	if err := row.Scan(&post.CreatedAt, &post.UpdatedAt); err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id, userID string) (*models.Post, error) {
	query := `
		SELECT id, user_id, title, description, tags, privacy, platforms, scheduled_time, created_at, updated_at
		FROM posts
		WHERE id = $1 AND user_id = $2`

	var post models.Post
	var platforms []string
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(&post.ID, &post.UserID, &post.Title,
		&post.Description, pq.Array(&post.Tags), &post.Privacy, pq.Array(&platforms),
		&post.ScheduledTime, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get post: %w", err)
	}

	for _, p := range platforms {
		post.Platforms = append(post.Platforms, models.Platform(p))
	}
	return &post, nil
}
