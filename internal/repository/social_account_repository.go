package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/videoblade/videoblade-api/internal/models"
)

type SocialAccountRepository interface {
	Upsert(ctx context.Context, sa *models.SocialAccount) (*models.SocialAccount, error)
	GetByID(ctx context.Context, id string) (*models.SocialAccount, error)
	GetActive(ctx context.Context, userID string, platform models.Platform) (*models.SocialAccount, error)
	ListActiveByUserID(ctx context.Context, userID string) ([]*models.SocialAccount, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error)
	SetToken(ctx context.Context, id, oldAccessToken string, sa *models.SocialAccount) (bool, error)
	Deactivate(ctx context.Context, userID string, platform models.Platform) (*models.SocialAccount, error)
	DeactivateByID(ctx context.Context, id string) error
}

const socialAccountColumns = `
	id, user_id, platform, access_token, refresh_token, platform_user_id, platform_username,
	profile_picture_url, expires_at, is_active, last_token_refresh, disconnected_at, metadata,
	created_at, updated_at`

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSocialAccount(row rowScanner) (*models.SocialAccount, error) {
	var sa models.SocialAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccessToken, &sa.RefreshToken,
		&sa.PlatformUserID, &sa.PlatformUsername, &sa.ProfilePicture, &sa.ExpiresAt, &sa.IsActive,
		&sa.LastTokenRefresh, &sa.DisconnectedAt, &sa.Metadata, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

// Upsert inserts the account or, when a row for (user_id, platform) already exists,
// overwrites it and marks it active again. An empty refresh token keeps the stored one.
func (r *socialAccountRepository) Upsert(ctx context.Context, sa *models.SocialAccount) (*models.SocialAccount, error) {
	query := `
		INSERT INTO social_accounts (
			id, user_id, platform, access_token, refresh_token, platform_user_id,
			platform_username, profile_picture_url, expires_at, is_active, last_token_refresh, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, NOW(), $10)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), social_accounts.refresh_token),
			platform_user_id = EXCLUDED.platform_user_id,
			platform_username = EXCLUDED.platform_username,
			profile_picture_url = EXCLUDED.profile_picture_url,
			expires_at = EXCLUDED.expires_at,
			is_active = TRUE,
			last_token_refresh = NOW(),
			disconnected_at = NULL,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING` + socialAccountColumns

	row := r.db.QueryRowContext(ctx, query,
		sa.ID,
		sa.UserID,
		sa.Platform,
		sa.AccessToken,
		sa.RefreshToken,
		sa.PlatformUserID,
		sa.PlatformUsername,
		sa.ProfilePicture,
		sa.ExpiresAt,
		sa.Metadata,
	)

	saved, err := scanSocialAccount(row)
	if err != nil {
		return nil, fmt.Errorf("upsert social account: %w", err)
	}
	return saved, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id string) (*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + ` FROM social_accounts WHERE id = $1`

	sa, err := scanSocialAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get social account: %w", err)
	}
	return sa, nil
}

func (r *socialAccountRepository) GetActive(ctx context.Context, userID string, platform models.Platform) (*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + `
		FROM social_accounts
		WHERE user_id = $1 AND platform = $2 AND is_active`

	sa, err := scanSocialAccount(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active social account: %w", err)
	}
	return sa, nil
}

func (r *socialAccountRepository) ListActiveByUserID(ctx context.Context, userID string) ([]*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + `
		FROM social_accounts
		WHERE user_id = $1 AND is_active
		ORDER BY platform`

	return r.list(ctx, query, userID)
}

// ListExpiring returns active accounts holding a refresh token whose access token
// expires before the given time.
func (r *socialAccountRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	query := `SELECT` + socialAccountColumns + `
		FROM social_accounts
		WHERE is_active
			AND refresh_token <> ''
			AND expires_at IS NOT NULL
			AND expires_at < $1
		ORDER BY expires_at`

	return r.list(ctx, query, before)
}

func (r *socialAccountRepository) list(ctx context.Context, query string, args ...any) ([]*models.SocialAccount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list social accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanSocialAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan social account: %w", err)
		}
		accounts = append(accounts, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list social accounts: %w", err)
	}
	return accounts, nil
}

// SetToken stores refreshed credentials only if the row still holds oldAccessToken,
// so a slower concurrent refresh cannot overwrite a newer token. It reports whether
// the row was updated.
func (r *socialAccountRepository) SetToken(ctx context.Context, id, oldAccessToken string, sa *models.SocialAccount) (bool, error) {
	query := `
		UPDATE social_accounts
		SET
			access_token = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			expires_at = $5,
			last_token_refresh = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND access_token = $2 AND is_active`

	result, err := r.db.ExecContext(ctx, query, id, oldAccessToken, sa.AccessToken, sa.RefreshToken, sa.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("set token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set token: %w", err)
	}
	return affected == 1, nil
}

// Deactivate soft-deletes the active account for (user, platform) and returns the
// row as it was stored, or nil when nothing was active.
func (r *socialAccountRepository) Deactivate(ctx context.Context, userID string, platform models.Platform) (*models.SocialAccount, error) {
	query := `
		UPDATE social_accounts
		SET is_active = FALSE, disconnected_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND platform = $2 AND is_active
		RETURNING` + socialAccountColumns

	sa, err := scanSocialAccount(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("deactivate social account: %w", err)
	}
	return sa, nil
}

func (r *socialAccountRepository) DeactivateByID(ctx context.Context, id string) error {
	query := `
		UPDATE social_accounts
		SET is_active = FALSE, disconnected_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND is_active`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("deactivate social account: %w", err)
	}
	return nil
}
