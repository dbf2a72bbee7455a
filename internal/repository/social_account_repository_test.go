package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/videoblade/videoblade-api/internal/models"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var socialAccountRowColumns = []string{
	"id", "user_id", "platform", "access_token", "refresh_token", "platform_user_id", "platform_username",
	"profile_picture_url", "expires_at", "is_active", "last_token_refresh", "disconnected_at", "metadata",
	"created_at", "updated_at",
}

func socialAccountRows(active bool, expiresAt any) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(socialAccountRowColumns).AddRow(
		"6f1c1d2e-0000-4000-8000-000000000001", "user_1", "youtube", "enc-access", "enc-refresh",
		"UC123", "My Channel", "", expiresAt, active, now, nil,
		[]byte(`{"youtube":{"channel_title":"My Channel"}}`), now, now,
	)
}

func TestSocialAccountRepository_Upsert(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSocialAccountRepository(db)

	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO social_accounts .* ON CONFLICT \(user_id, platform\) DO UPDATE SET .*is_active = TRUE`).
		WithArgs("6f1c1d2e-0000-4000-8000-000000000001", "user_1", models.PlatformYouTube, "enc-access",
			"enc-refresh", "UC123", "My Channel", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(socialAccountRows(true, expires))

	saved, err := repo.Upsert(context.Background(), &models.SocialAccount{
		ID:               "6f1c1d2e-0000-4000-8000-000000000001",
		UserID:           "user_1",
		Platform:         models.PlatformYouTube,
		AccessToken:      "enc-access",
		RefreshToken:     "enc-refresh",
		PlatformUserID:   "UC123",
		PlatformUsername: "My Channel",
		ExpiresAt:        &expires,
		Metadata:         models.AccountMetadata{YouTube: &models.YouTubeMetadata{ChannelTitle: "My Channel"}},
	})
	require.NoError(t, err)
	assert.True(t, saved.IsActive)
	assert.Equal(t, models.PlatformYouTube, saved.Platform)
	require.NotNil(t, saved.ExpiresAt)
	assert.True(t, expires.Equal(*saved.ExpiresAt))
	require.NotNil(t, saved.Metadata.YouTube)
	assert.Equal(t, "My Channel", saved.Metadata.YouTube.ChannelTitle)
	assert.Nil(t, saved.DisconnectedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSocialAccountRepository_GetActive(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(sqlmock.Sqlmock)
		wantNil   bool
		wantErr   bool
	}{
		{
			name: "active account",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM social_accounts\s+WHERE user_id = \$1 AND platform = \$2 AND is_active`).
					WithArgs("user_1", models.PlatformYouTube).
					WillReturnRows(socialAccountRows(true, nil))
			},
		},
		{
			name: "no active account",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM social_accounts`).
					WithArgs("user_1", models.PlatformYouTube).
					WillReturnError(sql.ErrNoRows)
			},
			wantNil: true,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`FROM social_accounts`).
					WithArgs("user_1", models.PlatformYouTube).
					WillReturnError(assert.AnError)
			},
			wantNil: true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupTestDB(t)
			tt.mockSetup(mock)

			sa, err := NewSocialAccountRepository(db).GetActive(context.Background(), "user_1", models.PlatformYouTube)
			if tt.wantErr {
				assert.ErrorIs(t, err, assert.AnError)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantNil {
				assert.Nil(t, sa)
			} else {
				require.NotNil(t, sa)
				assert.Nil(t, sa.ExpiresAt)
				assert.Equal(t, "UC123", sa.PlatformUserID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSocialAccountRepository_SetTokenIsConditional(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSocialAccountRepository(db)
	expires := time.Now().Add(time.Hour)

	mock.ExpectExec(`UPDATE social_accounts\s+SET .* WHERE id = \$1 AND access_token = \$2 AND is_active`).
		WithArgs("acc-1", "old-enc", "new-enc", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE social_accounts`).
		WithArgs("acc-1", "old-enc", "newer-enc", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetToken(context.Background(), "acc-1", "old-enc", &models.SocialAccount{AccessToken: "new-enc", ExpiresAt: &expires})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetToken(context.Background(), "acc-1", "old-enc", &models.SocialAccount{AccessToken: "newer-enc", ExpiresAt: &expires})
	require.NoError(t, err)
	assert.False(t, ok, "a stale token must not overwrite the stored one")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSocialAccountRepository_Deactivate(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSocialAccountRepository(db)

	mock.ExpectQuery(`UPDATE social_accounts\s+SET is_active = FALSE, disconnected_at = NOW\(\)`).
		WithArgs("user_1", models.PlatformYouTube).
		WillReturnRows(socialAccountRows(false, nil))
	mock.ExpectQuery(`UPDATE social_accounts`).
		WithArgs("user_1", models.PlatformYouTube).
		WillReturnError(sql.ErrNoRows)

	sa, err := repo.Deactivate(context.Background(), "user_1", models.PlatformYouTube)
	require.NoError(t, err)
	require.NotNil(t, sa)
	assert.False(t, sa.IsActive)

	sa, err = repo.Deactivate(context.Background(), "user_1", models.PlatformYouTube)
	require.NoError(t, err)
	assert.Nil(t, sa)
	assert.NoError(t, mock.ExpectationsWereMet())
}
