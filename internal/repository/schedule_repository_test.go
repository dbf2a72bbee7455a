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

var scheduleRowColumns = []string{
	"id", "post_id", "user_id", "platform", "social_account_id", "video_data", "scheduled_time", "timezone",
	"next_attempt_at", "status", "retry_count", "failure_reason", "published_video_id", "published_video_url",
	"processing_started_at", "completed_at", "failed_at", "cancelled_at", "last_attempt_at", "created_at", "updated_at",
}

func scheduleRows(status models.ScheduleStatus, processingStartedAt any) *sqlmock.Rows {
	at := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(scheduleRowColumns).AddRow(
		"sch-1", nil, "user_1", "youtube", "acc-1",
		[]byte(`{"video_id":"abc","title":"Launch","description":"","tags":["a","b"],"privacy":"public","made_for_kids":false}`),
		at, "UTC", at, string(status), 0, "", "", "",
		processingStartedAt, nil, nil, nil, processingStartedAt, at, at,
	)
}

func TestScheduleRepository_Create(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewScheduleRepository(db)
	at := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO schedules`).
		WithArgs("sch-1", nil, "user_1", models.PlatformYouTube, "acc-1", sqlmock.AnyArg(), at, "UTC", at, models.ScheduleStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(at, at))

	s := &models.Schedule{
		ID:              "sch-1",
		UserID:          "user_1",
		Platform:        models.PlatformYouTube,
		SocialAccountID: "acc-1",
		VideoData:       models.VideoData{VideoID: "abc", Title: "Launch"},
		ScheduledTime:   at,
		Timezone:        "UTC",
		NextAttemptAt:   at,
		Status:          models.ScheduleStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), nil, s))
	assert.Equal(t, at, s.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepository_Claim(t *testing.T) {
	now := time.Date(2026, 3, 1, 13, 0, 1, 0, time.UTC)

	t.Run("winner gets the row", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectQuery(`UPDATE schedules\s+SET status = 'processing'.*WHERE id = \$1 AND status = 'pending' AND next_attempt_at <= \$2`).
			WithArgs("sch-1", now).
			WillReturnRows(scheduleRows(models.ScheduleStatusProcessing, now))

		s, err := NewScheduleRepository(db).Claim(context.Background(), "sch-1", now)
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, models.ScheduleStatusProcessing, s.Status)
		assert.Equal(t, "abc", s.VideoData.VideoID)
		assert.Equal(t, []string{"a", "b"}, s.VideoData.Tags)
		assert.Nil(t, s.PostID)
		require.NotNil(t, s.ProcessingStartedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loser observes nothing", func(t *testing.T) {
		db, mock := setupTestDB(t)
		mock.ExpectQuery(`UPDATE schedules`).
			WithArgs("sch-1", now).
			WillReturnError(sql.ErrNoRows)

		s, err := NewScheduleRepository(db).Claim(context.Background(), "sch-1", now)
		require.NoError(t, err)
		assert.Nil(t, s)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScheduleRepository_ListByUserIDFilters(t *testing.T) {
	db, mock := setupTestDB(t)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE user_id = \$1 AND status = \$2 AND platform = \$3 AND scheduled_time >= \$4 ORDER BY scheduled_time ASC`).
		WithArgs("user_1", models.ScheduleStatusPending, models.PlatformYouTube, from).
		WillReturnRows(scheduleRows(models.ScheduleStatusPending, nil))

	list, err := NewScheduleRepository(db).ListByUserID(context.Background(), "user_1", ScheduleFilter{
		Status:   models.ScheduleStatusPending,
		Platform: models.PlatformYouTube,
		From:     &from,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ScheduleStatusPending, list[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepository_CancelOnlyPending(t *testing.T) {
	db, mock := setupTestDB(t)
	now := time.Now()

	mock.ExpectQuery(`UPDATE schedules\s+SET status = 'cancelled'.*WHERE id = \$1 AND user_id = \$2 AND status = 'pending'`).
		WithArgs("sch-1", "user_1", now).
		WillReturnError(sql.ErrNoRows)

	s, err := NewScheduleRepository(db).Cancel(context.Background(), "sch-1", "user_1", now)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduleRepository_Transitions(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewScheduleRepository(db)
	now := time.Now()
	next := now.Add(2 * time.Minute)

	mock.ExpectExec(`SET status = 'completed'.*WHERE id = \$1 AND status = 'processing'`).
		WithArgs("sch-1", "yt123", "https://youtube.com/watch?v=yt123", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'failed'.*WHERE id = \$1 AND status = 'processing'`).
		WithArgs("sch-2", "quota exceeded", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET status = 'pending'.*WHERE id = \$1 AND status = 'processing'`).
		WithArgs("sch-3", "upstream unavailable", 1, next, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkCompleted(context.Background(), "sch-1", "yt123", "https://youtube.com/watch?v=yt123", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkFailed(context.Background(), "sch-2", "quota exceeded", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Reschedule(context.Background(), "sch-3", "upstream unavailable", 1, next, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
