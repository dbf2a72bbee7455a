package service

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/platform"
	"github.com/videoblade/videoblade-api/internal/repository"
)

// mp4Header is enough of an ISO BMFF file for content sniffing.
var mp4Header = append([]byte{
	0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm',
	0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2',
	'a', 'v', 'c', '1', 'm', 'p', '4', '1',
}, make([]byte, 512)...)

type memorySchedules struct {
	mu   sync.Mutex
	rows map[string]*models.Schedule
}

func newMemorySchedules() *memorySchedules {
	return &memorySchedules{rows: map[string]*models.Schedule{}}
}

func (m *memorySchedules) put(sc *models.Schedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sc
	m.rows[sc.ID] = &cp
}

func (m *memorySchedules) get(id string) *models.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.rows[id]
	return &cp
}

func (m *memorySchedules) Create(_ context.Context, _ *sql.Tx, s *models.Schedule) error {
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	m.put(s)
	return nil
}

func (m *memorySchedules) GetByID(_ context.Context, id string) (*models.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (m *memorySchedules) filter(keep func(*models.Schedule) bool) []*models.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Schedule{}
	for _, row := range m.rows {
		if keep(row) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out
}

func (m *memorySchedules) ListByUserID(_ context.Context, userID string, f repository.ScheduleFilter) ([]*models.Schedule, error) {
	return m.filter(func(s *models.Schedule) bool {
		return s.UserID == userID &&
			(f.Status == "" || s.Status == f.Status) &&
			(f.Platform == "" || s.Platform == f.Platform)
	}), nil
}

func (m *memorySchedules) ListByPostID(_ context.Context, postID string) ([]*models.Schedule, error) {
	return m.filter(func(s *models.Schedule) bool {
		return s.PostID != nil && *s.PostID == postID
	}), nil
}

func (m *memorySchedules) transition(id string, from models.ScheduleStatus, apply func(*models.Schedule)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != from {
		return false
	}
	apply(row)
	return true
}

func (m *memorySchedules) UpdatePending(_ context.Context, s *models.Schedule) (bool, error) {
	return m.transition(s.ID, models.ScheduleStatusPending, func(row *models.Schedule) {
		row.VideoData = s.VideoData
		row.ScheduledTime = s.ScheduledTime
		row.Timezone = s.Timezone
		row.NextAttemptAt = s.NextAttemptAt
	}), nil
}

func (m *memorySchedules) Cancel(ctx context.Context, id, userID string, now time.Time) (*models.Schedule, error) {
	ok := m.transition(id, models.ScheduleStatusPending, func(row *models.Schedule) {
		if row.UserID == userID {
			row.Status = models.ScheduleStatusCancelled
			row.CancelledAt = &now
		}
	})
	if !ok || m.get(id).Status != models.ScheduleStatusCancelled {
		return nil, nil
	}
	return m.GetByID(ctx, id)
}

func (m *memorySchedules) Claim(ctx context.Context, id string, now time.Time) (*models.Schedule, error) {
	m.mu.Lock()
	row, ok := m.rows[id]
	if !ok || row.Status != models.ScheduleStatusPending || row.NextAttemptAt.After(now) {
		m.mu.Unlock()
		return nil, nil
	}
	row.Status = models.ScheduleStatusProcessing
	row.ProcessingStartedAt = &now
	row.LastAttemptAt = &now
	m.mu.Unlock()
	return m.GetByID(ctx, id)
}

func (m *memorySchedules) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	due := m.filter(func(s *models.Schedule) bool {
		return s.Status == models.ScheduleStatusPending && !s.NextAttemptAt.After(now)
	})
	var claimed []*models.Schedule
	for _, s := range due {
		if len(claimed) == limit {
			break
		}
		if sc, _ := m.Claim(ctx, s.ID, now); sc != nil {
			claimed = append(claimed, sc)
		}
	}
	return claimed, nil
}

func (m *memorySchedules) MarkCompleted(ctx context.Context, id, videoID, videoURL string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.transition(id, models.ScheduleStatusProcessing, func(row *models.Schedule) {
		row.Status = models.ScheduleStatusCompleted
		row.PublishedVideoID = videoID
		row.PublishedVideoURL = videoURL
		row.FailureReason = ""
		row.CompletedAt = &now
	}), nil
}

func (m *memorySchedules) MarkFailed(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.transition(id, models.ScheduleStatusProcessing, func(row *models.Schedule) {
		row.Status = models.ScheduleStatusFailed
		row.FailureReason = reason
		row.FailedAt = &now
	}), nil
}

func (m *memorySchedules) Reschedule(ctx context.Context, id, reason string, retryCount int, next, _ time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.transition(id, models.ScheduleStatusProcessing, func(row *models.Schedule) {
		row.Status = models.ScheduleStatusPending
		row.FailureReason = reason
		row.RetryCount = retryCount
		row.NextAttemptAt = next
		row.ProcessingStartedAt = nil
	}), nil
}

func (m *memorySchedules) FailStale(_ context.Context, startedBefore, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.Status == models.ScheduleStatusProcessing && row.ProcessingStartedAt != nil && row.ProcessingStartedAt.Before(startedBefore) {
			row.Status = models.ScheduleStatusFailed
			row.FailedAt = &now
			n++
		}
	}
	return n, nil
}

type memoryPosts struct {
	mu   sync.Mutex
	rows map[string]*models.Post
}

func (m *memoryPosts) Create(_ context.Context, _ *sql.Tx, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *post
	m.rows[post.ID] = &cp
	return nil
}

func (m *memoryPosts) GetByID(_ context.Context, id, userID string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok && row.UserID == userID {
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

type memoryHistory struct {
	mu       sync.Mutex
	attempts []*models.PublishAttempt
}

func (m *memoryHistory) Create(_ context.Context, a *models.PublishAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = int64(len(m.attempts) + 1)
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memoryHistory) ListByScheduleID(_ context.Context, scheduleID string) ([]*models.PublishAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PublishAttempt
	for _, a := range m.attempts {
		if a.ScheduleID == scheduleID {
			out = append(out, a)
		}
	}
	return out, nil
}

// memoryAccounts implements the parts of the account repository the
// credential store uses on its read and upsert paths.
type memoryAccounts struct {
	repository.SocialAccountRepository
	mu   sync.Mutex
	rows []*models.SocialAccount
}

func (m *memoryAccounts) Upsert(_ context.Context, sa *models.SocialAccount) (*models.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, row := range m.rows {
		if row.UserID == sa.UserID && row.Platform == sa.Platform {
			sa.ID = row.ID
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			break
		}
	}
	cp := *sa
	cp.IsActive = true
	cp.CreatedAt = time.Now()
	m.rows = append(m.rows, &cp)
	out := cp
	return &out, nil
}

func (m *memoryAccounts) GetActive(_ context.Context, userID string, p models.Platform) (*models.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.UserID == userID && row.Platform == p && row.IsActive {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryAccounts) ListActiveByUserID(_ context.Context, userID string) ([]*models.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SocialAccount
	for _, row := range m.rows {
		if row.UserID == userID && row.IsActive {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryAccounts) Deactivate(_ context.Context, userID string, p models.Platform) (*models.SocialAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.UserID == userID && row.Platform == p && row.IsActive {
			row.IsActive = false
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

// stubAdapter answers the adapter calls a test sets a function for.
type stubAdapter struct {
	platform.Adapter
	name         models.Platform
	caps         platform.Capabilities
	exchangeCode func(code string) (*platform.Token, error)
	fetchProfile func(tok *platform.Token) (*platform.Profile, error)
	listMedia    func(pageToken string, pageSize int) (*platform.MediaPage, error)
	getMedia     func(id string) (*platform.Media, error)
	upload       func(req *platform.UploadRequest) (*platform.Published, error)
	publish      func(req *platform.PublishRequest) (*platform.Published, error)
	// publishCtx takes precedence over publish when set.
	publishCtx func(ctx context.Context, req *platform.PublishRequest) (*platform.Published, error)
}

func (a *stubAdapter) Platform() models.Platform           { return a.name }
func (a *stubAdapter) Capabilities() platform.Capabilities { return a.caps }
func (a *stubAdapter) AuthURL(state string) string {
	return "https://auth.example/" + string(a.name) + "?state=" + state
}

func (a *stubAdapter) ExchangeCode(_ context.Context, code string) (*platform.Token, error) {
	return a.exchangeCode(code)
}

func (a *stubAdapter) FetchProfile(_ context.Context, tok *platform.Token) (*platform.Profile, error) {
	return a.fetchProfile(tok)
}

func (a *stubAdapter) ListMedia(_ context.Context, _ platform.Credentials, pageToken string, pageSize int) (*platform.MediaPage, error) {
	return a.listMedia(pageToken, pageSize)
}

func (a *stubAdapter) GetMedia(_ context.Context, _ platform.Credentials, id string) (*platform.Media, error) {
	return a.getMedia(id)
}

func (a *stubAdapter) Upload(_ context.Context, _ platform.Credentials, req *platform.UploadRequest) (*platform.Published, error) {
	return a.upload(req)
}

func (a *stubAdapter) Publish(ctx context.Context, _ platform.Credentials, req *platform.PublishRequest) (*platform.Published, error) {
	if a.publishCtx != nil {
		return a.publishCtx(ctx, req)
	}
	return a.publish(req)
}

func (a *stubAdapter) Revoke(context.Context, platform.Credentials) error {
	return nil
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, scheduleID string, at time.Time) error {
	args := m.Called(ctx, scheduleID, at)
	return args.Error(0)
}

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, key, body, size, contentType)
	return args.Error(0)
}

func (m *mockStorage) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Get(1).(int64), args.Error(2)
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}
