package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/credentials"
	"github.com/videoblade/videoblade-api/internal/metrics"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/platform"
	"github.com/videoblade/videoblade-api/internal/repository"
	"github.com/videoblade/videoblade-api/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher arranges for Process to be called for a schedule at a given time.
type Dispatcher interface {
	Dispatch(ctx context.Context, scheduleID string, at time.Time) error
}

type ScheduleInput struct {
	Platform      models.Platform
	VideoID       string
	Video         *VideoFile
	ScheduledTime time.Time
	Timezone      string
	Metadata      VideoInput
}

// ScheduleUpdate holds the fields of a pending schedule to change. Nil fields
// are left as they are.
type ScheduleUpdate struct {
	ScheduledTime *time.Time
	Timezone      *string
	Title         *string
	Description   *string
	Tags          []string
	Privacy       *string
}

type PostInput struct {
	Platforms     []models.Platform
	VideoIDs      map[models.Platform]string
	Video         *VideoFile
	ScheduledTime time.Time
	Timezone      string
	Metadata      VideoInput
}

type PostDetails struct {
	Post      *models.Post       `json:"post"`
	Schedules []*models.Schedule `json:"schedules"`
}

type SchedulerOptions struct {
	Retry RetryPolicy
	// Concurrency bounds how many due schedules ProcessDue publishes at once.
	Concurrency int
	// UploadTimeout bounds one publish started by ProcessDue. It is independent
	// of the sweep that claimed the schedule.
	UploadTimeout time.Duration
}

type SchedulerService interface {
	CreateSchedule(ctx context.Context, userID string, in ScheduleInput) (*models.Schedule, error)
	CreatePost(ctx context.Context, userID string, in PostInput) (*PostDetails, error)
	GetPost(ctx context.Context, userID, postID string) (*PostDetails, error)
	List(ctx context.Context, userID string, filter repository.ScheduleFilter) ([]*models.Schedule, error)
	Get(ctx context.Context, userID, scheduleID string) (*models.Schedule, error)
	History(ctx context.Context, userID, scheduleID string) ([]*models.PublishAttempt, error)
	Update(ctx context.Context, userID, scheduleID string, in ScheduleUpdate) (*models.Schedule, error)
	Cancel(ctx context.Context, userID, scheduleID string) (*models.Schedule, error)
	Claim(ctx context.Context, scheduleID string) (*models.Schedule, error)
	Process(ctx context.Context, scheduleID string) error
	ProcessDue(ctx context.Context, limit int) (int, error)
	FailStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type schedulerService struct {
	db         *sql.DB
	schedules  repository.ScheduleRepository
	posts      repository.PostRepository
	history    repository.PostingHistoryRepository
	store      *credentials.Store
	adapters   *platform.Registry
	storage    storage.ObjectStorage
	dispatcher Dispatcher
	opts       SchedulerOptions
	logger     *zap.Logger
	now        func() time.Time
}

func NewSchedulerService(
	db *sql.DB,
	schedules repository.ScheduleRepository,
	posts repository.PostRepository,
	history repository.PostingHistoryRepository,
	store *credentials.Store,
	adapters *platform.Registry,
	objects storage.ObjectStorage,
	dispatcher Dispatcher,
	opts SchedulerOptions,
	logger *zap.Logger) SchedulerService {
	opts.Retry = opts.Retry.withDefaults()
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 2 * time.Hour
	}
	return &schedulerService{
		db:         db,
		schedules:  schedules,
		posts:      posts,
		history:    history,
		store:      store,
		adapters:   adapters,
		storage:    objects,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.Named("scheduler"),
		now:        time.Now,
	}
}

// target is one platform a schedule will be created for, validated and with
// its account resolved.
type target struct {
	platform models.Platform
	caps     platform.Capabilities
	account  *models.SocialAccount
	videoID  string
}

func (s *schedulerService) CreateSchedule(ctx context.Context, userID string, in ScheduleInput) (*models.Schedule, error) {
	meta, err := validateMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	timezone, err := validateTimezone(in.Timezone)
	if err != nil {
		return nil, err
	}

	t, err := s.resolveTarget(ctx, userID, in.Platform, in.ScheduledTime, in.VideoID, in.Video)
	if err != nil {
		return nil, err
	}

	data := videoData(meta)
	if t.videoID == "" {
		if err := s.stage(ctx, userID, in.Video, &data); err != nil {
			return nil, err
		}
	} else {
		data.VideoID = t.videoID
	}

	sc := s.newSchedule(userID, nil, t, data, in.ScheduledTime, timezone)
	if err := s.schedules.Create(ctx, nil, sc); err != nil {
		s.discard(ctx, data.SourceKey)
		return nil, apperr.Internal("create schedule", err)
	}

	s.logger.Info("created schedule",
		zap.String("schedule_id", sc.ID), zap.String("user_id", userID), zap.String("platform", string(sc.Platform)),
		zap.Time("scheduled_time", sc.ScheduledTime))
	s.dispatch(ctx, sc)
	return sc, nil
}

func (s *schedulerService) CreatePost(ctx context.Context, userID string, in PostInput) (*PostDetails, error) {
	meta, err := validateMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}
	timezone, err := validateTimezone(in.Timezone)
	if err != nil {
		return nil, err
	}
	if len(in.Platforms) == 0 {
		return nil, apperr.Validation("at least one platform is required")
	}

	seen := make(map[models.Platform]bool, len(in.Platforms))
	targets := make([]*target, 0, len(in.Platforms))
	needsFile := false
	for _, p := range in.Platforms {
		if seen[p] {
			return nil, apperr.Validationf("platform %q listed twice", p)
		}
		seen[p] = true

		t, err := s.resolveTarget(ctx, userID, p, in.ScheduledTime, in.VideoIDs[p], in.Video)
		if err != nil {
			return nil, err
		}
		needsFile = needsFile || t.videoID == ""
		targets = append(targets, t)
	}

	// One staged copy serves every platform that publishes from the file.
	shared := videoData(meta)
	if needsFile {
		if err := s.stage(ctx, userID, in.Video, &shared); err != nil {
			return nil, err
		}
	}

	post := &models.Post{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         meta.Title,
		Description:   meta.Description,
		Tags:          meta.Tags,
		Privacy:       meta.Privacy,
		Platforms:     in.Platforms,
		ScheduledTime: in.ScheduledTime.UTC(),
	}
	schedules := make([]*models.Schedule, 0, len(targets))
	for _, t := range targets {
		data := shared
		if t.videoID != "" {
			data = videoData(meta)
			data.VideoID = t.videoID
		}
		schedules = append(schedules, s.newSchedule(userID, &post.ID, t, data, in.ScheduledTime, timezone))
	}

	if err := s.savePost(ctx, post, schedules); err != nil {
		s.discard(ctx, shared.SourceKey)
		return nil, err
	}

	s.logger.Info("created post",
		zap.String("post_id", post.ID), zap.String("user_id", userID), zap.Int("schedules", len(schedules)))
	for _, sc := range schedules {
		s.dispatch(ctx, sc)
	}
	return &PostDetails{Post: post, Schedules: schedules}, nil
}

func (s *schedulerService) savePost(ctx context.Context, post *models.Post, schedules []*models.Schedule) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return apperr.Internal("start transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.posts.Create(ctx, tx, post); err != nil {
		return apperr.Internal("create post", err)
	}
	for _, sc := range schedules {
		if err = s.schedules.Create(ctx, tx, sc); err != nil {
			return apperr.Internal("create schedule", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return apperr.Internal("commit post", err)
	}
	return nil
}

func (s *schedulerService) GetPost(ctx context.Context, userID, postID string) (*PostDetails, error) {
	post, err := s.posts.GetByID(ctx, postID, userID)
	if err != nil {
		return nil, apperr.Internal("get post", err)
	}
	if post == nil {
		return nil, apperr.NotFound("post not found")
	}
	schedules, err := s.schedules.ListByPostID(ctx, postID)
	if err != nil {
		return nil, apperr.Internal("list post schedules", err)
	}
	return &PostDetails{Post: post, Schedules: schedules}, nil
}

// resolveTarget validates everything a schedule for p needs before anything
// is written: the platform, the time, a connected account and the video.
func (s *schedulerService) resolveTarget(
	ctx context.Context,
	userID string,
	p models.Platform,
	at time.Time,
	videoID string,
	file *VideoFile) (*target, error) {
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return nil, err
	}
	caps := adapter.Capabilities()
	if err := s.validateTime(p, caps, at); err != nil {
		return nil, err
	}

	sa, err := s.store.GetConnectedAccount(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	t := &target{platform: p, caps: caps, account: sa, videoID: strings.TrimSpace(videoID)}

	if t.videoID == "" {
		if file == nil || file.Reader == nil {
			return nil, apperr.Validation("either a video id or a video file is required").WithPlatform(string(p))
		}
		if err := platform.ValidateUploadSize(p, caps, file.Size); err != nil {
			return nil, err
		}
		return t, nil
	}

	if !caps.PublishExisting {
		return nil, apperr.Validationf("%s cannot schedule a video that is already uploaded, attach the file instead", p).WithPlatform(string(p))
	}
	media, err := adapter.GetMedia(ctx, credentials.CredentialsOf(sa), t.videoID)
	if err != nil {
		return nil, err
	}
	if media.OwnerID != "" && media.OwnerID != sa.PlatformUserID {
		return nil, apperr.Forbidden("video does not belong to the connected account", nil).WithPlatform(string(p))
	}
	return t, nil
}

func (s *schedulerService) validateTime(p models.Platform, caps platform.Capabilities, at time.Time) error {
	if at.IsZero() {
		return apperr.Validation("scheduled time is required")
	}
	now := s.now()
	if !at.After(now) {
		return apperr.Validation("scheduled time must be in the future")
	}
	if at.Before(now.Add(caps.MinLeadTime)) {
		return apperr.Validationf("%s videos must be scheduled at least %d minutes ahead", p, int(caps.MinLeadTime.Minutes())).
			WithPlatform(string(p))
	}
	return nil
}

// stage copies the attached file to object storage and points data at it.
func (s *schedulerService) stage(ctx context.Context, userID string, file *VideoFile, data *models.VideoData) error {
	body, contentType, err := sniffVideo(file.Reader)
	if err != nil {
		return err
	}
	id, err := gonanoid.New()
	if err != nil {
		return apperr.Internal("generate object key", err)
	}
	key := fmt.Sprintf("staged/%s/%s%s", userID, id, strings.ToLower(path.Ext(file.FileName)))

	if err := s.storage.Put(ctx, key, body, file.Size, contentType); err != nil {
		return apperr.UpstreamUnavailable("failed to stage video", err)
	}
	data.SourceKey = key
	data.SourceSize = file.Size
	data.ContentType = contentType
	data.FileName = file.FileName
	return nil
}

func (s *schedulerService) discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.storage.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to delete staged video", zap.String("key", key), zap.Error(err))
	}
}

func (s *schedulerService) newSchedule(
	userID string,
	postID *string,
	t *target,
	data models.VideoData,
	at time.Time,
	timezone string) *models.Schedule {
	return &models.Schedule{
		ID:              uuid.NewString(),
		PostID:          postID,
		UserID:          userID,
		Platform:        t.platform,
		SocialAccountID: t.account.ID,
		VideoData:       data,
		ScheduledTime:   at.UTC(),
		Timezone:        timezone,
		NextAttemptAt:   nextAttempt(t.caps, at, data.Privacy).UTC(),
		Status:          models.ScheduleStatusPending,
	}
}

// nextAttempt is when a new schedule becomes due. Public videos on platforms
// with native scheduling are handed over early and published by the platform.
func nextAttempt(caps platform.Capabilities, at time.Time, privacy string) time.Time {
	if caps.NativeScheduling && privacy == models.PrivacyPublic {
		return at.Add(-caps.NativeHandoff)
	}
	return at
}

func (s *schedulerService) dispatch(ctx context.Context, sc *models.Schedule) {
	if err := s.dispatcher.Dispatch(ctx, sc.ID, sc.NextAttemptAt); err != nil {
		// The sweeper picks up due schedules without a task.
		s.logger.Warn("failed to dispatch schedule",
			zap.String("schedule_id", sc.ID), zap.Time("at", sc.NextAttemptAt), zap.Error(err))
	}
}

func (s *schedulerService) List(ctx context.Context, userID string, filter repository.ScheduleFilter) ([]*models.Schedule, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validationf("unknown status %q", filter.Status)
	}
	if filter.Platform != "" && !filter.Platform.Valid() {
		return nil, apperr.Validationf("unsupported platform %q", filter.Platform)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, apperr.Validation("to must not be before from")
	}

	schedules, err := s.schedules.ListByUserID(ctx, userID, filter)
	if err != nil {
		return nil, apperr.Internal("list schedules", err)
	}
	return schedules, nil
}

func (s *schedulerService) Get(ctx context.Context, userID, scheduleID string) (*models.Schedule, error) {
	sc, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, apperr.Internal("get schedule", err)
	}
	if sc == nil || sc.UserID != userID {
		return nil, apperr.NotFound("schedule not found")
	}
	return sc, nil
}

func (s *schedulerService) History(ctx context.Context, userID, scheduleID string) ([]*models.PublishAttempt, error) {
	if _, err := s.Get(ctx, userID, scheduleID); err != nil {
		return nil, err
	}
	attempts, err := s.history.ListByScheduleID(ctx, scheduleID)
	if err != nil {
		return nil, apperr.Internal("list publish attempts", err)
	}
	return attempts, nil
}

func (s *schedulerService) Update(ctx context.Context, userID, scheduleID string, in ScheduleUpdate) (*models.Schedule, error) {
	sc, err := s.Get(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sc.Status != models.ScheduleStatusPending {
		return nil, apperr.Conflict(fmt.Sprintf("only pending schedules can be edited, this one is %s", sc.Status))
	}
	adapter, err := s.adapters.Get(sc.Platform)
	if err != nil {
		return nil, err
	}
	caps := adapter.Capabilities()

	data := sc.VideoData
	if in.Title != nil {
		if data.Title = strings.TrimSpace(*in.Title); data.Title == "" {
			return nil, apperr.Validation("title is required")
		}
	}
	if in.Description != nil {
		data.Description = strings.TrimSpace(*in.Description)
	}
	if in.Tags != nil {
		data.Tags = NormalizeTags(in.Tags)
	}
	if in.Privacy != nil {
		if data.Privacy, err = validatePrivacy(*in.Privacy); err != nil {
			return nil, err
		}
	}
	if in.Timezone != nil {
		if sc.Timezone, err = validateTimezone(*in.Timezone); err != nil {
			return nil, err
		}
	}

	retime := in.ScheduledTime != nil || data.Privacy != sc.VideoData.Privacy
	if in.ScheduledTime != nil {
		if err := s.validateTime(sc.Platform, caps, *in.ScheduledTime); err != nil {
			return nil, err
		}
		sc.ScheduledTime = in.ScheduledTime.UTC()
	}
	if retime {
		sc.NextAttemptAt = nextAttempt(caps, sc.ScheduledTime, data.Privacy).UTC()
	}
	sc.VideoData = data

	updated, err := s.schedules.UpdatePending(ctx, sc)
	if err != nil {
		return nil, apperr.Internal("update schedule", err)
	}
	if !updated {
		return nil, apperr.Conflict("schedule is no longer pending")
	}

	s.logger.Info("updated schedule", zap.String("schedule_id", sc.ID), zap.Time("scheduled_time", sc.ScheduledTime))
	if retime {
		s.dispatch(ctx, sc)
	}
	return sc, nil
}

// Cancel stops a pending schedule. A schedule that is already being
// published, or has finished, is left alone.
func (s *schedulerService) Cancel(ctx context.Context, userID, scheduleID string) (*models.Schedule, error) {
	sc, err := s.Get(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sc.Status != models.ScheduleStatusPending {
		return nil, apperr.Conflict(fmt.Sprintf("cannot cancel a %s schedule", sc.Status))
	}

	cancelled, err := s.schedules.Cancel(ctx, scheduleID, userID, s.now())
	if err != nil {
		return nil, apperr.Internal("cancel schedule", err)
	}
	if cancelled == nil {
		return nil, apperr.Conflict("schedule is no longer pending")
	}

	s.logger.Info("cancelled schedule", zap.String("schedule_id", scheduleID), zap.String("user_id", userID))
	s.release(ctx, cancelled)
	return cancelled, nil
}

// Claim moves a due schedule to processing. It returns nil when the schedule
// is not due or another worker claimed it first.
func (s *schedulerService) Claim(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	sc, err := s.schedules.Claim(ctx, scheduleID, s.now())
	if err != nil {
		return nil, apperr.Internal("claim schedule", err)
	}
	return sc, nil
}

// Process claims the schedule and publishes it. Publish failures are recorded
// on the schedule; only failures to persist the outcome are returned.
func (s *schedulerService) Process(ctx context.Context, scheduleID string) error {
	sc, err := s.Claim(ctx, scheduleID)
	if err != nil {
		return err
	}
	if sc == nil {
		s.logger.Debug("schedule not claimable", zap.String("schedule_id", scheduleID))
		return nil
	}
	return s.run(ctx, sc)
}

// ProcessDue publishes every due schedule the dispatcher did not deliver.
func (s *schedulerService) ProcessDue(ctx context.Context, limit int) (int, error) {
	due, err := s.schedules.ClaimDue(ctx, s.now(), limit)
	if err != nil {
		return 0, apperr.Internal("claim due schedules", err)
	}

	// Claimed rows are published to the end even when the sweep's own
	// deadline passes first.
	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, sc := range due {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(base, s.opts.UploadTimeout)
			defer cancel()
			if err := s.run(pctx, sc); err != nil {
				s.logger.Error("failed to record publish outcome", zap.String("schedule_id", sc.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(due), nil
}

// FailStale fails schedules stuck in processing for longer than olderThan.
func (s *schedulerService) FailStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.schedules.FailStale(ctx, s.now().Add(-olderThan), s.now())
	if err != nil {
		return 0, apperr.Internal("fail stale schedules", err)
	}
	if n > 0 {
		s.logger.Warn("failed schedules stuck in processing", zap.Int64("count", n))
	}
	return n, nil
}

func (s *schedulerService) run(ctx context.Context, sc *models.Schedule) error {
	log := s.logger.With(zap.String("schedule_id", sc.ID), zap.String("user_id", sc.UserID), zap.String("platform", string(sc.Platform)))
	attempt := sc.RetryCount + 1
	log.Info("publishing schedule", zap.Int("attempt", attempt))

	published, pubErr := s.publish(ctx, sc)
	if pubErr != nil && ctx.Err() != nil && !apperr.Retryable(pubErr) {
		// Shutdown or a caller deadline cut the attempt short.
		pubErr = apperr.UpstreamUnavailable("publish interrupted", pubErr).WithPlatform(string(sc.Platform))
	}
	// The outcome is written even when ctx is already done.
	ctx = context.WithoutCancel(ctx)
	now := s.now()

	if pubErr == nil {
		ok, err := s.schedules.MarkCompleted(ctx, sc.ID, published.VideoID, published.URL, now)
		if err != nil {
			return apperr.Internal("complete schedule", err)
		}
		if !ok {
			log.Warn("schedule left processing while publishing")
		}
		log.Info("published schedule", zap.String("video_id", published.VideoID), zap.String("url", published.URL))
		s.record(ctx, sc, attempt, models.AttemptOutcomeSuccess, "")
		sc.Status = models.ScheduleStatusCompleted
		s.release(ctx, sc)
		return nil
	}

	reason := failureReason(pubErr)
	if delay, retry := s.opts.Retry.Next(attempt, pubErr); retry {
		sc.NextAttemptAt = now.Add(delay)
		ok, err := s.schedules.Reschedule(ctx, sc.ID, reason, attempt, sc.NextAttemptAt, now)
		if err != nil {
			return apperr.Internal("reschedule", err)
		}
		log.Warn("publish failed, retrying", zap.Duration("delay", delay), zap.Error(pubErr))
		s.record(ctx, sc, attempt, models.AttemptOutcomeRetry, reason)
		if ok {
			s.dispatch(ctx, sc)
		}
		return nil
	}

	if _, err := s.schedules.MarkFailed(ctx, sc.ID, reason, now); err != nil {
		return apperr.Internal("fail schedule", err)
	}
	log.Error("publish failed", zap.Error(pubErr))
	s.record(ctx, sc, attempt, models.AttemptOutcomeFailed, reason)
	sc.Status = models.ScheduleStatusFailed
	s.release(ctx, sc)
	return nil
}

func (s *schedulerService) publish(ctx context.Context, sc *models.Schedule) (*platform.Published, error) {
	adapter, err := s.adapters.Get(sc.Platform)
	if err != nil {
		return nil, err
	}
	sa, err := s.store.GetAccountForUpload(ctx, sc.UserID, sc.Platform)
	if err != nil {
		return nil, err
	}
	creds := credentials.CredentialsOf(sa)
	meta := videoDataMetadata(sc.VideoData)

	var publishAt *time.Time
	if adapter.Capabilities().NativeScheduling && sc.ScheduledTime.After(s.now()) {
		at := sc.ScheduledTime
		publishAt = &at
	}

	if sc.VideoData.VideoID != "" {
		return adapter.Publish(ctx, creds, &platform.PublishRequest{
			VideoID:   sc.VideoData.VideoID,
			Metadata:  meta,
			PublishAt: publishAt,
		})
	}

	body, size, err := s.storage.Open(ctx, sc.VideoData.SourceKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, apperr.NotFound("staged video is gone")
	}
	if err != nil {
		return nil, apperr.UpstreamUnavailable("failed to read staged video", err)
	}
	defer body.Close()

	published, err := adapter.Upload(ctx, creds, &platform.UploadRequest{
		Body:        body,
		Size:        size,
		ContentType: sc.VideoData.ContentType,
		FileName:    sc.VideoData.FileName,
		Metadata:    meta,
		PublishAt:   publishAt,
	})
	if err != nil {
		return nil, err
	}
	metrics.UploadBytes.WithLabelValues(string(sc.Platform)).Add(float64(size))
	return published, nil
}

func (s *schedulerService) record(ctx context.Context, sc *models.Schedule, attempt int, outcome, reason string) {
	metrics.PublishOutcomes.WithLabelValues(string(sc.Platform), outcome).Inc()

	err := s.history.Create(ctx, &models.PublishAttempt{
		ScheduleID:   sc.ID,
		UserID:       sc.UserID,
		Platform:     sc.Platform,
		Attempt:      attempt,
		Outcome:      outcome,
		ErrorMessage: reason,
	})
	if err != nil {
		s.logger.Warn("failed to record publish attempt", zap.String("schedule_id", sc.ID), zap.Error(err))
	}
}

// release deletes the staged file of a finished schedule once no other
// unfinished schedule of the same post still needs it.
func (s *schedulerService) release(ctx context.Context, sc *models.Schedule) {
	key := sc.VideoData.SourceKey
	if key == "" {
		return
	}
	if sc.PostID != nil {
		siblings, err := s.schedules.ListByPostID(ctx, *sc.PostID)
		if err != nil {
			s.logger.Warn("cannot check staged video users", zap.String("schedule_id", sc.ID), zap.Error(err))
			return
		}
		for _, other := range siblings {
			if other.ID != sc.ID && other.VideoData.SourceKey == key && !other.Status.Terminal() {
				return
			}
		}
	}
	s.discard(ctx, key)
}

func failureReason(err error) string {
	if appErr, ok := apperr.As(err); ok {
		if appErr.Platform != "" {
			return fmt.Sprintf("%s: %s", appErr.Platform, appErr.Message)
		}
		return appErr.Message
	}
	return err.Error()
}

// validateMetadata checks the metadata of a schedule. Unlike direct uploads,
// schedules need an explicit title and reject unknown privacy values.
func validateMetadata(in VideoInput) (VideoInput, error) {
	if strings.TrimSpace(in.Title) == "" {
		return in, apperr.Validation("title is required")
	}
	privacy, err := validatePrivacy(in.Privacy)
	if err != nil {
		return in, err
	}
	out := normalizeVideo(in)
	out.Privacy = privacy
	return out, nil
}

func validatePrivacy(privacy string) (string, error) {
	privacy = strings.ToLower(strings.TrimSpace(privacy))
	if privacy == "" {
		return models.PrivacyPrivate, nil
	}
	if NormalizePrivacy(privacy) != privacy {
		return "", apperr.Validationf("privacy must be one of private, unlisted or public, got %q", privacy)
	}
	return privacy, nil
}

func validateTimezone(tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return "UTC", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", apperr.Validationf("unknown timezone %q", tz)
	}
	return tz, nil
}

func videoData(meta VideoInput) models.VideoData {
	return models.VideoData{
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        meta.Tags,
		Privacy:     meta.Privacy,
		CategoryID:  meta.CategoryID,
		MadeForKids: meta.MadeForKids,
		Language:    meta.Language,
	}
}
