package service

import (
	"context"
	"time"

	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/credentials"
	"github.com/videoblade/videoblade-api/internal/metrics"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/oauthstate"
	"github.com/videoblade/videoblade-api/internal/platform"
	"go.uber.org/zap"
)

type AccountInfo struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	PlatformID       string     `json:"platformId"`
	ProfilePicture   string     `json:"profilePicture,omitempty"`
	LastTokenRefresh *time.Time `json:"lastTokenRefresh,omitempty"`
	ConnectedAt      time.Time  `json:"connectedAt"`
}

type AccountStatus struct {
	Connected bool         `json:"connected"`
	Account   *AccountInfo `json:"account,omitempty"`
}

type ConnectedAccount struct {
	Platform models.Platform `json:"platform"`
	AccountInfo
}

type VideoList struct {
	Videos        []platform.Media `json:"videos"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

type AccountService interface {
	AuthURL(ctx context.Context, userID string, p models.Platform) (string, error)
	Connect(ctx context.Context, userID string, p models.Platform, code, state string) (*AccountInfo, error)
	Account(ctx context.Context, userID string, p models.Platform) (*AccountStatus, error)
	ListAccounts(ctx context.Context, userID string) ([]ConnectedAccount, error)
	ListVideos(ctx context.Context, userID string, p models.Platform, pageToken string, pageSize int) (*VideoList, error)
	Upload(ctx context.Context, userID string, p models.Platform, file VideoFile, meta VideoInput, progress chan<- platform.UploadProgress) (*platform.Published, error)
	Disconnect(ctx context.Context, userID string, p models.Platform) error
	RefreshToken(ctx context.Context, userID string, p models.Platform) (*time.Time, error)
}

type accountService struct {
	store    *credentials.Store
	adapters *platform.Registry
	states   *oauthstate.Manager
	logger   *zap.Logger
}

func NewAccountService(
	store *credentials.Store,
	adapters *platform.Registry,
	states *oauthstate.Manager,
	logger *zap.Logger) AccountService {
	return &accountService{
		store:    store,
		adapters: adapters,
		states:   states,
		logger:   logger.Named("accounts"),
	}
}

func (s *accountService) AuthURL(ctx context.Context, userID string, p models.Platform) (string, error) {
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return "", err
	}
	state, err := s.states.Issue(ctx, userID, p)
	if err != nil {
		return "", err
	}
	return adapter.AuthURL(state), nil
}

func (s *accountService) Connect(ctx context.Context, userID string, p models.Platform, code, state string) (*AccountInfo, error) {
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, apperr.Validation("missing authorization code").WithPlatform(string(p))
	}
	if err := s.states.Verify(ctx, state, userID, p); err != nil {
		return nil, err
	}

	tok, err := adapter.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Warn("code exchange failed", zap.String("user_id", userID), zap.String("platform", string(p)), zap.Error(err))
		return nil, err
	}
	profile, err := adapter.FetchProfile(ctx, tok)
	if err != nil {
		return nil, err
	}

	sa, err := s.store.UpsertAccount(ctx, userID, p, tok, profile)
	if err != nil {
		return nil, err
	}
	return accountInfo(sa), nil
}

func (s *accountService) Account(ctx context.Context, userID string, p models.Platform) (*AccountStatus, error) {
	if _, err := s.adapters.Get(p); err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, sa := range accounts {
		if sa.Platform == p {
			return &AccountStatus{Connected: true, Account: accountInfo(sa)}, nil
		}
	}
	return &AccountStatus{Connected: false}, nil
}

func (s *accountService) ListAccounts(ctx context.Context, userID string) ([]ConnectedAccount, error) {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ConnectedAccount, 0, len(accounts))
	for _, sa := range accounts {
		out = append(out, ConnectedAccount{Platform: sa.Platform, AccountInfo: *accountInfo(sa)})
	}
	return out, nil
}

func (s *accountService) ListVideos(ctx context.Context, userID string, p models.Platform, pageToken string, pageSize int) (*VideoList, error) {
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return nil, err
	}
	sa, err := s.store.GetConnectedAccount(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	page, err := adapter.ListMedia(ctx, credentials.CredentialsOf(sa), pageToken, pageSize)
	if err != nil {
		return nil, err
	}
	videos := page.Items
	if videos == nil {
		videos = []platform.Media{}
	}
	return &VideoList{Videos: videos, NextPageToken: page.NextPageToken}, nil
}

// Upload sends file to the platform right away. The progress channel, when
// given, is closed once the upload has finished or failed.
func (s *accountService) Upload(
	ctx context.Context,
	userID string,
	p models.Platform,
	file VideoFile,
	meta VideoInput,
	progress chan<- platform.UploadProgress) (*platform.Published, error) {
	if progress != nil {
		defer close(progress)
	}

	adapter, err := s.adapters.Get(p)
	if err != nil {
		return nil, err
	}
	if err := platform.ValidateUploadSize(p, adapter.Capabilities(), file.Size); err != nil {
		return nil, err
	}
	body, contentType, err := sniffVideo(file.Reader)
	if err != nil {
		return nil, err
	}

	// Resolve the token before the transfer starts so it cannot expire midway.
	sa, err := s.store.GetAccountForUpload(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("user_id", userID), zap.String("platform", string(p)))
	log.Info("uploading video", zap.Int64("size", file.Size), zap.String("content_type", contentType))

	published, err := adapter.Upload(ctx, credentials.CredentialsOf(sa), &platform.UploadRequest{
		Body:        body,
		Size:        file.Size,
		ContentType: contentType,
		FileName:    file.FileName,
		Metadata:    normalizeVideo(meta).metadata(),
		Progress:    progress,
	})
	if err != nil {
		log.Warn("upload failed", zap.Error(err))
		return nil, err
	}

	metrics.UploadBytes.WithLabelValues(string(p)).Add(float64(file.Size))
	log.Info("uploaded video", zap.String("video_id", published.VideoID))
	return published, nil
}

func (s *accountService) Disconnect(ctx context.Context, userID string, p models.Platform) error {
	if _, err := s.adapters.Get(p); err != nil {
		return err
	}
	return s.store.Deactivate(ctx, userID, p)
}

// RefreshToken forces a refresh and returns the new expiry, if the platform reports one.
func (s *accountService) RefreshToken(ctx context.Context, userID string, p models.Platform) (*time.Time, error) {
	if _, err := s.adapters.Get(p); err != nil {
		return nil, err
	}
	sa, err := s.store.RefreshAccount(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	return sa.ExpiresAt, nil
}

func accountInfo(sa *models.SocialAccount) *AccountInfo {
	return &AccountInfo{
		ID:               sa.ID,
		Username:         sa.PlatformUsername,
		PlatformID:       sa.PlatformUserID,
		ProfilePicture:   sa.ProfilePicture,
		LastTokenRefresh: sa.LastTokenRefresh,
		ConnectedAt:      sa.CreatedAt,
	}
}
