package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/transfer"
)

const (
	tiktokAuthURL = "https://www.tiktok.com/v2/auth/authorize/"
	tiktokAPIURL  = "https://open.tiktokapis.com"

	tiktokVideoFields = "id,title,video_description,create_time,cover_image_url,share_url,duration,view_count,like_count,comment_count"
	tiktokMaxPageSize = 20

	// Files up to tiktokSingleChunkMax go up in one request. Larger files are
	// split into tiktokChunkSize pieces; the final piece absorbs the remainder.
	tiktokSingleChunkMax = 64 << 20
	tiktokChunkSize      = 10 << 20
)

var tiktokScopes = []string{
	"user.info.basic",
	"user.info.profile",
	"video.list",
	"video.publish",
	"video.upload",
}

var tiktokPrivacyLevels = map[string]string{
	models.PrivacyPublic:   "PUBLIC_TO_EVERYONE",
	models.PrivacyUnlisted: "MUTUAL_FOLLOW_FRIENDS",
	models.PrivacyPrivate:  "SELF_ONLY",
}

type TikTokConfig struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string
	// AuthURL and APIBaseURL default to TikTok's production hosts.
	AuthURL    string
	APIBaseURL string
}

type tiktokAdapter struct {
	cfg  TikTokConfig
	opts Options
	now  func() time.Time
}

func NewTikTok(cfg TikTokConfig, opts Options) Adapter {
	if cfg.AuthURL == "" {
		cfg.AuthURL = tiktokAuthURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = tiktokAPIURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return &tiktokAdapter{cfg: cfg, opts: opts.withDefaults(), now: time.Now}
}

func (a *tiktokAdapter) Platform() models.Platform {
	return models.PlatformTikTok
}

func (a *tiktokAdapter) Capabilities() Capabilities {
	return Capabilities{MaxUploadBytes: 4 * gib}
}

func (a *tiktokAdapter) AuthURL(state string) string {
	params := url.Values{}
	params.Set("client_key", a.cfg.ClientKey)
	params.Set("scope", strings.Join(tiktokScopes, ","))
	params.Set("response_type", "code")
	params.Set("redirect_uri", a.cfg.RedirectURI)
	params.Set("state", state)
	return a.cfg.AuthURL + "?" + params.Encode()
}

func (a *tiktokAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	data := url.Values{}
	data.Set("client_key", a.cfg.ClientKey)
	data.Set("client_secret", a.cfg.ClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", a.cfg.RedirectURI)
	return a.token(ctx, data)
}

func (a *tiktokAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, apperr.ReauthRequired("tiktok: no refresh token stored", nil).WithPlatform(string(models.PlatformTikTok))
	}
	data := url.Values{}
	data.Set("client_key", a.cfg.ClientKey)
	data.Set("client_secret", a.cfg.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	return a.token(ctx, data)
}

func (a *tiktokAdapter) token(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBaseURL+"/v2/oauth/token/", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp transfer.TiktokTokenResponse
	onError := func(status int, body []byte) error {
		var failed transfer.TiktokTokenResponse
		_ = json.Unmarshal(body, &failed)
		return a.tokenError(status, failed)
	}
	if err := doJSON(a.opts.HTTPClient, models.PlatformTikTok, req, &resp, onError); err != nil {
		return nil, err
	}
	if resp.Error != "" || resp.AccessToken == "" {
		return nil, a.tokenError(http.StatusBadRequest, resp)
	}

	return &Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiryFromSeconds(a.now(), resp.ExpiresIn),
		Scope:        resp.Scope,
	}, nil
}

func (a *tiktokAdapter) tokenError(status int, resp transfer.TiktokTokenResponse) error {
	cause := fmt.Errorf("tiktok token error=%s log_id=%s", resp.Error, resp.LogID)
	if resp.Error == apperr.CodeInvalidGrant {
		return apperr.InvalidGrant("tiktok: authorization expired or already used", cause).WithPlatform(string(models.PlatformTikTok))
	}
	msg := resp.ErrorDescription
	if msg == "" {
		msg = resp.Error
	}
	return classifyStatus(models.PlatformTikTok, status, msg, cause)
}

func (a *tiktokAdapter) onError(status int, body []byte) error {
	var envelope struct {
		Error transfer.TiktokError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || !tiktokFailed(envelope.Error) {
		return classifyStatus(models.PlatformTikTok, status, "", nil)
	}
	return classifyTikTok(status, envelope.Error)
}

// call sends an authenticated v2 request and checks the error object that
// TikTok also returns with 200 responses.
func (a *tiktokAdapter) call(ctx context.Context, method, path, accessToken string, in any, out any, envelope func() transfer.TiktokError) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	if err := doJSON(a.opts.HTTPClient, models.PlatformTikTok, req, out, a.onError); err != nil {
		return err
	}
	if e := envelope(); tiktokFailed(e) {
		return classifyTikTok(http.StatusOK, e)
	}
	return nil
}

func (a *tiktokAdapter) FetchProfile(ctx context.Context, token *Token) (*Profile, error) {
	var resp transfer.TikTokUserResponse
	err := a.call(ctx, http.MethodGet, "/v2/user/info/?fields=open_id,avatar_url,display_name,username",
		token.AccessToken, nil, &resp, func() transfer.TiktokError { return resp.Error })
	if err != nil {
		return nil, err
	}

	user := resp.Data.User
	return &Profile{
		ID:        user.OpenID,
		Username:  user.DisplayName,
		AvatarURL: user.AvatarURL,
		Metadata: models.AccountMetadata{TikTok: &models.TikTokMetadata{
			OpenID:      user.OpenID,
			DisplayName: user.DisplayName,
			Username:    user.Username,
		}},
	}, nil
}

func (a *tiktokAdapter) media(creds Credentials, v transfer.TiktokVideo) Media {
	m := Media{
		ID:           v.ID,
		Title:        v.Title,
		Description:  v.VideoDescription,
		ThumbnailURL: v.CoverImageURL,
		URL:          v.ShareURL,
		ViewCount:    v.ViewCount,
		LikeCount:    v.LikeCount,
		CommentCount: v.CommentCount,
		// The video endpoints only ever return the caller's own videos.
		OwnerID: creds.PlatformUserID,
	}
	if m.URL == "" {
		m.URL = tiktokVideoURL(creds, v.ID)
	}
	if v.CreateTime > 0 {
		m.PublishedAt = time.Unix(v.CreateTime, 0).UTC()
	}
	if v.Duration > 0 {
		m.Duration = (time.Duration(v.Duration) * time.Second).String()
	}
	return m
}

func tiktokVideoURL(creds Credentials, videoID string) string {
	return tiktokProfileURL(creds) + "/video/" + videoID
}

func tiktokProfileURL(creds Credentials) string {
	if meta := creds.Metadata.TikTok; meta != nil && meta.Username != "" {
		return "https://www.tiktok.com/@" + meta.Username
	}
	return "https://www.tiktok.com/@" + creds.PlatformUserID
}

func (a *tiktokAdapter) ListMedia(ctx context.Context, creds Credentials, pageToken string, pageSize int) (*MediaPage, error) {
	body := transfer.TiktokVideoListRequest{MaxCount: min(clampPageSize(pageSize), tiktokMaxPageSize)}
	if pageToken != "" {
		cursor, err := strconv.ParseInt(pageToken, 10, 64)
		if err != nil {
			return nil, apperr.Validation("invalid page token").WithPlatform(string(models.PlatformTikTok))
		}
		body.Cursor = cursor
	}

	var resp transfer.TiktokVideoListResponse
	err := a.call(ctx, http.MethodPost, "/v2/video/list/?fields="+tiktokVideoFields,
		creds.AccessToken, body, &resp, func() transfer.TiktokError { return resp.Error })
	if err != nil {
		return nil, err
	}

	page := &MediaPage{Items: make([]Media, 0, len(resp.Data.Videos))}
	for _, v := range resp.Data.Videos {
		page.Items = append(page.Items, a.media(creds, v))
	}
	if resp.Data.HasMore {
		page.NextPageToken = strconv.FormatInt(resp.Data.Cursor, 10)
	}
	return page, nil
}

func (a *tiktokAdapter) GetMedia(ctx context.Context, creds Credentials, mediaID string) (*Media, error) {
	var body transfer.TiktokVideoQueryRequest
	body.Filters.VideoIDs = []string{mediaID}

	var resp transfer.TiktokVideoListResponse
	err := a.call(ctx, http.MethodPost, "/v2/video/query/?fields="+tiktokVideoFields,
		creds.AccessToken, body, &resp, func() transfer.TiktokError { return resp.Error })
	if err != nil {
		return nil, err
	}
	if len(resp.Data.Videos) == 0 {
		return nil, apperr.NotFound("tiktok: video not found").WithPlatform(string(models.PlatformTikTok))
	}
	m := a.media(creds, resp.Data.Videos[0])
	return &m, nil
}

func tiktokChunks(size int64) (chunkSize, count int64) {
	if size <= tiktokSingleChunkMax {
		return size, 1
	}
	return tiktokChunkSize, size / tiktokChunkSize
}

// Upload direct-posts a file. TikTok processes the post asynchronously, so the
// returned id is the publish id rather than the final video id.
func (a *tiktokAdapter) Upload(ctx context.Context, creds Credentials, req *UploadRequest) (*Published, error) {
	if err := ValidateUploadSize(models.PlatformTikTok, a.Capabilities(), req.Size); err != nil {
		return nil, err
	}

	privacy, ok := tiktokPrivacyLevels[req.Metadata.Privacy]
	if !ok {
		privacy = tiktokPrivacyLevels[models.PrivacyPrivate]
	}
	chunkSize, count := tiktokChunks(req.Size)

	initReq := transfer.VideoInitRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 tiktokCaption(req.Metadata),
			PrivacyLevel:          privacy,
			VideoCoverTimestampMs: 1000,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       req.Size,
			ChunkSize:       chunkSize,
			TotalChunkCount: count,
		},
	}

	var resp transfer.TiktokInitResponse
	err := a.call(ctx, http.MethodPost, "/v2/post/publish/video/init/",
		creds.AccessToken, initReq, &resp, func() transfer.TiktokError { return resp.Error })
	if err != nil {
		return nil, err
	}
	if resp.Data.UploadURL == "" {
		return nil, apperr.UpstreamUnavailable("tiktok: no upload url returned", nil).WithPlatform(string(models.PlatformTikTok))
	}

	body := newProgressReader(req.Body, req.Size, req.Progress)
	contentType := req.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}

	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		length := chunkSize
		if i == count-1 {
			length = req.Size - start
		}
		if err := a.putChunk(ctx, resp.Data.UploadURL, contentType, io.LimitReader(body, length), start, length, req.Size); err != nil {
			return nil, err
		}
	}

	return &Published{VideoID: resp.Data.PublishID, URL: tiktokProfileURL(creds)}, nil
}

func tiktokCaption(meta VideoMetadata) string {
	caption := meta.Title
	if meta.Description != "" {
		caption += "\n\n" + meta.Description
	}
	for _, tag := range meta.Tags {
		caption += " #" + strings.ReplaceAll(tag, " ", "")
	}
	return caption
}

func (a *tiktokAdapter) putChunk(ctx context.Context, uploadURL, contentType string, chunk io.Reader, start, length, total int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, chunk)
	if err != nil {
		return err
	}
	req.ContentLength = length
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+length-1, total))

	return doJSON(a.opts.UploadClient, models.PlatformTikTok, req, nil, a.onError)
}

func (a *tiktokAdapter) Publish(ctx context.Context, creds Credentials, req *PublishRequest) (*Published, error) {
	return nil, notImplemented(models.PlatformTikTok, "publishing an existing video")
}

func (a *tiktokAdapter) Revoke(ctx context.Context, creds Credentials) error {
	data := url.Values{}
	data.Set("client_key", a.cfg.ClientKey)
	data.Set("client_secret", a.cfg.ClientSecret)
	data.Set("token", creds.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBaseURL+"/v2/oauth/revoke/", strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp transfer.TiktokRevokeResponse
	onError := func(status int, body []byte) error {
		return classifyStatus(models.PlatformTikTok, status, "token revoke failed", nil)
	}
	if err := doJSON(a.opts.HTTPClient, models.PlatformTikTok, req, &resp, onError); err != nil {
		return err
	}
	if resp.Error != "" {
		return classifyStatus(models.PlatformTikTok, http.StatusBadRequest, resp.ErrorDescription, fmt.Errorf("tiktok revoke error=%s", resp.Error))
	}
	return nil
}
