package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
)

const (
	facebookGraphURL    = "https://graph.facebook.com/v18.0"
	facebookVideoURL    = "https://graph-video.facebook.com/v18.0"
	facebookDialogURL   = "https://www.facebook.com/v18.0/dialog/oauth"
	facebookVideoPrefix = "https://facebook.com/"
	facebookTokenTTL    = 60 * 24 * time.Hour
	facebookTimeLayout  = "2006-01-02T15:04:05-0700"
)

var facebookScopes = []string{
	"pages_show_list",
	"pages_read_engagement",
	"pages_manage_posts",
	"pages_manage_metadata",
	"publish_video",
}

type FacebookConfig struct {
	AppID       string
	AppSecret   string
	RedirectURI string
	// GraphURL, VideoURL and DialogURL default to the Graph API v18.0 hosts.
	GraphURL  string
	VideoURL  string
	DialogURL string
}

type facebookAdapter struct {
	cfg  FacebookConfig
	opts Options
	now  func() time.Time
}

func NewFacebook(cfg FacebookConfig, opts Options) Adapter {
	if cfg.GraphURL == "" {
		cfg.GraphURL = facebookGraphURL
	}
	if cfg.VideoURL == "" {
		cfg.VideoURL = facebookVideoURL
	}
	if cfg.DialogURL == "" {
		cfg.DialogURL = facebookDialogURL
	}
	return &facebookAdapter{cfg: cfg, opts: opts.withDefaults(), now: time.Now}
}

func (a *facebookAdapter) Platform() models.Platform {
	return models.PlatformFacebook
}

func (a *facebookAdapter) Capabilities() Capabilities {
	return Capabilities{
		PublishExisting: true,
		MaxUploadBytes:  10 * gib,
	}
}

func (a *facebookAdapter) AuthURL(state string) string {
	params := url.Values{}
	params.Set("client_id", a.cfg.AppID)
	params.Set("redirect_uri", a.cfg.RedirectURI)
	params.Set("scope", strings.Join(facebookScopes, ","))
	params.Set("response_type", "code")
	params.Set("state", state)
	return a.cfg.DialogURL + "?" + params.Encode()
}

func (a *facebookAdapter) onError(status int, body []byte) error {
	var ge graphError
	if err := json.Unmarshal(body, &ge); err != nil || ge.Error.Message == "" {
		return classifyStatus(models.PlatformFacebook, status, "", nil)
	}
	return classifyGraph(status, ge)
}

func (a *facebookAdapter) call(ctx context.Context, client *http.Client, method, endpoint string, params url.Values, out any) error {
	var req *http.Request
	var err error
	if method == http.MethodGet || method == http.MethodDelete {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}
	return doJSON(client, models.PlatformFacebook, req, out, a.onError)
}

type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *facebookAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	params := url.Values{}
	params.Set("client_id", a.cfg.AppID)
	params.Set("client_secret", a.cfg.AppSecret)
	params.Set("redirect_uri", a.cfg.RedirectURI)
	params.Set("code", code)

	var short facebookTokenResponse
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodGet, a.cfg.GraphURL+"/oauth/access_token", params, &short); err != nil {
		return nil, err
	}
	return a.exchangeLongLived(ctx, short.AccessToken)
}

// Refresh trades a long-lived user token for a fresh one. Facebook has no
// separate refresh token, so the long-lived token is stored in both slots.
func (a *facebookAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, apperr.ReauthRequired("facebook: no long-lived token stored", nil).WithPlatform(string(models.PlatformFacebook))
	}
	return a.exchangeLongLived(ctx, refreshToken)
}

func (a *facebookAdapter) exchangeLongLived(ctx context.Context, token string) (*Token, error) {
	params := url.Values{}
	params.Set("grant_type", "fb_exchange_token")
	params.Set("client_id", a.cfg.AppID)
	params.Set("client_secret", a.cfg.AppSecret)
	params.Set("fb_exchange_token", token)

	var long facebookTokenResponse
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodGet, a.cfg.GraphURL+"/oauth/access_token", params, &long); err != nil {
		return nil, err
	}

	expiresAt := expiryFromSeconds(a.now(), long.ExpiresIn)
	if expiresAt.IsZero() {
		expiresAt = a.now().Add(facebookTokenTTL)
	}
	return &Token{
		AccessToken:  long.AccessToken,
		RefreshToken: long.AccessToken,
		ExpiresAt:    expiresAt,
		Scope:        strings.Join(facebookScopes, ","),
	}, nil
}

type facebookPage struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"access_token"`
	Picture     struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// FetchProfile connects the first page the user manages; videos are published
// as that page with its own page token.
func (a *facebookAdapter) FetchProfile(ctx context.Context, token *Token) (*Profile, error) {
	var me struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	params := url.Values{"fields": {"id,name"}, "access_token": {token.AccessToken}}
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodGet, a.cfg.GraphURL+"/me", params, &me); err != nil {
		return nil, err
	}

	var pages struct {
		Data []facebookPage `json:"data"`
	}
	params = url.Values{"fields": {"id,name,access_token,picture{url}"}, "access_token": {token.AccessToken}}
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodGet, a.cfg.GraphURL+"/me/accounts", params, &pages); err != nil {
		return nil, err
	}
	if len(pages.Data) == 0 {
		return nil, apperr.Forbidden("facebook: no pages found, a managed page is required to publish videos", nil).
			WithPlatform(string(models.PlatformFacebook))
	}

	page := pages.Data[0]
	return &Profile{
		ID:        page.ID,
		Username:  page.Name,
		AvatarURL: page.Picture.Data.URL,
		Metadata: models.AccountMetadata{Facebook: &models.FacebookMetadata{
			UserID:          me.ID,
			PageID:          page.ID,
			PageName:        page.Name,
			PageAccessToken: page.AccessToken,
		}},
	}, nil
}

func (a *facebookAdapter) page(creds Credentials) (*models.FacebookMetadata, error) {
	meta := creds.Metadata.Facebook
	if meta == nil || meta.PageID == "" || meta.PageAccessToken == "" {
		return nil, apperr.ReauthRequired("facebook: page access is missing", nil).WithPlatform(string(models.PlatformFacebook))
	}
	return meta, nil
}

type facebookVideo struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	CreatedTime  string  `json:"created_time"`
	Picture      string  `json:"picture"`
	PermalinkURL string  `json:"permalink_url"`
	Length       float64 `json:"length"`
	Published    bool    `json:"published"`
	From         struct {
		ID string `json:"id"`
	} `json:"from"`
}

const facebookVideoFields = "id,title,description,created_time,picture,permalink_url,length,published,from"

func (v facebookVideo) media() Media {
	m := Media{
		ID:           v.ID,
		Title:        v.Title,
		Description:  v.Description,
		ThumbnailURL: v.Picture,
		URL:          facebookVideoPrefix + v.ID,
		OwnerID:      v.From.ID,
		Privacy:      models.PrivacyPublic,
	}
	if !v.Published {
		m.Privacy = models.PrivacyPrivate
	}
	if v.Length > 0 {
		m.Duration = (time.Duration(v.Length * float64(time.Second))).Round(time.Second).String()
	}
	m.PublishedAt, _ = time.Parse(facebookTimeLayout, v.CreatedTime)
	return m
}

func (a *facebookAdapter) ListMedia(ctx context.Context, creds Credentials, pageToken string, pageSize int) (*MediaPage, error) {
	page, err := a.page(creds)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("fields", facebookVideoFields)
	params.Set("limit", strconv.Itoa(clampPageSize(pageSize)))
	params.Set("access_token", page.PageAccessToken)
	if pageToken != "" {
		params.Set("after", pageToken)
	}

	var resp struct {
		Data   []facebookVideo `json:"data"`
		Paging struct {
			Cursors struct {
				After string `json:"after"`
			} `json:"cursors"`
			Next string `json:"next"`
		} `json:"paging"`
	}
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodGet, a.cfg.GraphURL+"/"+page.PageID+"/videos", params, &resp); err != nil {
		return nil, err
	}

	result := &MediaPage{Items: make([]Media, 0, len(resp.Data))}
	for _, v := range resp.Data {
		result.Items = append(result.Items, v.media())
	}
	if resp.Paging.Next != "" {
		result.NextPageToken = resp.Paging.Cursors.After
	}
	return result, nil
}

func (a *facebookAdapter) GetMedia(ctx context.Context, creds Credentials, mediaID string) (*Media, error) {
	page, err := a.page(creds)
	if err != nil {
		return nil, err
	}

	params := url.Values{"fields": {facebookVideoFields}, "access_token": {page.PageAccessToken}}
	var v facebookVideo
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodGet, a.cfg.GraphURL+"/"+url.PathEscape(mediaID), params, &v); err != nil {
		return nil, err
	}
	m := v.media()
	return &m, nil
}

type facebookUploadSession struct {
	VideoID         string `json:"video_id"`
	UploadSessionID string `json:"upload_session_id"`
	StartOffset     string `json:"start_offset"`
	EndOffset       string `json:"end_offset"`
}

func (s facebookUploadSession) offsets() (int64, int64, error) {
	start, err := strconv.ParseInt(s.StartOffset, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.ParseInt(s.EndOffset, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Upload runs the resumable start / transfer / finish protocol. Facebook picks
// the chunk boundaries; each transfer response names the next range.
func (a *facebookAdapter) Upload(ctx context.Context, creds Credentials, req *UploadRequest) (*Published, error) {
	if err := ValidateUploadSize(models.PlatformFacebook, a.Capabilities(), req.Size); err != nil {
		return nil, err
	}
	page, err := a.page(creds)
	if err != nil {
		return nil, err
	}
	endpoint := a.cfg.VideoURL + "/" + page.PageID + "/videos"

	var session facebookUploadSession
	startParams := url.Values{
		"upload_phase": {"start"},
		"file_size":    {strconv.FormatInt(req.Size, 10)},
		"access_token": {page.PageAccessToken},
	}
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodPost, endpoint, startParams, &session); err != nil {
		return nil, err
	}

	start, end, err := session.offsets()
	if err != nil {
		return nil, apperr.UpstreamUnavailable("facebook: invalid upload offsets", err).WithPlatform(string(models.PlatformFacebook))
	}

	for start < end {
		next, err := a.transferChunk(ctx, endpoint, page.PageAccessToken, session.UploadSessionID, start, io.LimitReader(req.Body, end-start), end-start)
		if err != nil {
			return nil, err
		}
		notifyProgress(req.Progress, UploadProgress{BytesSent: end, TotalBytes: req.Size})
		if start, end, err = next.offsets(); err != nil {
			return nil, apperr.UpstreamUnavailable("facebook: invalid upload offsets", err).WithPlatform(string(models.PlatformFacebook))
		}
	}

	finishParams := url.Values{
		"upload_phase":      {"finish"},
		"upload_session_id": {session.UploadSessionID},
		"access_token":      {page.PageAccessToken},
		"title":             {req.Metadata.Title},
		"description":       {req.Metadata.Description},
		"published":         {strconv.FormatBool(req.Metadata.Privacy == models.PrivacyPublic)},
	}
	var finish struct {
		Success bool `json:"success"`
	}
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodPost, endpoint, finishParams, &finish); err != nil {
		return nil, err
	}
	if !finish.Success {
		return nil, apperr.UpstreamUnavailable("facebook: upload was not finalized", nil).WithPlatform(string(models.PlatformFacebook))
	}

	return &Published{VideoID: session.VideoID, URL: facebookVideoPrefix + session.VideoID}, nil
}

func (a *facebookAdapter) transferChunk(ctx context.Context, endpoint, token, sessionID string, start int64, chunk io.Reader, length int64) (*facebookUploadSession, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("upload_phase", "transfer")
	_ = w.WriteField("upload_session_id", sessionID)
	_ = w.WriteField("start_offset", strconv.FormatInt(start, 10))
	_ = w.WriteField("access_token", token)

	part, err := w.CreateFormFile("video_file_chunk", "chunk")
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(part, chunk)
	if err != nil {
		return nil, fmt.Errorf("read video chunk: %w", err)
	}
	if n != length {
		return nil, apperr.Validation("facebook: video is shorter than its declared size").WithPlatform(string(models.PlatformFacebook))
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var next facebookUploadSession
	if err := doJSON(a.opts.UploadClient, models.PlatformFacebook, req, &next, a.onError); err != nil {
		return nil, err
	}
	return &next, nil
}

// Publish makes an unpublished page video visible.
func (a *facebookAdapter) Publish(ctx context.Context, creds Credentials, req *PublishRequest) (*Published, error) {
	page, err := a.page(creds)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"published":    {"true"},
		"access_token": {page.PageAccessToken},
	}
	if req.Metadata.Title != "" {
		params.Set("name", req.Metadata.Title)
	}
	if req.Metadata.Description != "" {
		params.Set("description", req.Metadata.Description)
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := a.call(ctx, a.opts.HTTPClient, http.MethodPost, a.cfg.GraphURL+"/"+url.PathEscape(req.VideoID), params, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, apperr.UpstreamUnavailable("facebook: video was not published", nil).WithPlatform(string(models.PlatformFacebook))
	}
	return &Published{VideoID: req.VideoID, URL: facebookVideoPrefix + req.VideoID}, nil
}

func (a *facebookAdapter) Revoke(ctx context.Context, creds Credentials) error {
	params := url.Values{"access_token": {creds.AccessToken}}
	return a.call(ctx, a.opts.HTTPClient, http.MethodDelete, a.cfg.GraphURL+"/me/permissions", params, nil)
}
