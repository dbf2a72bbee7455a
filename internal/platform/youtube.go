package platform

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeWatchURL      = "https://youtube.com/watch?v="
	googleRevokeURL      = "https://oauth2.googleapis.com/revoke"
	youtubeDefaultCat    = "22"
	youtubeDefaultLocale = "en"
)

var youtubeScopes = []string{
	youtube.YoutubeUploadScope,
	youtube.YoutubeScope,
	youtube.YoutubeReadonlyScope,
}

type YouTubeConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Endpoint, APIBaseURL and RevokeURL default to Google's production URLs.
	Endpoint   oauth2.Endpoint
	APIBaseURL string
	RevokeURL  string
}

type youtubeAdapter struct {
	oauth     *oauth2.Config
	apiBase   string
	revokeURL string
	opts      Options
	now       func() time.Time
}

func NewYouTube(cfg YouTubeConfig, opts Options) Adapter {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = googleRevokeURL
	}

	return &youtubeAdapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       youtubeScopes,
			Endpoint:     endpoint,
		},
		apiBase:   cfg.APIBaseURL,
		revokeURL: revokeURL,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

func (a *youtubeAdapter) Platform() models.Platform {
	return models.PlatformYouTube
}

func (a *youtubeAdapter) Capabilities() Capabilities {
	return Capabilities{
		MinLeadTime:      15 * time.Minute,
		NativeScheduling: true,
		NativeHandoff:    10 * time.Minute,
		PublishExisting:  true,
		MaxUploadBytes:   256 * gib,
	}
}

func (a *youtubeAdapter) AuthURL(state string) string {
	return a.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

func (a *youtubeAdapter) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.opts.HTTPClient)
}

func (a *youtubeAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	tok, err := a.oauth.Exchange(a.oauthContext(ctx), code)
	if err != nil {
		return nil, classifyOAuth(models.PlatformYouTube, err)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        strings.Join(youtubeScopes, " "),
	}, nil
}

func (a *youtubeAdapter) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if refreshToken == "" {
		return nil, apperr.ReauthRequired("youtube: no refresh token stored", nil).WithPlatform(string(models.PlatformYouTube))
	}

	tok, err := a.oauth.TokenSource(a.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyOAuth(models.PlatformYouTube, err)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// service builds a YouTube client bound to one access token. Uploads use the
// client without a total timeout.
func (a *youtubeAdapter) service(ctx context.Context, accessToken string, upload bool) (*youtube.Service, error) {
	base := a.opts.HTTPClient
	if upload {
		base = a.opts.UploadClient
	}

	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	client.Timeout = base.Timeout

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.apiBase != "" {
		opts = append(opts, option.WithEndpoint(a.apiBase))
	}

	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.Internal("youtube: failed to create client", err)
	}
	return svc, nil
}

func (a *youtubeAdapter) FetchProfile(ctx context.Context, token *Token) (*Profile, error) {
	svc, err := a.service(ctx, token.AccessToken, false)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogle(err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return nil, apperr.Validation("youtube: no channel found for this Google account").WithPlatform(string(models.PlatformYouTube))
	}

	channel := resp.Items[0]
	profile := &Profile{
		ID:       channel.Id,
		Username: channel.Snippet.Title,
		Metadata: models.AccountMetadata{YouTube: &models.YouTubeMetadata{
			ChannelTitle: channel.Snippet.Title,
			CustomURL:    channel.Snippet.CustomUrl,
		}},
	}
	if thumbs := channel.Snippet.Thumbnails; thumbs != nil && thumbs.Default != nil {
		profile.AvatarURL = thumbs.Default.Url
	}
	return profile, nil
}

var youtubeVideoParts = []string{"snippet", "status", "statistics", "contentDetails"}

func (a *youtubeAdapter) ListMedia(ctx context.Context, creds Credentials, pageToken string, pageSize int) (*MediaPage, error) {
	svc, err := a.service(ctx, creds.AccessToken, false)
	if err != nil {
		return nil, err
	}

	call := svc.Search.List([]string{"id"}).
		ForMine(true).
		Type("video").
		Order("date").
		MaxResults(int64(clampPageSize(pageSize)))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	search, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogle(err)
	}

	page := &MediaPage{Items: []Media{}, NextPageToken: search.NextPageToken}

	ids := make([]string, 0, len(search.Items))
	for _, item := range search.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			ids = append(ids, item.Id.VideoId)
		}
	}
	if len(ids) == 0 {
		return page, nil
	}

	videos, err := svc.Videos.List(youtubeVideoParts).Id(ids...).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogle(err)
	}
	for _, v := range videos.Items {
		page.Items = append(page.Items, youtubeMedia(v))
	}
	return page, nil
}

func (a *youtubeAdapter) GetMedia(ctx context.Context, creds Credentials, mediaID string) (*Media, error) {
	svc, err := a.service(ctx, creds.AccessToken, false)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Videos.List(youtubeVideoParts).Id(mediaID).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogle(err)
	}
	if len(resp.Items) == 0 {
		return nil, apperr.NotFound("youtube: video not found").WithPlatform(string(models.PlatformYouTube))
	}

	m := youtubeMedia(resp.Items[0])
	return &m, nil
}

func youtubeMedia(v *youtube.Video) Media {
	m := Media{ID: v.Id, URL: youtubeWatchURL + v.Id}
	if s := v.Snippet; s != nil {
		m.Title = s.Title
		m.Description = s.Description
		m.OwnerID = s.ChannelId
		m.PublishedAt, _ = time.Parse(time.RFC3339, s.PublishedAt)
		if s.Thumbnails != nil {
			switch {
			case s.Thumbnails.High != nil:
				m.ThumbnailURL = s.Thumbnails.High.Url
			case s.Thumbnails.Default != nil:
				m.ThumbnailURL = s.Thumbnails.Default.Url
			}
		}
	}
	if v.Status != nil {
		m.Privacy = v.Status.PrivacyStatus
	}
	if v.ContentDetails != nil {
		m.Duration = v.ContentDetails.Duration
	}
	if st := v.Statistics; st != nil {
		m.ViewCount = int64(st.ViewCount)
		m.LikeCount = int64(st.LikeCount)
		m.CommentCount = int64(st.CommentCount)
	}
	return m
}

// videoStatus builds the status part. A publish time is only sent while it is
// still in the future; YouTube requires such videos to stay private until then.
// A slot less than a minute away is pushed out to a minute from now so the
// video never goes live before its slot.
func (a *youtubeAdapter) videoStatus(meta VideoMetadata, publishAt *time.Time) *youtube.VideoStatus {
	status := &youtube.VideoStatus{
		PrivacyStatus:           meta.Privacy,
		SelfDeclaredMadeForKids: meta.MadeForKids,
		ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
	}
	if status.PrivacyStatus == "" {
		status.PrivacyStatus = models.PrivacyPrivate
	}
	if now := a.now(); publishAt != nil && publishAt.After(now) {
		at := *publishAt
		if earliest := now.Add(time.Minute); at.Before(earliest) {
			at = earliest
		}
		status.PrivacyStatus = models.PrivacyPrivate
		status.PublishAt = at.UTC().Format(time.RFC3339)
	}
	return status
}

func (a *youtubeAdapter) Upload(ctx context.Context, creds Credentials, req *UploadRequest) (*Published, error) {
	if err := ValidateUploadSize(models.PlatformYouTube, a.Capabilities(), req.Size); err != nil {
		return nil, err
	}

	svc, err := a.service(ctx, creds.AccessToken, true)
	if err != nil {
		return nil, err
	}

	meta := req.Metadata
	snippet := &youtube.VideoSnippet{
		Title:           meta.Title,
		Description:     meta.Description,
		Tags:            meta.Tags,
		CategoryId:      meta.CategoryID,
		DefaultLanguage: meta.Language,
	}
	if snippet.CategoryId == "" {
		snippet.CategoryId = youtubeDefaultCat
	}
	if snippet.DefaultLanguage == "" {
		snippet.DefaultLanguage = youtubeDefaultLocale
	}

	var mediaOpts []googleapi.MediaOption
	if req.ContentType != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(req.ContentType))
	}

	video := &youtube.Video{Snippet: snippet, Status: a.videoStatus(meta, req.PublishAt)}
	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(req.Body, mediaOpts...).
		ProgressUpdater(func(current, _ int64) {
			notifyProgress(req.Progress, UploadProgress{BytesSent: current, TotalBytes: req.Size})
		}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyGoogle(err)
	}

	notifyProgress(req.Progress, UploadProgress{BytesSent: req.Size, TotalBytes: req.Size})
	return &Published{VideoID: resp.Id, URL: youtubeWatchURL + resp.Id}, nil
}

// Publish changes the visibility of an uploaded video, or hands the publish
// time to YouTube when one is given.
func (a *youtubeAdapter) Publish(ctx context.Context, creds Credentials, req *PublishRequest) (*Published, error) {
	svc, err := a.service(ctx, creds.AccessToken, false)
	if err != nil {
		return nil, err
	}

	meta := req.Metadata
	if meta.Privacy == "" {
		meta.Privacy = models.PrivacyPublic
	}

	video := &youtube.Video{Id: req.VideoID, Status: a.videoStatus(meta, req.PublishAt)}
	resp, err := svc.Videos.Update([]string{"status"}, video).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogle(err)
	}
	return &Published{VideoID: resp.Id, URL: youtubeWatchURL + resp.Id}, nil
}

func (a *youtubeAdapter) Revoke(ctx context.Context, creds Credentials) error {
	form := url.Values{"token": {creds.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return doJSON(a.opts.HTTPClient, models.PlatformYouTube, req, nil, func(status int, body []byte) error {
		// 400 means the token is already invalid, which is the goal anyway.
		if status == http.StatusBadRequest {
			return nil
		}
		return classifyStatus(models.PlatformYouTube, status, string(body), nil)
	})
}
