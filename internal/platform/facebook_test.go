package platform

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
)

func newTestFacebook(t *testing.T, mux *http.ServeMux) *facebookAdapter {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := NewFacebook(FacebookConfig{
		AppID:       "app",
		AppSecret:   "secret",
		RedirectURI: "http://localhost/callback",
		GraphURL:    srv.URL,
		VideoURL:    srv.URL + "/video",
	}, Options{HTTPClient: srv.Client(), UploadClient: srv.Client()})
	return a.(*facebookAdapter)
}

func facebookCreds() Credentials {
	return Credentials{
		AccessToken:    "user-token",
		PlatformUserID: "page-1",
		Metadata: models.AccountMetadata{Facebook: &models.FacebookMetadata{
			UserID:          "user-1",
			PageID:          "page-1",
			PageName:        "My Page",
			PageAccessToken: "page-token",
		}},
	}
}

func TestFacebookAuthURL(t *testing.T) {
	a := NewFacebook(FacebookConfig{AppID: "app", RedirectURI: "http://localhost/cb"}, Options{})

	u, err := url.Parse(a.AuthURL("s1"))
	require.NoError(t, err)
	assert.Equal(t, "www.facebook.com", u.Host)
	assert.Equal(t, "s1", u.Query().Get("state"))
	assert.Contains(t, u.Query().Get("scope"), "publish_video")
}

func TestFacebookConnectFlow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("code") == "good":
			_, _ = w.Write([]byte(`{"access_token":"short","token_type":"bearer","expires_in":3600}`))
		case q.Get("grant_type") == "fb_exchange_token" && q.Get("fb_exchange_token") == "short":
			_, _ = w.Write([]byte(`{"access_token":"long","token_type":"bearer"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"This authorization code has been used.","type":"OAuthException","code":100,"error_subcode":36009}}`))
		}
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "long", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"id":"user-1","name":"Jane"}`))
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[
			{"id":"page-1","name":"My Page","access_token":"page-token","picture":{"data":{"url":"https://img/p.png"}}},
			{"id":"page-2","name":"Other","access_token":"other-token"}
		]}`))
	})

	a := newTestFacebook(t, mux)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	tok, err := a.ExchangeCode(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "long", tok.AccessToken)
	assert.Equal(t, "long", tok.RefreshToken)
	assert.Equal(t, now.Add(facebookTokenTTL), tok.ExpiresAt)

	profile, err := a.FetchProfile(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "page-1", profile.ID)
	assert.Equal(t, "My Page", profile.Username)
	assert.Equal(t, "https://img/p.png", profile.AvatarURL)
	require.NotNil(t, profile.Metadata.Facebook)
	assert.Equal(t, "user-1", profile.Metadata.Facebook.UserID)
	assert.Equal(t, "page-token", profile.Metadata.Facebook.PageAccessToken)

	_, err = a.ExchangeCode(context.Background(), "used")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeInvalidGrant, e.Code)
}

func TestFacebookFetchProfileWithoutPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"user-1","name":"Jane"}`))
	})
	mux.HandleFunc("/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	a := newTestFacebook(t, mux)
	_, err := a.FetchProfile(context.Background(), &Token{AccessToken: "long"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestFacebookListMedia(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page-1/videos", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "page-token", q.Get("access_token"))
		assert.Equal(t, "10", q.Get("limit"))
		if q.Get("after") == "" {
			_, _ = w.Write([]byte(`{
				"data":[{"id":"v1","title":"First","created_time":"2024-05-01T10:00:00+0000","published":true,"length":61.5,"from":{"id":"page-1"}}],
				"paging":{"cursors":{"after":"c1"},"next":"https://graph/next"}
			}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"v2","published":false}],"paging":{"cursors":{"after":"c2"}}}`))
	})

	a := newTestFacebook(t, mux)

	page, err := a.ListMedia(context.Background(), facebookCreds(), "", 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c1", page.NextPageToken)
	assert.Equal(t, "https://facebook.com/v1", page.Items[0].URL)
	assert.Equal(t, models.PrivacyPublic, page.Items[0].Privacy)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), page.Items[0].PublishedAt.UTC())

	page, err = a.ListMedia(context.Background(), facebookCreds(), "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, page.NextPageToken)
	assert.Equal(t, models.PrivacyPrivate, page.Items[0].Privacy)
}

func TestFacebookMissingPageNeedsReconnect(t *testing.T) {
	a := NewFacebook(FacebookConfig{}, Options{})
	_, err := a.ListMedia(context.Background(), Credentials{AccessToken: "user-token"}, "", 10)
	assert.True(t, apperr.Is(err, apperr.KindReauthRequired))
}

func TestFacebookGetMediaNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Unsupported get request.","type":"GraphMethodException","code":100,"error_subcode":33}}`))
	})

	a := newTestFacebook(t, mux)
	_, err := a.GetMedia(context.Background(), facebookCreds(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestFacebookResumableUpload(t *testing.T) {
	video := bytes.Repeat([]byte("x"), 25)

	var (
		mu       sync.Mutex
		received []byte
		finished url.Values
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/video/page-1/videos", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			require.NoError(t, r.ParseForm())
			switch r.PostForm.Get("upload_phase") {
			case "start":
				assert.Equal(t, "25", r.PostForm.Get("file_size"))
				assert.Equal(t, "page-token", r.PostForm.Get("access_token"))
				_, _ = w.Write([]byte(`{"video_id":"fb-1","upload_session_id":"sess","start_offset":"0","end_offset":"10"}`))
			case "finish":
				finished = r.PostForm
				_, _ = w.Write([]byte(`{"success":true}`))
			}
			return
		}

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "transfer", r.FormValue("upload_phase"))
		assert.Equal(t, strconv.Itoa(len(received)), r.FormValue("start_offset"))

		f, _, err := r.FormFile("video_file_chunk")
		require.NoError(t, err)
		chunk, err := io.ReadAll(f)
		require.NoError(t, err)
		received = append(received, chunk...)

		start := len(received)
		end := min(start+10, len(video))
		_, _ = w.Write([]byte(`{"start_offset":"` + strconv.Itoa(start) + `","end_offset":"` + strconv.Itoa(end) + `"}`))
	})

	a := newTestFacebook(t, mux)
	progress := make(chan UploadProgress, 10)

	pub, err := a.Upload(context.Background(), facebookCreds(), &UploadRequest{
		Body:     bytes.NewReader(video),
		Size:     int64(len(video)),
		Metadata: VideoMetadata{Title: "Launch", Description: "desc", Privacy: models.PrivacyPublic},
		Progress: progress,
	})
	require.NoError(t, err)

	assert.Equal(t, "fb-1", pub.VideoID)
	assert.Equal(t, "https://facebook.com/fb-1", pub.URL)
	assert.Equal(t, video, received)
	assert.Equal(t, "Launch", finished.Get("title"))
	assert.Equal(t, "true", finished.Get("published"))
	assert.Equal(t, 3, len(progress))
}

func TestFacebookUploadRejectsEmptyFile(t *testing.T) {
	a := NewFacebook(FacebookConfig{}, Options{})
	_, err := a.Upload(context.Background(), facebookCreds(), &UploadRequest{Body: bytes.NewReader(nil)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestFacebookRefreshUsesLongLivedToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fb_exchange_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "long", r.URL.Query().Get("fb_exchange_token"))
		_, _ = w.Write([]byte(`{"access_token":"longer","expires_in":5184000}`))
	})

	a := newTestFacebook(t, mux)
	tok, err := a.Refresh(context.Background(), "long")
	require.NoError(t, err)
	assert.Equal(t, "longer", tok.AccessToken)
	assert.Equal(t, "longer", tok.RefreshToken)
}

func TestFacebookPublish(t *testing.T) {
	var answer string
	mux := http.NewServeMux()
	mux.HandleFunc("/vid-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.Form.Get("published"))
		assert.Equal(t, "page-token", r.Form.Get("access_token"))
		_, _ = w.Write([]byte(answer))
	})
	a := newTestFacebook(t, mux)
	req := &PublishRequest{VideoID: "vid-1", Metadata: VideoMetadata{Title: "Launch"}}

	answer = `{"success":true}`
	published, err := a.Publish(context.Background(), facebookCreds(), req)
	require.NoError(t, err)
	assert.Equal(t, "vid-1", published.VideoID)

	answer = `{"success":false}`
	_, err = a.Publish(context.Background(), facebookCreds(), req)
	assert.True(t, apperr.Is(err, apperr.KindUpstreamUnavailable))
	assert.True(t, apperr.Retryable(err))
}
