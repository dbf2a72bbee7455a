// Package platform contains one adapter per video platform behind a common interface.
package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
)

const (
	gib = int64(1) << 30

	defaultPageSize = 25
	maxPageSize     = 50
)

type Token struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is zero when the platform did not report an expiry.
	ExpiresAt time.Time
	Scope     string
}

// Profile is the external identity behind a token. Metadata carries only the
// variant of the adapter that produced it.
type Profile struct {
	ID        string
	Username  string
	AvatarURL string
	Metadata  models.AccountMetadata
}

// Credentials is the decrypted view of a connected account an adapter needs to act for it.
type Credentials struct {
	AccessToken    string
	PlatformUserID string
	Metadata       models.AccountMetadata
}

type Media struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ThumbnailURL string    `json:"thumbnail,omitempty"`
	URL          string    `json:"url"`
	PublishedAt  time.Time `json:"publishedAt"`
	Privacy      string    `json:"privacyStatus,omitempty"`
	Duration     string    `json:"duration,omitempty"`
	ViewCount    int64     `json:"viewCount"`
	LikeCount    int64     `json:"likeCount"`
	CommentCount int64     `json:"commentCount"`
	OwnerID      string    `json:"-"`
}

type MediaPage struct {
	Items         []Media
	NextPageToken string
}

type VideoMetadata struct {
	Title       string
	Description string
	Tags        []string
	Privacy     string
	CategoryID  string
	MadeForKids bool
	Language    string
}

type UploadProgress struct {
	BytesSent  int64
	TotalBytes int64
}

type UploadRequest struct {
	Body        io.Reader
	Size        int64
	ContentType string
	FileName    string
	Metadata    VideoMetadata
	// PublishAt asks the platform to publish at that time. Only honoured by
	// adapters with native scheduling.
	PublishAt *time.Time
	// Progress, when set, receives progress events. Sends never block, and the
	// adapter does not close the channel.
	Progress chan<- UploadProgress
}

type PublishRequest struct {
	VideoID   string
	Metadata  VideoMetadata
	PublishAt *time.Time
}

type Published struct {
	VideoID string `json:"videoId"`
	URL     string `json:"url"`
}

type Capabilities struct {
	// MinLeadTime is the minimum distance between now and a schedule's time.
	MinLeadTime time.Duration
	// NativeScheduling adapters receive the publish time and let the platform
	// flip the video public. NativeHandoff is how long before the due time
	// the publish is handed over.
	NativeScheduling bool
	NativeHandoff    time.Duration
	// PublishExisting reports whether a video already on the platform can be
	// the subject of a schedule.
	PublishExisting bool
	MaxUploadBytes  int64
}

type Adapter interface {
	Platform() models.Platform
	Capabilities() Capabilities
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, error)
	FetchProfile(ctx context.Context, token *Token) (*Profile, error)
	ListMedia(ctx context.Context, creds Credentials, pageToken string, pageSize int) (*MediaPage, error)
	GetMedia(ctx context.Context, creds Credentials, mediaID string) (*Media, error)
	Upload(ctx context.Context, creds Credentials, req *UploadRequest) (*Published, error)
	Publish(ctx context.Context, creds Credentials, req *PublishRequest) (*Published, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	Revoke(ctx context.Context, creds Credentials) error
}

// Options configures the HTTP clients shared by all adapters. HTTPClient is used
// for metadata calls and must carry a timeout; UploadClient is used for transfers,
// which are bounded by their context instead.
type Options struct {
	HTTPClient   *http.Client
	UploadClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.UploadClient == nil {
		o.UploadClient = &http.Client{}
	}
	return o
}

// Registry looks adapters up by platform name.
type Registry struct {
	adapters map[models.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Get(p models.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, apperr.Validationf("unsupported platform %q", p)
	}
	return a, nil
}

func (r *Registry) Platforms() []models.Platform {
	platforms := make([]models.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// ValidateUploadSize rejects empty files and files above the platform ceiling.
func ValidateUploadSize(p models.Platform, caps Capabilities, size int64) error {
	if size <= 0 {
		return apperr.Validation("video file is empty").WithPlatform(string(p))
	}
	if caps.MaxUploadBytes > 0 && size > caps.MaxUploadBytes {
		return apperr.Validationf("video exceeds the %d GiB %s upload limit", caps.MaxUploadBytes/gib, p).WithPlatform(string(p))
	}
	return nil
}

func clampPageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

func expiryFromSeconds(now time.Time, seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}

func notImplemented(p models.Platform, op string) error {
	return apperr.Validation(fmt.Sprintf("%s does not support %s", p, op)).WithPlatform(string(p))
}
