package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type Platform string

const (
	PlatformYouTube  Platform = "youtube"
	PlatformFacebook Platform = "facebook"
	PlatformTikTok   Platform = "tiktok"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformFacebook, PlatformTikTok:
		return true
	}
	return false
}

// SocialAccount is the single row kept per (user, platform). Token fields are
// encrypted while persisted and plaintext once handed out by the credential store.
type SocialAccount struct {
	ID               string          `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"user_id"`
	Platform         Platform        `db:"platform" json:"platform"`
	AccessToken      string          `db:"access_token" json:"-"`
	RefreshToken     string          `db:"refresh_token" json:"-"`
	PlatformUserID   string          `db:"platform_user_id" json:"platform_user_id"`
	PlatformUsername string          `db:"platform_username" json:"platform_username"`
	ProfilePicture   string          `db:"profile_picture_url" json:"profile_picture"`
	ExpiresAt        *time.Time      `db:"expires_at" json:"expires_at,omitempty"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	LastTokenRefresh *time.Time      `db:"last_token_refresh" json:"last_token_refresh,omitempty"`
	DisconnectedAt   *time.Time      `db:"disconnected_at" json:"disconnected_at,omitempty"`
	Metadata         AccountMetadata `db:"metadata" json:"metadata"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// NeedsRefresh reports whether the access token expires within window of now.
// Accounts without a known expiry are always refreshed.
func (sa *SocialAccount) NeedsRefresh(now time.Time, window time.Duration) bool {
	if sa.ExpiresAt == nil || sa.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(window).After(*sa.ExpiresAt)
}

// AccountMetadata holds the platform specific part of an account. Exactly one
// variant is set, matching the account's platform.
type AccountMetadata struct {
	YouTube  *YouTubeMetadata  `json:"youtube,omitempty"`
	Facebook *FacebookMetadata `json:"facebook,omitempty"`
	TikTok   *TikTokMetadata   `json:"tiktok,omitempty"`
}

type YouTubeMetadata struct {
	ChannelTitle string `json:"channel_title"`
	CustomURL    string `json:"custom_url,omitempty"`
}

type FacebookMetadata struct {
	UserID          string `json:"user_id"`
	PageID          string `json:"page_id"`
	PageName        string `json:"page_name"`
	PageAccessToken string `json:"page_access_token"`
}

type TikTokMetadata struct {
	OpenID      string `json:"open_id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username,omitempty"`
}

// Secrets returns pointers to every secret value carried by the metadata so that
// callers can encrypt or decrypt them in place.
func (m *AccountMetadata) Secrets() []*string {
	var secrets []*string
	if m.Facebook != nil {
		secrets = append(secrets, &m.Facebook.PageAccessToken)
	}
	return secrets
}

// Clone returns a deep copy, so that decrypting secrets never mutates a shared value.
func (m AccountMetadata) Clone() AccountMetadata {
	var cp AccountMetadata
	if m.YouTube != nil {
		yt := *m.YouTube
		cp.YouTube = &yt
	}
	if m.Facebook != nil {
		fb := *m.Facebook
		cp.Facebook = &fb
	}
	if m.TikTok != nil {
		tt := *m.TikTok
		cp.TikTok = &tt
	}
	return cp
}

func (m AccountMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *AccountMetadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = AccountMetadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return errors.New("unsupported metadata column type")
}
