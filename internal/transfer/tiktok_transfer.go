package transfer

// Wire shapes of the TikTok v2 APIs. Every v2 response carries an error object;
// Code is "ok" on success.

type TiktokError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type TiktokTokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	OpenID           string `json:"open_id"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	// The token endpoint reports failures with OAuth style fields instead of
	// the error object.
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	LogID            string `json:"log_id"`
}

type TiktokUser struct {
	OpenID      string `json:"open_id"`
	AvatarURL   string `json:"avatar_url"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
}

type TikTokUserResponse struct {
	Data struct {
		User TiktokUser `json:"user"`
	} `json:"data"`
	Error TiktokError `json:"error"`
}

type TiktokVideo struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	VideoDescription string `json:"video_description"`
	CreateTime       int64  `json:"create_time"`
	CoverImageURL    string `json:"cover_image_url"`
	ShareURL         string `json:"share_url"`
	Duration         int64  `json:"duration"`
	ViewCount        int64  `json:"view_count"`
	LikeCount        int64  `json:"like_count"`
	CommentCount     int64  `json:"comment_count"`
}

type TiktokVideoListRequest struct {
	MaxCount int   `json:"max_count"`
	Cursor   int64 `json:"cursor,omitempty"`
}

type TiktokVideoQueryRequest struct {
	Filters struct {
		VideoIDs []string `json:"video_ids"`
	} `json:"filters"`
}

type TiktokVideoListResponse struct {
	Data struct {
		Videos  []TiktokVideo `json:"videos"`
		Cursor  int64         `json:"cursor"`
		HasMore bool          `json:"has_more"`
	} `json:"data"`
	Error TiktokError `json:"error"`
}

type VideoPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type VideoSourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int64  `json:"video_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunkCount int64  `json:"total_chunk_count"`
}

type VideoInitRequest struct {
	PostInfo   VideoPostInfo   `json:"post_info"`
	SourceInfo VideoSourceInfo `json:"source_info"`
}

type TiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error TiktokError `json:"error"`
}

type TiktokRevokeResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
