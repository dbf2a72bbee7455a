package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/transfer"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

var googleQuotaReasons = map[string]bool{
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"uploadLimitExceeded":   true,
}

// classifyStatus maps a bare HTTP status returned by a platform to an apperr kind.
func classifyStatus(p models.Platform, status int, msg string, cause error) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("%s: %s", p, msg)

	var e *apperr.Error
	switch {
	case status == http.StatusUnauthorized:
		e = apperr.ReauthRequired(msg, cause)
	case status == http.StatusForbidden:
		e = apperr.Forbidden(msg, cause)
	case status == http.StatusNotFound:
		e = apperr.NotFound(msg)
		e.Err = cause
	case status == http.StatusTooManyRequests:
		e = apperr.QuotaExceeded(msg, cause)
	case status >= 500:
		e = apperr.UpstreamUnavailable(msg, cause)
	case status >= 400:
		e = apperr.Validation(msg)
		e.Err = cause
	default:
		e = apperr.Internal(msg, cause)
	}
	return e.WithPlatform(string(p))
}

// classifyTransport handles errors raised before a response was received.
func classifyTransport(p models.Platform, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.UpstreamUnavailable(fmt.Sprintf("%s: request timed out", p), err).WithPlatform(string(p))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.UpstreamUnavailable(fmt.Sprintf("%s: request failed", p), err).WithPlatform(string(p))
}

// classifyOAuth maps token endpoint failures. invalid_grant means the code or
// refresh token is dead and the user has to reconnect.
func classifyOAuth(p models.Platform, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == apperr.CodeInvalidGrant {
			return apperr.InvalidGrant(fmt.Sprintf("%s: authorization expired or already used", p), err).WithPlatform(string(p))
		}
		status := http.StatusBadRequest
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return classifyStatus(p, status, retrieveErr.ErrorDescription, err)
	}
	return classifyTransport(p, err)
}

// classifyGoogle maps errors coming out of the generated YouTube client.
func classifyGoogle(err error) error {
	p := models.PlatformYouTube

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return classifyOAuth(p, err)
	}

	for _, item := range gerr.Errors {
		if googleQuotaReasons[item.Reason] {
			return apperr.QuotaExceeded("youtube: API quota exceeded, try again later", err).WithPlatform(string(p))
		}
	}
	if gerr.Code == http.StatusUnauthorized {
		return apperr.ReauthRequired("youtube: access was revoked or expired", err).WithPlatform(string(p))
	}
	return classifyStatus(p, gerr.Code, gerr.Message, err)
}

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		IsTransient  bool   `json:"is_transient"`
	} `json:"error"`
}

// classifyGraph maps Facebook Graph API error envelopes.
func classifyGraph(status int, body graphError) error {
	p := models.PlatformFacebook
	e := body.Error
	msg := fmt.Sprintf("facebook: %s", e.Message)
	cause := fmt.Errorf("graph error code=%d subcode=%d type=%s", e.Code, e.ErrorSubcode, e.Type)

	switch {
	case e.Code == 100 && (e.ErrorSubcode == 36007 || e.ErrorSubcode == 36009):
		return apperr.InvalidGrant(msg, cause).WithPlatform(string(p))
	case e.Code == 100 && e.ErrorSubcode == 33:
		return apperr.NotFound(msg).WithPlatform(string(p))
	case e.Code == 190 || e.Code == 102:
		return apperr.ReauthRequired(msg, cause).WithPlatform(string(p))
	case e.Code == 4 || e.Code == 17 || e.Code == 32 || e.Code == 613 || (e.Code >= 80001 && e.Code <= 80014):
		return apperr.QuotaExceeded(msg, cause).WithPlatform(string(p))
	case e.Code == 10 || (e.Code >= 200 && e.Code < 300):
		return apperr.Forbidden(msg, cause).WithPlatform(string(p))
	case e.IsTransient || e.Code == 1 || e.Code == 2:
		return apperr.UpstreamUnavailable(msg, cause).WithPlatform(string(p))
	}
	return classifyStatus(p, status, e.Message, cause)
}

func tiktokFailed(e transfer.TiktokError) bool {
	return e.Code != "" && e.Code != "ok"
}

// classifyTikTok maps the error object TikTok attaches to every v2 response.
func classifyTikTok(status int, e transfer.TiktokError) error {
	p := models.PlatformTikTok
	msg := fmt.Sprintf("tiktok: %s", e.Message)
	cause := fmt.Errorf("tiktok error code=%s log_id=%s", e.Code, e.LogID)

	switch {
	case e.Code == "access_token_invalid" || status == http.StatusUnauthorized:
		return apperr.ReauthRequired(msg, cause).WithPlatform(string(p))
	case e.Code == "rate_limit_exceeded" || strings.HasPrefix(e.Code, "spam_risk"):
		return apperr.QuotaExceeded(msg, cause).WithPlatform(string(p))
	case e.Code == "scope_not_authorized" || e.Code == "unaudited_client_can_only_post_to_private_accounts":
		return apperr.Forbidden(msg, cause).WithPlatform(string(p))
	case e.Code == "internal_error":
		return apperr.UpstreamUnavailable(msg, cause).WithPlatform(string(p))
	}
	if status < 400 {
		status = http.StatusBadRequest
	}
	return classifyStatus(p, status, e.Message, cause)
}
