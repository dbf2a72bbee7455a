package platform

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/transfer"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusUnauthorized, apperr.KindReauthRequired},
		{http.StatusForbidden, apperr.KindForbidden},
		{http.StatusNotFound, apperr.KindNotFound},
		{http.StatusTooManyRequests, apperr.KindQuotaExceeded},
		{http.StatusBadGateway, apperr.KindUpstreamUnavailable},
		{http.StatusBadRequest, apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := classifyStatus(models.PlatformFacebook, tt.status, "", nil)
			assert.Equal(t, tt.want, apperr.KindOf(err))

			e, ok := apperr.As(err)
			assert.True(t, ok)
			assert.Equal(t, "facebook", e.Platform)
		})
	}
}

func TestClassifyTransport(t *testing.T) {
	assert.True(t, apperr.Is(classifyTransport(models.PlatformTikTok, context.DeadlineExceeded), apperr.KindUpstreamUnavailable))
	assert.ErrorIs(t, classifyTransport(models.PlatformTikTok, context.Canceled), context.Canceled)

	already := apperr.NotFound("gone")
	assert.Same(t, already, classifyTransport(models.PlatformTikTok, already))
}

func TestClassifyOAuthInvalidGrant(t *testing.T) {
	err := classifyOAuth(models.PlatformYouTube, &oauth2.RetrieveError{
		Response:  &http.Response{StatusCode: http.StatusBadRequest},
		ErrorCode: "invalid_grant",
	})

	e, ok := apperr.As(err)
	assert.True(t, ok)
	assert.Equal(t, apperr.KindReauthRequired, e.Kind)
	assert.Equal(t, apperr.CodeInvalidGrant, e.Code)
}

func TestClassifyGoogle(t *testing.T) {
	quota := &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}
	assert.True(t, apperr.Is(classifyGoogle(quota), apperr.KindQuotaExceeded))

	forbidden := &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}
	assert.True(t, apperr.Is(classifyGoogle(forbidden), apperr.KindForbidden))

	unauthorized := &googleapi.Error{Code: http.StatusUnauthorized}
	assert.True(t, apperr.Is(classifyGoogle(unauthorized), apperr.KindReauthRequired))

	wrapped := fmt.Errorf("insert: %w", &googleapi.Error{Code: http.StatusServiceUnavailable})
	assert.True(t, apperr.Is(classifyGoogle(wrapped), apperr.KindUpstreamUnavailable))
}

func TestClassifyGraph(t *testing.T) {
	graph := func(code, subcode int) graphError {
		var g graphError
		g.Error.Code = code
		g.Error.ErrorSubcode = subcode
		g.Error.Message = "boom"
		return g
	}

	tests := []struct {
		name   string
		status int
		body   graphError
		want   apperr.Kind
	}{
		{"expired token", http.StatusBadRequest, graph(190, 463), apperr.KindReauthRequired},
		{"rate limited", http.StatusBadRequest, graph(4, 0), apperr.KindQuotaExceeded},
		{"page rate limited", http.StatusBadRequest, graph(80001, 0), apperr.KindQuotaExceeded},
		{"permission", http.StatusForbidden, graph(200, 0), apperr.KindForbidden},
		{"missing object", http.StatusBadRequest, graph(100, 33), apperr.KindNotFound},
		{"used code", http.StatusBadRequest, graph(100, 36009), apperr.KindReauthRequired},
		{"unknown", http.StatusInternalServerError, graph(1, 0), apperr.KindUpstreamUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(classifyGraph(tt.status, tt.body)))
		})
	}
}

func TestClassifyTikTok(t *testing.T) {
	tests := []struct {
		code string
		want apperr.Kind
	}{
		{"access_token_invalid", apperr.KindReauthRequired},
		{"rate_limit_exceeded", apperr.KindQuotaExceeded},
		{"spam_risk_too_many_posts", apperr.KindQuotaExceeded},
		{"scope_not_authorized", apperr.KindForbidden},
		{"internal_error", apperr.KindUpstreamUnavailable},
		{"invalid_params", apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classifyTikTok(http.StatusOK, transfer.TiktokError{Code: tt.code, Message: "x"})
			assert.Equal(t, tt.want, apperr.KindOf(err))
		})
	}
}
