package transfer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/videoblade/videoblade-api/internal/apperr"
)

func TestTagsUnmarshal(t *testing.T) {
	var req ScheduleRequest
	require.NoError(t, json.Unmarshal([]byte(`{"tags":["a","b"]}`), &req))
	assert.Equal(t, Tags{"a", "b"}, req.Tags)

	require.NoError(t, json.Unmarshal([]byte(`{"tags":"a, b"}`), &req))
	assert.Equal(t, Tags{"a", " b"}, req.Tags)

	assert.Error(t, json.Unmarshal([]byte(`{"tags":12}`), &req))
}

func TestValidate(t *testing.T) {
	valid := ScheduleRequest{Platform: "youtube", ScheduledTime: "2030-01-01T10:00:00Z"}
	assert.NoError(t, Validate(&valid))

	tests := []struct {
		name string
		req  any
		msg  string
	}{
		{"missing platform", &ScheduleRequest{ScheduledTime: "x"}, "field 'platform' is required"},
		{"unknown platform", &ScheduleRequest{Platform: "myspace", ScheduledTime: "x"}, "field 'platform' must be one of: youtube facebook tiktok"},
		{"bad privacy", &ScheduleRequest{Platform: "youtube", ScheduledTime: "x", VideoMetadata: VideoMetadata{Privacy: "friends"}}, "field 'privacy' must be one of: private unlisted public"},
		{"no platforms", &PostRequest{ScheduledTime: "x"}, "field 'platforms' is required"},
		{"bad post platform", &PostRequest{Platforms: []string{"youtube", "vine"}, ScheduledTime: "x"}, "field 'platforms[1]' must be one of: youtube facebook tiktok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
			assert.Equal(t, tt.msg, err.Error())
		})
	}
}
