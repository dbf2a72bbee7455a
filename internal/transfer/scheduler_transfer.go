package transfer

import (
	"encoding/json"
	"strings"
)

// Tags decodes from either a JSON array or a single comma separated string.
type Tags []string

func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = strings.Split(raw, ",")
	return nil
}

type VideoMetadata struct {
	Title       string `json:"title" validate:"max=5000"`
	Description string `json:"description" validate:"max=10000"`
	Tags        Tags   `json:"tags"`
	Privacy     string `json:"privacy" validate:"omitempty,oneof=private unlisted public"`
	CategoryID  string `json:"categoryId" validate:"max=32"`
	MadeForKids bool   `json:"madeForKids"`
	Language    string `json:"language" validate:"max=16"`
}

type ScheduleRequest struct {
	Platform      string `json:"platform" validate:"required,oneof=youtube facebook tiktok"`
	VideoID       string `json:"videoId" validate:"max=256"`
	ScheduledTime string `json:"scheduledTime" validate:"required"`
	Timezone      string `json:"timezone" validate:"max=64"`
	VideoMetadata
}

type ScheduleUpdateRequest struct {
	ScheduledTime *string `json:"scheduledTime"`
	Timezone      *string `json:"timezone" validate:"omitempty,max=64"`
	Title         *string `json:"title" validate:"omitempty,max=5000"`
	Description   *string `json:"description" validate:"omitempty,max=10000"`
	Tags          Tags    `json:"tags"`
	Privacy       *string `json:"privacy" validate:"omitempty,oneof=private unlisted public"`
}

type PostRequest struct {
	Platforms     []string          `json:"platforms" validate:"required,min=1,dive,oneof=youtube facebook tiktok"`
	VideoIDs      map[string]string `json:"videoIds"`
	ScheduledTime string            `json:"scheduledTime" validate:"required"`
	Timezone      string            `json:"timezone" validate:"max=64"`
	VideoMetadata
}
