package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/h2non/filetype"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/platform"
)

const (
	DefaultVideoTitle = "Untitled Video"
	maxTags           = 500
	// filetype needs at most this many leading bytes to recognise a format.
	sniffLen = 261
)

// VideoInput is user supplied video metadata before normalisation.
type VideoInput struct {
	Title       string
	Description string
	Tags        []string
	Privacy     string
	CategoryID  string
	MadeForKids bool
	Language    string
}

// VideoFile is a video attached to a request.
type VideoFile struct {
	Reader   io.Reader
	Size     int64
	FileName string
}

// ParseTags accepts a JSON array or a comma separated list.
func ParseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		tags = strings.Split(raw, ",")
	}
	return NormalizeTags(tags)
}

// NormalizeTags trims tags, drops empty ones and keeps at most 500.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
		if len(out) == maxTags {
			break
		}
	}
	return out
}

// NormalizePrivacy maps anything unknown to private.
func NormalizePrivacy(privacy string) string {
	privacy = strings.ToLower(strings.TrimSpace(privacy))
	switch privacy {
	case models.PrivacyPublic, models.PrivacyUnlisted, models.PrivacyPrivate:
		return privacy
	}
	return models.PrivacyPrivate
}

func normalizeVideo(in VideoInput) VideoInput {
	out := in
	out.Title = strings.TrimSpace(in.Title)
	if out.Title == "" {
		out.Title = DefaultVideoTitle
	}
	out.Description = strings.TrimSpace(in.Description)
	out.Tags = NormalizeTags(in.Tags)
	out.Privacy = NormalizePrivacy(in.Privacy)
	return out
}

func (in VideoInput) metadata() platform.VideoMetadata {
	return platform.VideoMetadata{
		Title:       in.Title,
		Description: in.Description,
		Tags:        in.Tags,
		Privacy:     in.Privacy,
		CategoryID:  in.CategoryID,
		MadeForKids: in.MadeForKids,
		Language:    in.Language,
	}
}

func videoDataMetadata(v models.VideoData) platform.VideoMetadata {
	return platform.VideoMetadata{
		Title:       v.Title,
		Description: v.Description,
		Tags:        v.Tags,
		Privacy:     v.Privacy,
		CategoryID:  v.CategoryID,
		MadeForKids: v.MadeForKids,
		Language:    v.Language,
	}
}

// sniffVideo checks the leading bytes of r and returns a reader positioned at
// the start of the file together with its MIME type. Seekable readers are
// rewound rather than wrapped, so they keep working as seekable request bodies.
func sniffVideo(r io.Reader) (io.Reader, string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("read video header: %w", err)
	}
	head = head[:n]

	if !filetype.IsVideo(head) {
		return nil, "", apperr.Validation("file is not a supported video")
	}
	kind, err := filetype.Match(head)
	if err != nil {
		return nil, "", apperr.Validation("file is not a supported video")
	}

	if seeker, ok := r.(io.ReadSeeker); ok {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return nil, "", fmt.Errorf("rewind video: %w", err)
		}
		return seeker, kind.MIME.Value, nil
	}
	return io.MultiReader(bytes.NewReader(head), r), kind.MIME.Value, nil
}
