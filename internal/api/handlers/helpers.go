package handlers

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/service"
	"github.com/videoblade/videoblade-api/internal/transfer"
)

const UserIDKey = "user_id"

func GetUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals(UserIDKey).(string)
	return userID
}

func platformParam(c *fiber.Ctx) (models.Platform, error) {
	p := models.Platform(strings.ToLower(c.Params("platform")))
	if !p.Valid() {
		return "", apperr.Validationf("unsupported platform %q", c.Params("platform"))
	}
	return p, nil
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, apperr.Validationf("field '%s' must be an RFC 3339 timestamp", field)
	}
	return t, nil
}

func parseOptionalTime(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseTime(field, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// formVideo opens the uploaded file in field. It returns nil when the request
// carries no such file.
func formVideo(c *fiber.Ctx, field string) (*service.VideoFile, io.Closer, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil, apperr.Validation("unable to parse form")
	}
	files := form.File[field]
	if len(files) == 0 {
		return nil, nil, nil
	}

	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, nil, apperr.Internal("open uploaded file", err)
	}
	return &service.VideoFile{Reader: f, Size: fh.Size, FileName: fh.Filename}, f, nil
}

// formMetadata reads video metadata fields from a multipart form.
func formMetadata(c *fiber.Ctx) transfer.VideoMetadata {
	madeForKids, _ := strconv.ParseBool(c.FormValue("madeForKids"))
	return transfer.VideoMetadata{
		Title:       c.FormValue("title"),
		Description: c.FormValue("description"),
		Tags:        service.ParseTags(c.FormValue("tags")),
		Privacy:     c.FormValue("privacy"),
		CategoryID:  c.FormValue("categoryId"),
		MadeForKids: madeForKids,
		Language:    c.FormValue("language"),
	}
}

func videoInput(m transfer.VideoMetadata) service.VideoInput {
	return service.VideoInput{
		Title:       m.Title,
		Description: m.Description,
		Tags:        m.Tags,
		Privacy:     m.Privacy,
		CategoryID:  m.CategoryID,
		MadeForKids: m.MadeForKids,
		Language:    m.Language,
	}
}
