package handlers

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/service"
	"github.com/videoblade/videoblade-api/internal/transfer"
)

type PostHandler struct {
	s service.SchedulerService
}

func NewPostHandler(s service.SchedulerService) *PostHandler {
	return &PostHandler{s: s}
}

// CreatePost schedules one video for several platforms at once. Multipart
// requests carry the file in "video" and the platform list in "platforms"
// as either a JSON array or a comma separated string.
func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	var (
		req   transfer.PostRequest
		video *service.VideoFile
	)
	if isMultipart(c) {
		file, closer, err := formVideo(c, "video")
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}
		video = file

		req = transfer.PostRequest{
			Platforms:     service.ParseTags(strings.ToLower(c.FormValue("platforms"))),
			ScheduledTime: c.FormValue("scheduledTime"),
			Timezone:      c.FormValue("timezone"),
			VideoMetadata: formMetadata(c),
		}
		if raw := c.FormValue("videoIds"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.VideoIDs); err != nil {
				return apperr.Validation("field 'videoIds' must be a JSON object")
			}
		}
	} else if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}

	if err := transfer.Validate(&req); err != nil {
		return err
	}
	at, err := parseTime("scheduledTime", req.ScheduledTime)
	if err != nil {
		return err
	}

	in := service.PostInput{
		Platforms:     make([]models.Platform, 0, len(req.Platforms)),
		VideoIDs:      make(map[models.Platform]string, len(req.VideoIDs)),
		Video:         video,
		ScheduledTime: at,
		Timezone:      req.Timezone,
		Metadata:      videoInput(req.VideoMetadata),
	}
	for _, p := range req.Platforms {
		in.Platforms = append(in.Platforms, models.Platform(p))
	}
	for p, id := range req.VideoIDs {
		p := models.Platform(strings.ToLower(p))
		if !p.Valid() {
			return apperr.Validationf("unsupported platform %q in videoIds", p)
		}
		in.VideoIDs[p] = strings.TrimSpace(id)
	}

	details, err := h.s.CreatePost(c.Context(), GetUserID(c), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(details)
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	details, err := h.s.GetPost(c.Context(), GetUserID(c), c.Params("postId"))
	if err != nil {
		return err
	}
	return c.JSON(details)
}
