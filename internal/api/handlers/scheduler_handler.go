package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/repository"
	"github.com/videoblade/videoblade-api/internal/service"
	"github.com/videoblade/videoblade-api/internal/transfer"
)

type SchedulerHandler struct {
	s service.SchedulerService
}

func NewSchedulerHandler(s service.SchedulerService) *SchedulerHandler {
	return &SchedulerHandler{s: s}
}

func (h *SchedulerHandler) Create(c *fiber.Ctx) error {
	var (
		req   transfer.ScheduleRequest
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
		req = transfer.ScheduleRequest{
			Platform:      strings.ToLower(c.FormValue("platform")),
			VideoID:       c.FormValue("videoId"),
			ScheduledTime: c.FormValue("scheduledTime"),
			Timezone:      c.FormValue("timezone"),
			VideoMetadata: formMetadata(c),
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

	schedule, err := h.s.CreateSchedule(c.Context(), GetUserID(c), service.ScheduleInput{
		Platform:      models.Platform(req.Platform),
		VideoID:       strings.TrimSpace(req.VideoID),
		Video:         video,
		ScheduledTime: at,
		Timezone:      req.Timezone,
		Metadata:      videoInput(req.VideoMetadata),
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"schedule": schedule})
}

func (h *SchedulerHandler) List(c *fiber.Ctx) error {
	filter := repository.ScheduleFilter{
		Status:   models.ScheduleStatus(strings.ToLower(c.Query("status"))),
		Platform: models.Platform(strings.ToLower(c.Query("platform"))),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return apperr.Validationf("unknown status %q", c.Query("status"))
	}
	if filter.Platform != "" && !filter.Platform.Valid() {
		return apperr.Validationf("unsupported platform %q", c.Query("platform"))
	}

	var err error
	if filter.From, err = parseOptionalTime("from", c.Query("from")); err != nil {
		return err
	}
	if filter.To, err = parseOptionalTime("to", c.Query("to")); err != nil {
		return err
	}

	schedules, err := h.s.List(c.Context(), GetUserID(c), filter)
	if err != nil {
		return err
	}
	if schedules == nil {
		schedules = []*models.Schedule{}
	}
	return c.JSON(schedules)
}

func (h *SchedulerHandler) Get(c *fiber.Ctx) error {
	schedule, err := h.s.Get(c.Context(), GetUserID(c), c.Params("scheduleId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"schedule": schedule})
}

func (h *SchedulerHandler) Attempts(c *fiber.Ctx) error {
	attempts, err := h.s.History(c.Context(), GetUserID(c), c.Params("scheduleId"))
	if err != nil {
		return err
	}
	if attempts == nil {
		attempts = []*models.PublishAttempt{}
	}
	return c.JSON(fiber.Map{"attempts": attempts})
}

func (h *SchedulerHandler) Update(c *fiber.Ctx) error {
	var req transfer.ScheduleUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := transfer.Validate(&req); err != nil {
		return err
	}

	update := service.ScheduleUpdate{
		Timezone:    req.Timezone,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
		Privacy:     req.Privacy,
	}
	if req.ScheduledTime != nil {
		at, err := parseTime("scheduledTime", *req.ScheduledTime)
		if err != nil {
			return err
		}
		update.ScheduledTime = &at
	}

	schedule, err := h.s.Update(c.Context(), GetUserID(c), c.Params("scheduleId"), update)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"schedule": schedule})
}

func (h *SchedulerHandler) Cancel(c *fiber.Ctx) error {
	schedule, err := h.s.Cancel(c.Context(), GetUserID(c), c.Params("scheduleId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"schedule": schedule})
}
