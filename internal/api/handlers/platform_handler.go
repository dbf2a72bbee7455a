package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/logger"
	"github.com/videoblade/videoblade-api/internal/platform"
	"github.com/videoblade/videoblade-api/internal/service"
	"go.uber.org/zap"
)

type PlatformHandler struct {
	s      service.AccountService
	logger *zap.Logger
}

func NewPlatformHandler(s service.AccountService, logger *zap.Logger) *PlatformHandler {
	return &PlatformHandler{s: s, logger: logger.Named("platform_handler")}
}

func (h *PlatformHandler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.s.ListAccounts(c.Context(), GetUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"accounts": accounts})
}

func (h *PlatformHandler) AuthURL(c *fiber.Ctx) error {
	p, err := platformParam(c)
	if err != nil {
		return err
	}

	authURL, err := h.s.AuthURL(c.Context(), GetUserID(c), p)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"authUrl": authURL})
}

func (h *PlatformHandler) Callback(c *fiber.Ctx) error {
	p, err := platformParam(c)
	if err != nil {
		return err
	}
	if denied := c.Query("error"); denied != "" {
		return apperr.Validationf("authorization was not granted: %s", denied).WithPlatform(string(p))
	}

	account, err := h.s.Connect(c.Context(), GetUserID(c), p, c.Query("code"), c.Query("state"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"connected": true,
		"account": fiber.Map{
			"id":       account.ID,
			"username": account.Username,
		},
	})
}

func (h *PlatformHandler) Account(c *fiber.Ctx) error {
	p, err := platformParam(c)
	if err != nil {
		return err
	}

	status, err := h.s.Account(c.Context(), GetUserID(c), p)
	if err != nil {
		return err
	}
	return c.JSON(status)
}

func (h *PlatformHandler) ListVideos(c *fiber.Ctx) error {
	p, err := platformParam(c)
	if err != nil {
		return err
	}

	videos, err := h.s.ListVideos(c.Context(), GetUserID(c), p, c.Query("pageToken"), c.QueryInt("pageSize", 0))
	if err != nil {
		return err
	}
	return c.JSON(videos)
}

func (h *PlatformHandler) Upload(c *fiber.Ctx) error {
	p, err := platformParam(c)
	if err != nil {
		return err
	}

	file, closer, err := formVideo(c, "video")
	if err != nil {
		return err
	}
	if file == nil {
		return apperr.Validation("field 'video' is required")
	}
	defer closer.Close()

	// Unknown privacy values are coerced to private by the service.
	meta := formMetadata(c)

	userID := GetUserID(c)
	log := logger.WithUserID(h.logger, userID).With(zap.String("platform", string(p)))
	progress := make(chan platform.UploadProgress, 16)
	go func() {
		for ev := range progress {
			log.Debug("upload progress", zap.Int64("sent", ev.BytesSent), zap.Int64("total", ev.TotalBytes))
		}
	}()

	published, err := h.s.Upload(c.Context(), userID, p, *file, videoInput(meta), progress)
	if err != nil {
		return err
	}
	return c.JSON(published)
}

func (h *PlatformHandler) Disconnect(c *fiber.Ctx) error {
	p, err := platformParam(c)
	if err != nil {
		return err
	}

	if err := h.s.Disconnect(c.Context(), GetUserID(c), p); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account disconnected",
	})
}

func (h *PlatformHandler) RefreshToken(c *fiber.Ctx) error {
	p, err := platformParam(c)
	if err != nil {
		return err
	}

	expiresAt, err := h.s.RefreshToken(c.Context(), GetUserID(c), p)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"expiresAt": expiresAt,
	})
}
