package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"go.uber.org/zap"
)

const genericErrorMessage = "Something went wrong, please try again later"

type ErrorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Code     string `json:"code"`
	Action   string `json:"action,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ErrorHandler turns errors returned by handlers into JSON responses. The full
// error is only logged; internal details are hidden from clients in production.
func ErrorHandler(logger *zap.Logger, production bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, body := errorResponse(err, production)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		}
		if userID := GetUserID(c); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Info("request rejected", fields...)
		}

		return c.Status(status).JSON(body)
	}
}

func errorResponse(err error, production bool) (int, ErrorResponse) {
	if appErr, ok := apperr.As(err); ok {
		body := ErrorResponse{
			Error:    appErr.Message,
			Code:     appErr.Code,
			Action:   appErr.Action,
			Platform: appErr.Platform,
		}
		if appErr.Kind == apperr.KindInternal && production {
			body.Error = genericErrorMessage
		}
		return appErr.Kind.HTTPStatus(), body
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code, ErrorResponse{Error: fiberErr.Message, Code: codeForStatus(fiberErr.Code)}
	}

	body := ErrorResponse{Error: err.Error(), Code: apperr.KindInternal.String()}
	if production {
		body.Error = genericErrorMessage
	}
	return fiber.StatusInternalServerError, body
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return apperr.KindValidation.String()
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusNotFound:
		return apperr.KindNotFound.String()
	case fiber.StatusRequestEntityTooLarge:
		return "payload_too_large"
	}
	if status >= fiber.StatusInternalServerError {
		return apperr.KindInternal.String()
	}
	return "request_error"
}
