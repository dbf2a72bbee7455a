package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	config "github.com/videoblade/videoblade-api/configs"
	"github.com/videoblade/videoblade-api/internal/api/handlers"
	"github.com/videoblade/videoblade-api/pkg/utils"
	"go.uber.org/zap"
)

type AuthMiddleware struct {
	cfg    config.Config
	logger *zap.Logger
}

func NewAuthMiddleware(cfg config.Config, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, logger: logger.Named("auth")}
}

// AuthMiddleware accepts an identity token from the Authorization header or,
// failing that, the session cookie, and stores its subject as the user id.
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		fromCookie := false
		if tokenString == "" {
			tokenString = c.Cookies(m.cfg.CookieName)
			fromCookie = tokenString != ""
		}

		if tokenString == "" {
			return unauthorized(c, "missing authentication token")
		}

		claims, err := utils.ValidateToken(m.cfg.IdentitySecret, m.cfg.IdentityIssuer, tokenString)
		if err != nil {
			if fromCookie {
				c.Cookie(&fiber.Cookie{
					Name:   m.cfg.CookieName,
					Value:  "",
					Path:   "/",
					MaxAge: -1,
				})
			}

			m.logger.Debug("Token validation failed", zap.Error(err))
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals(handlers.UserIDKey, claims.Subject)
		return c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(handlers.ErrorResponse{
		Success: false,
		Error:   msg,
		Code:    "unauthorized",
	})
}
