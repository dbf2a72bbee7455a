// Package oauthstate issues and verifies the state parameter of OAuth redirects.
// A state is a signed token bound to one user and platform, and is accepted once.
package oauthstate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/models"
	"go.uber.org/zap"
)

const keyPrefix = "oauth_state:"

func errInvalidState() error {
	return apperr.Validation("invalid or expired OAuth state")
}

type claims struct {
	Platform models.Platform `json:"plt"`
	jwt.RegisteredClaims
}

type Manager struct {
	rdb    redis.Cmdable
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(rdb redis.Cmdable, secret string, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		rdb:    rdb,
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Issue returns a state for userID connecting platform. The nonce inside it is
// remembered until the state expires or is verified.
func (m *Manager) Issue(ctx context.Context, userID string, platform models.Platform) (string, error) {
	nonce, err := gonanoid.New(32)
	if err != nil {
		return "", apperr.Internal("generate state nonce", err)
	}

	now := m.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	state, err := token.SignedString(m.secret)
	if err != nil {
		return "", apperr.Internal("sign state", err)
	}

	if err := m.rdb.Set(ctx, keyPrefix+nonce, binding(userID, platform), m.ttl).Err(); err != nil {
		return "", apperr.Internal("store state nonce", err)
	}
	return state, nil
}

// Verify checks that state was issued to userID for platform and consumes it.
func (m *Manager) Verify(ctx context.Context, state, userID string, platform models.Platform) error {
	if state == "" {
		return apperr.Validation("missing OAuth state")
	}

	parsed, err := jwt.ParseWithClaims(state, &claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		m.logger.Debug("rejected oauth state", zap.Error(err))
		return errInvalidState()
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.ID == "" {
		return errInvalidState()
	}

	want := binding(userID, platform)
	if !equal(binding(c.Subject, c.Platform), want) {
		m.logger.Warn("oauth state bound to a different user or platform",
			zap.String("user_id", userID), zap.String("platform", string(platform)))
		return errInvalidState()
	}

	stored, err := m.rdb.GetDel(ctx, keyPrefix+c.ID).Result()
	if errors.Is(err, redis.Nil) {
		return errInvalidState()
	}
	if err != nil {
		return apperr.Internal("consume state nonce", err)
	}
	if !equal(stored, want) {
		return errInvalidState()
	}
	return nil
}

func binding(userID string, platform models.Platform) string {
	return fmt.Sprintf("%s:%s", userID, platform)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
