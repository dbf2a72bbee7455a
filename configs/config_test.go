package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("HTTP_TIMEOUT", "")
	t.Setenv("PUBLISH_MAX_ATTEMPTS", "")

	cfg := LoadConfig()

	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RefreshWindow)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.RunMigrations)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("HTTP_TIMEOUT", "45s")
	t.Setenv("PUBLISH_MAX_ATTEMPTS", "5")
	t.Setenv("RUN_MIGRATIONS", "false")
	t.Setenv("UPLOAD_TIMEOUT", "not-a-duration")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 45*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.RunMigrations)
	assert.Equal(t, 2*time.Hour, cfg.UploadTimeout)
}
