package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TokenRefresher refreshes tokens that are about to expire. It is satisfied by
// the credential store.
type TokenRefresher interface {
	RefreshExpiring(ctx context.Context) (refreshed, failed int, err error)
}

type TokenRefreshJob struct {
	refresher TokenRefresher
	timeout   time.Duration
	logger    *zap.Logger
	guard     runGuard
}

func NewTokenRefreshJob(refresher TokenRefresher, timeout time.Duration, logger *zap.Logger) *TokenRefreshJob {
	return &TokenRefreshJob{
		refresher: refresher,
		timeout:   timeout,
		logger:    logger.Named("token_refresh_job"),
	}
}

// RefreshTokens is run by cron. A run is skipped while the previous one is
// still going.
func (j *TokenRefreshJob) RefreshTokens() {
	if !j.guard.start() {
		j.logger.Warn("previous token refresh still running, skipping")
		return
	}
	defer j.guard.done()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	refreshed, failed, err := j.refresher.RefreshExpiring(ctx)
	if err != nil {
		j.logger.Error("token refresh run failed", zap.Error(err))
		return
	}
	if refreshed+failed > 0 {
		j.logger.Info("refreshed expiring tokens", zap.Int("refreshed", refreshed), zap.Int("failed", failed))
	}
}
