// Package credentials owns the lifecycle of connected platform accounts: tokens
// are encrypted at rest, refreshed on demand at most once at a time per account,
// and the account is deactivated when the platform reports the grant is gone.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/videoblade/videoblade-api/internal/apperr"
	"github.com/videoblade/videoblade-api/internal/metrics"
	"github.com/videoblade/videoblade-api/internal/models"
	"github.com/videoblade/videoblade-api/internal/platform"
	"github.com/videoblade/videoblade-api/internal/repository"
	"github.com/videoblade/videoblade-api/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type Options struct {
	// RefreshWindow is how close to expiry a token may get before it is refreshed.
	RefreshWindow time.Duration
	// UploadWindow is the stricter window used before long transfers.
	UploadWindow time.Duration
	// RefreshTimeout bounds one refresh call. A refresh is not cancelled when
	// the caller that started it goes away, since other callers share it.
	RefreshTimeout time.Duration
	// Concurrency bounds RefreshExpiring.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.RefreshWindow <= 0 {
		o.RefreshWindow = 5 * time.Minute
	}
	if o.UploadWindow <= 0 {
		o.UploadWindow = 30 * time.Minute
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 30 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

type Store struct {
	repo     repository.SocialAccountRepository
	adapters *platform.Registry
	cipher   *utils.TokenCipher
	opts     Options
	logger   *zap.Logger
	group    singleflight.Group
	locks    sync.Map // account key -> chan struct{}
	now      func() time.Time
}

func NewStore(
	repo repository.SocialAccountRepository,
	adapters *platform.Registry,
	cipher *utils.TokenCipher,
	opts Options,
	logger *zap.Logger) *Store {
	return &Store{
		repo:     repo,
		adapters: adapters,
		cipher:   cipher,
		opts:     opts.withDefaults(),
		logger:   logger.Named("credentials"),
		now:      time.Now,
	}
}

// CredentialsOf is the view of a decrypted account that adapters work with.
func CredentialsOf(sa *models.SocialAccount) platform.Credentials {
	return platform.Credentials{
		AccessToken:    sa.AccessToken,
		PlatformUserID: sa.PlatformUserID,
		Metadata:       sa.Metadata,
	}
}

// GetConnectedAccount returns the active account with a token valid for at
// least the refresh window, refreshing it first when needed.
func (s *Store) GetConnectedAccount(ctx context.Context, userID string, p models.Platform) (*models.SocialAccount, error) {
	return s.get(ctx, userID, p, s.opts.RefreshWindow, false)
}

// GetAccountForUpload is GetConnectedAccount with the upload window, so the
// token does not expire halfway through a transfer.
func (s *Store) GetAccountForUpload(ctx context.Context, userID string, p models.Platform) (*models.SocialAccount, error) {
	return s.get(ctx, userID, p, s.opts.UploadWindow, false)
}

// RefreshAccount refreshes the token regardless of its expiry.
func (s *Store) RefreshAccount(ctx context.Context, userID string, p models.Platform) (*models.SocialAccount, error) {
	return s.get(ctx, userID, p, s.opts.RefreshWindow, true)
}

func (s *Store) get(ctx context.Context, userID string, p models.Platform, window time.Duration, force bool) (*models.SocialAccount, error) {
	sa, err := s.active(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if !force && !sa.NeedsRefresh(s.now(), window) {
		return s.decrypt(sa)
	}
	return s.refresh(ctx, userID, p, window, force)
}

func (s *Store) active(ctx context.Context, userID string, p models.Platform) (*models.SocialAccount, error) {
	sa, err := s.repo.GetActive(ctx, userID, p)
	if err != nil {
		return nil, apperr.Internal("load social account", err)
	}
	if sa == nil {
		return nil, apperr.NotFound(fmt.Sprintf("no connected %s account", p)).WithPlatform(string(p))
	}
	return sa, nil
}

// refresh joins the in-flight refresh for (user, platform) or starts one. The
// caller may stop waiting when ctx ends; the refresh itself runs to completion.
// Forced and on-demand refreshes use separate flights so a forced caller never
// receives a token that was read before it asked. Both take the account lock
// before calling the platform.
func (s *Store) refresh(ctx context.Context, userID string, p models.Platform, window time.Duration, force bool) (*models.SocialAccount, error) {
	key := accountKey(userID, p)
	flight := key
	if force {
		flight += ":force"
	}

	ch := s.group.DoChan(flight, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RefreshTimeout)
		defer cancel()
		unlock, err := s.lock(rctx, key)
		if err != nil {
			return nil, apperr.UpstreamUnavailable(fmt.Sprintf("%s: token refresh timed out", p), err).WithPlatform(string(p))
		}
		defer unlock()
		return s.doRefresh(rctx, userID, p, window, force)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.(*models.SocialAccount)
		cp := *shared
		cp.Metadata = shared.Metadata.Clone()
		return &cp, nil
	}
}

func accountKey(userID string, p models.Platform) string {
	return userID + ":" + string(p)
}

// lock serializes calls to the platform's token endpoint for one account, so
// a rotated refresh token is never presented twice.
func (s *Store) lock(ctx context.Context, key string) (func(), error) {
	v, _ := s.locks.LoadOrStore(key, make(chan struct{}, 1))
	sem := v.(chan struct{})
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) doRefresh(ctx context.Context, userID string, p models.Platform, window time.Duration, force bool) (*models.SocialAccount, error) {
	// Re-read inside the flight: another instance may have refreshed already.
	current, err := s.active(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if !force && !current.NeedsRefresh(s.now(), window) {
		return s.decrypt(current)
	}

	plain, err := s.decrypt(current)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("user_id", userID), zap.String("platform", string(p)), zap.String("account_id", current.ID))

	tok, err := adapter.Refresh(ctx, plain.RefreshToken)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(string(p), "failed").Inc()
		return nil, s.refreshFailed(ctx, log, current, err)
	}

	now := s.now()
	expiresAt := expiry(tok)
	update := &models.SocialAccount{ExpiresAt: expiresAt}
	if update.AccessToken, err = s.cipher.Encrypt(tok.AccessToken); err != nil {
		return nil, apperr.Internal("encrypt access token", err)
	}
	if update.RefreshToken, err = s.cipher.Encrypt(tok.RefreshToken); err != nil {
		return nil, apperr.Internal("encrypt refresh token", err)
	}

	updated, err := s.repo.SetToken(ctx, current.ID, current.AccessToken, update)
	if err != nil {
		return nil, apperr.Internal("store refreshed token", err)
	}
	if !updated {
		// Lost the race against another writer; its token is just as good.
		log.Info("token was refreshed concurrently, using stored token")
		latest, err := s.active(ctx, userID, p)
		if err != nil {
			return nil, err
		}
		return s.decrypt(latest)
	}

	metrics.TokenRefreshes.WithLabelValues(string(p), "success").Inc()
	log.Info("refreshed access token")

	plain.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		plain.RefreshToken = tok.RefreshToken
	}
	plain.ExpiresAt = expiresAt
	plain.LastTokenRefresh = &now
	return plain, nil
}

// refreshFailed deactivates the account when the grant is gone. Any other
// failure leaves the account active and is reported as temporary.
func (s *Store) refreshFailed(ctx context.Context, log *zap.Logger, sa *models.SocialAccount, err error) error {
	if apperr.Is(err, apperr.KindReauthRequired) {
		log.Warn("refresh rejected, deactivating account", zap.Error(err))
		if derr := s.repo.DeactivateByID(ctx, sa.ID); derr != nil {
			log.Error("failed to deactivate account", zap.Error(derr))
		}
		return err
	}

	log.Warn("token refresh failed", zap.Error(err))
	if apperr.Retryable(err) {
		return err
	}
	return apperr.UpstreamUnavailable(fmt.Sprintf("%s: token refresh failed", sa.Platform), err).WithPlatform(string(sa.Platform))
}

// UpsertAccount stores the result of a completed OAuth exchange. Reconnecting
// overwrites the existing row for (user, platform) and reactivates it.
func (s *Store) UpsertAccount(ctx context.Context, userID string, p models.Platform, tok *platform.Token, profile *platform.Profile) (*models.SocialAccount, error) {
	sa := &models.SocialAccount{
		ID:               uuid.NewString(),
		UserID:           userID,
		Platform:         p,
		AccessToken:      tok.AccessToken,
		RefreshToken:     tok.RefreshToken,
		PlatformUserID:   profile.ID,
		PlatformUsername: profile.Username,
		ProfilePicture:   profile.AvatarURL,
		ExpiresAt:        expiry(tok),
		Metadata:         profile.Metadata.Clone(),
	}
	if err := s.encrypt(sa); err != nil {
		return nil, err
	}

	saved, err := s.repo.Upsert(ctx, sa)
	if err != nil {
		return nil, apperr.Internal("save social account", err)
	}
	s.logger.Info("connected account",
		zap.String("user_id", userID), zap.String("platform", string(p)), zap.String("platform_user_id", profile.ID))
	return s.decrypt(saved)
}

// Deactivate disconnects the account and revokes its token. Revocation is best
// effort; the account is disconnected even when the platform refuses.
func (s *Store) Deactivate(ctx context.Context, userID string, p models.Platform) error {
	sa, err := s.repo.Deactivate(ctx, userID, p)
	if err != nil {
		return apperr.Internal("deactivate social account", err)
	}
	if sa == nil {
		return apperr.NotFound(fmt.Sprintf("no connected %s account", p)).WithPlatform(string(p))
	}

	log := s.logger.With(zap.String("user_id", userID), zap.String("platform", string(p)))
	log.Info("disconnected account")

	plain, err := s.decrypt(sa)
	if err != nil {
		log.Warn("cannot decrypt token for revocation", zap.Error(err))
		return nil
	}
	adapter, err := s.adapters.Get(p)
	if err != nil {
		return nil
	}
	if err := adapter.Revoke(ctx, CredentialsOf(plain)); err != nil {
		log.Warn("token revocation failed", zap.Error(err))
	}
	return nil
}

// ListAccounts returns the user's active accounts with tokens stripped.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]*models.SocialAccount, error) {
	accounts, err := s.repo.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("list social accounts", err)
	}
	for _, sa := range accounts {
		sa.AccessToken = ""
		sa.RefreshToken = ""
		for _, secret := range sa.Metadata.Secrets() {
			*secret = ""
		}
	}
	return accounts, nil
}

// RefreshExpiring refreshes every active account whose token expires within
// the upload window. Failures are logged and counted, not returned.
func (s *Store) RefreshExpiring(ctx context.Context) (refreshed, failed int, err error) {
	accounts, err := s.repo.ListExpiring(ctx, s.now().Add(s.opts.UploadWindow))
	if err != nil {
		return 0, 0, apperr.Internal("list expiring accounts", err)
	}

	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, sa := range accounts {
		g.Go(func() error {
			if _, err := s.get(gctx, sa.UserID, sa.Platform, s.opts.UploadWindow, false); err != nil {
				bad.Add(1)
				s.logger.Warn("scheduled token refresh failed",
					zap.String("account_id", sa.ID), zap.String("platform", string(sa.Platform)), zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load()), nil
}

func (s *Store) encrypt(sa *models.SocialAccount) error {
	var err error
	if sa.AccessToken, err = s.cipher.Encrypt(sa.AccessToken); err != nil {
		return apperr.Internal("encrypt access token", err)
	}
	if sa.RefreshToken, err = s.cipher.Encrypt(sa.RefreshToken); err != nil {
		return apperr.Internal("encrypt refresh token", err)
	}
	for _, secret := range sa.Metadata.Secrets() {
		if *secret, err = s.cipher.Encrypt(*secret); err != nil {
			return apperr.Internal("encrypt account secret", err)
		}
	}
	return nil
}

// decrypt returns a plaintext copy; the stored row keeps its ciphertext so it
// can still be used as the compare value of SetToken.
func (s *Store) decrypt(sa *models.SocialAccount) (*models.SocialAccount, error) {
	cp := *sa
	cp.Metadata = sa.Metadata.Clone()

	var err error
	if cp.AccessToken, err = s.cipher.Decrypt(sa.AccessToken); err != nil {
		return nil, apperr.Internal("decrypt access token", err)
	}
	if cp.RefreshToken, err = s.cipher.Decrypt(sa.RefreshToken); err != nil {
		return nil, apperr.Internal("decrypt refresh token", err)
	}
	for _, secret := range cp.Metadata.Secrets() {
		if *secret, err = s.cipher.Decrypt(*secret); err != nil {
			return nil, apperr.Internal("decrypt account secret", err)
		}
	}
	return &cp, nil
}

func expiry(tok *platform.Token) *time.Time {
	if tok.ExpiresAt.IsZero() {
		return nil
	}
	t := tok.ExpiresAt
	return &t
}
