package service

import (
	"time"

	"github.com/videoblade/videoblade-api/internal/apperr"
)

// RetryPolicy decides whether a failed publish attempt is tried again.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// QuotaDelay replaces the backoff when the platform quota is exhausted.
	QuotaDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Minute
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Hour
	}
	if p.QuotaDelay <= 0 {
		p.QuotaDelay = time.Hour
	}
	return p
}

// Next returns the delay before the next attempt after attempts have failed
// with err as the latest failure. ok is false when the schedule should fail.
func (p RetryPolicy) Next(attempts int, err error) (delay time.Duration, ok bool) {
	if !apperr.Retryable(err) || attempts >= p.MaxAttempts {
		return 0, false
	}
	if apperr.Is(err, apperr.KindQuotaExceeded) {
		return p.QuotaDelay, true
	}

	delay = p.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay, true
		}
	}
	return min(delay, p.MaxDelay), true
}
