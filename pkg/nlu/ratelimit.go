package nlu

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/kvs"
	"github.com/ekaya-inc/nlu-engine/pkg/models"
)

// rateWindowKey is the bot-scoped kvs key holding the current hourly window.
const rateWindowKey = "nlu/requestCounter"

// RateLimiter enforces a per-bot hourly quota on provider calls. The window
// is wall-clock aligned: the counter resets when the hour bucket changes,
// not a rolling 60 minutes after the first request.
type RateLimiter struct {
	botID  string
	kvs    kvs.Store
	quota  int
	now    func() time.Time
	logger *zap.Logger
}

// NewRateLimiter creates a limiter for one bot. A quota of zero or less
// disables limiting.
func NewRateLimiter(botID string, store kvs.Store, quota int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		botID:  botID,
		kvs:    store,
		quota:  quota,
		now:    time.Now,
		logger: logger.Named("ratelimit").With(zap.String("botId", botID)),
	}
}

// Allow consumes one request from the current window. It returns a rate
// limit error once the quota is exhausted, so the quota-th call succeeds and
// the call after it fails until the next hour.
func (l *RateLimiter) Allow(ctx context.Context) error {
	if l.quota <= 0 {
		return nil
	}

	bucket := l.now().Truncate(time.Hour)

	var window models.RateWindow
	err := l.kvs.Get(ctx, l.botID, rateWindowKey, &window)
	if err != nil && err != kvs.ErrKeyNotFound {
		// Losing the counter is preferable to blocking traffic.
		l.logger.Warn("failed to read rate window, allowing request", zap.Error(err))
		return nil
	}

	if !window.HourBucket.Equal(bucket) {
		window = models.RateWindow{HourBucket: bucket}
	}

	window.RequestCount++
	if err := l.kvs.Set(ctx, l.botID, rateWindowKey, window); err != nil {
		l.logger.Warn("failed to persist rate window", zap.Error(err))
	}

	if window.RequestCount > l.quota {
		l.logger.Warn("hourly provider quota exceeded",
			zap.Int("quota", l.quota),
			zap.Int("count", window.RequestCount))
		return NewRateLimitError(l.botID, l.quota)
	}
	return nil
}
