package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pulsegate/gateway/internal/config"
	"github.com/pulsegate/gateway/internal/store"
)

// RateLimiter admits or denies inbound messages per connection using a
// fixed window. The counter lives in the state store, so when the
// distributed backend is active the window is shared across gateway
// instances. The window is armed by the first message via the store's
// atomic increment-with-TTL; a burst straddling the window boundary can
// admit up to twice the limit, accepted for O(1) cost.
type RateLimiter struct {
	store  store.Store
	max    int64
	window time.Duration
	log    *zap.Logger
}

// NewRateLimiter creates a limiter from the throttling config.
func NewRateLimiter(st store.Store, cfg config.ThrottlingConfig, log *zap.Logger) *RateLimiter {
	return &RateLimiter{
		store:  st,
		max:    int64(cfg.MaxMessages),
		window: cfg.Window,
		log:    log,
	}
}

// TryConsume records one message against the connection's current window
// and reports whether it is admitted. Admission control must never take a
// connection down with it: when the counter is unavailable the message is
// admitted.
func (l *RateLimiter) TryConsume(ctx context.Context, connID string) bool {
	n, err := l.store.Increment(ctx, rateKey(connID), l.window)
	if err != nil {
		l.log.Warn("Rate counter unavailable, admitting message",
			zap.String("connection_id", connID),
			zap.Error(err))
		return true
	}
	if n > l.max {
		l.log.Debug("Rate limit exceeded",
			zap.String("connection_id", connID),
			zap.Int64("count", n),
			zap.Int64("max", l.max))
		return false
	}
	return true
}

// Reset discards the connection's current window, used on close so an id
// reused by the transport does not inherit a spent budget.
func (l *RateLimiter) Reset(ctx context.Context, connID string) {
	if err := l.store.Delete(ctx, rateKey(connID)); err != nil {
		l.log.Debug("Failed to reset rate window",
			zap.String("connection_id", connID),
			zap.Error(err))
	}
}

// Max returns the per-window message budget.
func (l *RateLimiter) Max() int64 {
	return l.max
}
