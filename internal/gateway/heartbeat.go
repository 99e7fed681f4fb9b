package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/pulsegate/gateway/internal/errors"
	"github.com/pulsegate/gateway/internal/metrics"
)

// Heartbeat sweeps all registered connections on a fixed interval. Idle
// connections past the timeout get a best-effort timeout frame and are
// evicted; live ones get a ping. Liveness is judged on the next tick by
// whether last activity advanced, never by blocking on the pong. The sweep
// also drains connections flagged by failed broadcast sends.
type Heartbeat struct {
	gw       *Gateway
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger

	mu    sync.Mutex
	stale map[string]struct{}
}

func newHeartbeat(gw *Gateway, interval, timeout time.Duration, log *zap.Logger) *Heartbeat {
	return &Heartbeat{
		gw:       gw,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		log:      log,
		stale:    make(map[string]struct{}),
	}
}

// FlagStale schedules a connection for eviction on the next sweep. Used by
// the broadcast path so the subscriber set is never mutated while it is
// being iterated.
func (h *Heartbeat) FlagStale(connID string) {
	h.mu.Lock()
	h.stale[connID] = struct{}{}
	h.mu.Unlock()
}

func (h *Heartbeat) drainStale() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.stale))
	for id := range h.stale {
		ids = append(ids, id)
	}
	h.stale = make(map[string]struct{})
	return ids
}

// Run executes the sweep loop until ctx is canceled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep performs one heartbeat pass over all registered connections.
func (h *Heartbeat) Sweep(ctx context.Context) {
	for _, id := range h.drainStale() {
		h.evict(ctx, id, "send failure")
	}

	conns, err := h.gw.registry.All(ctx)
	if err != nil {
		h.log.Warn("Heartbeat sweep failed to list connections", zap.Error(err))
		return
	}

	now := h.now()
	ping := pingFrame().encode()
	for _, c := range conns {
		idle := now.Sub(c.LastActivity)
		if idle >= h.timeout {
			h.evictIdle(ctx, c.ID, idle)
			continue
		}
		sender, ok := h.gw.registry.Sender(c.ID)
		if !ok {
			// Attached to another gateway instance; its own heartbeat pings it.
			continue
		}
		if err := sender.Send(ping); err != nil {
			h.log.Debug("Ping failed, evicting connection",
				zap.String("connection_id", c.ID),
				zap.Error(err))
			h.evict(ctx, c.ID, "ping failed")
			continue
		}
		metrics.PingsSent.Inc()
		if err := h.gw.directory.RefreshSubscriptions(ctx, c.ID); err != nil {
			h.log.Debug("Subscription refresh failed",
				zap.String("connection_id", c.ID),
				zap.Error(err))
		}
	}
}

// evictIdle closes a connection whose idle time crossed the timeout.
func (h *Heartbeat) evictIdle(ctx context.Context, connID string, idle time.Duration) {
	appErr := apperrors.HeartbeatTimeout(connID, idle.String())
	if sender, ok := h.gw.registry.Sender(connID); ok {
		// Best effort: the peer may already be gone.
		_ = sender.Send(timeoutFrame(appErr.UserMessage).encode())
	}
	h.evict(ctx, connID, "idle timeout")
	metrics.HeartbeatEvictions.Inc()
	h.log.Info("Connection evicted for inactivity",
		zap.String("connection_id", connID),
		zap.Duration("idle", idle))
}

func (h *Heartbeat) evict(ctx context.Context, connID, reason string) {
	if sender, ok := h.gw.registry.Sender(connID); ok {
		_ = sender.Close(reason)
	}
	if err := h.gw.OnClose(ctx, connID); err != nil {
		h.log.Warn("Eviction cleanup failed",
			zap.String("connection_id", connID),
			zap.Error(err))
	}
}
