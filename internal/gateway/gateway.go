package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulsegate/gateway/internal/config"
	apperrors "github.com/pulsegate/gateway/internal/errors"
	"github.com/pulsegate/gateway/internal/metrics"
	"github.com/pulsegate/gateway/internal/store"
	"github.com/pulsegate/gateway/internal/workers"
)

// Gateway ties the connection registry, channel directory, rate limiter,
// heartbeat and protocol router together behind the three transport
// callbacks: OnOpen, OnFrame and OnClose. The transport layer owns sockets;
// the gateway owns everything above them.
type Gateway struct {
	cfg       config.GatewayConfig
	store     store.Store
	registry  *Registry
	directory *Directory
	limiter   *RateLimiter
	router    *Router
	heartbeat *Heartbeat
	auth      Authenticator
	log       *zap.Logger
}

// New wires a gateway from its configuration. A nil auth defaults to
// AllowAll.
func New(cfg config.GatewayConfig, st store.Store, pool *workers.WorkerPool, auth Authenticator, log *zap.Logger) *Gateway {
	if auth == nil {
		auth = AllowAll{}
	}
	gw := &Gateway{
		cfg:   cfg,
		store: st,
		auth:  auth,
		log:   log,
	}
	gw.registry = NewRegistry(st, cfg.ConnectionTimeout)
	gw.directory = NewDirectory(st, gw.registry, pool, gw.registry.ttl, log)
	gw.limiter = NewRateLimiter(st, cfg.Throttling, log)
	gw.router = newRouter(gw, log)
	gw.heartbeat = newHeartbeat(gw, cfg.HeartbeatInterval, cfg.ConnectionTimeout, log)
	gw.directory.SetFailureHandler(gw.heartbeat.FlagStale)
	return gw
}

// Start launches the heartbeat sweep. It returns immediately; the sweep
// stops when ctx is canceled.
func (g *Gateway) Start(ctx context.Context) {
	go g.heartbeat.Run(ctx)
	g.log.Info("Gateway started",
		zap.Duration("heartbeat_interval", g.cfg.HeartbeatInterval),
		zap.Duration("connection_timeout", g.cfg.ConnectionTimeout))
}

// OnOpen registers a newly accepted connection and sends its welcome frame
// carrying the id the client will see in every subsequent interaction.
func (g *Gateway) OnOpen(ctx context.Context, connID string, sender Sender) error {
	if err := g.registry.Register(ctx, connID, sender); err != nil {
		return err
	}
	metrics.IncrementActiveConnections()
	if err := sender.Send(welcomeFrame(connID).encode()); err != nil {
		g.log.Warn("Welcome frame failed",
			zap.String("connection_id", connID),
			zap.Error(err))
	}
	g.log.Info("Connection opened", zap.String("connection_id", connID))
	return nil
}

// OnFrame processes one raw frame from the client. Any inbound frame counts
// as activity for the idle clock, well-formed or not.
func (g *Gateway) OnFrame(ctx context.Context, connID string, raw []byte) {
	if err := g.registry.Touch(ctx, connID); err != nil {
		g.log.Debug("Activity touch failed",
			zap.String("connection_id", connID),
			zap.Error(err))
	}
	g.router.Dispatch(ctx, connID, raw)
}

// OnClose tears down a connection's state: subscriptions, rate window and
// registry record. The store-side cleanup always runs, which lets one
// instance collect state for a connection attached to another instance;
// the local gauge only moves when a sender was still attached here. Safe
// to call more than once for the same id.
func (g *Gateway) OnClose(ctx context.Context, connID string) error {
	existed, err := g.registry.Remove(ctx, connID)
	if cleanupErr := g.directory.UnsubscribeAll(ctx, connID); cleanupErr != nil {
		g.log.Warn("Subscription cleanup failed",
			zap.String("connection_id", connID),
			zap.Error(cleanupErr))
		if err == nil {
			err = cleanupErr
		}
	}
	g.limiter.Reset(ctx, connID)
	if existed {
		metrics.DecrementActiveConnections()
		g.log.Info("Connection closed", zap.String("connection_id", connID))
	}
	return err
}

// Publish fans a payload out to a channel's subscribers on behalf of the
// server itself. exclude may name a connection to skip, or be empty.
func (g *Gateway) Publish(ctx context.Context, channel string, payload []byte, exclude string) (int, error) {
	return g.directory.Publish(ctx, channel, payload, exclude)
}

// ConnectionCount returns the number of connections attached to this
// process.
func (g *Gateway) ConnectionCount() int {
	return g.registry.Count()
}

// CloseAll closes every locally attached connection, used on shutdown.
func (g *Gateway) CloseAll(ctx context.Context, reason string) {
	for _, id := range g.registry.LocalIDs() {
		if sender, ok := g.registry.Sender(id); ok {
			_ = sender.Close(reason)
		}
		if err := g.OnClose(ctx, id); err != nil {
			g.log.Warn("Shutdown cleanup failed",
				zap.String("connection_id", id),
				zap.Error(err))
		}
	}
}

// send delivers one frame to a locally attached connection.
func (g *Gateway) send(connID string, frame OutboundFrame) {
	sender, ok := g.registry.Sender(connID)
	if !ok {
		return
	}
	if err := sender.Send(frame.encode()); err != nil {
		g.log.Debug("Frame send failed",
			zap.String("connection_id", connID),
			zap.String("action", frame.Action),
			zap.Error(err))
	}
}

// sendError reports a recoverable per-frame failure to the client.
func (g *Gateway) sendError(connID string, appErr *apperrors.AppError, fields []string) {
	reason := appErr.UserMessage
	if reason == "" {
		reason = appErr.Message
	}
	g.send(connID, errorFrame(reason, fields))
}

// sendRateLimited tells the client its message was dropped by the limiter.
func (g *Gateway) sendRateLimited(connID string) {
	metrics.IncrementRateLimited()
	appErr := apperrors.RateLimitExceeded(connID, g.limiter.Max(), g.limiter.Max())
	g.send(connID, rateLimitedFrame(appErr.UserMessage))
	g.log.Debug("Message rate limited", zap.String("connection_id", connID))
}
