package gateway

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/pulsegate/gateway/internal/errors"
	"github.com/pulsegate/gateway/internal/metrics"
)

// handlerFunc processes one validated inbound frame for a connection.
type handlerFunc func(ctx context.Context, connID string, data json.RawMessage)

// Router dispatches inbound frames to their action handlers. Handler errors
// are terminal per frame, never per connection: the client gets an error
// frame and the socket stays open.
type Router struct {
	gw       *Gateway
	schema   *SchemaValidator
	handlers map[string]handlerFunc
	log      *zap.Logger
}

func newRouter(gw *Gateway, log *zap.Logger) *Router {
	r := &Router{
		gw:     gw,
		schema: NewSchemaValidator(),
		log:    log,
	}
	r.handlers = map[string]handlerFunc{
		ActionSubscribe:   r.handleSubscribe,
		ActionUnsubscribe: r.handleUnsubscribe,
		ActionMessage:     r.handleMessage,
		ActionPong:        r.handlePong,
	}
	return r
}

// Dispatch decodes the envelope of one raw frame and routes it.
func (r *Router) Dispatch(ctx context.Context, connID string, raw []byte) {
	metrics.IncrementMessagesReceived()
	metrics.FrameSizeBytes.Observe(float64(len(raw)))

	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.log.Debug("Malformed frame",
			zap.String("connection_id", connID),
			zap.Error(err))
		metrics.IncrementErrorCount()
		r.gw.sendError(connID, apperrors.ProtocolError("malformed JSON"), nil)
		return
	}

	handler, ok := r.handlers[frame.Action]
	if !ok {
		r.log.Debug("Unknown action",
			zap.String("connection_id", connID),
			zap.String("action", frame.Action))
		metrics.IncrementErrorCount()
		r.gw.sendError(connID, apperrors.ProtocolError("unknown action: "+frame.Action), nil)
		return
	}

	metrics.ActionsReceived.WithLabelValues(frame.Action).Inc()
	start := time.Now()
	handler(ctx, connID, frame.Data)
	metrics.ActionProcessingDuration.WithLabelValues(frame.Action).Observe(time.Since(start).Seconds())
}

// reportBackendFailure tells the client a store-backed operation failed.
// Recoverable failures log at warn; the fallback store keeps serving and
// the client may simply retry.
func (r *Router) reportBackendFailure(connID, op, channel string, err error) {
	appErr := apperrors.BackendUnavailable(op, err)
	fields := []zap.Field{
		zap.String("connection_id", connID),
		zap.String("channel", channel),
		zap.Error(appErr),
	}
	if apperrors.IsRecoverable(appErr) {
		r.log.Warn("Backend operation failed", fields...)
	} else {
		r.log.Error("Backend operation failed", fields...)
	}
	r.gw.sendError(connID, appErr, nil)
}

func (r *Router) handleSubscribe(ctx context.Context, connID string, data json.RawMessage) {
	payload, fields := r.schema.DecodeSubscribe(data)
	if fields != nil {
		r.gw.sendError(connID, apperrors.ValidationError(ActionSubscribe, fields), fields)
		return
	}
	if !r.gw.limiter.TryConsume(ctx, connID) {
		r.gw.sendRateLimited(connID)
		return
	}
	if r.gw.cfg.AuthRequired {
		token, _ := payload.Options["token"].(string)
		if err := r.gw.auth.Authorize(ctx, connID, token); err != nil {
			appErr := apperrors.AuthorizationError(ActionSubscribe, err.Error())
			r.log.Info("Subscribe denied",
				zap.String("connection_id", connID),
				zap.String("channel", payload.Channel),
				zap.Error(appErr))
			r.gw.sendError(connID, appErr, nil)
			return
		}
	}
	if err := r.gw.directory.Subscribe(ctx, payload.Channel, connID); err != nil {
		r.reportBackendFailure(connID, "subscribe", payload.Channel, err)
	}
}

func (r *Router) handleUnsubscribe(ctx context.Context, connID string, data json.RawMessage) {
	payload, fields := r.schema.DecodeUnsubscribe(data)
	if fields != nil {
		r.gw.sendError(connID, apperrors.ValidationError(ActionUnsubscribe, fields), fields)
		return
	}
	if err := r.gw.directory.Unsubscribe(ctx, payload.Channel, connID); err != nil {
		r.reportBackendFailure(connID, "unsubscribe", payload.Channel, err)
	}
}

func (r *Router) handleMessage(ctx context.Context, connID string, data json.RawMessage) {
	payload, fields := r.schema.DecodeMessage(data)
	if fields != nil {
		r.gw.sendError(connID, apperrors.ValidationError(ActionMessage, fields), fields)
		return
	}
	if !r.gw.limiter.TryConsume(ctx, connID) {
		r.gw.sendRateLimited(connID)
		return
	}
	// The publisher does not receive its own message back.
	delivered, err := r.gw.directory.Publish(ctx, payload.Channel, payload.Payload, connID)
	if err != nil {
		r.reportBackendFailure(connID, "publish", payload.Channel, err)
		return
	}
	r.log.Debug("Published",
		zap.String("connection_id", connID),
		zap.String("channel", payload.Channel),
		zap.Int("delivered", delivered))
}

func (r *Router) handlePong(ctx context.Context, connID string, _ json.RawMessage) {
	// Activity already advanced when the frame arrived; the explicit touch
	// keeps pong meaningful even if that ever changes.
	if err := r.gw.registry.Touch(ctx, connID); err != nil {
		r.log.Debug("Pong touch failed",
			zap.String("connection_id", connID),
			zap.Error(err))
	}
}
