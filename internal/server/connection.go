package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pulsegate/gateway/internal/logger"
	"github.com/pulsegate/gateway/internal/metrics"
)

// Outbound write budget per connection. This protects the socket from a
// runaway broadcast source, independent of the inbound message limiter.
const (
	outboundRatePerSecond = 200
	outboundBurst         = 400
	maxOutboundExceeded   = 5

	writeTimeout = 10 * time.Second
)

// session wraps one upgraded WebSocket and serializes all writes to it. It
// is the transport-side sender handle the gateway holds for the connection.
type session struct {
	id  string
	ws  *websocket.Conn
	log *zap.Logger

	writeMu  sync.Mutex
	closeMu  sync.Once
	limiter  *rate.Limiter
	isClosed atomic.Bool

	exceededCount int
}

func newSession(id string, ws *websocket.Conn) *session {
	return &session{
		id:      id,
		ws:      ws,
		log:     logger.New("session"),
		limiter: rate.NewLimiter(rate.Limit(outboundRatePerSecond), outboundBurst),
	}
}

// Send writes one text frame to the client. Concurrent callers are
// serialized on writeMu; gorilla/websocket permits one writer at a time.
func (s *session) Send(frame []byte) error {
	if s.isClosed.Load() {
		return websocket.ErrCloseSent
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed.Load() {
		return websocket.ErrCloseSent
	}

	if !s.limiter.Allow() {
		s.exceededCount++
		if s.exceededCount > maxOutboundExceeded {
			s.log.Warn("Outbound rate exceeded repeatedly, closing",
				zap.String("connection_id", s.id))
			s.closeLocked("outbound rate exceeded")
		}
		return websocket.ErrCloseSent
	}
	s.exceededCount = 0

	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout)) // nolint:errcheck // deadline is non-critical
	if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		metrics.IncrementErrorCount()
		return err
	}
	metrics.IncrementMessagesSent()
	return nil
}

// Close sends a polite close frame and tears down the socket. Safe to call
// more than once.
func (s *session) Close(reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.closeLocked(reason)
	return nil
}

// closeLocked requires writeMu to be held.
func (s *session) closeLocked(reason string) {
	s.closeMu.Do(func() {
		s.isClosed.Store(true)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = s.ws.Close()

		s.log.Debug("Session closed",
			zap.String("connection_id", s.id),
			zap.String("reason", reason))
	})
}
