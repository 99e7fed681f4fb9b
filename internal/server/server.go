package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pulsegate/gateway/internal/config"
	"github.com/pulsegate/gateway/internal/gateway"
	"github.com/pulsegate/gateway/internal/health"
	"github.com/pulsegate/gateway/internal/logger"
	"github.com/pulsegate/gateway/internal/metrics"
)

// Server fronts the gateway with a single HTTP listener. WebSocket upgrade
// requests on "/" become gateway connections; plain HTTP requests get the
// service info, stats, health and metrics endpoints.
type Server struct {
	cfg     *config.Config
	gw      *gateway.Gateway
	checker *health.Checker
	log     *zap.Logger
}

// NewServer constructs a Server for the given gateway.
func NewServer(cfg *config.Config, gw *gateway.Gateway, checker *health.Checker) *Server {
	return &Server{
		cfg:     cfg,
		gw:      gw,
		checker: checker,
		log:     logger.New("server"),
	}
}

// ListenAndServe runs the HTTP listener until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		CheckOrigin:      func(r *http.Request) bool { return true },
		HandshakeTimeout: 10 * time.Second,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if isWebSocketRequest(r) {
			s.handleWebSocket(ctx, w, r, upgrader)
			return
		}
		switch r.URL.Path {
		case "/":
			s.handleInfo(w, r)
		case "/health":
			s.checker.HandleHealth(w, r)
		case "/api/stats":
			s.handleStats(w, r)
		default:
			http.NotFound(w, r)
		}
	})
	if s.cfg.Metrics.Enabled {
		go s.serveMetrics(ctx)
	}

	httpSrv := &http.Server{
		Addr:         s.cfg.General.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	// WebSocket connections outlive the HTTP timeouts; gorilla hijacks the
	// underlying net.Conn, so the timeouts above only bound plain requests.

	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down HTTP listener")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway listening", zap.String("address", s.cfg.General.ListenAddr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// serveMetrics runs the Prometheus endpoint on its own listener so scrapes
// never contend with client traffic.
func (s *Server) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("Metrics server listening", zap.Int("port", s.cfg.Metrics.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("Metrics server error", zap.Error(err))
	}
}

// handleWebSocket upgrades the request and runs the connection's read loop.
func (s *Server) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) {
	if s.gw.ConnectionCount() >= s.cfg.Gateway.MaxConnections {
		s.log.Warn("Connection limit reached, rejecting upgrade",
			zap.Int("max_connections", s.cfg.Gateway.MaxConnections),
			zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.log.Debug("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	connID := uuid.NewString()
	sess := newSession(connID, ws)

	if err := s.gw.OnOpen(ctx, connID, sess); err != nil {
		s.log.Error("Failed to register connection",
			zap.String("connection_id", connID),
			zap.Error(err))
		_ = sess.Close("registration failed")
		return
	}

	s.log.Debug("WebSocket connection established",
		zap.String("connection_id", connID),
		zap.String("remote_addr", r.RemoteAddr))

	go s.readLoop(ctx, connID, ws, sess)
}

// readLoop pumps frames from the socket into the gateway until the
// connection dies. It is the only reader of the socket.
func (s *Server) readLoop(ctx context.Context, connID string, ws *websocket.Conn, sess *session) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Recovered from panic in read loop",
				zap.Any("panic", r),
				zap.String("connection_id", connID))
		}
		_ = sess.Close("read loop terminated")
		if err := s.gw.OnClose(context.Background(), connID); err != nil {
			s.log.Warn("Connection cleanup failed",
				zap.String("connection_id", connID),
				zap.Error(err))
		}
	}()

	ws.SetReadLimit(int64(s.cfg.Gateway.MaxFrameBytes))

	// Protocol-level WebSocket pings are answered at the transport layer;
	// the application-level ping/pong frames ride on top of this.
	ws.SetPingHandler(func(appData string) error {
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// The read deadline backstops the heartbeat sweep: a connection the
	// sweep somehow misses still cannot hold the socket forever.
	readDeadline := s.cfg.Gateway.ConnectionTimeout + s.cfg.Gateway.HeartbeatInterval

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = ws.SetReadDeadline(time.Now().Add(readDeadline)) // nolint:errcheck // deadline is non-critical
		msgType, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Client closed connection",
					zap.String("connection_id", connID))
			} else {
				s.log.Debug("Read error, disconnecting client",
					zap.String("connection_id", connID),
					zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.gw.OnFrame(ctx, connID, raw)
	}
}

// handleInfo serves the service descriptor for plain HTTP requests on "/".
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := map[string]interface{}{
		"name":    "pulsegate",
		"version": config.Version,
	}
	if s.cfg.General.PublicURL != "" {
		info["url"] = s.cfg.General.PublicURL
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.log.Error("Failed to encode info response", zap.Error(err))
	}
}

// handleStats serves the runtime counters for dashboards.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]interface{}{
		"active_connections":   metrics.GetActiveConnectionsCount(),
		"active_subscriptions": metrics.GetActiveSubscriptionsCount(),
		"messages_received":    metrics.GetMessagesReceivedCount(),
		"messages_sent":        metrics.GetMessagesSentCount(),
		"rate_limited":         metrics.GetRateLimitedCount(),
		"errors":               metrics.GetErrorCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.log.Error("Failed to encode stats response", zap.Error(err))
	}
}

// isWebSocketRequest checks if the request is a WebSocket upgrade request
func isWebSocketRequest(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.ToLower(r.Header.Get("Upgrade")) == "websocket"
}
