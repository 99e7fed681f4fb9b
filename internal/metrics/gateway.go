package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for tracking gateway performance and usage
var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_connections",
		Help: "The number of active WebSocket connections",
	})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_active_subscriptions",
		Help: "The number of active channel subscriptions",
	})

	// Message metrics
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_messages_received_total",
		Help: "The total number of frames received from clients",
	})

	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_messages_sent_total",
		Help: "The total number of frames sent to clients",
	})

	RateLimitedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limited_messages_total",
		Help: "The total number of frames dropped by the rate limiter",
	})

	// Broadcast metrics
	BroadcastDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_broadcast_deliveries_total",
		Help: "The total number of per-subscriber broadcast deliveries",
	})

	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_broadcast_failures_total",
		Help: "The total number of failed per-subscriber broadcast sends",
	})

	// Liveness metrics
	HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_heartbeat_evictions_total",
		Help: "The total number of connections evicted for inactivity",
	})

	PingsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_pings_sent_total",
		Help: "The total number of ping frames sent by the heartbeat sweep",
	})

	// Store metrics
	StoreFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_store_fallbacks_total",
		Help: "The total number of store operations redirected to the in-process store",
	})

	// Protocol metrics
	ActionsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_actions_received_total",
		Help: "The total number of frames received, partitioned by action",
	}, []string{"action"})

	ActionProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_action_processing_duration_seconds",
		Help:    "Time spent processing one inbound frame, partitioned by action",
		Buckets: prometheus.ExponentialBuckets(0.0001, 10, 6), // 100µs .. 10s
	}, []string{"action"})

	FrameSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_frame_size_bytes",
		Help:    "Size of received frames in bytes",
		Buckets: prometheus.ExponentialBuckets(10, 10, 6), // 10, 100, ..., 1000000
	})
)

// Local counters for the stats API (prometheus metrics can't be read directly)
var (
	messagesReceivedCount  int64
	messagesSentCount      int64
	activeConnectionsCount int64
	activeSubscrCount      int64
	rateLimitedCount       int64
	errorCount             int64
)

// IncrementMessagesReceived increments both the prometheus counter and the
// local counter.
func IncrementMessagesReceived() {
	MessagesReceived.Inc()
	atomic.AddInt64(&messagesReceivedCount, 1)
}

// GetMessagesReceivedCount returns frames received since start.
func GetMessagesReceivedCount() int64 {
	return atomic.LoadInt64(&messagesReceivedCount)
}

// IncrementMessagesSent increments the sent frame counters.
func IncrementMessagesSent() {
	MessagesSent.Inc()
	atomic.AddInt64(&messagesSentCount, 1)
}

// GetMessagesSentCount returns frames sent since start.
func GetMessagesSentCount() int64 {
	return atomic.LoadInt64(&messagesSentCount)
}

// IncrementActiveConnections increments the active connection counters.
func IncrementActiveConnections() {
	ActiveConnections.Inc()
	atomic.AddInt64(&activeConnectionsCount, 1)
}

// DecrementActiveConnections decrements the active connection counters.
func DecrementActiveConnections() {
	ActiveConnections.Dec()
	atomic.AddInt64(&activeConnectionsCount, -1)
}

// GetActiveConnectionsCount returns the number of active connections.
func GetActiveConnectionsCount() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// IncrementActiveSubscriptions increments the subscription counters.
func IncrementActiveSubscriptions() {
	ActiveSubscriptions.Inc()
	atomic.AddInt64(&activeSubscrCount, 1)
}

// DecrementActiveSubscriptions decrements the subscription counters.
func DecrementActiveSubscriptions() {
	ActiveSubscriptions.Dec()
	atomic.AddInt64(&activeSubscrCount, -1)
}

// GetActiveSubscriptionsCount returns the number of active subscriptions.
func GetActiveSubscriptionsCount() int64 {
	return atomic.LoadInt64(&activeSubscrCount)
}

// IncrementRateLimited increments the rate-limited frame counters.
func IncrementRateLimited() {
	RateLimitedMessages.Inc()
	atomic.AddInt64(&rateLimitedCount, 1)
}

// GetRateLimitedCount returns frames dropped by the rate limiter since start.
func GetRateLimitedCount() int64 {
	return atomic.LoadInt64(&rateLimitedCount)
}

// IncrementErrorCount increments the error counter.
func IncrementErrorCount() {
	atomic.AddInt64(&errorCount, 1)
}

// GetErrorCount returns the current error count.
func GetErrorCount() int64 {
	return atomic.LoadInt64(&errorCount)
}
