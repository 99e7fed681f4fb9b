package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// Status represents the overall health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the status of a specific component
type ComponentStatus struct {
	Name    string                 `json:"name"`
	Status  Status                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Response represents the complete health check response
type Response struct {
	Status     Status             `json:"status"`
	Timestamp  time.Time          `json:"timestamp"`
	Version    string             `json:"version"`
	Uptime     string             `json:"uptime"`
	Components []*ComponentStatus `json:"components"`
}

// StoreInterface defines the state store operations needed for health checks
type StoreInterface interface {
	Ping(ctx context.Context) error
}

// GatewayInterface defines the gateway operations needed for health checks
type GatewayInterface interface {
	ConnectionCount() int
}

// Checker performs health checks against the gateway's dependencies.
type Checker struct {
	store    StoreInterface
	gateway  GatewayInterface
	degraded func() bool
	maxConns int
	logger   *zap.Logger

	startTime time.Time
	version   string
}

// NewChecker creates a health checker. degraded reports whether the
// distributed store has fallen back to the in-process one; pass nil when no
// distributed store is configured.
func NewChecker(store StoreInterface, gateway GatewayInterface, degraded func() bool, maxConns int, logger *zap.Logger, version string) *Checker {
	return &Checker{
		store:     store,
		gateway:   gateway,
		degraded:  degraded,
		maxConns:  maxConns,
		logger:    logger.Named("health"),
		startTime: time.Now(),
		version:   version,
	}
}

// CheckHealth performs a health check across all components.
func (c *Checker) CheckHealth(ctx context.Context) *Response {
	components := []*ComponentStatus{
		c.checkStore(ctx),
		c.checkConnections(),
		c.checkMemory(),
	}

	return &Response{
		Status:     overallStatus(components),
		Timestamp:  time.Now(),
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Components: components,
	}
}

func (c *Checker) checkStore(ctx context.Context) *ComponentStatus {
	status := &ComponentStatus{Name: "store", Status: StatusHealthy}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.store.Ping(pingCtx); err != nil {
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("store ping failed: %v", err)
		return status
	}
	if c.degraded != nil && c.degraded() {
		status.Status = StatusDegraded
		status.Message = "distributed store unavailable, serving from in-process store"
	}
	return status
}

func (c *Checker) checkConnections() *ComponentStatus {
	count := c.gateway.ConnectionCount()
	status := &ComponentStatus{
		Name:   "connections",
		Status: StatusHealthy,
		Details: map[string]interface{}{
			"active": count,
			"max":    c.maxConns,
		},
	}
	if c.maxConns > 0 && count >= c.maxConns {
		status.Status = StatusDegraded
		status.Message = "connection limit reached"
	}
	return status
}

func (c *Checker) checkMemory() *ComponentStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &ComponentStatus{
		Name:   "memory",
		Status: StatusHealthy,
		Details: map[string]interface{}{
			"alloc_mb":   m.Alloc / 1024 / 1024,
			"sys_mb":     m.Sys / 1024 / 1024,
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// overallStatus is the worst status across components.
func overallStatus(components []*ComponentStatus) Status {
	overall := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// HandleHealth serves the health check endpoint. Degraded still answers 200
// so a store outage does not take the gateway out of rotation.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := c.CheckHealth(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		c.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
