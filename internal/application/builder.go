package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegate/gateway/internal/config"
	"github.com/pulsegate/gateway/internal/gateway"
	"github.com/pulsegate/gateway/internal/health"
	"github.com/pulsegate/gateway/internal/logger"
	"github.com/pulsegate/gateway/internal/server"
	"github.com/pulsegate/gateway/internal/store"
	"github.com/pulsegate/gateway/internal/workers"

	"go.uber.org/zap"
)

// Worker pool sizing for broadcast fan-out.
const (
	workerCount   = 16
	jobBufferSize = 4096

	startupProbeTimeout = 5 * time.Second
)

// AppBuilder is used to incrementally construct an App instance.
type AppBuilder struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config

	store      store.Store
	fallback   *store.FallbackStore
	workerPool *workers.WorkerPool
	gateway    *gateway.Gateway
	checker    *health.Checker
	server     *server.Server
	auth       gateway.Authenticator
}

// NewAppBuilder creates a new AppBuilder with its own cancelable context.
func NewAppBuilder(ctx context.Context, cfg *config.Config, auth gateway.Authenticator) *AppBuilder {
	c, cancel := context.WithCancel(ctx)
	return &AppBuilder{
		ctx:    c,
		cancel: cancel,
		config: cfg,
		auth:   auth,
	}
}

// BuildStore initializes the state store. With the distributed backend
// enabled the redis store is wrapped in a fallback that degrades to the
// in-process store; an unreachable backend at startup degrades immediately
// rather than failing the boot.
func (b *AppBuilder) BuildStore() error {
	local := store.NewMemoryStore()
	if !b.config.Redis.Enabled {
		logger.Info("Using in-process state store")
		b.store = local
		return nil
	}

	redisStore := store.NewRedisStore(b.config.Redis, logger.New("redis"))
	fb := store.NewFallbackStore(redisStore, local, logger.New("store"))

	probeCtx, cancel := context.WithTimeout(b.ctx, startupProbeTimeout)
	defer cancel()
	if err := redisStore.Ping(probeCtx); err != nil {
		fb.MarkDegraded("startup probe", err)
	} else {
		logger.Info("Distributed state store connected",
			zap.String("host", b.config.Redis.Host),
			zap.Int("port", b.config.Redis.Port))
	}

	b.store = fb
	b.fallback = fb
	return nil
}

// BuildWorkers initializes the broadcast worker pool.
func (b *AppBuilder) BuildWorkers() {
	b.workerPool = workers.NewWorkerPool(workerCount, jobBufferSize)
	logger.Debug("Worker pool initialized",
		zap.Int("workers", workerCount),
		zap.Int("buffer", jobBufferSize))
}

// BuildGateway wires the gateway core onto the store and worker pool.
func (b *AppBuilder) BuildGateway() {
	b.gateway = gateway.New(b.config.Gateway, b.store, b.workerPool, b.auth, logger.New("gateway"))
}

// BuildServer assembles the HTTP front door and its health checker.
func (b *AppBuilder) BuildServer() {
	var degraded func() bool
	if b.fallback != nil {
		degraded = b.fallback.Degraded
	}
	b.checker = health.NewChecker(
		b.store,
		b.gateway,
		degraded,
		b.config.Gateway.MaxConnections,
		logger.New("health"),
		config.Version,
	)
	b.server = server.NewServer(b.config, b.gateway, b.checker)
}

// Build assembles the final App.
func (b *AppBuilder) Build() (*App, error) {
	if b.store == nil || b.gateway == nil || b.server == nil {
		b.cancel()
		return nil, fmt.Errorf("builder is missing components")
	}
	return &App{
		ctx:        b.ctx,
		cancel:     b.cancel,
		config:     b.config,
		store:      b.store,
		workerPool: b.workerPool,
		gateway:    b.gateway,
		server:     b.server,
	}, nil
}
