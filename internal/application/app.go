package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pulsegate/gateway/internal/config"
	"github.com/pulsegate/gateway/internal/gateway"
	"github.com/pulsegate/gateway/internal/logger"
	"github.com/pulsegate/gateway/internal/server"
	"github.com/pulsegate/gateway/internal/store"
	"github.com/pulsegate/gateway/internal/workers"

	"go.uber.org/zap"
)

// App ties together the components needed to run the gateway process.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	config     *config.Config
	store      store.Store
	workerPool *workers.WorkerPool
	gateway    *gateway.Gateway
	server     *server.Server
}

// New creates and configures an App using the AppBuilder pattern.
func New(ctx context.Context, cfg *config.Config, auth gateway.Authenticator) (*App, error) {
	builder := NewAppBuilder(ctx, cfg, auth)

	if err := builder.BuildStore(); err != nil {
		return nil, fmt.Errorf("failed building store: %w", err)
	}
	builder.BuildWorkers()
	builder.BuildGateway()
	builder.BuildServer()

	app, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build app: %w", err)
	}
	return app, nil
}

// Start launches the heartbeat sweep and the HTTP listener. It returns
// immediately; the process blocks on the root context.
func (a *App) Start(ctx context.Context) error {
	a.gateway.Start(a.ctx)

	go func() {
		if err := a.server.ListenAndServe(a.ctx); err != nil {
			logger.Error("Server error", zap.Error(err))
			a.cancel()
		}
	}()

	logger.Debug("App started")
	return nil
}

// Gateway exposes the gateway core, used by embedders that publish
// server-side messages.
func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// Shutdown gracefully shuts down the app within a fixed timeout.
func (a *App) Shutdown() {
	logger.Info("Initiating graceful shutdown...")
	shutdownTimeout := 30 * time.Second

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErrors []error

	// Step 1: Close all client connections gracefully.
	a.gateway.CloseAll(shutdownCtx, "server shutting down")

	// Step 2: Stop accepting broadcast jobs and drain the pool.
	a.workerPool.Stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.workerPool.Wait()
	}()
	select {
	case <-done:
		logger.Debug("Worker pool finished")
	case <-shutdownCtx.Done():
		shutdownErrors = append(shutdownErrors,
			fmt.Errorf("worker pool shutdown timed out after %v", shutdownTimeout))
		logger.Warn("Worker pool shutdown timed out", zap.Duration("timeout", shutdownTimeout))
	}

	// Step 3: Cancel the app context, stopping the heartbeat and listener.
	if a.cancel != nil {
		a.cancel()
	}

	// Step 4: Close the state store.
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("store close: %w", err))
		}
	}

	if len(shutdownErrors) > 0 {
		logger.Warn("Shutdown completed with errors",
			zap.Int("error_count", len(shutdownErrors)),
			zap.Errors("errors", shutdownErrors))
	} else {
		logger.Info("Shutdown completed successfully")
	}
}

// Version returns the build version for diagnostics.
func (a *App) Version() string {
	return config.Version
}
