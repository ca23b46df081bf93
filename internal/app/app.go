// Package app wires the sync engine, the auto-sync scheduler and the local API
// server into a runnable agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/fieldsync/internal/config"
)

// Agent runs the sync engine behind the local API until stopped
type Agent struct {
	config     *config.Config
	engine     *Engine
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the scheduler, the connectivity monitor and the HTTP server.
// It blocks until the server stops or a component fails.
func (a *Agent) Start() error {
	listener, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(listener)
}

// Serve is Start on an existing listener
func (a *Agent) Serve(listener net.Listener) error {
	if err := a.engine.Scheduler.Start(a.ctx); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to start auto-sync scheduler: %w", err)
	}

	g, ctx := errgroup.WithContext(a.ctx)
	g.Go(func() error {
		return a.engine.Monitor.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("Server listening", "address", listener.Addr().String())
		if err := a.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	// Coming up counts as coming to the foreground
	a.engine.Foreground.Emit()

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop gracefully stops the agent with the given timeout. The scheduler is
// stopped first so a running pass completes before storage is closed.
func (a *Agent) Stop(timeout time.Duration) error {
	slog.Info("Shutting down agent")

	if err := a.engine.Scheduler.Stop(); err != nil {
		slog.Error("Failed to stop auto-sync scheduler", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdownErr := a.httpServer.Shutdown(shutdownCtx)

	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.engine.Close()

	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}
	slog.Info("Agent shutdown complete")
	return nil
}

// Engine returns the sync components
func (a *Agent) Engine() *Engine {
	return a.engine
}

// GetConfig returns the agent configuration
func (a *Agent) GetConfig() *config.Config {
	return a.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (a *Agent) GetHTTPServer() *http.Server {
	return a.httpServer
}
