package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownFunc releases one component
type ShutdownFunc func(context.Context) error

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops the HTTP server, then releases registered
// components one at a time in registration order, all under one deadline.
// Register consumers before what they depend on: servers, then storage,
// then telemetry, so the last spans of the shutdown still get exported.
type ShutdownManager struct {
	logger  logrus.FieldLogger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	steps []shutdownStep
}

func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger.WithField("component", "shutdown"),
		server:  server,
		timeout: timeout,
	}
}

// RegisterShutdownFunc appends a step
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.steps = append(sm.steps, shutdownStep{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT/SIGTERM or ctx is done, then runs
// Shutdown
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	sm.logger.Info("Starting graceful shutdown")
	return sm.Shutdown()
}

// Shutdown runs every step even when an earlier one fails. A step that is
// still running at the deadline is abandoned and the remaining steps are
// skipped.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	sm.mu.Lock()
	steps := append([]shutdownStep(nil), sm.steps...)
	sm.mu.Unlock()

	for i, step := range steps {
		if err := sm.runStep(ctx, step); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				for _, skipped := range steps[i+1:] {
					errs = append(errs, fmt.Errorf("%s: skipped, shutdown timeout reached", skipped.name))
				}
				break
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown completed with %d errors: %w", len(errs), err)
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}

func (sm *ShutdownManager) runStep(ctx context.Context, step shutdownStep) error {
	logger := sm.logger.WithField("step", step.name)
	done := make(chan error, 1)
	go func() { done <- step.fn(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.WithError(err).Error("Shutdown step failed")
			return fmt.Errorf("%s: %w", step.name, err)
		}
		logger.Debug("Shutdown step complete")
		return nil
	case <-ctx.Done():
		logger.Warn("Shutdown timeout reached, abandoning step")
		return fmt.Errorf("%s: shutdown timeout reached", step.name)
	}
}
