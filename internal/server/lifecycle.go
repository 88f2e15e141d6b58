// Package server provides application lifecycle management including
// preflight checks, graceful startup and shutdown with signal handling, and
// periodic background jobs.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start begins the service. It should block until the service is stopped
	// or an error occurs.
	Start() error
	// Stop gracefully stops the service.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// CheckFunc is a preflight condition that must hold before any service starts.
type CheckFunc func(ctx context.Context) error

// Lifecycle manages the startup and shutdown of multiple services.
// Preflight checks run first, in order; services are started in order and
// stopped in reverse order.
type Lifecycle struct {
	logger       *zap.Logger
	checkTimeout time.Duration
	checks       []namedCheck
	services     []namedService
	mu           sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

type namedCheck struct {
	name  string
	check CheckFunc
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{
		logger:       logger,
		checkTimeout: 10 * time.Second,
	}
}

// AddCheck registers a named preflight check.
//
// Precondition: name must be non-empty; check must be non-nil.
func (l *Lifecycle) AddCheck(name string, check CheckFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks = append(l.checks, namedCheck{name: name, check: check})
}

// Add registers a named service for lifecycle management.
// Services are started in the order they are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run executes the preflight checks, starts all services, and blocks until a
// termination signal (SIGINT or SIGTERM), a service failure, or ctx ends.
//
// Postcondition: Returns a check error without starting any service, or the
// first service error after every service is stopped; nil on a clean shutdown.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	if err := l.preflight(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(l.services))
	for _, ns := range l.services {
		ns := ns
		go func() {
			l.logger.Info("starting service",
				zap.String("service", ns.name),
			)
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
				cancel()
			}
		}()
	}

	l.logger.Info("all services started",
		zap.Int("count", len(l.services)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down",
			zap.String("signal", sig.String()),
		)
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down",
			zap.Error(runErr),
		)
	case <-ctx.Done():
		// A failing service cancels ctx as well; prefer its error.
		select {
		case runErr = <-errCh:
			l.logger.Error("service error, shutting down",
				zap.Error(runErr),
			)
		default:
			l.logger.Info("context cancelled, shutting down")
		}
	}

	l.shutdown()

	l.logger.Info("shutdown complete",
		zap.Duration("total_uptime", time.Since(start)),
	)
	return runErr
}

func (l *Lifecycle) preflight(ctx context.Context) error {
	for _, nc := range l.checks {
		checkStart := time.Now()
		cctx, cancel := context.WithTimeout(ctx, l.checkTimeout)
		err := nc.check(cctx)
		cancel()
		if err != nil {
			l.logger.Error("preflight check failed",
				zap.String("check", nc.name),
				zap.Error(err),
				zap.Duration("elapsed", time.Since(checkStart)),
			)
			return fmt.Errorf("preflight %s: %w", nc.name, err)
		}
		l.logger.Info("preflight check passed",
			zap.String("check", nc.name),
			zap.Duration("elapsed", time.Since(checkStart)),
		)
	}
	return nil
}

func (l *Lifecycle) shutdown() {
	shutdownStart := time.Now()
	for i := len(l.services) - 1; i >= 0; i-- {
		ns := l.services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service",
			zap.String("service", ns.name),
		)
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}
