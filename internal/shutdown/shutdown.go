// Package shutdown is the signal-driven cleanup registry both daemon
// binaries use to drain in-flight connections and flush the logger
// before the process exits. Unlike the teacher's event.Cleaner it is
// not a package-level singleton: each daemon's main owns one Registry
// instance and passes it down explicitly.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/stomp-engine/internal/logger"
)

// Callable is anything a Registry can invoke during shutdown, given a
// context that is cancelled once its per-callable timeout elapses.
type Callable interface {
	Invoke(ctx context.Context) error
}

// callableFunc adapts a plain func into a Callable.
type callableFunc func(ctx context.Context) error

func (f callableFunc) Invoke(ctx context.Context) error { return f(ctx) }

// Func wraps fn as a Callable.
func Func(fn func(ctx context.Context) error) Callable {
	return callableFunc(fn)
}

// Registry collects cleanup callables and runs them, in registration
// order, once SIGINT or SIGTERM arrives.
type Registry struct {
	mu             sync.Mutex
	cleaners       []Callable
	cleaning       bool
	loggerShutdown Callable
	timeout        time.Duration
}

// New builds an empty Registry. perCallableTimeout bounds how long any
// single cleaner gets before it is abandoned; zero defaults to 10s.
func New(perCallableTimeout time.Duration) *Registry {
	if perCallableTimeout <= 0 {
		perCallableTimeout = 10 * time.Second
	}
	return &Registry{timeout: perCallableTimeout}
}

// Add registers a cleanup callable. Calls after shutdown has started
// are silently dropped.
func (r *Registry) Add(c Callable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleaning {
		logger.Debug("shutdown already in progress, ignoring new cleaner")
		return
	}
	r.cleaners = append(r.cleaners, c)
}

// Wait blocks until SIGINT/SIGTERM, runs every registered cleaner with
// its own timeout, invokes loggerShutdown last, and returns. Callers
// that want process-exit semantics should os.Exit after Wait returns;
// Wait itself never calls os.Exit so it stays testable.
func (r *Registry) Wait(ctx context.Context, loggerShutdown Callable) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("received shutdown signal")

	r.mu.Lock()
	r.cleaning = true
	cleaners := make([]Callable, len(r.cleaners))
	copy(cleaners, r.cleaners)
	r.mu.Unlock()

	logger.DebugF("running %d registered cleaners", len(cleaners))

	var errs []error
	for i, c := range cleaners {
		func(idx int, c Callable) {
			timeoutCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := c.Invoke(timeoutCtx); err != nil {
				logger.ErrorF("cleaner #%d (%T) failed: %v", idx+1, c, err)
				errs = append(errs, err)
			}
		}(i, c)
	}

	if len(errs) > 0 {
		logger.ErrorF("%d cleaners reported errors during shutdown", len(errs))
	} else {
		logger.Debug("all cleaners exited cleanly")
	}

	if loggerShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := loggerShutdown.Invoke(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
		}
	}
}
