package internal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type GracefulShutdownHandler interface {
	Shutdown()          // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool // Quickly checks if a shutdown is in progress.
	Wait()              // Blocks until shutdown tasks are complete.
}

type gracefulShutdown struct {
	quit         chan os.Signal // Blocks until a SIGTERM/SIGINT signal is received.
	shuttingDown chan struct{}  // Closed once a shutdown has started.
	once         sync.Once
	wg           sync.WaitGroup // Waits until all shutdown tasks are complete.
	exit         func(code int)
}

// NewGracefulShutdown installs a SIGTERM/SIGINT handler.
// onShutdown (if not nil) runs once a signal is received and must return within timeout,
// its context is cancelled when the timeout expires. The process exits afterwards.
func NewGracefulShutdown(timeout time.Duration, onShutdown func(ctx context.Context) error) GracefulShutdownHandler {
	return newGracefulShutdown(timeout, onShutdown, os.Exit)
}

func newGracefulShutdown(timeout time.Duration, onShutdown func(ctx context.Context) error, exit func(code int)) *gracefulShutdown {
	gs := &gracefulShutdown{
		quit:         make(chan os.Signal, 1),
		shuttingDown: make(chan struct{}),
		exit:         exit,
	}
	gs.wg.Add(1)
	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer gs.wg.Done()
		// Kubernetes sends SIGTERM 30 seconds before shutting down the pod
		sig := <-gs.quit
		signal.Stop(gs.quit)
		gs.once.Do(func() { close(gs.shuttingDown) })
		zap.S().Infow("Received signal, shutting down", "signal", sig.String())

		code := 0
		if onShutdown != nil {
			zap.S().Infow("Waiting for shutdown tasks to complete", "timeout", timeout)
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			done := make(chan error, 1)
			go func() { done <- onShutdown(ctx) }()

			select {
			case err := <-done:
				if err != nil {
					zap.S().Errorw("Error during shutdown", "error", err)
					code = 1
				}
			case <-ctx.Done():
				zap.S().Errorw("Shutdown tasks did not complete in time", "timeout", timeout)
				code = 1
			}
			cancel()
		}
		zap.S().Info("Shutdown tasks completed. Ready to exit.")
		// Flush buffer
		_ = zap.S().Sync()
		gs.exit(code)
	}()

	return gs
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	select {
	case <-gs.shuttingDown:
		return true
	default:
		return false
	}
}

func (gs *gracefulShutdown) Shutdown() {
	// Only send a SIGTERM signal if we are not already shutting down.
	if gs.ShuttingDown() {
		return
	}
	select {
	case gs.quit <- syscall.SIGTERM:
	default:
	}
}

func (gs *gracefulShutdown) Wait() {
	gs.wg.Wait()
}
