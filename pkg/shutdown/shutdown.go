// Package shutdown handles process signals, graceful teardown and
// controlled aborts during startup.
package shutdown

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"chatrelay/pkg/logger"
)

// exit is swapped by tests.
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// Abort logs a fatal startup error, echoes it to stderr and exits with status 1.
func Abort(contextMsg string, err error) {
	logger.Error("startup_fatal", "msg", contextMsg, "error", err)
	fmt.Fprintf(stderr, "chatrelay: %s: %v\n", contextMsg, err)
	logger.Sync()
	exit(1)
}

// SetupSignalHandler installs handlers for SIGINT/SIGTERM and SIGPIPE and
// returns a cancellable context. The returned context is cancelled when any
// of the watched signals arrives. Use the cancel function to stop watching
// and to release resources.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	// clients vanishing mid stream raise SIGPIPE; dump stacks once for diagnostics but keep serving
	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Warn("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Debug("goroutine_stack_dump", "dump", string(buf[:n]))
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}

// Stopper is any component with background work to end at shutdown.
type Stopper interface {
	Shutdown()
}

// ShutdownServer stops accepting connections and waits for open ones to
// finish, bounded by ctx. Streams only finish once their base context is
// cancelled, so cancel it first.
func ShutdownServer(ctx context.Context, srv *fasthttp.Server, stoppers ...Stopper) error {
	logger.Info("shutdown_requested")
	var err error
	if srv != nil {
		logger.Info("shutdown_stopping_http")
		done := make(chan error, 1)
		go func() { done <- srv.Shutdown() }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("http shutdown: %w", ctx.Err())
		}
		if err != nil {
			logger.Error("shutdown_http_failed", "error", err)
		}
	}
	for _, s := range stoppers {
		if s != nil {
			s.Shutdown()
		}
	}
	logger.Info("shutdown_complete")
	return err
}

// DefaultTimeout bounds teardown so it cannot hang forever.
const DefaultTimeout = 20 * time.Second
