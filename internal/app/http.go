package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"

	"chatrelay/pkg/api"
	"chatrelay/pkg/config/banner"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/router"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// readyzHandlerFast reports whether the server is taking new turns.
func (a *App) readyzHandlerFast(ctx *fasthttp.RequestCtx) {
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	if st := a.State(); st != stateServing {
		_ = router.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": st, "version": ver})
		return
	}
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok", "version": ver})
}

// healthzHandlerFast answers liveness probes.
func (a *App) healthzHandlerFast(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.WriteString("{\"status\":\"ok\"}")
}

// buildServer assembles the router, middleware and fasthttp.Server. Streams
// opened by the chat route are bound to base.
func (a *App) buildServer(base context.Context) *fasthttp.Server {
	cfg := a.eff.Config

	rt := api.Routes{ChatPath: cfg.Relay.ChatPath, Chat: a.relay.Handler(base)}
	if cfg.DebugRoutes() {
		rt.Gatherer = a.registry
	}
	r := api.Handler(rt)
	// health and ready handlers
	r.GET("/healthz", a.healthzHandlerFast)
	r.GET("/readyz", a.readyzHandlerFast)

	const (
		readBufferSize = 64 * 1024 // 64 KiB read buffer per connection
		concurrency    = 0         // unlimited concurrency (0 means unlimited in fasthttp)
	)
	return &fasthttp.Server{
		Name:               "chatrelay",
		Handler:            a.gateway.Wrap(r.Handler),
		ReadBufferSize:     readBufferSize,
		MaxRequestBodySize: int(cfg.Server.MaxBodySize.Int64()),
		Concurrency:        concurrency,
		ReduceMemoryUsage:  true, // reduces memory usage at the expense of performance
		ReadTimeout:        cfg.Server.ReadTimeout.Duration(),
		// zero keeps streams open as long as the model produces
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
		Logger:       serverLogger{},
	}
}

// serveHTTP serves on ln until the server is shut down.
func (a *App) serveHTTP(ln net.Listener) error {
	a.mu.Lock()
	a.addr = ln.Addr()
	a.state = stateServing
	a.mu.Unlock()
	close(a.ready)

	logger.Info("http_listening", "addr", ln.Addr().String(), "chat_path", a.eff.Config.Relay.ChatPath)
	start := time.Now()
	if err := a.srvFast.Serve(ln); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("http_stopped", "uptime", time.Since(start).Round(time.Second).String())
	return nil
}

// serverLogger routes fasthttp's own messages into the structured log.
type serverLogger struct{}

func (serverLogger) Printf(format string, args ...interface{}) {
	logger.Warn("fasthttp", "msg", fmt.Sprintf(format, args...))
}
