// Package middleware holds the fasthttp wrappers every request passes
// through: request logging, CORS, the OPTIONS short-circuit and per client
// rate limiting.
package middleware

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/router"
)

// Config configures Gateway.
type Config struct {
	AllowedOrigins []string
	// RPS and Burst size the per client token bucket; RPS <= 0 disables it.
	RPS   float64
	Burst int
}

// Gateway wraps handlers with the common request policy. Call Shutdown when
// the server stops to end the limiter cleanup loop.
type Gateway struct {
	cfg      Config
	limiters *limiterPool
}

// New returns a Gateway for cfg.
func New(cfg Config) *Gateway {
	g := &Gateway{cfg: cfg}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiters = newLimiterPool(cfg.RPS, burst)
	}
	return g
}

// Wrap returns next behind the gateway.
func (g *Gateway) Wrap(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)

		// cors headers and handle options shortcut
		origin := strings.TrimSpace(string(ctx.Request.Header.Peek("Origin")))
		if origin != "" && originAllowed(origin, g.cfg.AllowedOrigins) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Vary", "Origin")
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			ctx.Response.Header.Set("Access-Control-Max-Age", "600")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type,Accept,Cache-Control")
		}
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		// probes are never limited
		if publicAllowedPath(ctx) {
			next(ctx)
			return
		}

		if g.limiters != nil {
			ip := clientIPFast(ctx)
			if !g.limiters.Allow(ip) {
				router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "ip", ip, "path", string(ctx.Path()))
				return
			}
		}

		next(ctx)
	}
}

// Shutdown stops background work.
func (g *Gateway) Shutdown() {
	if g.limiters != nil {
		g.limiters.Shutdown()
	}
}

func clientIPFast(ctx *fasthttp.RequestCtx) string {
	host := ctx.RemoteAddr().String()
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	return h
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func publicAllowedPath(ctx *fasthttp.RequestCtx) bool {
	path := string(ctx.Path())
	return (path == "/healthz" || path == "/readyz") && string(ctx.Method()) == fasthttp.MethodGet
}
