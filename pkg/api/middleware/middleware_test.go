package middleware

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func call(h fasthttp.RequestHandler, method, path, origin, ip string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000}, nil)
	h(&ctx)
	return &ctx
}

func ok(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusOK) }

func TestCORS(t *testing.T) {
	g := New(Config{AllowedOrigins: []string{"http://localhost:5173"}})
	defer g.Shutdown()
	h := g.Wrap(ok)

	ctx := call(h, "POST", "/api/chat", "http://LOCALHOST:5173", "10.0.0.1")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "http://LOCALHOST:5173", string(ctx.Response.Header.Peek("Access-Control-Allow-Origin")))
	assert.Equal(t, "Origin", string(ctx.Response.Header.Peek("Vary")))

	ctx = call(h, "POST", "/api/chat", "http://evil.test", "10.0.0.1")
	assert.Empty(t, ctx.Response.Header.Peek("Access-Control-Allow-Origin"))

	ctx = call(h, "OPTIONS", "/api/chat", "http://localhost:5173", "10.0.0.1")
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.Peek("Access-Control-Allow-Methods")), "POST")
}

func TestRateLimitPerClient(t *testing.T) {
	g := New(Config{RPS: 0.001, Burst: 2})
	defer g.Shutdown()
	h := g.Wrap(ok)

	for i := 0; i < 2; i++ {
		assert.Equal(t, fasthttp.StatusOK, call(h, "POST", "/api/chat", "", "10.0.0.1").Response.StatusCode())
	}
	ctx := call(h, "POST", "/api/chat", "", "10.0.0.1")
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, string(ctx.Response.Body()))

	// another client has its own bucket, and probes are never limited
	assert.Equal(t, fasthttp.StatusOK, call(h, "POST", "/api/chat", "", "10.0.0.2").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, call(h, "GET", "/healthz", "", "10.0.0.1").Response.StatusCode())
}

func TestRateLimitDisabled(t *testing.T) {
	g := New(Config{RPS: -1})
	defer g.Shutdown()
	h := g.Wrap(ok)
	for i := 0; i < 50; i++ {
		assert.Equal(t, fasthttp.StatusOK, call(h, "POST", "/api/chat", "", "10.0.0.1").Response.StatusCode())
	}
}

func TestLimiterPoolSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	p := newLimiterPool(1, 1)
	p.ttl = time.Minute
	p.cleanupPeriod = time.Hour
	p.now = func() time.Time { return now }
	defer p.Shutdown()

	p.Allow("a")
	now = now.Add(30 * time.Second)
	p.Allow("b")
	now = now.Add(45 * time.Second)
	p.sweep()
	assert.Equal(t, 1, p.size(), "only the stale limiter is dropped")

	p.Shutdown()
	p.Shutdown()
}
