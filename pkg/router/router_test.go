package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func request(method, path string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	return &ctx
}

func TestRouterDispatch(t *testing.T) {
	r := New()
	var hit string
	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) { hit = "healthz" })
	r.POST("/api/chat", func(ctx *fasthttp.RequestCtx) { hit = "chat" })
	r.GET("/debug/pprof/profile", func(ctx *fasthttp.RequestCtx) { hit = "profile" })
	r.GET("/debug/pprof/{name}", func(ctx *fasthttp.RequestCtx) { hit = "named:" + Param(ctx, "name") })
	r.GET("/", func(ctx *fasthttp.RequestCtx) { hit = "root" })

	tests := []struct {
		method, path, want string
	}{
		{"GET", "/healthz", "healthz"},
		{"POST", "/api/chat", "chat"},
		{"GET", "/debug/pprof/profile", "profile"},
		{"GET", "/debug/pprof/heap", "named:heap"},
		{"GET", "/", "root"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			hit = ""
			r.Handler(request(tt.method, tt.path))
			assert.Equal(t, tt.want, hit)
		})
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	r := New()
	r.POST("/api/chat", func(*fasthttp.RequestCtx) {})
	r.Handle(fasthttp.MethodPut, "/api/chat", func(*fasthttp.RequestCtx) {})

	ctx := request("GET", "/api/chat")
	r.Handler(ctx)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "POST, PUT", string(ctx.Response.Header.Peek("Allow")))
}

func TestRouterNotFound(t *testing.T) {
	r := New()
	ctx := request("GET", "/nope")
	r.Handler(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})
	ctx = request("GET", "/nope")
	r.Handler(ctx)
	var body map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	assert.Equal(t, "not found", body["error"])
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
}

func TestWriteJSON(t *testing.T) {
	var ctx fasthttp.RequestCtx
	require.NoError(t, WriteJSON(&ctx, fasthttp.StatusBadRequest, []string{"a", "b"}))
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	assert.JSONEq(t, `["a","b"]`, string(ctx.Response.Body()))
}

func TestRouterIgnoresOuterSlashes(t *testing.T) {
	r := New()
	var hit bool
	r.GET("/debug/pprof/", func(*fasthttp.RequestCtx) { hit = true })

	for _, p := range []string{"/debug/pprof", "/debug/pprof/"} {
		hit = false
		r.Handler(request("GET", p))
		assert.True(t, hit, p)
	}

	ctx := request("GET", "/debug/pprof/heap")
	r.Handler(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestRouterAllowListsEachMethodOnce(t *testing.T) {
	r := New()
	r.POST("/api/{id}", func(*fasthttp.RequestCtx) {})
	r.POST("/api/chat", func(*fasthttp.RequestCtx) {})

	ctx := request("DELETE", "/api/chat")
	r.Handler(ctx)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "POST", string(ctx.Response.Header.Peek("Allow")))
}

func TestWriteJSONUnencodable(t *testing.T) {
	var ctx fasthttp.RequestCtx
	assert.Error(t, WriteJSON(&ctx, fasthttp.StatusOK, map[string]any{"c": make(chan int)}))
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
}
