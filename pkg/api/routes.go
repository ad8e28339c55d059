// Package api wires the HTTP surface of the relay onto a router.
package api

import (
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"chatrelay/pkg/router"
)

// Routes is what RegisterRoutes mounts.
type Routes struct {
	ChatPath string
	Chat     fasthttp.RequestHandler
	// Gatherer backs /debug/prometheus; nil leaves the debug routes off.
	Gatherer prometheus.Gatherer
}

// wrapHTTPHandler wraps an http.Handler to work with fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// RegisterRoutes wires all API routes onto the provided router.
func RegisterRoutes(r *router.Router, rt Routes) {
	r.POST(rt.ChatPath, rt.Chat)

	if rt.Gatherer == nil {
		return
	}
	r.GET("/debug/prometheus", wrapHTTPHandler(promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/debug/pprof/", wrapHTTPHandler(http.HandlerFunc(pprof.Index)))
	r.GET("/debug/pprof/cmdline", wrapHTTPHandler(http.HandlerFunc(pprof.Cmdline)))
	r.GET("/debug/pprof/profile", wrapHTTPHandler(http.HandlerFunc(pprof.Profile)))
	r.GET("/debug/pprof/symbol", wrapHTTPHandler(http.HandlerFunc(pprof.Symbol)))
	r.GET("/debug/pprof/trace", wrapHTTPHandler(http.HandlerFunc(pprof.Trace)))
	// named profiles (heap, goroutine, allocs, ...) go through the index
	r.GET("/debug/pprof/{profile}", wrapHTTPHandler(http.HandlerFunc(pprof.Index)))
}

// Handler returns a router with the API routes and a JSON 404.
func Handler(rt Routes) *router.Router {
	r := router.New()
	RegisterRoutes(r, rt)
	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})
	return r
}
