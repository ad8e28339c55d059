// Package router dispatches fasthttp requests by method and path.
//
// A pattern segment written as {name} matches any one path segment and the
// matched text is stored on the request as the user value name. Leading and
// trailing slashes are not significant.
package router

import (
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
)

type Router struct {
	routes   []route
	notFound fasthttp.RequestHandler
}

type route struct {
	method  string
	pattern []string
	handler fasthttp.RequestHandler
}

func New() *Router { return &Router{} }

// Handle registers h for method and pattern. Routes are tried in
// registration order.
func (r *Router) Handle(method, pattern string, h fasthttp.RequestHandler) {
	r.routes = append(r.routes, route{method: method, pattern: segments(pattern), handler: h})
}

func (r *Router) GET(pattern string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodGet, pattern, h)
}

func (r *Router) POST(pattern string, h fasthttp.RequestHandler) {
	r.Handle(fasthttp.MethodPost, pattern, h)
}

// NotFound sets the handler for paths no route matches.
func (r *Router) NotFound(h fasthttp.RequestHandler) { r.notFound = h }

// Handler serves ctx with the first route matching its method and path. A
// path served only under other methods gets 405 with an Allow header.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := segments(string(ctx.Path()))

	var allow []string
	for _, rt := range r.routes {
		if !rt.matches(path) {
			continue
		}
		if rt.method != method {
			allow = append(allow, rt.method)
			continue
		}
		rt.bind(ctx, path)
		rt.handler(ctx)
		return
	}

	if len(allow) > 0 {
		sort.Strings(allow)
		allow = compact(allow)
		ctx.Response.Header.Set("Allow", strings.Join(allow, ", "))
		WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

// Param returns the text matched by the {name} segment.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func (rt route) matches(path []string) bool {
	if len(path) != len(rt.pattern) {
		return false
	}
	for i, seg := range rt.pattern {
		if name, ok := wildcard(seg); ok && name != "" {
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}

func (rt route) bind(ctx *fasthttp.RequestCtx, path []string) {
	for i, seg := range rt.pattern {
		if name, ok := wildcard(seg); ok && name != "" {
			ctx.SetUserValue(name, path[i])
		}
	}
}

func wildcard(seg string) (string, bool) {
	if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
		return "", false
	}
	return seg[1 : len(seg)-1], true
}

func segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// compact drops adjacent duplicates from a sorted slice.
func compact(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}
