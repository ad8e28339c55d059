package logger

import (
	"strings"
	"unicode/utf8"

	"github.com/valyala/fasthttp"
)

// query parameters whose values never reach the logs
var sensitiveParams = map[string]struct{}{
	"code":    {},
	"api_key": {},
	"key":     {},
}

var sensitiveHeaders = map[string]struct{}{
	"authorization":   {},
	"api-key":         {},
	"x-api-key":       {},
	"x-functions-key": {},
	"cookie":          {},
}

func maskedValue(v string) string {
	if v == "" {
		return ""
	}
	// keep first and last rune, mask the middle with fixed asterisks
	l := utf8.RuneCountInString(v)
	if l <= 2 {
		return "<redacted>"
	}
	first, _ := utf8.DecodeRuneInString(v)
	last, _ := utf8.DecodeLastRuneInString(v)
	return string(first) + "*****" + string(last)
}

func redactHeaderValue(k string, v string) string {
	if v == "" {
		return ""
	}
	if _, ok := sensitiveHeaders[strings.ToLower(k)]; ok {
		return maskedValue(v)
	}
	return v
}

// SafeHeadersFast builds a redacted header string for fasthttp requests.
func SafeHeadersFast(ctx *fasthttp.RequestCtx) string {
	parts := make([]string, 0)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		parts = append(parts, key+"="+redactHeaderValue(key, string(v)))
	})
	return strings.Join(parts, "; ")
}

// SafeQueryFast renders the query string with credential parameters masked.
func SafeQueryFast(ctx *fasthttp.RequestCtx) string {
	args := ctx.QueryArgs()
	if args.Len() == 0 {
		return ""
	}
	parts := make([]string, 0, args.Len())
	args.VisitAll(func(k, v []byte) {
		key := string(k)
		val := string(v)
		if _, ok := sensitiveParams[strings.ToLower(key)]; ok {
			val = maskedValue(val)
		}
		parts = append(parts, key+"="+val)
	})
	return strings.Join(parts, "&")
}

// LogRequestFast logs a concise, safe summary of an incoming fasthttp request.
func LogRequestFast(ctx *fasthttp.RequestCtx) {
	if Log == nil {
		return
	}
	Info("incoming_request",
		"method", string(ctx.Method()),
		"path", string(ctx.Path()),
		"query", SafeQueryFast(ctx),
		"remote", ctx.RemoteAddr().String(),
	)
	Debug("incoming_request_headers", "headers", SafeHeadersFast(ctx))
}
