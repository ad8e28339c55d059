package relay

import (
	"bufio"
	"context"

	"github.com/valyala/fasthttp"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/router"
)

// Handler serves POST chat requests. Invalid payloads get a 400 with a JSON
// array of problems and no event-stream headers. Valid ones are streamed; the
// stream is bound to base, so cancelling base (server shutdown) ends every
// open turn through its done frame.
func (r *Relay) Handler(base context.Context) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		payload, problems := r.Validate(ctx.PostBody())
		if len(problems) > 0 {
			logger.Warn("chat_request_rejected", "remote", ctx.RemoteAddr().String(), "problems", problems)
			writeProblems(ctx, problems)
			return
		}
		logger.Info("chat_request_received",
			"remote", ctx.RemoteAddr().String(),
			"history", len(payload.History),
			"bytes", len(ctx.PostBody()),
		)

		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.Response.Header.Set("Content-Type", "text/event-stream")
		ctx.Response.Header.Set("Cache-Control", "no-cache")
		ctx.Response.Header.Set("Connection", "keep-alive")
		ctx.Response.Header.Set("X-Accel-Buffering", "no")

		// the stream writer runs after the handler returns and must not touch ctx
		ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
			r.Stream(base, w, payload)
		})
	}
}

func writeProblems(ctx *fasthttp.RequestCtx, problems []string) {
	if err := router.WriteJSON(ctx, fasthttp.StatusBadRequest, problems); err != nil {
		logger.Error("chat_problems_encode_failed", "error", err)
	}
}
