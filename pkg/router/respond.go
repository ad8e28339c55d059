package router

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// WriteJSON sets status and a JSON body encoding data. When data cannot be
// encoded the response becomes a bare 500 and the error is returned.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
		return err
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
	return nil
}

// WriteJSONError answers with {"error": message}.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	_ = WriteJSON(ctx, status, struct {
		Error string `json:"error"`
	}{message})
}
