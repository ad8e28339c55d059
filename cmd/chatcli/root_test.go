package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"chatrelay/pkg/provider/echo"
	"chatrelay/pkg/relay"
)

func TestRunChatsWithRelay(t *testing.T) {
	color.NoColor = true
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &fasthttp.Server{Handler: relay.New(echo.New(0)).Handler(context.Background())}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	var out, errOut bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts := options{endpoint: "http://" + ln.Addr().String() + "/api/chat"}
	require.NoError(t, run(ctx, opts, strings.NewReader("hello there\n"), &out, &errOut))

	assert.Equal(t, "assistant> You said: hello there\n", out.String())
	assert.Empty(t, errOut.String())
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	for _, name := range []string{"endpoint", "code", "log-level", "no-color"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
