package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/config"
	"chatrelay/pkg/models"
	"chatrelay/pkg/provider"
)

func testConfig(t *testing.T, mutate func(*config.Config)) config.EffectiveConfigResult {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Provider.EchoDelay = config.Duration(time.Millisecond)
	if mutate != nil {
		mutate(cfg)
	}
	eff := config.EffectiveConfigResult{Config: cfg, Source: "test"}
	require.NoError(t, config.ValidateConfig(eff))
	// port 0 is replaced by the default; bind an ephemeral port instead
	cfg.Server.Port = 0
	cfg.Server.Address = "127.0.0.1"
	return eff
}

func startApp(t *testing.T, eff config.EffectiveConfigResult, opts ...Option) (*App, string, context.CancelFunc, <-chan error) {
	t.Helper()
	a, err := New(eff, "test", "none", "unknown", opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	t.Cleanup(cancel)

	select {
	case <-a.Ready():
	case err := <-errc:
		t.Fatalf("app exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("app never became ready")
	}
	return a, "http://" + a.Addr().String(), cancel, errc
}

func TestAppServesProbesAndChat(t *testing.T) {
	_, base, cancel, errc := startApp(t, testConfig(t, nil))

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/readyz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","version":"test"}`, string(body))

	payload := `{"utterance":{"role":"user","contents":[{"$type":"text","text":"ping pong"}]},"history":[]}`
	resp, err = http.Post(base+config.DefaultChatPath, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(raw), `"text":"ping"`)
	assert.True(t, strings.HasSuffix(string(raw), "event: done\ndata: [DONE]\n\n"))

	resp, err = http.Get(base + "/debug/prometheus")
	require.NoError(t, err)
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metrics), `chatrelay_turns_total{outcome="completed"} 1`)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestAppShutdownEndsOpenStream(t *testing.T) {
	src := provider.Func(func(ctx context.Context, _ []models.Message) (provider.Stream, error) {
		return &tickingStream{ctx: ctx}, nil
	})
	a, base, cancel, errc := startApp(t, testConfig(t, nil), WithSource(src))

	payload := `{"utterance":{"contents":[{"$type":"text","text":"go"}]}}`
	resp, err := http.Post(base+config.DefaultChatPath, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 256)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)

	cancel()
	rest, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasSuffix(string(rest), "event: done\ndata: [DONE]\n\n"))
	assert.NotContains(t, string(rest), "event: error")

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, stateStopped, a.State())
	assert.NoError(t, a.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestAppDisabledDebugRoutesAndRejects(t *testing.T) {
	off := false
	_, base, _, _ := startApp(t, testConfig(t, func(c *config.Config) { c.Server.DebugRoutes = &off }))

	resp, err := http.Get(base + "/debug/prometheus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(base+config.DefaultChatPath, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `["the utterance field is required"]`, string(body))
}

// tickingStream produces a delta every few milliseconds until cancelled.
type tickingStream struct{ ctx context.Context }

func (s *tickingStream) Next() (provider.Delta, error) {
	select {
	case <-s.ctx.Done():
		return provider.Delta{}, s.ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return provider.TextDelta("m1", "tick "), nil
	}
}

func (s *tickingStream) Close() error { return nil }

func TestSetupProvider(t *testing.T) {
	src, err := setupProvider(config.ProviderConfig{Kind: "echo"})
	require.NoError(t, err)
	assert.NotNil(t, src)

	_, err = setupProvider(config.ProviderConfig{Kind: "bard"})
	assert.True(t, errors.Is(err, provider.ErrUnknownKind))

	t.Setenv("CHATRELAY_TEST_KEY", "")
	_, err = setupProvider(config.ProviderConfig{Kind: "azure", Endpoint: "https://x.openai.azure.com", Deployment: "d", APIKeyEnv: "CHATRELAY_TEST_KEY"})
	assert.Error(t, err, "azure without a key fails at startup")

	t.Setenv("CHATRELAY_TEST_KEY", "sk-test")
	src, err = setupProvider(config.ProviderConfig{Kind: "openai", APIKeyEnv: "CHATRELAY_TEST_KEY", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.NotNil(t, src)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-default-env")
	t.Setenv("MY_KEY", "from-custom-env")

	assert.Equal(t, "inline", resolveAPIKey(config.ProviderConfig{APIKey: " inline "}, "OPENAI_API_KEY"))
	assert.Equal(t, "from-custom-env", resolveAPIKey(config.ProviderConfig{APIKeyEnv: "MY_KEY"}, "OPENAI_API_KEY"))
	assert.Equal(t, "from-default-env", resolveAPIKey(config.ProviderConfig{}, "OPENAI_API_KEY"))
}
