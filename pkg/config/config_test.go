package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/provider"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func flagsFor(t *testing.T, args ...string) Flags {
	t.Helper()
	fs := flag.NewFlagSet("chatrelay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return ParseConfigFlagSet(fs, args)
}

func TestLoadConfigFile(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9090
  read_timeout: 2s
  idle_timeout: 45
  max_body_size: 1MiB
  cors:
    allowed_origins: ["http://localhost:5173"]
provider:
  kind: azure
  endpoint: https://res.openai.azure.com
  deployment: gpt4o-chat
  system_prompt: ""
relay:
  chat_path: chat
`)
	c, err := LoadConfigFile(p)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", c.Addr())
	assert.Equal(t, 2*time.Second, c.Server.ReadTimeout.Duration())
	assert.Equal(t, 45*time.Second, c.Server.IdleTimeout.Duration())
	assert.Equal(t, int64(1<<20), c.Server.MaxBodySize.Int64())
	assert.Equal(t, []string{"http://localhost:5173"}, c.Server.CORS.AllowedOrigins)
	require.NotNil(t, c.Provider.SystemPrompt, "an explicit empty prompt is kept")
	assert.Empty(t, *c.Provider.SystemPrompt)

	require.NoError(t, ValidateConfig(EffectiveConfigResult{Config: c}))
	assert.Equal(t, "/chat", c.Relay.ChatPath)
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, os.IsNotExist(err))

	_, err = LoadConfigFile(writeConfig(t, "server: [::"))
	assert.Error(t, err)

	_, err = LoadConfigFile(writeConfig(t, "server:\n  read_timeout: soon\n"))
	assert.ErrorContains(t, err, "invalid duration")
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CHATRELAY_CONFIG", "/etc/chatrelay.yaml")
	assert.Equal(t, "/etc/chatrelay.yaml", ResolveConfigPath("./config.yaml", false))
	assert.Equal(t, "./mine.yaml", ResolveConfigPath("./mine.yaml", true))
}

func TestApplyDefaults(t *testing.T) {
	c := &Config{}
	c.ApplyDefaults()
	assert.Equal(t, "0.0.0.0:8080", c.Addr())
	assert.Equal(t, DefaultChatPath, c.Relay.ChatPath)
	assert.Equal(t, provider.KindEcho, c.Provider.Kind)
	assert.Equal(t, 50*time.Millisecond, c.Provider.EchoDelay.Duration())
	assert.Equal(t, DefaultLogFormat, c.Logging.Format)
	assert.EqualValues(t, 5*1024*1024, c.Server.MaxBodySize)
	assert.Nil(t, c.Provider.SystemPrompt)
	assert.True(t, c.DebugRoutes())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"echo default", Config{}, ""},
		{"openai without endpoint", Config{Provider: ProviderConfig{Kind: "OpenAI"}}, ""},
		{"unknown kind", Config{Provider: ProviderConfig{Kind: "llama"}}, "unknown provider kind"},
		{"azure needs endpoint", Config{Provider: ProviderConfig{Kind: "azure", Deployment: "d"}}, "provider.endpoint is required"},
		{"azure needs deployment", Config{Provider: ProviderConfig{Kind: "azure", Endpoint: "https://x.openai.azure.com"}}, "provider.deployment is required"},
		{"azure relative endpoint", Config{Provider: ProviderConfig{Kind: "azure", Endpoint: "x.openai.azure.com", Deployment: "d"}}, "not an absolute url"},
		{"bad format", Config{Logging: LoggingConfig{Format: "xml"}}, "logging.format"},
		{"bad sink", Config{Logging: LoggingConfig{Sink: "syslog"}}, "logging.sink"},
		{"bad port", Config{Server: ServerConfig{Port: 70000}}, "server.port"},
		{"negative tokens", Config{Provider: ProviderConfig{MaxTokens: -1}}, "max_tokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := ValidateConfig(EffectiveConfigResult{Config: &cfg})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.Error(t, ValidateConfig(EffectiveConfigResult{}))

	cfg := Config{Provider: ProviderConfig{Kind: "nope"}}
	assert.ErrorIs(t, ValidateConfig(EffectiveConfigResult{Config: &cfg}), provider.ErrUnknownKind)
}

func TestParseConfigEnvs(t *testing.T) {
	t.Setenv("CHATRELAY_ADDR", "127.0.0.1:7000")
	t.Setenv("CHATRELAY_CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("CHATRELAY_RATE_RPS", "2.5")
	t.Setenv("CHATRELAY_MAX_BODY_SIZE", "64KB")
	t.Setenv("CHATRELAY_DEBUG_ROUTES", "off")
	t.Setenv("CHATRELAY_PROVIDER", "Azure")
	t.Setenv("CHATRELAY_PROVIDER_ENDPOINT", "https://res.openai.azure.com")
	t.Setenv("CHATRELAY_PROVIDER_DEPLOYMENT", "chat")
	t.Setenv("CHATRELAY_ECHO_DELAY", "0.25")
	t.Setenv("CHATRELAY_SYSTEM_PROMPT", "be terse")

	c, res := ParseConfigEnvs()
	assert.True(t, res.EnvUsed)
	assert.Equal(t, "127.0.0.1:7000", c.Addr())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.Server.CORS.AllowedOrigins)
	assert.Equal(t, 2.5, c.Server.RateLimit.RPS)
	assert.EqualValues(t, 64000, c.Server.MaxBodySize)
	assert.False(t, c.DebugRoutes())
	assert.Equal(t, provider.KindAzure, c.Provider.Kind)
	assert.Equal(t, "chat", c.Provider.Deployment)
	assert.Equal(t, 250*time.Millisecond, c.Provider.EchoDelay.Duration())
	require.NotNil(t, c.Provider.SystemPrompt)
	assert.Equal(t, "be terse", *c.Provider.SystemPrompt)
}

func TestLoadEffectiveConfig(t *testing.T) {
	fileCfg := &Config{Server: ServerConfig{Address: "10.0.0.1", Port: 9000}}
	envCfg := &Config{Server: ServerConfig{Port: 7000}}

	t.Run("config flag requires the file", func(t *testing.T) {
		_, err := LoadEffectiveConfig(flagsFor(t, "--config", "/nope.yaml"), &Config{}, false, envCfg, EnvResult{})
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("file wins over env", func(t *testing.T) {
		eff, err := LoadEffectiveConfig(flagsFor(t), fileCfg, true, envCfg, EnvResult{EnvUsed: true})
		require.NoError(t, err)
		assert.Equal(t, "config", eff.Source)
		assert.Equal(t, "10.0.0.1:9000", eff.Addr)
	})

	t.Run("env without file", func(t *testing.T) {
		eff, err := LoadEffectiveConfig(flagsFor(t), &Config{}, false, envCfg, EnvResult{EnvUsed: true})
		require.NoError(t, err)
		assert.Equal(t, "env", eff.Source)
		assert.Equal(t, "0.0.0.0:7000", eff.Addr)
	})

	t.Run("flags overlay", func(t *testing.T) {
		f := &Config{Server: ServerConfig{Address: "10.0.0.1", Port: 9000}}
		eff, err := LoadEffectiveConfig(flagsFor(t, "--addr", ":8181", "--provider", "OPENAI"), f, true, envCfg, EnvResult{})
		require.NoError(t, err)
		assert.Equal(t, "flags+config", eff.Source)
		assert.Equal(t, "0.0.0.0:8181", eff.Addr)
		assert.Equal(t, provider.KindOpenAI, eff.Config.Provider.Kind)
	})

	t.Run("bad addr flag", func(t *testing.T) {
		_, err := LoadEffectiveConfig(flagsFor(t, "--addr", "8181"), &Config{}, false, envCfg, EnvResult{})
		assert.ErrorContains(t, err, "invalid --addr")
	})
}

func TestSizeAndDurationParsing(t *testing.T) {
	s, err := parseSizeBytes("2 MiB")
	require.NoError(t, err)
	assert.EqualValues(t, 2<<20, s)
	assert.Equal(t, "2.0 MiB", s.String())

	_, err = parseSizeBytes("lots")
	assert.Error(t, err)

	d, err := parseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d.Duration())
}
