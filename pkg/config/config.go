package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chatrelay/pkg/provider"
)

// Defaults applied by ApplyDefaults when a value is left unset.
const (
	DefaultAddress      = "0.0.0.0"
	DefaultPort         = 8080
	DefaultChatPath     = "/api/chat"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultProviderKind = provider.KindEcho

	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 30 * time.Second
	defaultMaxBodySize = 5 * 1024 * 1024 // 5 MiB of history per request
	defaultRateRPS     = 5
	defaultRateBurst   = 10
	defaultEchoDelay   = 50 * time.Millisecond
)

// Addr returns the listen address composed of address and port. Port 0
// means an ephemeral port until ApplyDefaults fills it in.
func (c *Config) Addr() string {
	host := c.Server.Address
	if host == "" {
		host = DefaultAddress
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}

// DebugRoutes reports whether the debug routes are mounted; they are on unless disabled.
func (c *Config) DebugRoutes() bool {
	return c.Server.DebugRoutes == nil || *c.Server.DebugRoutes
}

// LoadConfigFile reads and parses a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills in every value left unset. It mutates the receiver.
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(defaultReadTimeout)
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = Duration(defaultIdleTimeout)
	}
	if c.Server.MaxBodySize == 0 {
		c.Server.MaxBodySize = SizeBytes(defaultMaxBodySize)
	}
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = defaultRateRPS
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = defaultRateBurst
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	c.Provider.Kind = strings.ToLower(strings.TrimSpace(c.Provider.Kind))
	if c.Provider.Kind == "" {
		c.Provider.Kind = DefaultProviderKind
	}
	if c.Provider.Kind == provider.KindEcho && c.Provider.EchoDelay == 0 {
		c.Provider.EchoDelay = Duration(defaultEchoDelay)
	}

	if c.Relay.ChatPath == "" {
		c.Relay.ChatPath = DefaultChatPath
	}
	if !strings.HasPrefix(c.Relay.ChatPath, "/") {
		c.Relay.ChatPath = "/" + c.Relay.ChatPath
	}
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATRELAY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
