package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"chatrelay/pkg/provider"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// set defaults, fail fast on critical errors
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	cfg.ApplyDefaults()

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalidConfig, cfg.Server.Port)
	}
	if cfg.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("%w: server.rate_limit.burst must not be negative", ErrInvalidConfig)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q (want text or json)", ErrInvalidConfig, cfg.Logging.Format)
	}
	if s := cfg.Logging.Sink; s != "" && s != "stdout" && s != "stderr" && !strings.HasPrefix(s, "file:") {
		return fmt.Errorf("%w: logging.sink %q (want stdout, stderr or file:<path>)", ErrInvalidConfig, s)
	}

	p := cfg.Provider
	if p.MaxTokens < 0 {
		return fmt.Errorf("%w: provider.max_tokens must not be negative", ErrInvalidConfig)
	}
	switch p.Kind {
	case provider.KindEcho:
	case provider.KindOpenAI:
		if p.Endpoint != "" {
			if err := checkURL("provider.endpoint", p.Endpoint); err != nil {
				return err
			}
		}
	case provider.KindAzure:
		// both are required options for an azure deployment
		if strings.TrimSpace(p.Endpoint) == "" {
			return fmt.Errorf("%w: provider.endpoint is required for azure", ErrInvalidConfig)
		}
		if err := checkURL("provider.endpoint", p.Endpoint); err != nil {
			return err
		}
		if strings.TrimSpace(p.Deployment) == "" {
			return fmt.Errorf("%w: provider.deployment is required for azure", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalidConfig, provider.ErrUnknownKind, p.Kind)
	}
	return nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s %q is not an absolute url", ErrInvalidConfig, field, raw)
	}
	return nil
}
