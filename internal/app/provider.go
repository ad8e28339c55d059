package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go/option"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/provider"
	"chatrelay/pkg/provider/azureopenai"
	"chatrelay/pkg/provider/echo"
	"chatrelay/pkg/provider/openai"
)

// setupProvider builds the model source named by cfg.Kind.
func setupProvider(cfg config.ProviderConfig, opts ...option.RequestOption) (provider.Source, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	switch kind {
	case "", provider.KindEcho:
		logger.Warn("provider_echo", "msg", "replies repeat the user; not for production", "delay", cfg.EchoDelay.Duration())
		return echo.New(cfg.EchoDelay.Duration()), nil
	case provider.KindOpenAI:
		src, err := openai.New(openai.Config{
			BaseURL:   cfg.Endpoint,
			APIKey:    resolveAPIKey(cfg, openai.DefaultAPIKeyEnv),
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, opts...)
		if err != nil {
			return nil, err
		}
		logger.Info("provider_ready", "kind", kind, "model", src.Model())
		return src, nil
	case provider.KindAzure:
		src, err := azureopenai.New(azureopenai.Config{
			Endpoint:   cfg.Endpoint,
			Deployment: cfg.Deployment,
			APIKey:     resolveAPIKey(cfg, azureopenai.DefaultAPIKeyEnv),
			APIVersion: cfg.APIVersion,
			MaxTokens:  cfg.MaxTokens,
		}, opts...)
		if err != nil {
			return nil, err
		}
		logger.Info("provider_ready", "kind", kind, "deployment", cfg.Deployment, "endpoint", cfg.Endpoint)
		return src, nil
	default:
		return nil, fmt.Errorf("%w %q; must be echo, openai or azure", provider.ErrUnknownKind, cfg.Kind)
	}
}

// resolveAPIKey prefers the configured key, then the configured env var,
// then the provider's conventional env var.
func resolveAPIKey(cfg config.ProviderConfig, defaultEnv string) string {
	if k := strings.TrimSpace(cfg.APIKey); k != "" {
		return k
	}
	env := cfg.APIKeyEnv
	if env == "" {
		env = defaultEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}
