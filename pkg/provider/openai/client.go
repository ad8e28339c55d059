// Package openai builds a provider source for the public OpenAI API or any
// OpenAI compatible endpoint.
package openai

import (
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"chatrelay/pkg/provider/openaicompat"
)

const (
	// DefaultModel is the model used when none is configured.
	DefaultModel = "gpt-4o"
	// DefaultAPIKeyEnv is the environment variable holding the API key.
	DefaultAPIKeyEnv = "OPENAI_API_KEY"
)

var ErrAPIKeyMissing = errors.New("openai: api key is required")

// Config holds configuration for the OpenAI source.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// New returns a source for cfg. Extra options are applied after the ones
// derived from cfg.
func New(cfg Config, opts ...option.RequestOption) (*openaicompat.Source, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w (set provider.api_key or %s)", ErrAPIKeyMissing, DefaultAPIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	client := openai.NewClient(reqOpts...)
	return openaicompat.New(client, cfg.Model, cfg.MaxTokens), nil
}
