// Package azureopenai builds a provider source for an Azure OpenAI deployment.
package azureopenai

import (
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"chatrelay/pkg/provider/openaicompat"
)

const (
	// DefaultAPIKeyEnv is the environment variable holding the API key.
	DefaultAPIKeyEnv = "AZURE_OPENAI_API_KEY"
	// DefaultAPIVersion is the Azure OpenAI API version used when none is set.
	DefaultAPIVersion = "2024-06-01"
)

var (
	ErrEndpointMissing   = errors.New("azure openai: endpoint is required (format: https://<resource>.openai.azure.com)")
	ErrDeploymentMissing = errors.New("azure openai: deployment name is required")
	ErrAPIKeyMissing     = errors.New("azure openai: api key is required")
)

// Config identifies the deployment to stream from.
type Config struct {
	Endpoint   string
	Deployment string
	APIKey     string
	APIVersion string
	MaxTokens  int
}

// Validate reports the first missing required field.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return ErrEndpointMissing
	case strings.TrimSpace(c.Deployment) == "":
		return ErrDeploymentMissing
	case c.APIKey == "":
		return ErrAPIKeyMissing
	}
	return nil
}

// New returns a source for the deployment. Azure authenticates with the
// api-key header and routes by deployment, both handled by the azure options.
func New(cfg Config, opts ...option.RequestOption) (*openaicompat.Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	reqOpts := []option.RequestOption{
		azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
		azure.WithAPIKey(cfg.APIKey),
	}
	reqOpts = append(reqOpts, opts...)

	client := openai.NewClient(reqOpts...)
	return openaicompat.New(client, cfg.Deployment, cfg.MaxTokens), nil
}
