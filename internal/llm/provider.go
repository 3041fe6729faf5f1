// Package llm turns a handful of seed tracks into a catalog search query
// using a configurable language model provider.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"musik/internal/core"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderNone      = "none"
)

var ErrNotConfigured = errors.New("LLM provider not configured")

// Provider dispatches to the configured backend.
type Provider struct {
	config *core.LLMConfig
	logger *zap.Logger
	client LLMClient
}

type LLMClient interface {
	GenerateSearchQuery(ctx context.Context, seedTracks []core.Track) (string, error)
}

func NewProvider(config *core.LLMConfig, logger *zap.Logger) (*Provider, error) {
	var client LLMClient
	var err error

	switch config.Provider {
	case ProviderOpenAI:
		client, err = NewOpenAIClient(config, logger)
	case ProviderAnthropic:
		client, err = NewAnthropicClient(config, logger)
	case ProviderOllama:
		client, err = NewOllamaClient(config, logger)
	case ProviderNone, "":
		client = &NoOpClient{}
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", config.Provider, err)
	}

	return &Provider{
		config: config,
		logger: logger.Named("llm"),
		client: client,
	}, nil
}

// Enabled reports whether a real provider is configured.
func (p *Provider) Enabled() bool {
	_, noop := p.client.(*NoOpClient)
	return !noop
}

func (p *Provider) GenerateSearchQuery(ctx context.Context, seedTracks []core.Track) (string, error) {
	if len(seedTracks) == 0 {
		return "", fmt.Errorf("no seed tracks provided")
	}

	raw, err := p.client.GenerateSearchQuery(ctx, seedTracks)
	if err != nil {
		return "", err
	}

	query := cleanQuery(raw)
	if query == "" {
		return "", fmt.Errorf("%s returned an empty search query", p.config.Provider)
	}

	p.logger.Debug("Search query generated",
		zap.String("provider", p.config.Provider),
		zap.Int("seeds", len(seedTracks)),
		zap.String("query", query))
	return query, nil
}

type NoOpClient struct{}

func (n *NoOpClient) GenerateSearchQuery(context.Context, []core.Track) (string, error) {
	return "", ErrNotConfigured
}
