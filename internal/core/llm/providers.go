package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markdave123-py/autophile/internal/config"
	"github.com/markdave123-py/autophile/internal/core"
)

// NewEmbeddingProvider builds the provider named by EMBED_PROVIDER.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.EmbeddingProvider, error) {
	switch cfg.EmbedProvider {
	case "gemini":
		g, err := NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai":
		c, err := NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.GenModel, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
	}
}

// NewLLMProvider builds the provider named by GEN_PROVIDER.
func NewLLMProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.LLMProvider, error) {
	switch cfg.GenProvider {
	case "gemini":
		g, err := NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.GenModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai":
		c, err := NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.GenModel, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.GenProvider)
	}
}

// Unavailable stands in for a generation provider that could not be built.
// Every call fails with the construction error.
type Unavailable struct {
	Err error
}

var _ core.LLMProvider = Unavailable{}

func (u Unavailable) Generate(context.Context, core.GenerateRequest) (string, error) {
	return "", fmt.Errorf("generation provider unavailable: %w", u.Err)
}

func (u Unavailable) Stream(context.Context, core.GenerateRequest, func(string) error) error {
	return fmt.Errorf("generation provider unavailable: %w", u.Err)
}
