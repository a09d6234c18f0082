// -- internal/llmclient/factory.go --
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
)

// NewClient is a factory function that creates a ModelClient for the given
// provider. An empty provider selects the configured default. Configuration
// problems surface immediately so a broken setup never reaches a run.
func NewClient(ctx context.Context, provider config.LLMProvider, cfg config.LLMConfig, logger *zap.Logger) (schemas.ModelClient, error) {
	if provider == "" {
		provider = cfg.Provider
	}

	switch provider {
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg, logger)
	case config.ProviderOpenAI, config.ProviderGrok, config.ProviderMistral:
		return NewOpenAIClient(provider, cfg, logger)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: %v",
			provider, config.KnownProviders)
	}
}
