package llmclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
)

// Router hands out model clients keyed by provider, building each lazily on
// first use and reusing it afterwards. It backs the per-request provider
// override on the chat API: the configured provider is the default, and any
// known provider with credentials can be requested for a single run.
type Router struct {
	cfg    config.LLMConfig
	logger *zap.Logger

	mu      sync.Mutex
	clients map[config.LLMProvider]schemas.ModelClient
}

// NewRouter creates an empty router; no clients are built until requested.
func NewRouter(cfg config.LLMConfig, logger *zap.Logger) *Router {
	return &Router{
		cfg:     cfg,
		logger:  logger.Named("llm_router"),
		clients: make(map[config.LLMProvider]schemas.ModelClient),
	}
}

// Client returns the model client for the requested provider, building it
// on first use. An empty provider selects the configured default.
func (r *Router) Client(ctx context.Context, provider config.LLMProvider) (schemas.ModelClient, error) {
	if provider == "" {
		provider = r.cfg.Provider
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[provider]; ok {
		return client, nil
	}

	client, err := NewClient(ctx, provider, r.cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Initialized model client", zap.String("provider", string(provider)))
	r.clients[provider] = client
	return client, nil
}

// Close shuts down every client the router built.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for provider, client := range r.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", provider, err))
		}
	}
	clear(r.clients)
	return errors.Join(errs...)
}
