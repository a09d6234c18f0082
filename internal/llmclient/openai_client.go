// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
)

// OpenAIClient speaks the OpenAI chat completions dialect. Grok and Mistral
// expose the same wire format, so the three providers share this adapter
// and differ only in base URL and model name.
type OpenAIClient struct {
	client         *openai.Client
	provider       config.LLMProvider
	model          string
	maxTokens      int
	temperature    float32
	backoffFactory func() backoff.BackOff
	logger         *zap.Logger
}

// NewOpenAIClient initializes the adapter for one of the chat-completions
// compatible providers.
func NewOpenAIClient(provider config.LLMProvider, cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	settings := cfg.ProviderFor(provider)
	if settings.APIKey == "" {
		return nil, schemas.NewConfigurationError(
			fmt.Sprintf("llm.providers.%s.api_key", provider), "API key is required")
	}
	if settings.Model == "" {
		return nil, schemas.NewConfigurationError(
			fmt.Sprintf("llm.providers.%s.model", provider), "model name is required")
	}

	clientCfg := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		clientCfg.BaseURL = settings.BaseURL
	}
	if cfg.APITimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		provider:       provider,
		model:          settings.Model,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		backoffFactory: defaultBackoffFactory,
		logger:         logger.Named("llm_client." + string(provider)),
	}, nil
}

// GenerateTurn sends the conversation to the API and returns the normalized
// model output, retrying transient failures.
func (c *OpenAIClient) GenerateTurn(ctx context.Context, turns []schemas.Turn, tools []schemas.ToolDefinition) (*schemas.ModelTurn, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    c.buildMessages(turns),
		Tools:       buildOpenAITools(tools),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	var turn *schemas.ModelTurn
	operation := func() error {
		startTime := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return c.classifyError(err)
		}

		if len(resp.Choices) == 0 {
			return backoff.Permanent(&schemas.ProviderError{
				Provider: string(c.provider),
				Message:  "API returned no choices",
			})
		}

		msg := resp.Choices[0].Message
		out := &schemas.ModelTurn{
			Text:      msg.Content,
			Reasoning: msg.ReasoningContent,
		}
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}

		c.logger.Info("Model turn complete",
			zap.Duration("duration", time.Since(startTime)),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.Int("tool_calls", len(out.ToolCalls)),
		)
		turn = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return nil, err
	}
	return turn, nil
}

// Close releases nothing; the underlying HTTP client needs no teardown.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiStatusError(string(c.provider), apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apiStatusError(string(c.provider), reqErr.HTTPStatusCode, reqErr.Error())
	}
	c.logger.Warn("Network error during model request, retrying...", zap.Error(err))
	return err
}

// buildMessages flattens the conversation into chat messages. Screenshots
// cannot ride inside tool messages on this API, so image results are
// buffered and delivered as one user message right after the tool results
// of the batch, keeping the tool-call / tool-result adjacency the API
// enforces.
func (c *OpenAIClient) buildMessages(turns []schemas.Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	var pendingImages []openai.ChatMessagePart

	flushImages := func() {
		if len(pendingImages) == 0 {
			return
		}
		parts := append([]openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: "Current state of the screen after the executed actions:",
		}}, pendingImages...)
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
		pendingImages = nil
	}

	for _, turn := range turns {
		if turn.Role != schemas.RoleTool {
			flushImages()
		}

		switch turn.Role {
		case schemas.RoleSystem:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: turn.Text,
			})

		case schemas.RoleUser:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: turn.Text,
			})

		case schemas.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Text,
			}
			for _, call := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Arguments),
					},
				})
			}
			msgs = append(msgs, msg)

		case schemas.RoleTool:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: turn.CallID,
				Content:    resultText(turn.Result),
			})
			if turn.Result != nil && len(turn.Result.Image) > 0 {
				pendingImages = append(pendingImages, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s",
							resultMediaType(turn.Result),
							base64.StdEncoding.EncodeToString(turn.Result.Image)),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		}
	}
	flushImages()
	return msgs
}

func buildOpenAITools(tools []schemas.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, def := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}
