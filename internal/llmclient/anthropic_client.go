// internal/llmclient/anthropic_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
)

// anthropicAPIVersion pins the Messages API revision this adapter speaks.
const anthropicAPIVersion = "2023-06-01"

// AnthropicClient implements the ModelClient interface for the Anthropic
// Messages API.
type AnthropicClient struct {
	apiKey         string
	endpoint       string
	model          string
	maxTokens      int
	temperature    float32
	httpClient     *http.Client
	backoffFactory func() backoff.BackOff
	logger         *zap.Logger
}

// -- Anthropic API Request/Response Structures (Internal to this file) --

type AnthropicRequestPayload struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
	Temperature float32            `json:"temperature,omitempty"`
}

type AnthropicMessage struct {
	Role    string                  `json:"role"`
	Content []AnthropicContentBlock `json:"content"`
}

// AnthropicContentBlock is the union of every block shape this adapter
// sends or receives. Type selects which fields are meaningful.
type AnthropicContentBlock struct {
	Type string `json:"type"`

	// type: "text"
	Text string `json:"text,omitempty"`
	// type: "thinking"
	Thinking string `json:"thinking,omitempty"`
	// type: "image"
	Source *AnthropicImageSource `json:"source,omitempty"`
	// type: "tool_use"
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// type: "tool_result"
	ToolUseID string                  `json:"tool_use_id,omitempty"`
	Content   []AnthropicContentBlock `json:"content,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type AnthropicResponsePayload struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason,omitempty"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type AnthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicClient initializes the client.
func NewAnthropicClient(cfg config.LLMConfig, logger *zap.Logger) (*AnthropicClient, error) {
	settings := cfg.ProviderFor(config.ProviderAnthropic)
	if settings.APIKey == "" {
		return nil, schemas.NewConfigurationError("llm.providers.anthropic.api_key", "API key is required")
	}
	if settings.Model == "" {
		return nil, schemas.NewConfigurationError("llm.providers.anthropic.model", "model name is required")
	}

	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &AnthropicClient{
		apiKey:      settings.APIKey,
		endpoint:    baseURL + "/v1/messages",
		model:       settings.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		backoffFactory: defaultBackoffFactory,
		logger:         logger.Named("llm_client.anthropic"),
	}, nil
}

// GenerateTurn sends the conversation to the Messages API and returns the
// normalized model output, retrying transient failures.
func (c *AnthropicClient) GenerateTurn(ctx context.Context, turns []schemas.Turn, tools []schemas.ToolDefinition) (*schemas.ModelTurn, error) {
	payload := c.buildRequestPayload(turns, tools)

	body, err := llmJSON.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var turn *schemas.ModelTurn
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("Network error during model request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload AnthropicResponsePayload
		if err := llmJSON.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		out := &schemas.ModelTurn{}
		for _, block := range responsePayload.Content {
			switch block.Type {
			case "text":
				out.Text += block.Text
			case "thinking":
				out.Reasoning += block.Thinking
			case "tool_use":
				input := block.Input
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: input,
				})
			}
		}

		c.logger.Info("Model turn complete",
			zap.Duration("duration", time.Since(startTime)),
			zap.String("stop_reason", responsePayload.StopReason),
			zap.Int("prompt_tokens", responsePayload.Usage.InputTokens),
			zap.Int("completion_tokens", responsePayload.Usage.OutputTokens),
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
func (c *AnthropicClient) Close() error { return nil }

// buildRequestPayload assembles the Messages API envelope. System turns are
// hoisted into the request-level system field, and consecutive tool turns
// collapse into a single user message because the API demands strict
// user/assistant alternation.
func (c *AnthropicClient) buildRequestPayload(turns []schemas.Turn, tools []schemas.ToolDefinition) AnthropicRequestPayload {
	payload := AnthropicRequestPayload{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	for _, def := range tools {
		payload.Tools = append(payload.Tools, AnthropicTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		})
	}

	for _, turn := range turns {
		switch turn.Role {
		case schemas.RoleSystem:
			if payload.System != "" {
				payload.System += "\n\n"
			}
			payload.System += turn.Text

		case schemas.RoleUser:
			payload.Messages = append(payload.Messages, AnthropicMessage{
				Role:    "user",
				Content: []AnthropicContentBlock{{Type: "text", Text: turn.Text}},
			})

		case schemas.RoleAssistant:
			msg := AnthropicMessage{Role: "assistant"}
			if turn.Text != "" {
				msg.Content = append(msg.Content, AnthropicContentBlock{Type: "text", Text: turn.Text})
			}
			for _, call := range turn.ToolCalls {
				input := call.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				msg.Content = append(msg.Content, AnthropicContentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			payload.Messages = append(payload.Messages, msg)

		case schemas.RoleTool:
			block := AnthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: turn.CallID,
				Content:   resultBlocks(turn.Result),
			}
			// Append to the previous message when it already carries tool
			// results, keeping the alternation intact.
			if n := len(payload.Messages); n > 0 &&
				payload.Messages[n-1].Role == "user" &&
				len(payload.Messages[n-1].Content) > 0 &&
				payload.Messages[n-1].Content[0].Type == "tool_result" {
				payload.Messages[n-1].Content = append(payload.Messages[n-1].Content, block)
			} else {
				payload.Messages = append(payload.Messages, AnthropicMessage{
					Role:    "user",
					Content: []AnthropicContentBlock{block},
				})
			}
		}
	}
	return payload
}

// resultBlocks renders an action result as tool_result content. Screenshots
// go over as native base64 image blocks.
func resultBlocks(res *schemas.ActionResult) []AnthropicContentBlock {
	if res != nil && res.Kind == schemas.ResultImage && len(res.Image) > 0 {
		return []AnthropicContentBlock{{
			Type: "image",
			Source: &AnthropicImageSource{
				Type:      "base64",
				MediaType: resultMediaType(res),
				Data:      base64.StdEncoding.EncodeToString(res.Image),
			},
		}}
	}
	return []AnthropicContentBlock{{Type: "text", Text: resultText(res)}}
}

func (c *AnthropicClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Anthropic API returned error status",
		zap.Int("status", statusCode), zap.String("response", string(body)))

	var errorPayload AnthropicErrorPayload
	_ = llmJSON.Unmarshal(body, &errorPayload)

	message := errorPayload.Error.Message
	if message == "" {
		message = string(body)
	}

	perr := &schemas.ProviderError{
		Provider:    string(config.ProviderAnthropic),
		StatusCode:  statusCode,
		Message:     message,
		RateLimited: statusCode == http.StatusTooManyRequests || errorPayload.Error.Type == "rate_limit_error",
	}
	if perr.RateLimited || retryableStatus(statusCode) {
		return perr // Transient, retry.
	}
	return backoff.Permanent(perr)
}
