// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	genai "google.golang.org/genai"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
)

// geminiSyntheticIDPrefix marks tool call IDs minted by this adapter when
// the API issued none. Synthetic IDs never travel back to the API; results
// are matched by function name and order instead.
const geminiSyntheticIDPrefix = "gemini_call_"

// GeminiClient implements the ModelClient interface for Google Gemini APIs.
type GeminiClient struct {
	client         *genai.Client
	model          string
	maxTokens      int
	temperature    float32
	backoffFactory func() backoff.BackOff
	logger         *zap.Logger
}

// NewGeminiClient initializes the client. The context covers only client
// construction, not later calls.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	settings := cfg.ProviderFor(config.ProviderGemini)
	if settings.APIKey == "" {
		return nil, schemas.NewConfigurationError("llm.providers.gemini.api_key", "API key is required")
	}
	if settings.Model == "" {
		return nil, schemas.NewConfigurationError("llm.providers.gemini.model", "model name is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      settings.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: settings.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:         client,
		model:          settings.Model,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		backoffFactory: defaultBackoffFactory,
		logger:         logger.Named("llm_client.gemini"),
	}, nil
}

// GenerateTurn sends the conversation to the Gemini API and returns the
// normalized model output, retrying transient failures.
func (c *GeminiClient) GenerateTurn(ctx context.Context, turns []schemas.Turn, tools []schemas.ToolDefinition) (*schemas.ModelTurn, error) {
	contents, genCfg := c.buildRequest(turns, tools)

	var turn *schemas.ModelTurn
	operation := func() error {
		startTime := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
		if err != nil {
			var apiErr genai.APIError
			if errors.As(err, &apiErr) {
				return apiStatusError(string(config.ProviderGemini), apiErr.Code, apiErr.Message)
			}
			c.logger.Warn("Network error during model request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute Gemini request: %w", err)
		}

		if len(resp.Candidates) == 0 {
			return backoff.Permanent(&schemas.ProviderError{
				Provider: string(config.ProviderGemini),
				Message:  "API returned no candidates",
			})
		}

		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			reason := string(candidate.FinishReason)
			if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
				return backoff.Permanent(&schemas.ProviderError{
					Provider: string(config.ProviderGemini),
					Message:  fmt.Sprintf("API blocked the request (reason: %s)", reason),
				})
			}
			return fmt.Errorf("gemini API returned empty content parts (reason: %s)", reason)
		}

		out := &schemas.ModelTurn{}
		for i, part := range candidate.Content.Parts {
			if part.Text != "" {
				if part.Thought {
					out.Reasoning += part.Text
				} else {
					out.Text += part.Text
				}
			}
			if part.FunctionCall != nil {
				args, err := llmJSON.Marshal(part.FunctionCall.Args)
				if err != nil {
					args = []byte("{}")
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = fmt.Sprintf("%s%d", geminiSyntheticIDPrefix, i)
				}
				out.ToolCalls = append(out.ToolCalls, schemas.ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: args,
				})
			}
		}

		if resp.UsageMetadata != nil {
			c.logger.Info("Model turn complete",
				zap.Duration("duration", time.Since(startTime)),
				zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
				zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
				zap.Int("tool_calls", len(out.ToolCalls)),
			)
		}
		turn = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return nil, err
	}
	return turn, nil
}

// Close releases nothing; the SDK client needs no teardown.
func (c *GeminiClient) Close() error { return nil }

// buildRequest assembles the content history and generation config. System
// turns become the system instruction, tool results become function
// response parts with screenshots attached as inline image data, and
// consecutive tool turns collapse into one user content.
func (c *GeminiClient) buildRequest(turns []schemas.Turn, tools []schemas.ToolDefinition) ([]*genai.Content, *genai.GenerateContentConfig) {
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(c.temperature),
		MaxOutputTokens: int32(c.maxTokens),
	}

	if len(tools) > 0 {
		tool := &genai.Tool{}
		for _, def := range tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
				Name:                 def.Name,
				Description:          def.Description,
				ParametersJsonSchema: json.RawMessage(def.Parameters),
			})
		}
		genCfg.Tools = []*genai.Tool{tool}
	}

	var contents []*genai.Content
	for _, turn := range turns {
		switch turn.Role {
		case schemas.RoleSystem:
			genCfg.SystemInstruction = genai.NewContentFromText(turn.Text, genai.RoleUser)

		case schemas.RoleUser:
			contents = append(contents, genai.NewContentFromText(turn.Text, genai.RoleUser))

		case schemas.RoleAssistant:
			var parts []*genai.Part
			if turn.Text != "" {
				parts = append(parts, genai.NewPartFromText(turn.Text))
			}
			for _, call := range turn.ToolCalls {
				var args map[string]any
				_ = llmJSON.Unmarshal(call.Arguments, &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   wireCallID(call.ID),
					Name: call.Name,
					Args: args,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case schemas.RoleTool:
			parts := []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
				ID:       wireCallID(turn.CallID),
				Name:     turn.ToolName,
				Response: map[string]any{"output": resultText(turn.Result)},
			}}}
			if turn.Result != nil && len(turn.Result.Image) > 0 {
				parts = append(parts, genai.NewPartFromBytes(turn.Result.Image, resultMediaType(turn.Result)))
			}
			if n := len(contents); n > 0 &&
				contents[n-1].Role == genai.RoleUser &&
				len(contents[n-1].Parts) > 0 &&
				contents[n-1].Parts[0].FunctionResponse != nil {
				contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			} else {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		}
	}
	return contents, genCfg
}

// wireCallID strips adapter-minted IDs before they reach the API.
func wireCallID(id string) string {
	if strings.HasPrefix(id, geminiSyntheticIDPrefix) {
		return ""
	}
	return id
}
