package llmclient

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
)

// setupTestLogger is a helper to create a zap logger for testing.
func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

// testLLMConfig returns a config with every provider filled in, pointing at
// no particular server until a test overrides the base URL.
func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:    config.ProviderAnthropic,
		MaxTokens:   1024,
		Temperature: 0.7,
		APITimeout:  5 * time.Second,
		Providers: map[string]config.ProviderSettings{
			"openai":    {APIKey: "test-api-key", Model: "gpt-4o"},
			"anthropic": {APIKey: "test-api-key", Model: "claude-sonnet-4-20250514"},
			"gemini":    {APIKey: "test-api-key", Model: "gemini-2.5-pro"},
			"grok":      {APIKey: "test-api-key", Model: "grok-4", BaseURL: "https://api.x.ai/v1"},
			"mistral":   {APIKey: "test-api-key", Model: "pixtral-large-latest", BaseURL: "https://api.mistral.ai/v1"},
		},
	}
}

// fakeScreenshot stands in for PNG bytes; adapters never decode images.
var fakeScreenshot = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}

// sampleConversation exercises every turn mapping branch: a hoisted system
// prompt, plain user text, an assistant turn that called a tool, and the
// screenshot result answering it.
func sampleConversation() []schemas.Turn {
	call := schemas.ToolCall{
		ID:        "call_1",
		Name:      "screenshot",
		Arguments: []byte(`{}`),
	}
	return []schemas.Turn{
		schemas.NewSystemTurn("You operate a virtual desktop."),
		schemas.NewUserTurn("Open the settings page."),
		schemas.NewAssistantTurn("Let me look at the screen first.", []schemas.ToolCall{call}),
		schemas.NewToolTurn(call, &schemas.ActionResult{
			ActionType:     schemas.ActionScreenshot,
			Kind:           schemas.ResultImage,
			Image:          fakeScreenshot,
			ImageMediaType: "image/png",
		}),
	}
}

// sampleTools keeps declaration payloads small while still carrying a real
// JSON schema.
func sampleTools() []schemas.ToolDefinition {
	return []schemas.ToolDefinition{{
		Name:        "screenshot",
		Description: "Capture the current screen.",
		Parameters:  []byte(`{"type":"object","properties":{}}`),
	}}
}

// fastRetries bounds a client to a handful of quick attempts so retry
// behavior is observable without slowing the suite down.
func fastRetries(attempts uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), attempts)
	}
}
