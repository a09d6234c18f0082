// internal/llmclient/gemini_client_test.go
package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

// setupGeminiClient rigs up a GeminiClient pointed at a mock HTTP server.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)

	cfg := testLLMConfig()
	settings := cfg.Providers["gemini"]
	settings.BaseURL = server.URL
	cfg.Providers["gemini"] = settings

	client, err := NewGeminiClient(context.Background(), cfg, zap.New(loggerCore))
	require.NoError(t, err, "NewGeminiClient initialization failed")
	return client, observedLogs
}

// -- Initialization --

func TestNewGeminiClient_MissingAPIKey(t *testing.T) {
	cfg := testLLMConfig()
	settings := cfg.Providers["gemini"]
	settings.APIKey = ""
	cfg.Providers["gemini"] = settings

	client, err := NewGeminiClient(context.Background(), cfg, setupTestLogger(t))

	assert.Nil(t, client)
	var cfgErr *schemas.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "llm.providers.gemini.api_key", cfgErr.Field)
}

// -- Request Construction --

func TestGeminiBuildRequest(t *testing.T) {
	client, _ := setupGeminiClient(t, nil)

	contents, genCfg := client.buildRequest(sampleConversation(), sampleTools())

	require.NotNil(t, genCfg.SystemInstruction)
	assert.Equal(t, "You operate a virtual desktop.", genCfg.SystemInstruction.Parts[0].Text)
	require.NotNil(t, genCfg.Temperature)
	assert.InDelta(t, 0.7, float64(*genCfg.Temperature), 0.0001)
	assert.Equal(t, int32(1024), genCfg.MaxOutputTokens)

	require.Len(t, genCfg.Tools, 1)
	require.Len(t, genCfg.Tools[0].FunctionDeclarations, 1)
	decl := genCfg.Tools[0].FunctionDeclarations[0]
	assert.Equal(t, "screenshot", decl.Name)
	rawSchema, ok := decl.ParametersJsonSchema.(json.RawMessage)
	require.True(t, ok, "tool parameters must pass through as a raw JSON schema")
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(rawSchema))

	require.Len(t, contents, 3)

	assert.Equal(t, "user", string(contents[0].Role))
	assert.Equal(t, "Open the settings page.", contents[0].Parts[0].Text)

	model := contents[1]
	assert.Equal(t, "model", string(model.Role))
	require.Len(t, model.Parts, 2)
	assert.Equal(t, "Let me look at the screen first.", model.Parts[0].Text)
	require.NotNil(t, model.Parts[1].FunctionCall)
	assert.Equal(t, "call_1", model.Parts[1].FunctionCall.ID)
	assert.Equal(t, "screenshot", model.Parts[1].FunctionCall.Name)

	toolContent := contents[2]
	assert.Equal(t, "user", string(toolContent.Role))
	require.Len(t, toolContent.Parts, 2)
	fr := toolContent.Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "screenshot", fr.Name)
	assert.Equal(t, "Screenshot captured.", fr.Response["output"])
	require.NotNil(t, toolContent.Parts[1].InlineData, "the screenshot must ride along as inline image data")
	assert.Equal(t, "image/png", toolContent.Parts[1].InlineData.MIMEType)
	assert.Equal(t, fakeScreenshot, toolContent.Parts[1].InlineData.Data)
}

func TestGeminiBuildRequestMergesToolResponses(t *testing.T) {
	client, _ := setupGeminiClient(t, nil)

	callA := schemas.ToolCall{ID: "call_a", Name: "left_click", Arguments: []byte(`{"coordinate":[1,2]}`)}
	callB := schemas.ToolCall{ID: "call_b", Name: "screenshot", Arguments: []byte(`{}`)}
	turns := []schemas.Turn{
		schemas.NewAssistantTurn("", []schemas.ToolCall{callA, callB}),
		schemas.NewToolTurn(callA, &schemas.ActionResult{Kind: schemas.ResultText, Text: "clicked"}),
		schemas.NewToolTurn(callB, &schemas.ActionResult{Kind: schemas.ResultImage, Image: fakeScreenshot}),
	}

	contents, _ := client.buildRequest(turns, nil)

	require.Len(t, contents, 2, "both tool responses must land in one user content")
	merged := contents[1]
	require.Len(t, merged.Parts, 3)
	assert.Equal(t, "left_click", merged.Parts[0].FunctionResponse.Name)
	assert.Equal(t, "screenshot", merged.Parts[1].FunctionResponse.Name)
	assert.NotNil(t, merged.Parts[2].InlineData)
}

// Adapter-minted IDs exist only to pair calls with results internally; the
// API never issued them and must not see them.
func TestGeminiBuildRequestStripsSyntheticIDs(t *testing.T) {
	client, _ := setupGeminiClient(t, nil)

	call := schemas.ToolCall{ID: geminiSyntheticIDPrefix + "0", Name: "screenshot", Arguments: []byte(`{}`)}
	turns := []schemas.Turn{
		schemas.NewAssistantTurn("", []schemas.ToolCall{call}),
		schemas.NewToolTurn(call, &schemas.ActionResult{Kind: schemas.ResultText, Text: "ok"}),
	}

	contents, _ := client.buildRequest(turns, nil)

	require.Len(t, contents, 2)
	assert.Empty(t, contents[0].Parts[0].FunctionCall.ID)
	assert.Empty(t, contents[1].Parts[0].FunctionResponse.ID)
}

// -- Generation --

func TestGeminiGenerateTurn_Success(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "gemini-2.5-pro")
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {
					"role": "model",
					"parts": [
						{"text": "The icon is in the corner.", "thought": true},
						{"text": "Clicking it now."},
						{"functionCall": {"name": "left_click", "args": {"coordinate": [640, 360]}}}
					]
				},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 20, "candidatesTokenCount": 8, "totalTokenCount": 28}
		}`))
	}

	client, observedLogs := setupGeminiClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), sampleConversation(), sampleTools())

	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, "The icon is in the corner.", turn.Reasoning)
	assert.Equal(t, "Clicking it now.", turn.Text)
	require.Len(t, turn.ToolCalls, 1)
	assert.Equal(t, "left_click", turn.ToolCalls[0].Name)
	assert.Equal(t, geminiSyntheticIDPrefix+"2", turn.ToolCalls[0].ID,
		"calls without an API-issued ID get a synthetic one")
	assert.JSONEq(t, `{"coordinate":[640,360]}`, string(turn.ToolCalls[0].Arguments))

	infoLogs := observedLogs.FilterMessage("Model turn complete")
	require.Equal(t, 1, infoLogs.Len())
}

func TestGeminiGenerateTurn_RateLimited(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}

	client, _ := setupGeminiClient(t, handler)
	client.backoffFactory = fastRetries(2)

	turn, err := client.GenerateTurn(context.Background(), sampleConversation(), nil)

	assert.Nil(t, turn)
	require.Error(t, err)
	assert.True(t, schemas.IsRateLimited(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attemptCounter))
}

func TestGeminiGenerateTurn_NoCandidates(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}

	client, _ := setupGeminiClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), sampleConversation(), nil)

	assert.Nil(t, turn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "no-candidate responses must not trigger retries")
}

func TestGeminiGenerateTurn_SafetyBlock(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"role": "model", "parts": []}, "finishReason": "SAFETY"}]}`))
	}

	client, _ := setupGeminiClient(t, handler)

	turn, err := client.GenerateTurn(context.Background(), sampleConversation(), nil)

	assert.Nil(t, turn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked the request")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "safety blocks must not trigger retries")
}
