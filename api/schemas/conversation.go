package schemas

// Role labels who authored a conversation turn.
type Role string

const (
	// RoleSystem carries the agent's standing instructions. Providers place
	// it differently (a message, a request field, a system instruction), so
	// it travels as an ordinary turn and the adapters hoist it.
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool marks a turn carrying the result of a tool call back to the
	// model.
	RoleTool Role = "tool"
)

// Turn is one entry in the conversation history handed to a model client.
// The orchestrator appends assistant turns verbatim as the model produced
// them and tool turns for every executed action, so the provider adapters
// can rebuild the vendor's expected envelope without guessing.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text,omitempty"`

	// ToolCalls is set on assistant turns that requested actions.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// CallID, ToolName and Result are set on tool turns. CallID echoes the
	// ID of the ToolCall this result answers; ToolName echoes its name,
	// which some providers require on the result as well.
	CallID   string        `json:"call_id,omitempty"`
	ToolName string        `json:"tool_name,omitempty"`
	Result   *ActionResult `json:"result,omitempty"`
}

// NewSystemTurn builds the standing-instruction turn that seeds a run.
func NewSystemTurn(text string) Turn {
	return Turn{Role: RoleSystem, Text: text}
}

// NewUserTurn builds a plain text user turn.
func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// NewAssistantTurn records what the model produced in one round-trip.
func NewAssistantTurn(text string, calls []ToolCall) Turn {
	return Turn{Role: RoleAssistant, Text: text, ToolCalls: calls}
}

// NewToolTurn wraps an action result so it can be fed back to the model.
func NewToolTurn(call ToolCall, result *ActionResult) Turn {
	return Turn{Role: RoleTool, CallID: call.ID, ToolName: call.Name, Result: result}
}

// ModelTurn is the normalized output of one model round-trip. Adapters map
// the vendor response into this shape; the orchestrator never sees vendor
// payloads.
type ModelTurn struct {
	// Text is the assistant's visible prose, empty when the model only
	// called tools.
	Text string `json:"text,omitempty"`
	// Reasoning carries provider-surfaced thinking output when the vendor
	// exposes it separately from Text.
	Reasoning string `json:"reasoning,omitempty"`
	// ToolCalls preserves the order the model issued them in.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the model asked for at least one action.
func (t *ModelTurn) HasToolCalls() bool { return len(t.ToolCalls) > 0 }
