package schemas

import "encoding/json"

// ActionType enumerates the closed vocabulary of desktop operations the
// model may request. Every tool call a provider adapter hands back is
// translated into exactly one of these before it reaches the dispatcher.
type ActionType string

const (
	ActionScreenshot     ActionType = "screenshot"
	ActionClick          ActionType = "click"
	ActionTypeText       ActionType = "type"
	ActionKeyPress       ActionType = "key"
	ActionScroll         ActionType = "scroll"
	ActionMove           ActionType = "move"
	ActionDrag           ActionType = "drag"
	ActionMouseButton    ActionType = "mouse_button"
	ActionWait           ActionType = "wait"
	ActionCursorPosition ActionType = "cursor_position"
	ActionShellCommand   ActionType = "shell"
	ActionUnknown        ActionType = "unknown"
)

// MouseButton identifies a physical mouse button.
type MouseButton string

const (
	MouseButtonLeft   MouseButton = "left"
	MouseButtonRight  MouseButton = "right"
	MouseButtonMiddle MouseButton = "middle"
)

// ButtonEdge selects the half of a press/release pair for ActionMouseButton.
type ButtonEdge string

const (
	ButtonEdgeDown ButtonEdge = "down"
	ButtonEdgeUp   ButtonEdge = "up"
)

// ScrollDirection is the normalized scroll axis. Horizontal directions are
// accepted from the model but degrade to vertical in the dispatcher because
// the driver surface has no horizontal primitive.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// Action is the tagged union describing one desktop operation. Type selects
// the variant; only the fields that variant documents are meaningful, the
// rest stay at their zero value. All coordinates are expressed in model
// space; the dispatcher converts them to desktop space before any driver
// call.
type Action struct {
	Type ActionType `json:"type"`

	// Click and mouse_button.
	Button MouseButton `json:"button,omitempty"`
	// ClickCount distinguishes single (0 or 1), double (2) and triple (3)
	// clicks.
	ClickCount int `json:"click_count,omitempty"`
	// Coordinate is the target for click, scroll, move and mouse_button.
	// Nil means "not provided", which per variant is either a warn-and-skip
	// or "use the current position".
	Coordinate *Point `json:"coordinate,omitempty"`

	// Type.
	Text string `json:"text,omitempty"`

	// Key press. Keys is already normalized: a chord such as "ctrl+l"
	// arrives as ["ctrl", "l"]. HoldMs, when positive, keeps the loop
	// paused for that long after the press.
	Keys   []string `json:"keys,omitempty"`
	HoldMs int      `json:"hold_ms,omitempty"`

	// Scroll.
	Direction ScrollDirection `json:"direction,omitempty"`
	Amount    int             `json:"amount,omitempty"`

	// Drag.
	Start *Point `json:"start,omitempty"`
	End   *Point `json:"end,omitempty"`

	// Mouse button press/release.
	Edge ButtonEdge `json:"edge,omitempty"`

	// Wait.
	DurationMs int `json:"duration_ms,omitempty"`

	// Shell.
	Command string `json:"command,omitempty"`

	// RawName preserves the tool name the model used when Type is
	// ActionUnknown, purely for logging.
	RawName string `json:"raw_name,omitempty"`
}

// ToolCall is one model-issued request to perform an Action. The payload is
// kept as raw JSON here; translation into the Action union happens in the
// actions package so every vendor adapter shares a single parse path.
type ToolCall struct {
	// ID is the vendor-assigned correlation ID echoed back in the tool
	// result turn. Adapters synthesize one when the vendor omits it.
	ID string `json:"id"`
	// Name is the tool (function) name the model called.
	Name string `json:"name"`
	// Arguments is the raw JSON argument object as returned by the vendor.
	Arguments json.RawMessage `json:"arguments"`
	// Turn records which model round-trip produced this call.
	Turn int `json:"turn"`
}

// ResultKind discriminates the payload carried by an ActionResult.
type ResultKind string

const (
	ResultImage    ResultKind = "image"
	ResultText     ResultKind = "text"
	ResultMetadata ResultKind = "metadata"
)

// ActionResult is the outcome of executing one Action. Exactly one payload
// group is populated according to Kind; ActionType always records which
// action the result answers.
type ActionResult struct {
	ActionType ActionType `json:"action_type"`
	Kind       ResultKind `json:"kind"`

	// Image payload: screenshot bytes in model space.
	Image          []byte `json:"image,omitempty"`
	ImageMediaType string `json:"image_media_type,omitempty"`

	// Text payload: shell output or similar.
	Text string `json:"text,omitempty"`

	// Metadata payload: small structured values such as a cursor position.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolDefinition declares one callable tool to the model. Parameters is a
// JSON schema object; adapters pass it through to the vendor envelope
// without interpretation.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}
