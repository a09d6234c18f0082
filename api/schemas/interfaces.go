package schemas

import (
	"context"
)

// -- Model Client Interface --

// ModelClient is the provider-neutral surface for one tool-calling LLM.
// Implementations adapt a single vendor API (OpenAI, Anthropic, Gemini and
// the OpenAI-compatible hosts) to the shared Turn/ModelTurn shapes so the
// orchestrator never depends on a vendor envelope.
type ModelClient interface {
	// GenerateTurn sends the full conversation history plus the tool
	// declarations and returns the model's next turn. Failures are
	// reported as *ProviderError so callers can distinguish rate limiting
	// from other faults.
	GenerateTurn(ctx context.Context, conversation []Turn, tools []ToolDefinition) (*ModelTurn, error)
	// Close releases any underlying transport resources.
	Close() error
}

// -- Desktop Driver Interface --

// ShellOutput carries the result of a shell command run on the desktop host.
type ShellOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// DesktopDriver abstracts the remote virtual desktop. All coordinates are
// desktop-space pixels; callers are responsible for any model-space
// conversion before invoking a method. Implementations exist for a
// Chromium page driven over CDP and for a remote desktop gateway spoken
// to over HTTP.
type DesktopDriver interface {
	// Screenshot captures the current desktop as PNG bytes at the native
	// resolution.
	Screenshot(ctx context.Context) ([]byte, error)
	// Resolution reports the native desktop size.
	Resolution(ctx context.Context) (Size, error)

	// MoveMouse moves the cursor without pressing any button.
	MoveMouse(ctx context.Context, p Point) error
	// Click presses and releases a button at p. count selects single,
	// double or triple clicks.
	Click(ctx context.Context, p Point, button MouseButton, count int) error
	// MousePress pushes a button down at the current cursor position
	// without releasing it.
	MousePress(ctx context.Context, button MouseButton) error
	// MouseRelease releases a previously pressed button at the current
	// cursor position.
	MouseRelease(ctx context.Context, button MouseButton) error
	// Drag presses the left button at start, moves to end and releases.
	Drag(ctx context.Context, start, end Point) error
	// Scroll turns the wheel at the current cursor position. Only vertical
	// directions are supported at this layer.
	Scroll(ctx context.Context, direction ScrollDirection, amount int) error

	// Write types text through the keyboard.
	Write(ctx context.Context, text string) error
	// Press sends one chord: all keys down in order, then up in reverse.
	Press(ctx context.Context, keys []string) error

	// CursorPosition reports the pointer location, or (nil, nil) when the
	// backend cannot determine it.
	CursorPosition(ctx context.Context) (*Point, error)
	// RunShellCommand executes a command on the desktop host. Backends
	// without a shell return a *DriverError.
	RunShellCommand(ctx context.Context, command string) (*ShellOutput, error)

	// StreamURL returns a live-view URL for the desktop, empty when the
	// backend has none.
	StreamURL() string
	// Close tears down the desktop session.
	Close(ctx context.Context) error
}
