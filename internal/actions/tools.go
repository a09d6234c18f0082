// File: internal/actions/tools.go
package actions

import (
	"encoding/json"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

// coordinateProp is the JSON schema fragment for an [x, y] pair in model
// space, shared by every tool that targets a screen position.
func coordinateProp(desc string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "integer"},
		"minItems":    2,
		"maxItems":    2,
		"description": desc,
	}
}

func toolSchema(props map[string]any, required ...string) json.RawMessage {
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	raw, err := argJSON.Marshal(doc)
	if err != nil {
		// The schema literals above are static; failing to marshal them is
		// a programming error.
		panic(err)
	}
	return raw
}

// ToolDefinitions declares the closed action vocabulary to the model. Every
// provider adapter translates these into its vendor's tool envelope, so the
// model sees the same capabilities regardless of which API serves the run.
func ToolDefinitions() []schemas.ToolDefinition {
	return []schemas.ToolDefinition{
		{
			Name:        ToolScreenshot,
			Description: "Capture a screenshot of the current screen.",
			Parameters:  toolSchema(map[string]any{}),
		},
		{
			Name:        ToolLeftClick,
			Description: "Left-click at the given coordinate.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("[x, y] position to click."),
			}, "coordinate"),
		},
		{
			Name:        ToolRightClick,
			Description: "Right-click at the given coordinate.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("[x, y] position to click."),
			}, "coordinate"),
		},
		{
			Name:        ToolMiddleClick,
			Description: "Middle-click at the given coordinate.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("[x, y] position to click."),
			}, "coordinate"),
		},
		{
			Name:        ToolDoubleClick,
			Description: "Double-click at the given coordinate.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("[x, y] position to click."),
			}, "coordinate"),
		},
		{
			Name:        ToolTripleClick,
			Description: "Triple-click at the given coordinate, selecting a whole line or paragraph.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("[x, y] position to click."),
			}, "coordinate"),
		},
		{
			Name:        ToolType,
			Description: "Type a string of text at the current focus.",
			Parameters: toolSchema(map[string]any{
				"text": map[string]any{"type": "string", "description": "The text to type."},
			}, "text"),
		},
		{
			Name:        ToolKey,
			Description: "Press a key or key chord, e.g. \"Return\" or \"ctrl+l\".",
			Parameters: toolSchema(map[string]any{
				"text": map[string]any{"type": "string", "description": "Key name or +-joined chord."},
			}, "text"),
		},
		{
			Name:        ToolHoldKey,
			Description: "Press a key or chord and keep it held for a duration.",
			Parameters: toolSchema(map[string]any{
				"text":     map[string]any{"type": "string", "description": "Key name or +-joined chord."},
				"duration": map[string]any{"type": "number", "description": "Hold time in seconds."},
			}, "text", "duration"),
		},
		{
			Name:        ToolScroll,
			Description: "Scroll the mouse wheel at a position on screen.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("[x, y] position to scroll at. Defaults to the current cursor position."),
				"scroll_direction": map[string]any{
					"type":        "string",
					"enum":        []string{"up", "down", "left", "right"},
					"description": "Direction to scroll.",
				},
				"scroll_amount": map[string]any{
					"type":        "integer",
					"description": "Number of wheel notches to scroll.",
				},
			}, "scroll_direction"),
		},
		{
			Name:        ToolMouseMove,
			Description: "Move the mouse cursor to the given coordinate without clicking.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("[x, y] position to move to."),
			}, "coordinate"),
		},
		{
			Name:        ToolLeftMouseDown,
			Description: "Press and hold the left mouse button.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("Optional [x, y] position to move to before pressing."),
			}),
		},
		{
			Name:        ToolLeftMouseUp,
			Description: "Release the left mouse button.",
			Parameters: toolSchema(map[string]any{
				"coordinate": coordinateProp("Optional [x, y] position to move to before releasing."),
			}),
		},
		{
			Name:        ToolLeftClickDrag,
			Description: "Click and drag from a start coordinate to an end coordinate.",
			Parameters: toolSchema(map[string]any{
				"start_coordinate": coordinateProp("[x, y] position to start the drag from."),
				"coordinate":       coordinateProp("[x, y] position to drag to."),
			}, "start_coordinate", "coordinate"),
		},
		{
			Name:        ToolWait,
			Description: "Wait for a duration, letting the screen settle.",
			Parameters: toolSchema(map[string]any{
				"duration": map[string]any{"type": "number", "description": "Time to wait in seconds."},
			}, "duration"),
		},
		{
			Name:        ToolCursorPosition,
			Description: "Report the current mouse cursor position.",
			Parameters:  toolSchema(map[string]any{}),
		},
		{
			Name:        ToolShell,
			Description: "Run a shell command on the desktop host and return its output.",
			Parameters: toolSchema(map[string]any{
				"command": map[string]any{"type": "string", "description": "The command to execute."},
			}, "command"),
		},
	}
}
