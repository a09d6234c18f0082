// internal/agent/prompt.go
package agent

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

// defaultPromptBody is the standing instruction used when the operator has
// not configured their own. It describes how to work, not what the screen
// looks like; geometry is appended separately because it changes per run.
const defaultPromptBody = `You are an autonomous agent operating a virtual desktop through a small set of tools.

Work in small, verifiable steps:
1. Take a screenshot first and study it before acting.
2. Issue one action at a time, then confirm its effect on the next screenshot before continuing.
3. Click precisely on the center of the element you are targeting.
4. Prefer keyboard shortcuts when they are more reliable than clicking through menus.
5. If the screen does not change as expected, take a screenshot and reassess instead of repeating the same action.

When the task is complete, reply with a short summary of what you did and stop calling tools.`

const geometryBlock = `The desktop you control is %d x %d pixels. Coordinates are absolute pixel positions in that space: x grows to the right, y grows downward, and the origin is the top-left corner.`

// BuildSystemPrompt assembles the standing instructions for a run. A
// non-empty custom body replaces the default working rules; the geometry
// block is always appended because the coordinate contract is not optional.
func BuildSystemPrompt(modelResolution schemas.Size, custom string) string {
	body := strings.TrimSpace(custom)
	if body == "" {
		body = defaultPromptBody
	}
	return body + "\n\n" + fmt.Sprintf(geometryBlock, modelResolution.Width, modelResolution.Height)
}

// SeedConversation builds the initial history for a run: the standing
// instructions followed by the user's task.
func SeedConversation(systemPrompt, instruction string) []schemas.Turn {
	return []schemas.Turn{
		schemas.NewSystemTurn(systemPrompt),
		schemas.NewUserTurn(instruction),
	}
}
