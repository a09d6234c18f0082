// File: internal/actions/parse.go
package actions

import (
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

var argJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Tool names shared by every provider adapter. Adapters declare these to
// the model and the parser below translates calls against them back into
// the Action union.
const (
	ToolScreenshot     = "screenshot"
	ToolLeftClick      = "left_click"
	ToolRightClick     = "right_click"
	ToolMiddleClick    = "middle_click"
	ToolDoubleClick    = "double_click"
	ToolTripleClick    = "triple_click"
	ToolType           = "type"
	ToolKey            = "key"
	ToolHoldKey        = "hold_key"
	ToolScroll         = "scroll"
	ToolMouseMove      = "mouse_move"
	ToolLeftMouseDown  = "left_mouse_down"
	ToolLeftMouseUp    = "left_mouse_up"
	ToolLeftClickDrag  = "left_click_drag"
	ToolWait           = "wait"
	ToolCursorPosition = "cursor_position"
	ToolShell          = "shell"
)

// defaultScrollAmount is used when the model omits every amount field.
const defaultScrollAmount = 3

// ParseToolCall translates one model-issued tool call into the Action
// union. Parsing is deliberately forgiving: models misname fields and ship
// half-filled payloads, so missing values fall back through the documented
// alternatives and an unrecognized tool name becomes an ActionUnknown
// rather than an error.
func ParseToolCall(call schemas.ToolCall, logger *zap.Logger) schemas.Action {
	if logger == nil {
		logger = zap.NewNop()
	}
	args := decodeArgs(call.Arguments, logger)

	switch call.Name {
	case ToolScreenshot:
		return schemas.Action{Type: schemas.ActionScreenshot}

	case ToolLeftClick:
		return clickAction(args, schemas.MouseButtonLeft, 1)
	case ToolRightClick:
		return clickAction(args, schemas.MouseButtonRight, 1)
	case ToolMiddleClick:
		return clickAction(args, schemas.MouseButtonMiddle, 1)
	case ToolDoubleClick:
		return clickAction(args, schemas.MouseButtonLeft, 2)
	case ToolTripleClick:
		return clickAction(args, schemas.MouseButtonLeft, 3)

	case ToolType:
		text, _ := args.str("text")
		return schemas.Action{Type: schemas.ActionTypeText, Text: text}

	case ToolKey:
		return schemas.Action{Type: schemas.ActionKeyPress, Keys: args.keys()}
	case ToolHoldKey:
		return schemas.Action{
			Type:   schemas.ActionKeyPress,
			Keys:   args.keys(),
			HoldMs: args.durationMs(),
		}

	case ToolScroll:
		action := schemas.Action{
			Type:      schemas.ActionScroll,
			Direction: scrollDirection(args),
			Amount:    defaultScrollAmount,
		}
		if amount, ok := args.number("amount", "scroll_amount", "clicks"); ok {
			action.Amount = int(math.Round(amount))
		}
		action.Coordinate = args.point("coordinate")
		return action

	case ToolMouseMove:
		return schemas.Action{Type: schemas.ActionMove, Coordinate: args.point("coordinate")}

	case ToolLeftMouseDown:
		return mouseButtonAction(args, schemas.ButtonEdgeDown)
	case ToolLeftMouseUp:
		return mouseButtonAction(args, schemas.ButtonEdgeUp)

	case ToolLeftClickDrag:
		return schemas.Action{
			Type:  schemas.ActionDrag,
			Start: args.point("start_coordinate", "start"),
			End:   dragEnd(args),
		}

	case ToolWait:
		return schemas.Action{Type: schemas.ActionWait, DurationMs: args.durationMs()}

	case ToolCursorPosition:
		return schemas.Action{Type: schemas.ActionCursorPosition}

	case ToolShell:
		command, _ := args.str("command")
		return schemas.Action{Type: schemas.ActionShellCommand, Command: command}

	default:
		return schemas.Action{Type: schemas.ActionUnknown, RawName: call.Name}
	}
}

func clickAction(args argMap, button schemas.MouseButton, count int) schemas.Action {
	if explicit, ok := args.str("button"); ok {
		if b, valid := parseButton(explicit); valid {
			button = b
		}
	}
	return schemas.Action{
		Type:       schemas.ActionClick,
		Button:     button,
		ClickCount: count,
		Coordinate: args.point("coordinate"),
	}
}

func mouseButtonAction(args argMap, edge schemas.ButtonEdge) schemas.Action {
	button := schemas.MouseButtonLeft
	if explicit, ok := args.str("button"); ok {
		if b, valid := parseButton(explicit); valid {
			button = b
		}
	}
	return schemas.Action{
		Type:       schemas.ActionMouseButton,
		Button:     button,
		Edge:       edge,
		Coordinate: args.point("coordinate"),
	}
}

func parseButton(s string) (schemas.MouseButton, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return schemas.MouseButtonLeft, true
	case "right":
		return schemas.MouseButtonRight, true
	case "middle":
		return schemas.MouseButtonMiddle, true
	default:
		return "", false
	}
}

func scrollDirection(args argMap) schemas.ScrollDirection {
	raw, ok := args.str("scroll_direction", "direction")
	if !ok {
		return schemas.ScrollDown
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "up":
		return schemas.ScrollUp
	case "down":
		return schemas.ScrollDown
	case "left":
		return schemas.ScrollLeft
	case "right":
		return schemas.ScrollRight
	default:
		return schemas.ScrollDown
	}
}

// dragEnd resolves the drag destination from the documented fallbacks: an
// explicit end_coordinate, the generic coordinate field, or the last point
// of a path array.
func dragEnd(args argMap) *schemas.Point {
	if p := args.point("end_coordinate", "coordinate"); p != nil {
		return p
	}
	raw, ok := args["path"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	return toPoint(list[len(list)-1])
}

// -- Argument extraction --

type argMap map[string]any

func decodeArgs(raw []byte, logger *zap.Logger) argMap {
	if len(raw) == 0 {
		return argMap{}
	}
	var args argMap
	if err := argJSON.Unmarshal(raw, &args); err != nil {
		logger.Warn("Discarding malformed tool call arguments.", zap.Error(err))
		return argMap{}
	}
	return args
}

func (a argMap) str(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := a[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func (a argMap) number(keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := a[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			// Models occasionally quote numbers.
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// point reads a coordinate from any of the given keys, accepting both the
// [x, y] array form and the {"x": .., "y": ..} object form.
func (a argMap) point(keys ...string) *schemas.Point {
	for _, k := range keys {
		if v, ok := a[k]; ok {
			if p := toPoint(v); p != nil {
				return p
			}
		}
	}
	return nil
}

func toPoint(v any) *schemas.Point {
	switch coord := v.(type) {
	case []any:
		if len(coord) < 2 {
			return nil
		}
		x, okX := asFloat(coord[0])
		y, okY := asFloat(coord[1])
		if !okX || !okY {
			return nil
		}
		return &schemas.Point{X: int(math.Round(x)), Y: int(math.Round(y))}
	case map[string]any:
		x, okX := asFloat(coord["x"])
		y, okY := asFloat(coord["y"])
		if !okX || !okY {
			return nil
		}
		return &schemas.Point{X: int(math.Round(x)), Y: int(math.Round(y))}
	default:
		return nil
	}
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// keys normalizes the key payload to a flat list. A chord such as "ctrl+l"
// splits into its parts; the payload may be a single string under "text"
// or "key", or an array under "keys".
func (a argMap) keys() []string {
	var parts []string
	appendChord := func(s string) {
		for _, piece := range strings.Split(s, "+") {
			piece = strings.TrimSpace(piece)
			if piece != "" {
				parts = append(parts, piece)
			}
		}
	}

	if s, ok := a.str("text", "key"); ok {
		appendChord(s)
		return parts
	}
	if raw, ok := a["keys"]; ok {
		switch v := raw.(type) {
		case string:
			appendChord(v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					appendChord(s)
				}
			}
		}
	}
	return parts
}

// durationMs resolves a wait/hold duration with the millisecond fields
// taking priority over second fields.
func (a argMap) durationMs() int {
	if ms, ok := a.number("duration_ms", "ms", "milliseconds"); ok {
		return int(math.Round(ms))
	}
	if secs, ok := a.number("duration", "seconds"); ok {
		return int(math.Round(secs * 1000))
	}
	return 0
}
