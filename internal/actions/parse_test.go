// File: internal/actions/parse_test.go
package actions

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

func call(name, args string) schemas.ToolCall {
	return schemas.ToolCall{ID: "call_1", Name: name, Arguments: []byte(args)}
}

func TestParseToolCall(t *testing.T) {
	t.Parallel()

	pt := func(x, y int) *schemas.Point { return &schemas.Point{X: x, Y: y} }

	testCases := []struct {
		name string
		call schemas.ToolCall
		want schemas.Action
	}{
		{
			name: "screenshot ignores arguments",
			call: call(ToolScreenshot, `{"anything":"goes"}`),
			want: schemas.Action{Type: schemas.ActionScreenshot},
		},
		{
			name: "left click with array coordinate",
			call: call(ToolLeftClick, `{"coordinate":[640,360]}`),
			want: schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonLeft, ClickCount: 1, Coordinate: pt(640, 360)},
		},
		{
			name: "right click with object coordinate",
			call: call(ToolRightClick, `{"coordinate":{"x":10,"y":20}}`),
			want: schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonRight, ClickCount: 1, Coordinate: pt(10, 20)},
		},
		{
			name: "middle click",
			call: call(ToolMiddleClick, `{"coordinate":[5,5]}`),
			want: schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonMiddle, ClickCount: 1, Coordinate: pt(5, 5)},
		},
		{
			name: "double click",
			call: call(ToolDoubleClick, `{"coordinate":[5,5]}`),
			want: schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonLeft, ClickCount: 2, Coordinate: pt(5, 5)},
		},
		{
			name: "triple click",
			call: call(ToolTripleClick, `{"coordinate":[5,5]}`),
			want: schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonLeft, ClickCount: 3, Coordinate: pt(5, 5)},
		},
		{
			name: "explicit button overrides the tool default",
			call: call(ToolLeftClick, `{"coordinate":[1,2],"button":"Right"}`),
			want: schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonRight, ClickCount: 1, Coordinate: pt(1, 2)},
		},
		{
			name: "click without coordinate keeps nil",
			call: call(ToolLeftClick, `{}`),
			want: schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonLeft, ClickCount: 1},
		},
		{
			name: "fractional coordinates round to integers",
			call: call(ToolLeftClick, `{"coordinate":[639.6,359.4]}`),
			want: schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonLeft, ClickCount: 1, Coordinate: pt(640, 359)},
		},
		{
			name: "type",
			call: call(ToolType, `{"text":"hello world"}`),
			want: schemas.Action{Type: schemas.ActionTypeText, Text: "hello world"},
		},
		{
			name: "key chord splits on plus",
			call: call(ToolKey, `{"text":"ctrl+shift+p"}`),
			want: schemas.Action{Type: schemas.ActionKeyPress, Keys: []string{"ctrl", "shift", "p"}},
		},
		{
			name: "key accepts singular field name",
			call: call(ToolKey, `{"key":"Return"}`),
			want: schemas.Action{Type: schemas.ActionKeyPress, Keys: []string{"Return"}},
		},
		{
			name: "key accepts an array",
			call: call(ToolKey, `{"keys":["ctrl","l"]}`),
			want: schemas.Action{Type: schemas.ActionKeyPress, Keys: []string{"ctrl", "l"}},
		},
		{
			name: "key trims chord whitespace",
			call: call(ToolKey, `{"text":" ctrl + a "}`),
			want: schemas.Action{Type: schemas.ActionKeyPress, Keys: []string{"ctrl", "a"}},
		},
		{
			name: "hold key converts seconds to milliseconds",
			call: call(ToolHoldKey, `{"text":"shift","duration":2}`),
			want: schemas.Action{Type: schemas.ActionKeyPress, Keys: []string{"shift"}, HoldMs: 2000},
		},
		{
			name: "scroll with explicit amount",
			call: call(ToolScroll, `{"coordinate":[100,200],"scroll_direction":"up","amount":5}`),
			want: schemas.Action{Type: schemas.ActionScroll, Direction: schemas.ScrollUp, Amount: 5, Coordinate: pt(100, 200)},
		},
		{
			name: "scroll falls back to scroll_amount",
			call: call(ToolScroll, `{"scroll_direction":"down","scroll_amount":7}`),
			want: schemas.Action{Type: schemas.ActionScroll, Direction: schemas.ScrollDown, Amount: 7},
		},
		{
			name: "scroll falls back to clicks",
			call: call(ToolScroll, `{"direction":"left","clicks":2}`),
			want: schemas.Action{Type: schemas.ActionScroll, Direction: schemas.ScrollLeft, Amount: 2},
		},
		{
			name: "scroll defaults amount and direction",
			call: call(ToolScroll, `{}`),
			want: schemas.Action{Type: schemas.ActionScroll, Direction: schemas.ScrollDown, Amount: defaultScrollAmount},
		},
		{
			name: "scroll parses a quoted amount",
			call: call(ToolScroll, `{"scroll_direction":"up","amount":"4"}`),
			want: schemas.Action{Type: schemas.ActionScroll, Direction: schemas.ScrollUp, Amount: 4},
		},
		{
			name: "mouse move",
			call: call(ToolMouseMove, `{"coordinate":[300,400]}`),
			want: schemas.Action{Type: schemas.ActionMove, Coordinate: pt(300, 400)},
		},
		{
			name: "left mouse down",
			call: call(ToolLeftMouseDown, `{"coordinate":[1,1]}`),
			want: schemas.Action{Type: schemas.ActionMouseButton, Button: schemas.MouseButtonLeft, Edge: schemas.ButtonEdgeDown, Coordinate: pt(1, 1)},
		},
		{
			name: "left mouse up at current position",
			call: call(ToolLeftMouseUp, `{}`),
			want: schemas.Action{Type: schemas.ActionMouseButton, Button: schemas.MouseButtonLeft, Edge: schemas.ButtonEdgeUp},
		},
		{
			name: "drag with start and end",
			call: call(ToolLeftClickDrag, `{"start_coordinate":[10,10],"coordinate":[90,90]}`),
			want: schemas.Action{Type: schemas.ActionDrag, Start: pt(10, 10), End: pt(90, 90)},
		},
		{
			name: "drag prefers the explicit end_coordinate",
			call: call(ToolLeftClickDrag, `{"start_coordinate":[0,0],"end_coordinate":[50,60],"coordinate":[1,1]}`),
			want: schemas.Action{Type: schemas.ActionDrag, Start: pt(0, 0), End: pt(50, 60)},
		},
		{
			name: "drag falls back to the last path point",
			call: call(ToolLeftClickDrag, `{"start_coordinate":[0,0],"path":[[0,0],[25,30],[50,99]]}`),
			want: schemas.Action{Type: schemas.ActionDrag, Start: pt(0, 0), End: pt(50, 99)},
		},
		{
			name: "wait converts seconds",
			call: call(ToolWait, `{"duration":1.5}`),
			want: schemas.Action{Type: schemas.ActionWait, DurationMs: 1500},
		},
		{
			name: "wait prefers milliseconds over seconds",
			call: call(ToolWait, `{"duration_ms":250,"duration":9}`),
			want: schemas.Action{Type: schemas.ActionWait, DurationMs: 250},
		},
		{
			name: "wait without duration is instant",
			call: call(ToolWait, `{}`),
			want: schemas.Action{Type: schemas.ActionWait},
		},
		{
			name: "cursor position",
			call: call(ToolCursorPosition, `{}`),
			want: schemas.Action{Type: schemas.ActionCursorPosition},
		},
		{
			name: "shell",
			call: call(ToolShell, `{"command":"ls -la /tmp"}`),
			want: schemas.Action{Type: schemas.ActionShellCommand, Command: "ls -la /tmp"},
		},
		{
			name: "unrecognized tool becomes unknown",
			call: call("summon_browser_demon", `{"coordinate":[1,2]}`),
			want: schemas.Action{Type: schemas.ActionUnknown, RawName: "summon_browser_demon"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParseToolCall(tc.call, zap.NewNop())
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("parsed action mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseToolCallMalformedArguments(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	got := ParseToolCall(call(ToolLeftClick, `{"coordinate":[640,`), logger)

	assert.Equal(t, schemas.ActionClick, got.Type, "a broken payload must not change the action type")
	assert.Nil(t, got.Coordinate)
	assert.Equal(t, 1, logs.FilterMessage("Discarding malformed tool call arguments.").Len())
}

func TestParseToolCallNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		ParseToolCall(call(ToolScreenshot, ``), nil)
	})
}

// TestToolDefinitionsCoverParser asserts that every tool advertised to the
// model has a matching parser branch, so a model can never pick a declared
// tool and land in the unknown fallback.
func TestToolDefinitionsCoverParser(t *testing.T) {
	t.Parallel()

	defs := ToolDefinitions()
	require.Len(t, defs, 17)

	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		assert.False(t, seen[def.Name], "duplicate tool %q", def.Name)
		seen[def.Name] = true

		assert.NotEmpty(t, def.Description, "tool %q needs a description", def.Name)
		assert.NotEmpty(t, def.Parameters, "tool %q needs a parameter schema", def.Name)

		got := ParseToolCall(call(def.Name, `{}`), zap.NewNop())
		assert.NotEqual(t, schemas.ActionUnknown, got.Type,
			"declared tool %q fell through to the unknown branch", def.Name)
	}
}

// -- Fuzz Testing --

// FuzzParseToolCall hammers the parser with arbitrary tool names and
// argument payloads. The parser must never panic and must always hand back
// a typed action.
func FuzzParseToolCall(f *testing.F) {
	f.Add(ToolLeftClick, []byte(`{"coordinate":[640,360]}`))
	f.Add(ToolScroll, []byte(`{"direction":"left","amount":"7"}`))
	f.Add(ToolKey, []byte(`{"text":"ctrl+shift+p"}`))
	f.Add(ToolLeftClickDrag, []byte(`{"path":[[0,0],[5,9]]}`))
	f.Add(ToolWait, []byte(`{"duration":1e308}`))
	f.Add("no_such_tool", []byte(`not json at all`))

	f.Fuzz(func(t *testing.T, name string, raw []byte) {
		t.Parallel()

		action := ParseToolCall(schemas.ToolCall{ID: "fz", Name: name, Arguments: raw}, zap.NewNop())
		if action.Type == "" {
			t.Fatalf("parser produced an untyped action for tool %q", name)
		}
	})
}

// FuzzParseToolCallStructured fuzzes the whole ToolCall structure.
func FuzzParseToolCallStructured(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		fuzzConsumer := fuzz.NewConsumer(data)
		toolCall := &schemas.ToolCall{}
		if err := fuzzConsumer.GenerateStruct(toolCall); err != nil {
			return // Ignore inputs that can't be mapped to the struct.
		}

		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("parser panicked on fuzzed tool call: %v", r)
			}
		}()
		ParseToolCall(*toolCall, zap.NewNop())
	})
}
