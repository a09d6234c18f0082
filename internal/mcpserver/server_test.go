package mcpserver

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

// recordingDriver captures the last invocation of each desktop method.
type recordingDriver struct {
	err error

	clickPoint  schemas.Point
	clickButton schemas.MouseButton
	clickCount  int

	dragStart schemas.Point
	dragEnd   schemas.Point

	scrollDirection schemas.ScrollDirection
	scrollAmount    int

	typedText  string
	pressed    []string
	moved      schemas.Point
	cursor     *schemas.Point
	shellCmd   string
	screenshot []byte
}

func (d *recordingDriver) Screenshot(context.Context) ([]byte, error) {
	return d.screenshot, d.err
}
func (d *recordingDriver) Resolution(context.Context) (schemas.Size, error) {
	return schemas.Size{Width: 1920, Height: 1080}, d.err
}
func (d *recordingDriver) MoveMouse(_ context.Context, p schemas.Point) error {
	d.moved = p
	return d.err
}
func (d *recordingDriver) Click(_ context.Context, p schemas.Point, button schemas.MouseButton, count int) error {
	d.clickPoint, d.clickButton, d.clickCount = p, button, count
	return d.err
}
func (d *recordingDriver) MousePress(context.Context, schemas.MouseButton) error   { return d.err }
func (d *recordingDriver) MouseRelease(context.Context, schemas.MouseButton) error { return d.err }
func (d *recordingDriver) Drag(_ context.Context, start, end schemas.Point) error {
	d.dragStart, d.dragEnd = start, end
	return d.err
}
func (d *recordingDriver) Scroll(_ context.Context, direction schemas.ScrollDirection, amount int) error {
	d.scrollDirection, d.scrollAmount = direction, amount
	return d.err
}
func (d *recordingDriver) Write(_ context.Context, text string) error {
	d.typedText = text
	return d.err
}
func (d *recordingDriver) Press(_ context.Context, keys []string) error {
	d.pressed = keys
	return d.err
}
func (d *recordingDriver) CursorPosition(context.Context) (*schemas.Point, error) {
	return d.cursor, d.err
}
func (d *recordingDriver) RunShellCommand(_ context.Context, command string) (*schemas.ShellOutput, error) {
	d.shellCmd = command
	return &schemas.ShellOutput{Stdout: "hello\n", ExitCode: 0}, d.err
}
func (d *recordingDriver) StreamURL() string            { return "" }
func (d *recordingDriver) Close(context.Context) error  { return nil }

func newBridge(driver *recordingDriver) *Server {
	return New(driver, "test", zap.NewNop())
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestClickDispatchesToDriver(t *testing.T) {
	driver := &recordingDriver{}
	s := newBridge(driver)

	result, err := s.handleClick(context.Background(), toolRequest("click", map[string]any{
		"x": float64(100), "y": float64(200), "button": "right", "count": float64(2),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	assert.Equal(t, schemas.Point{X: 100, Y: 200}, driver.clickPoint)
	assert.Equal(t, schemas.MouseButtonRight, driver.clickButton)
	assert.Equal(t, 2, driver.clickCount)
	assert.Equal(t, "right click at 100,200", textContent(t, result))
}

func TestClickRequiresCoordinates(t *testing.T) {
	s := newBridge(&recordingDriver{})

	result, err := s.handleClick(context.Background(), toolRequest("click", map[string]any{
		"x": float64(100),
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "x and y parameters are required")
}

func TestClickRejectsUnknownButton(t *testing.T) {
	s := newBridge(&recordingDriver{})

	result, err := s.handleClick(context.Background(), toolRequest("click", map[string]any{
		"x": float64(1), "y": float64(2), "button": "trackball",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "unknown mouse button")
}

func TestScreenshotReturnsImageContent(t *testing.T) {
	driver := &recordingDriver{screenshot: []byte{0x89, 'P', 'N', 'G'}}
	s := newBridge(driver)

	result, err := s.handleScreenshot(context.Background(), toolRequest("screenshot", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	require.Len(t, result.Content, 1)
	img, ok := result.Content[0].(mcp.ImageContent)
	require.True(t, ok, "expected image content, got %T", result.Content[0])
	assert.Equal(t, "image/png", img.MIMEType)

	decoded, err := base64.StdEncoding.DecodeString(img.Data)
	require.NoError(t, err)
	assert.Equal(t, driver.screenshot, decoded)
}

func TestScrollValidatesDirection(t *testing.T) {
	driver := &recordingDriver{}
	s := newBridge(driver)

	result, err := s.handleScroll(context.Background(), toolRequest("scroll", map[string]any{
		"direction": "sideways",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	result, err = s.handleScroll(context.Background(), toolRequest("scroll", map[string]any{
		"direction": "down",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, schemas.ScrollDown, driver.scrollDirection)
	assert.Equal(t, 3, driver.scrollAmount, "amount should default to 3")
}

func TestPressKeySplitsCombo(t *testing.T) {
	driver := &recordingDriver{}
	s := newBridge(driver)

	result, err := s.handlePressKey(context.Background(), toolRequest("press_key", map[string]any{
		"combo": "ctrl + shift+p",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, []string{"ctrl", "shift", "p"}, driver.pressed)
}

func TestDragSendsBothEndpoints(t *testing.T) {
	driver := &recordingDriver{}
	s := newBridge(driver)

	result, err := s.handleDrag(context.Background(), toolRequest("drag", map[string]any{
		"from_x": float64(10), "from_y": float64(20), "to_x": float64(300), "to_y": float64(400),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, schemas.Point{X: 10, Y: 20}, driver.dragStart)
	assert.Equal(t, schemas.Point{X: 300, Y: 400}, driver.dragEnd)
}

func TestRunShellReturnsOutputJSON(t *testing.T) {
	driver := &recordingDriver{}
	s := newBridge(driver)

	result, err := s.handleRunShell(context.Background(), toolRequest("run_shell", map[string]any{
		"command": "echo hello",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "echo hello", driver.shellCmd)
	assert.JSONEq(t, `{"stdout":"hello\n","stderr":"","exit_code":0}`, textContent(t, result))
}

func TestCursorPositionUnknown(t *testing.T) {
	s := newBridge(&recordingDriver{cursor: nil})

	result, err := s.handleCursorPosition(context.Background(), toolRequest("cursor_position", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "cursor position unknown", textContent(t, result))
}

func TestResolutionReportsSize(t *testing.T) {
	s := newBridge(&recordingDriver{})

	result, err := s.handleResolution(context.Background(), toolRequest("resolution", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.JSONEq(t, `{"width":1920,"height":1080}`, textContent(t, result))
}

func TestServeRejectsUnknownTransport(t *testing.T) {
	s := newBridge(&recordingDriver{})

	err := s.Serve(context.Background(), Config{Transport: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported MCP transport")
}
