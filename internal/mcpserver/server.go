// Package mcpserver exposes the desktop as a set of MCP tools, so MCP
// clients can drive the sandbox directly without going through the
// model loop. Coordinates on this surface are native desktop pixels;
// no model-space scaling is applied.
package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/mcp"
	mcpgo "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

var bridgeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const serverName = "operator-cli"

// TransportStdio and TransportHTTP name the supported MCP transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "streamable-http"
)

// Config selects how the MCP server is exposed.
type Config struct {
	Transport string
	Port      int
}

// Server bridges MCP tool calls onto one desktop driver. Desktop input
// does not interleave well, so every handler holds the driver mutex for
// the duration of its call.
type Server struct {
	driver schemas.DesktopDriver
	logger *zap.Logger

	driverMu sync.Mutex
	mcp      *mcpgo.MCPServer
}

// New builds the bridge and registers the tool table.
func New(driver schemas.DesktopDriver, version string, logger *zap.Logger) *Server {
	s := &Server{
		driver: driver,
		logger: logger.Named("MCPServer"),
	}
	s.mcp = mcpgo.NewMCPServer(serverName, version)
	s.registerTools()
	return s
}

// Serve runs the server on the configured transport. The stdio transport
// ends when the peer closes stdin; ctx only governs the HTTP transport.
func (s *Server) Serve(ctx context.Context, cfg Config) error {
	switch cfg.Transport {
	case TransportStdio:
		s.logger.Info("Serving MCP over stdio")
		return mcpgo.ServeStdio(s.mcp)
	case TransportHTTP:
		httpServer := mcpgo.NewStreamableHTTPServer(s.mcp)
		addr := fmt.Sprintf(":%d", cfg.Port)
		s.logger.Info("Serving MCP over streamable HTTP", zap.String("address", addr))

		errCh := make(chan error, 1)
		go func() {
			errCh <- httpServer.Start(addr)
		}()
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return httpServer.Shutdown(context.Background())
		}
	default:
		return fmt.Errorf("unsupported MCP transport: %s (use %s or %s)", cfg.Transport, TransportStdio, TransportHTTP)
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(
		mcp.NewTool("screenshot",
			mcp.WithDescription("Capture the desktop as a PNG image at native resolution"),
		),
		s.handleScreenshot,
	)

	s.mcp.AddTool(
		mcp.NewTool("resolution",
			mcp.WithDescription("Report the desktop resolution in pixels"),
		),
		s.handleResolution,
	)

	s.mcp.AddTool(
		mcp.NewTool("move_mouse",
			mcp.WithDescription("Move the mouse cursor to an absolute position"),
			mcp.WithNumber("x", mcp.Description("X coordinate in desktop pixels"), mcp.Required()),
			mcp.WithNumber("y", mcp.Description("Y coordinate in desktop pixels"), mcp.Required()),
		),
		s.handleMoveMouse,
	)

	s.mcp.AddTool(
		mcp.NewTool("click",
			mcp.WithDescription("Click at an absolute position"),
			mcp.WithNumber("x", mcp.Description("X coordinate in desktop pixels"), mcp.Required()),
			mcp.WithNumber("y", mcp.Description("Y coordinate in desktop pixels"), mcp.Required()),
			mcp.WithString("button", mcp.Description("Mouse button: left, right, middle (default: left)")),
			mcp.WithNumber("count", mcp.Description("Click count, 2 for double click (default: 1)")),
		),
		s.handleClick,
	)

	s.mcp.AddTool(
		mcp.NewTool("drag",
			mcp.WithDescription("Drag with the left button held from one position to another"),
			mcp.WithNumber("from_x", mcp.Description("Start X coordinate"), mcp.Required()),
			mcp.WithNumber("from_y", mcp.Description("Start Y coordinate"), mcp.Required()),
			mcp.WithNumber("to_x", mcp.Description("End X coordinate"), mcp.Required()),
			mcp.WithNumber("to_y", mcp.Description("End Y coordinate"), mcp.Required()),
		),
		s.handleDrag,
	)

	s.mcp.AddTool(
		mcp.NewTool("scroll",
			mcp.WithDescription("Scroll the wheel at the current cursor position"),
			mcp.WithString("direction", mcp.Description("Scroll direction: up or down"), mcp.Required()),
			mcp.WithNumber("amount", mcp.Description("Scroll clicks (default: 3)")),
		),
		s.handleScroll,
	)

	s.mcp.AddTool(
		mcp.NewTool("type_text",
			mcp.WithDescription("Type text through the keyboard"),
			mcp.WithString("text", mcp.Description("Text to type"), mcp.Required()),
		),
		s.handleTypeText,
	)

	s.mcp.AddTool(
		mcp.NewTool("press_key",
			mcp.WithDescription("Press a key or chord, e.g. 'enter' or 'ctrl+shift+p'"),
			mcp.WithString("combo", mcp.Description("Keys joined with '+'"), mcp.Required()),
		),
		s.handlePressKey,
	)

	s.mcp.AddTool(
		mcp.NewTool("cursor_position",
			mcp.WithDescription("Report the current mouse cursor position"),
		),
		s.handleCursorPosition,
	)

	s.mcp.AddTool(
		mcp.NewTool("run_shell",
			mcp.WithDescription("Run a shell command on the desktop host and return its output"),
			mcp.WithString("command", mcp.Description("Command line to execute"), mcp.Required()),
		),
		s.handleRunShell,
	)
}

func (s *Server) handleScreenshot(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	data, err := s.driver.Screenshot(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.ImageContent{
				Type:     "image",
				Data:     base64.StdEncoding.EncodeToString(data),
				MIMEType: "image/png",
			},
		},
	}, nil
}

func (s *Server) handleResolution(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	size, err := s.driver.Resolution(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(size)
}

func (s *Server) handleMoveMouse(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	p, result := pointParams(params, "x", "y")
	if result != nil {
		return result, nil
	}

	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	if err := s.driver.MoveMouse(ctx, *p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved cursor to %d,%d", p.X, p.Y)), nil
}

func (s *Server) handleClick(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	p, result := pointParams(params, "x", "y")
	if result != nil {
		return result, nil
	}

	button := schemas.MouseButton(stringParam(params, "button", string(schemas.MouseButtonLeft)))
	switch button {
	case schemas.MouseButtonLeft, schemas.MouseButtonRight, schemas.MouseButtonMiddle:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown mouse button: %s", button)), nil
	}
	count := intParam(params, "count", 1)

	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	if err := s.driver.Click(ctx, *p, button, count); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s click at %d,%d", button, p.X, p.Y)), nil
}

func (s *Server) handleDrag(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	start, result := pointParams(params, "from_x", "from_y")
	if result != nil {
		return result, nil
	}
	end, result := pointParams(params, "to_x", "to_y")
	if result != nil {
		return result, nil
	}

	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	if err := s.driver.Drag(ctx, *start, *end); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("dragged from %d,%d to %d,%d", start.X, start.Y, end.X, end.Y)), nil
}

func (s *Server) handleScroll(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	direction := schemas.ScrollDirection(stringParam(params, "direction", ""))
	if direction != schemas.ScrollUp && direction != schemas.ScrollDown {
		return mcp.NewToolResultError("direction must be up or down"), nil
	}
	amount := intParam(params, "amount", 3)

	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	if err := s.driver.Scroll(ctx, direction, amount); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("scrolled %s by %d", direction, amount)), nil
}

func (s *Server) handleTypeText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	text := stringParam(params, "text", "")
	if text == "" {
		return mcp.NewToolResultError("text parameter is required"), nil
	}

	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	if err := s.driver.Write(ctx, text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("typed %d characters", len(text))), nil
}

func (s *Server) handlePressKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	combo := stringParam(params, "combo", "")
	if combo == "" {
		return mcp.NewToolResultError("combo parameter is required"), nil
	}

	keys := strings.Split(combo, "+")
	for i, key := range keys {
		keys[i] = strings.TrimSpace(key)
	}

	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	if err := s.driver.Press(ctx, keys); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("pressed " + combo), nil
}

func (s *Server) handleCursorPosition(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	p, err := s.driver.CursorPosition(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if p == nil {
		return mcp.NewToolResultText("cursor position unknown"), nil
	}
	return jsonResult(p)
}

func (s *Server) handleRunShell(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	command := stringParam(params, "command", "")
	if command == "" {
		return mcp.NewToolResultError("command parameter is required"), nil
	}

	s.driverMu.Lock()
	defer s.driverMu.Unlock()

	out, err := s.driver.RunShellCommand(ctx, command)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(out)
}

// jsonResult renders a value as a JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := bridgeJSON.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// pointParams extracts a required coordinate pair. The second return is
// non-nil when a coordinate is missing.
func pointParams(params map[string]interface{}, xKey, yKey string) (*schemas.Point, *mcp.CallToolResult) {
	x, okX := numberParam(params, xKey)
	y, okY := numberParam(params, yKey)
	if !okX || !okY {
		return nil, mcp.NewToolResultError(fmt.Sprintf("%s and %s parameters are required", xKey, yKey))
	}
	return &schemas.Point{X: x, Y: y}, nil
}

// Parameter extraction helpers for the MCP argument map.

func stringParam(params map[string]interface{}, key, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

func intParam(params map[string]interface{}, key string, defaultVal int) int {
	if v, ok := numberParam(params, key); ok {
		return v
	}
	return defaultVal
}

func numberParam(params map[string]interface{}, key string) (int, bool) {
	switch n := params[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
