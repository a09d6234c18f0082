// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

// -- Desktop Driver Mock --

// MockDesktopDriver mocks schemas.DesktopDriver. Tests program it with the
// usual testify expectations and can inspect m.Calls for ordering.
type MockDesktopDriver struct {
	mock.Mock
}

var _ schemas.DesktopDriver = (*MockDesktopDriver)(nil)

func (m *MockDesktopDriver) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var b []byte
	if v := args.Get(0); v != nil {
		b = v.([]byte)
	}
	return b, args.Error(1)
}

func (m *MockDesktopDriver) Resolution(ctx context.Context) (schemas.Size, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Size), args.Error(1)
}

func (m *MockDesktopDriver) MoveMouse(ctx context.Context, p schemas.Point) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockDesktopDriver) Click(ctx context.Context, p schemas.Point, button schemas.MouseButton, count int) error {
	return m.Called(ctx, p, button, count).Error(0)
}

func (m *MockDesktopDriver) MousePress(ctx context.Context, button schemas.MouseButton) error {
	return m.Called(ctx, button).Error(0)
}

func (m *MockDesktopDriver) MouseRelease(ctx context.Context, button schemas.MouseButton) error {
	return m.Called(ctx, button).Error(0)
}

func (m *MockDesktopDriver) Drag(ctx context.Context, start, end schemas.Point) error {
	return m.Called(ctx, start, end).Error(0)
}

func (m *MockDesktopDriver) Scroll(ctx context.Context, direction schemas.ScrollDirection, amount int) error {
	return m.Called(ctx, direction, amount).Error(0)
}

func (m *MockDesktopDriver) Write(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockDesktopDriver) Press(ctx context.Context, keys []string) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *MockDesktopDriver) CursorPosition(ctx context.Context) (*schemas.Point, error) {
	args := m.Called(ctx)
	var p *schemas.Point
	if v := args.Get(0); v != nil {
		p = v.(*schemas.Point)
	}
	return p, args.Error(1)
}

func (m *MockDesktopDriver) RunShellCommand(ctx context.Context, command string) (*schemas.ShellOutput, error) {
	args := m.Called(ctx, command)
	var out *schemas.ShellOutput
	if v := args.Get(0); v != nil {
		out = v.(*schemas.ShellOutput)
	}
	return out, args.Error(1)
}

func (m *MockDesktopDriver) StreamURL() string {
	return m.Called().String(0)
}

func (m *MockDesktopDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// InputCalls returns the names of the recorded calls that deliver input to
// the desktop, in order. Screenshot and metadata reads are excluded so
// tests can assert "no input reached the desktop" directly.
func (m *MockDesktopDriver) InputCalls() []string {
	var ops []string
	for _, c := range m.Calls {
		switch c.Method {
		case "Screenshot", "Resolution", "CursorPosition", "StreamURL":
		default:
			ops = append(ops, c.Method)
		}
	}
	return ops
}

// -- Model Client Mock --

// MockModelClient mocks schemas.ModelClient.
type MockModelClient struct {
	mock.Mock
}

var _ schemas.ModelClient = (*MockModelClient)(nil)

func (m *MockModelClient) GenerateTurn(ctx context.Context, conversation []schemas.Turn, tools []schemas.ToolDefinition) (*schemas.ModelTurn, error) {
	args := m.Called(ctx, conversation, tools)
	var turn *schemas.ModelTurn
	if v := args.Get(0); v != nil {
		turn = v.(*schemas.ModelTurn)
	}
	return turn, args.Error(1)
}

func (m *MockModelClient) Close() error {
	return m.Called().Error(0)
}
