// File: internal/actions/dispatcher_test.go
package actions

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/mocks"
	"github.com/xkilldash9x/operator-cli/internal/scaling"
)

// identityScaler fits 1024x768 inside generous bounds, so coordinates and
// screenshot bytes pass through untouched.
func identityScaler(t *testing.T) *scaling.Scaler {
	t.Helper()
	s, err := scaling.NewScaler(
		schemas.Size{Width: 1024, Height: 768},
		schemas.ResolutionBounds{Min: schemas.Size{Width: 800, Height: 600}, Max: schemas.Size{Width: 1920, Height: 1080}},
		zap.NewNop(),
	)
	require.NoError(t, err)
	return s
}

// thirdScaler maps a 4k desktop to 1280x720, scale factor exactly one third.
func thirdScaler(t *testing.T) *scaling.Scaler {
	t.Helper()
	s, err := scaling.NewScaler(
		schemas.Size{Width: 3840, Height: 2160},
		schemas.ResolutionBounds{Max: schemas.Size{Width: 1280, Height: 800}},
		zap.NewNop(),
	)
	require.NoError(t, err)
	return s
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		for y := 0; y < 6; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestDispatcher(t *testing.T, driver *mocks.MockDesktopDriver, scaler *scaling.Scaler) (*Dispatcher, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(driver, scaler, zap.New(core))
	d.sleep = func(context.Context, time.Duration) {}
	return d, logs
}

// -- Screenshot --

func TestExecuteScreenshot(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, _ := newTestDispatcher(t, driver, identityScaler(t))

	res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionScreenshot})

	require.NotNil(t, res)
	assert.Equal(t, schemas.ActionScreenshot, res.ActionType)
	assert.Equal(t, schemas.ResultImage, res.Kind)
	assert.Equal(t, []byte("raw-png"), res.Image, "identity scaling must not touch the bytes")
	assert.Equal(t, "image/png", res.ImageMediaType)
}

func TestExecuteScreenshotDriverFailure(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Screenshot", mock.Anything).Return(nil, errors.New("page crashed"))
	d, logs := newTestDispatcher(t, driver, identityScaler(t))

	res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionScreenshot})

	require.NotNil(t, res)
	assert.Equal(t, schemas.ResultText, res.Kind)
	assert.Equal(t, noScreenshotText, res.Text)
	assert.Equal(t, 1, logs.FilterMessage("Failed to capture screenshot").Len())
}

// -- Clicks --

func TestExecuteClickTranslatesCoordinates(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	desktop := schemas.Point{X: 1920, Y: 1080}
	driver.On("MoveMouse", mock.Anything, desktop).Return(nil)
	driver.On("Click", mock.Anything, desktop, schemas.MouseButtonLeft, 1).Return(nil)
	driver.On("Screenshot", mock.Anything).Return(tinyPNG(t), nil)
	d, _ := newTestDispatcher(t, driver, thirdScaler(t))

	res := d.Execute(context.Background(), schemas.Action{
		Type:       schemas.ActionClick,
		Button:     schemas.MouseButtonLeft,
		ClickCount: 1,
		Coordinate: &schemas.Point{X: 640, Y: 360},
	})

	driver.AssertExpectations(t)
	require.Equal(t, schemas.ResultImage, res.Kind)

	scaled, _, err := image.Decode(bytes.NewReader(res.Image))
	require.NoError(t, err)
	assert.Equal(t, 1280, scaled.Bounds().Dx(), "screenshot must come back in model space")
	assert.Equal(t, 720, scaled.Bounds().Dy())
}

func TestExecuteClickWithoutCoordinateIsNoOp(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, logs := newTestDispatcher(t, driver, identityScaler(t))

	res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionClick, Button: schemas.MouseButtonLeft})

	assert.Empty(t, driver.InputCalls(), "no input may reach the desktop")
	assert.Equal(t, schemas.ResultImage, res.Kind)
	assert.Equal(t, 1, logs.FilterMessage("Skipping malformed action").Len())
}

func TestExecuteClickDefaultsToSingle(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	p := schemas.Point{X: 10, Y: 20}
	driver.On("MoveMouse", mock.Anything, p).Return(nil)
	driver.On("Click", mock.Anything, p, schemas.MouseButtonRight, 1).Return(nil)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, _ := newTestDispatcher(t, driver, identityScaler(t))

	d.Execute(context.Background(), schemas.Action{
		Type:       schemas.ActionClick,
		Button:     schemas.MouseButtonRight,
		Coordinate: &p,
	})

	driver.AssertExpectations(t)
}

func TestExecuteTripleClickPassesCount(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	p := schemas.Point{X: 10, Y: 20}
	driver.On("MoveMouse", mock.Anything, p).Return(nil)
	driver.On("Click", mock.Anything, p, schemas.MouseButtonLeft, 3).Return(nil)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, _ := newTestDispatcher(t, driver, identityScaler(t))

	d.Execute(context.Background(), schemas.Action{
		Type:       schemas.ActionClick,
		Button:     schemas.MouseButtonLeft,
		ClickCount: 3,
		Coordinate: &p,
	})

	driver.AssertExpectations(t)
}

func TestExecuteDriverFailureFallsBackToScreenshot(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	p := schemas.Point{X: 10, Y: 20}
	driver.On("MoveMouse", mock.Anything, p).Return(errors.New("input device gone"))
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, logs := newTestDispatcher(t, driver, identityScaler(t))

	res := d.Execute(context.Background(), schemas.Action{
		Type:       schemas.ActionClick,
		Button:     schemas.MouseButtonLeft,
		Coordinate: &p,
	})

	assert.Equal(t, schemas.ResultImage, res.Kind, "a failed action still answers with a screenshot")
	assert.Equal(t, 1, logs.FilterMessage("Desktop action failed, continuing with a screenshot").Len())
}

// -- Keyboard --

func TestExecuteType(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Write", mock.Anything, "hello world").Return(nil)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, _ := newTestDispatcher(t, driver, identityScaler(t))

	d.Execute(context.Background(), schemas.Action{Type: schemas.ActionTypeText, Text: "hello world"})

	driver.AssertExpectations(t)
}

func TestExecuteKeyPressAndHold(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Press", mock.Anything, []string{"ctrl", "l"}).Return(nil)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)

	var slept time.Duration
	core, _ := observer.New(zap.WarnLevel)
	d := NewDispatcher(driver, identityScaler(t), zap.New(core))
	d.sleep = func(_ context.Context, dur time.Duration) { slept += dur }

	d.Execute(context.Background(), schemas.Action{
		Type:   schemas.ActionKeyPress,
		Keys:   []string{"ctrl", "l"},
		HoldMs: 2000,
	})

	driver.AssertExpectations(t)
	assert.Equal(t, 2*time.Second, slept, "hold duration must be slept after the press")
}

func TestExecuteKeyPressWithoutKeysIsNoOp(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, logs := newTestDispatcher(t, driver, identityScaler(t))

	d.Execute(context.Background(), schemas.Action{Type: schemas.ActionKeyPress})

	assert.Empty(t, driver.InputCalls())
	assert.Equal(t, 1, logs.FilterMessage("Skipping malformed action").Len())
}

// -- Scrolling --

func TestExecuteScrollMovesFirstWhenTargeted(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("MoveMouse", mock.Anything, schemas.Point{X: 100, Y: 200}).Return(nil)
	driver.On("Scroll", mock.Anything, schemas.ScrollDown, 5).Return(nil)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, _ := newTestDispatcher(t, driver, identityScaler(t))

	d.Execute(context.Background(), schemas.Action{
		Type:       schemas.ActionScroll,
		Direction:  schemas.ScrollDown,
		Amount:     5,
		Coordinate: &schemas.Point{X: 100, Y: 200},
	})

	driver.AssertExpectations(t)
	assert.Equal(t, []string{"MoveMouse", "Scroll"}, driver.InputCalls())
}

func TestExecuteScrollDegradesHorizontalToVertical(t *testing.T) {
	testCases := []struct {
		requested schemas.ScrollDirection
		delivered schemas.ScrollDirection
	}{
		{schemas.ScrollLeft, schemas.ScrollUp},
		{schemas.ScrollRight, schemas.ScrollDown},
	}

	for _, tc := range testCases {
		t.Run(string(tc.requested), func(t *testing.T) {
			driver := new(mocks.MockDesktopDriver)
			driver.On("Scroll", mock.Anything, tc.delivered, 3).Return(nil)
			driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
			d, logs := newTestDispatcher(t, driver, identityScaler(t))

			d.Execute(context.Background(), schemas.Action{
				Type:      schemas.ActionScroll,
				Direction: tc.requested,
				Amount:    3,
			})

			driver.AssertExpectations(t)
			assert.Equal(t, 1, logs.FilterMessage("Horizontal scrolling is not supported, degrading to vertical").Len())
		})
	}
}

// -- Drag and mouse buttons --

func TestExecuteDragTranslatesBothEndpoints(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Drag", mock.Anything, schemas.Point{X: 300, Y: 300}, schemas.Point{X: 1920, Y: 1080}).Return(nil)
	driver.On("Screenshot", mock.Anything).Return(tinyPNG(t), nil)
	d, _ := newTestDispatcher(t, driver, thirdScaler(t))

	d.Execute(context.Background(), schemas.Action{
		Type:  schemas.ActionDrag,
		Start: &schemas.Point{X: 100, Y: 100},
		End:   &schemas.Point{X: 640, Y: 360},
	})

	driver.AssertExpectations(t)
}

func TestExecuteDragWithoutEndpointsIsNoOp(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, logs := newTestDispatcher(t, driver, identityScaler(t))

	d.Execute(context.Background(), schemas.Action{
		Type: schemas.ActionDrag,
		End:  &schemas.Point{X: 640, Y: 360},
	})

	assert.Empty(t, driver.InputCalls())
	assert.Equal(t, 1, logs.FilterMessage("Skipping malformed action").Len())
}

func TestExecuteMouseButtonEdges(t *testing.T) {
	t.Run("down moves then presses", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("MoveMouse", mock.Anything, schemas.Point{X: 50, Y: 60}).Return(nil)
		driver.On("MousePress", mock.Anything, schemas.MouseButtonLeft).Return(nil)
		driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
		d, _ := newTestDispatcher(t, driver, identityScaler(t))

		d.Execute(context.Background(), schemas.Action{
			Type:       schemas.ActionMouseButton,
			Button:     schemas.MouseButtonLeft,
			Edge:       schemas.ButtonEdgeDown,
			Coordinate: &schemas.Point{X: 50, Y: 60},
		})

		driver.AssertExpectations(t)
	})

	t.Run("up releases at the current position", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("MouseRelease", mock.Anything, schemas.MouseButtonLeft).Return(nil)
		driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
		d, _ := newTestDispatcher(t, driver, identityScaler(t))

		d.Execute(context.Background(), schemas.Action{
			Type:   schemas.ActionMouseButton,
			Button: schemas.MouseButtonLeft,
			Edge:   schemas.ButtonEdgeUp,
		})

		driver.AssertExpectations(t)
		assert.Equal(t, []string{"MouseRelease"}, driver.InputCalls())
	})
}

// -- Wait --

func TestExecuteWaitSleepsThenScreenshots(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)

	var slept time.Duration
	core, _ := observer.New(zap.WarnLevel)
	d := NewDispatcher(driver, identityScaler(t), zap.New(core))
	d.sleep = func(_ context.Context, dur time.Duration) { slept = dur }

	res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionWait, DurationMs: 1500})

	assert.Equal(t, 1500*time.Millisecond, slept)
	assert.Equal(t, schemas.ResultImage, res.Kind)
}

// -- Cursor position --

func TestExecuteCursorPosition(t *testing.T) {
	t.Run("reports in model space", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("CursorPosition", mock.Anything).Return(&schemas.Point{X: 1920, Y: 1080}, nil)
		d, _ := newTestDispatcher(t, driver, thirdScaler(t))

		res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionCursorPosition})

		require.Equal(t, schemas.ResultMetadata, res.Kind)
		assert.Equal(t, 640, res.Metadata["x"])
		assert.Equal(t, 360, res.Metadata["y"])
	})

	t.Run("unknown position becomes text", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("CursorPosition", mock.Anything).Return(nil, nil)
		d, _ := newTestDispatcher(t, driver, identityScaler(t))

		res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionCursorPosition})

		require.Equal(t, schemas.ResultText, res.Kind)
		assert.Equal(t, "No cursor position information available.", res.Text)
	})

	t.Run("failure is logged not fatal", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("CursorPosition", mock.Anything).Return(nil, errors.New("not supported"))
		d, logs := newTestDispatcher(t, driver, identityScaler(t))

		res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionCursorPosition})

		require.Equal(t, schemas.ResultText, res.Kind)
		assert.Equal(t, 1, logs.FilterMessage("Failed to read cursor position").Len())
	})
}

// -- Shell --

func TestExecuteShell(t *testing.T) {
	t.Run("stdout wins", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("RunShellCommand", mock.Anything, "ls /tmp").
			Return(&schemas.ShellOutput{Stdout: "a.txt\n", Stderr: "noise"}, nil)
		d, _ := newTestDispatcher(t, driver, identityScaler(t))

		res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionShellCommand, Command: "ls /tmp"})

		require.Equal(t, schemas.ResultText, res.Kind)
		assert.Equal(t, "a.txt\n", res.Text)
	})

	t.Run("stderr when stdout empty", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("RunShellCommand", mock.Anything, "broken").
			Return(&schemas.ShellOutput{Stderr: "command not found", ExitCode: 127}, nil)
		d, _ := newTestDispatcher(t, driver, identityScaler(t))

		res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionShellCommand, Command: "broken"})

		assert.Equal(t, "command not found", res.Text)
	})

	t.Run("generic success when silent", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("RunShellCommand", mock.Anything, "touch /tmp/x").
			Return(&schemas.ShellOutput{}, nil)
		d, _ := newTestDispatcher(t, driver, identityScaler(t))

		res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionShellCommand, Command: "touch /tmp/x"})

		assert.Equal(t, "Command executed successfully.", res.Text)
	})

	t.Run("driver error falls back to screenshot", func(t *testing.T) {
		driver := new(mocks.MockDesktopDriver)
		driver.On("RunShellCommand", mock.Anything, "reboot").
			Return(nil, errors.New("shell access not supported"))
		driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
		d, logs := newTestDispatcher(t, driver, identityScaler(t))

		res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionShellCommand, Command: "reboot"})

		assert.Equal(t, schemas.ResultImage, res.Kind)
		assert.Equal(t, 1, logs.FilterMessage("Shell command failed, continuing with a screenshot").Len())
	})
}

// -- Unknown --

func TestExecuteUnknownActionReturnsScreenshot(t *testing.T) {
	driver := new(mocks.MockDesktopDriver)
	driver.On("Screenshot", mock.Anything).Return([]byte("raw-png"), nil)
	d, logs := newTestDispatcher(t, driver, identityScaler(t))

	res := d.Execute(context.Background(), schemas.Action{Type: schemas.ActionUnknown, RawName: "frobnicate_widget"})

	require.NotNil(t, res)
	assert.Equal(t, schemas.ResultImage, res.Kind)
	assert.Empty(t, driver.InputCalls())
	assert.Equal(t, 1, logs.FilterMessage("Ignoring unknown action").Len())
}
