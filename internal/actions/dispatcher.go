// File: internal/actions/dispatcher.go
package actions

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/scaling"
)

const screenshotMediaType = "image/png"

// noScreenshotText is fed back to the model when even the fallback
// screenshot could not be captured, so the conversation can continue.
const noScreenshotText = "The action was executed but no screenshot could be captured."

// Dispatcher maps parsed actions onto desktop driver primitives. Every
// coordinate is translated from model space to desktop space on the way in,
// and every screenshot is translated back on the way out. Driver failures
// are best effort: they are logged and answered with a fallback screenshot
// so the model can observe the desktop and adapt instead of the run dying.
type Dispatcher struct {
	driver schemas.DesktopDriver
	scaler *scaling.Scaler
	logger *zap.Logger

	// sleep is swappable so tests do not wait out real durations.
	sleep func(ctx context.Context, d time.Duration)
}

// NewDispatcher wires a dispatcher for one run.
func NewDispatcher(driver schemas.DesktopDriver, scaler *scaling.Scaler, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		driver: driver,
		scaler: scaler,
		logger: logger.Named("Dispatcher"),
		sleep:  sleepCtx,
	}
}

// Execute runs one action and always produces a result. Actions without an
// intrinsic payload answer with a fresh screenshot, because every action
// implicitly changes what the desktop looks like.
func (d *Dispatcher) Execute(ctx context.Context, action schemas.Action) *schemas.ActionResult {
	switch action.Type {
	case schemas.ActionScreenshot:
		return d.screenshotResult(ctx, action.Type)

	case schemas.ActionClick:
		if action.Coordinate == nil {
			return d.skip(ctx, action, "click requested without a coordinate")
		}
		return d.finish(ctx, action.Type, "click", d.click(ctx, action))

	case schemas.ActionTypeText:
		return d.finish(ctx, action.Type, "write", d.driver.Write(ctx, action.Text))

	case schemas.ActionKeyPress:
		if len(action.Keys) == 0 {
			return d.skip(ctx, action, "key press requested without keys")
		}
		return d.finish(ctx, action.Type, "press", d.keyPress(ctx, action))

	case schemas.ActionScroll:
		return d.finish(ctx, action.Type, "scroll", d.scroll(ctx, action))

	case schemas.ActionMove:
		if action.Coordinate == nil {
			return d.skip(ctx, action, "move requested without a coordinate")
		}
		return d.finish(ctx, action.Type, "move_mouse",
			d.driver.MoveMouse(ctx, d.scaler.ToOriginal(*action.Coordinate)))

	case schemas.ActionDrag:
		if action.Start == nil || action.End == nil {
			return d.skip(ctx, action, "drag requested without both endpoints")
		}
		return d.finish(ctx, action.Type, "drag",
			d.driver.Drag(ctx, d.scaler.ToOriginal(*action.Start), d.scaler.ToOriginal(*action.End)))

	case schemas.ActionMouseButton:
		return d.finish(ctx, action.Type, "mouse_button", d.mouseButton(ctx, action))

	case schemas.ActionWait:
		d.sleep(ctx, time.Duration(action.DurationMs)*time.Millisecond)
		return d.screenshotResult(ctx, action.Type)

	case schemas.ActionCursorPosition:
		return d.cursorPosition(ctx)

	case schemas.ActionShellCommand:
		return d.shell(ctx, action)

	default:
		d.logger.Warn("Ignoring unknown action",
			zap.String("type", string(action.Type)),
			zap.String("raw_name", action.RawName))
		return d.screenshotResult(ctx, schemas.ActionUnknown)
	}
}

func (d *Dispatcher) click(ctx context.Context, action schemas.Action) error {
	target := d.scaler.ToOriginal(*action.Coordinate)
	if err := d.driver.MoveMouse(ctx, target); err != nil {
		return err
	}
	count := action.ClickCount
	if count <= 0 {
		count = 1
	}
	return d.driver.Click(ctx, target, action.Button, count)
}

func (d *Dispatcher) keyPress(ctx context.Context, action schemas.Action) error {
	if err := d.driver.Press(ctx, action.Keys); err != nil {
		return err
	}
	if action.HoldMs > 0 {
		d.sleep(ctx, time.Duration(action.HoldMs)*time.Millisecond)
	}
	return nil
}

func (d *Dispatcher) scroll(ctx context.Context, action schemas.Action) error {
	if action.Coordinate != nil {
		if err := d.driver.MoveMouse(ctx, d.scaler.ToOriginal(*action.Coordinate)); err != nil {
			return err
		}
	}

	direction := action.Direction
	switch direction {
	case schemas.ScrollLeft:
		d.logger.Warn("Horizontal scrolling is not supported, degrading to vertical",
			zap.String("direction", string(direction)))
		direction = schemas.ScrollUp
	case schemas.ScrollRight:
		d.logger.Warn("Horizontal scrolling is not supported, degrading to vertical",
			zap.String("direction", string(direction)))
		direction = schemas.ScrollDown
	case "":
		direction = schemas.ScrollDown
	}
	return d.driver.Scroll(ctx, direction, action.Amount)
}

func (d *Dispatcher) mouseButton(ctx context.Context, action schemas.Action) error {
	if action.Coordinate != nil {
		if err := d.driver.MoveMouse(ctx, d.scaler.ToOriginal(*action.Coordinate)); err != nil {
			return err
		}
	}
	button := action.Button
	if button == "" {
		button = schemas.MouseButtonLeft
	}
	if action.Edge == schemas.ButtonEdgeUp {
		return d.driver.MouseRelease(ctx, button)
	}
	return d.driver.MousePress(ctx, button)
}

func (d *Dispatcher) cursorPosition(ctx context.Context) *schemas.ActionResult {
	pos, err := d.driver.CursorPosition(ctx)
	if err != nil {
		d.logger.Warn("Failed to read cursor position",
			zap.Error(schemas.NewDriverError("cursor_position", err)))
	}
	if pos == nil {
		return &schemas.ActionResult{
			ActionType: schemas.ActionCursorPosition,
			Kind:       schemas.ResultText,
			Text:       "No cursor position information available.",
		}
	}
	model := d.scaler.ToModel(*pos)
	return &schemas.ActionResult{
		ActionType: schemas.ActionCursorPosition,
		Kind:       schemas.ResultMetadata,
		Metadata:   map[string]any{"x": model.X, "y": model.Y},
	}
}

func (d *Dispatcher) shell(ctx context.Context, action schemas.Action) *schemas.ActionResult {
	out, err := d.driver.RunShellCommand(ctx, action.Command)
	if err != nil {
		d.logger.Warn("Shell command failed, continuing with a screenshot",
			zap.String("command", action.Command),
			zap.Error(schemas.NewDriverError("shell", err)))
		return d.screenshotResult(ctx, action.Type)
	}

	text := out.Stdout
	if text == "" {
		text = out.Stderr
	}
	if text == "" {
		text = "Command executed successfully."
	}
	return &schemas.ActionResult{
		ActionType: schemas.ActionShellCommand,
		Kind:       schemas.ResultText,
		Text:       text,
	}
}

// finish converts the outcome of a driver call into the standard
// screenshot-backed result, logging the failure when there was one.
func (d *Dispatcher) finish(ctx context.Context, at schemas.ActionType, op string, err error) *schemas.ActionResult {
	if err != nil {
		d.logger.Warn("Desktop action failed, continuing with a screenshot",
			zap.String("action", string(at)),
			zap.Error(schemas.NewDriverError(op, err)))
	}
	return d.screenshotResult(ctx, at)
}

// skip is the warn-and-no-op path for actions missing required fields. No
// input reaches the desktop; the model still gets a screenshot.
func (d *Dispatcher) skip(ctx context.Context, action schemas.Action, reason string) *schemas.ActionResult {
	d.logger.Warn("Skipping malformed action",
		zap.String("action", string(action.Type)),
		zap.String("reason", reason))
	return d.screenshotResult(ctx, action.Type)
}

func (d *Dispatcher) screenshotResult(ctx context.Context, at schemas.ActionType) *schemas.ActionResult {
	raw, err := d.driver.Screenshot(ctx)
	if err != nil {
		d.logger.Error("Failed to capture screenshot",
			zap.Error(schemas.NewDriverError("screenshot", err)))
		return &schemas.ActionResult{ActionType: at, Kind: schemas.ResultText, Text: noScreenshotText}
	}

	scaled, err := d.scaler.ScaleImage(raw)
	if err != nil {
		d.logger.Error("Failed to scale screenshot to model resolution", zap.Error(err))
		return &schemas.ActionResult{ActionType: at, Kind: schemas.ResultText, Text: noScreenshotText}
	}
	return &schemas.ActionResult{
		ActionType:     at,
		Kind:           schemas.ResultImage,
		Image:          scaled,
		ImageMediaType: screenshotMediaType,
	}
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
