// internal/desktop/chromium/driver.go

// Package chromium drives a local Chromium page as the virtual desktop. All
// input lands as raw CDP events so the page cannot tell the agent from a
// human at the keyboard.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/operator-cli/api/schemas"
	"github.com/xkilldash9x/operator-cli/internal/config"
)

const (
	startupTimeout = 30 * time.Second

	// clickHold and interClickDelay shape press/release pairs. The gap
	// between repeats stays far under the 500ms multi-click threshold so
	// double and triple clicks register as such.
	clickHold       = 15 * time.Millisecond
	interClickDelay = 60 * time.Millisecond

	// dragSteps intermediate moves keep drop targets from missing the
	// gesture; instant jumps are ignored by many drag implementations.
	dragSteps     = 12
	dragStepDelay = 10 * time.Millisecond

	// wheelTick is the pixel delta one scroll unit produces.
	wheelTick = 100.0
)

// Driver implements schemas.DesktopDriver on a Chromium page over CDP.
type Driver struct {
	cfg    config.ChromiumConfig
	exec   Executor
	logger *zap.Logger

	// browserCtx carries the CDP session; allocCancel owns the process.
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	mu      sync.Mutex
	cursor  *schemas.Point
	buttons int64
}

// New launches the browser process and navigates to the initial page. The
// context governs the browser's lifetime, not just construction.
func New(ctx context.Context, cfg config.ChromiumConfig, logger *zap.Logger) (*Driver, error) {
	d := &Driver{
		cfg:    cfg,
		exec:   NewCDPExecutor(),
		logger: logger.Named("desktop.chromium"),
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	d.allocCancel = allocCancel

	d.browserCtx, d.browserCancel = chromedp.NewContext(allocCtx)

	// The browser binds its lifetime to the context of the first Run, so
	// the startup probe must not carry a deadline. Navigation afterwards
	// may.
	if err := chromedp.Run(d.browserCtx); err != nil {
		allocCancel()
		return nil, schemas.NewDriverError("start", fmt.Errorf("browser failed to start: %w", err))
	}

	navCtx, cancel := context.WithTimeout(d.browserCtx, startupTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(d.startURL())); err != nil {
		allocCancel()
		return nil, schemas.NewDriverError("start", fmt.Errorf("failed to open initial page: %w", err))
	}

	d.logger.Info("Chromium desktop started",
		zap.String("initial_url", d.startURL()),
		zap.Bool("headless", cfg.Headless),
		zap.Int("window_width", cfg.WindowWidth),
		zap.Int("window_height", cfg.WindowHeight),
	)
	return d, nil
}

func (d *Driver) startURL() string {
	if d.cfg.InitialURL != "" {
		return d.cfg.InitialURL
	}
	return "about:blank"
}

// buildAllocatorOptions assembles the browser launch flags.
func buildAllocatorOptions(cfg config.ChromiumConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	}
	if cfg.Headless {
		opts = append(opts,
			chromedp.Headless,
			chromedp.Flag("disable-gpu", true),
		)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	// Custom arguments from the config, --name or --name=value form.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// opContext derives a context that carries the CDP session but is canceled
// when either the session or the caller's context ends.
func (d *Driver) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(d.browserCtx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// -- Capture --

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	shot, err := d.exec.CaptureScreenshot(opCtx)
	if err != nil {
		return nil, schemas.NewDriverError("screenshot", err)
	}
	return shot, nil
}

func (d *Driver) Resolution(ctx context.Context) (schemas.Size, error) {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	viewport, err := d.exec.LayoutMetrics(opCtx)
	if err != nil {
		return schemas.Size{}, schemas.NewDriverError("resolution", err)
	}
	if viewport == nil {
		return schemas.Size{}, schemas.NewDriverError("resolution", errors.New("layout metrics returned no viewport"))
	}
	return schemas.Size{
		Width:  int(math.Round(viewport.ClientWidth)),
		Height: int(math.Round(viewport.ClientHeight)),
	}, nil
}

// -- Mouse --

func (d *Driver) MoveMouse(ctx context.Context, p schemas.Point) error {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	if err := d.dispatchMove(opCtx, p); err != nil {
		return schemas.NewDriverError("move_mouse", err)
	}
	return nil
}

func (d *Driver) Click(ctx context.Context, p schemas.Point, button schemas.MouseButton, count int) error {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	if count <= 0 {
		count = 1
	}
	if err := d.dispatchMove(opCtx, p); err != nil {
		return schemas.NewDriverError("click", err)
	}

	// Repeated pairs with a rising click count is how the browser's own
	// input pipeline reports double and triple clicks.
	for i := 1; i <= count; i++ {
		if err := d.dispatchClickPair(opCtx, p, button, int64(i)); err != nil {
			return schemas.NewDriverError("click", err)
		}
		if i < count {
			if err := d.exec.Sleep(opCtx, interClickDelay); err != nil {
				return schemas.NewDriverError("click", err)
			}
		}
	}
	return nil
}

func (d *Driver) MousePress(ctx context.Context, button schemas.MouseButton) error {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	pos := d.cursorOrOrigin()
	bit := buttonBit(button)

	ev := input.DispatchMouseEvent(input.MousePressed, float64(pos.X), float64(pos.Y)).
		WithButton(input.MouseButton(button)).
		WithClickCount(1).
		WithButtons(d.heldButtons() | bit)
	if err := d.exec.DispatchMouseEvent(opCtx, ev); err != nil {
		return schemas.NewDriverError("mouse_press", err)
	}

	d.mu.Lock()
	d.buttons |= bit
	d.mu.Unlock()
	return nil
}

func (d *Driver) MouseRelease(ctx context.Context, button schemas.MouseButton) error {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	pos := d.cursorOrOrigin()
	bit := buttonBit(button)

	d.mu.Lock()
	d.buttons &^= bit
	remaining := d.buttons
	d.mu.Unlock()

	ev := input.DispatchMouseEvent(input.MouseReleased, float64(pos.X), float64(pos.Y)).
		WithButton(input.MouseButton(button)).
		WithClickCount(1).
		WithButtons(remaining)
	if err := d.exec.DispatchMouseEvent(opCtx, ev); err != nil {
		return schemas.NewDriverError("mouse_release", err)
	}
	return nil
}

func (d *Driver) Drag(ctx context.Context, start, end schemas.Point) error {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	if err := d.dispatchMove(opCtx, start); err != nil {
		return schemas.NewDriverError("drag", err)
	}

	press := input.DispatchMouseEvent(input.MousePressed, float64(start.X), float64(start.Y)).
		WithButton(input.MouseButton(schemas.MouseButtonLeft)).
		WithClickCount(1).
		WithButtons(buttonBit(schemas.MouseButtonLeft))
	if err := d.exec.DispatchMouseEvent(opCtx, press); err != nil {
		return schemas.NewDriverError("drag", err)
	}
	d.mu.Lock()
	d.buttons |= buttonBit(schemas.MouseButtonLeft)
	d.mu.Unlock()

	for i := 1; i <= dragSteps; i++ {
		t := float64(i) / float64(dragSteps)
		step := schemas.Point{
			X: start.X + int(math.Round(float64(end.X-start.X)*t)),
			Y: start.Y + int(math.Round(float64(end.Y-start.Y)*t)),
		}
		if err := d.dispatchMove(opCtx, step); err != nil {
			return schemas.NewDriverError("drag", err)
		}
		if err := d.exec.Sleep(opCtx, dragStepDelay); err != nil {
			return schemas.NewDriverError("drag", err)
		}
	}

	d.mu.Lock()
	d.buttons &^= buttonBit(schemas.MouseButtonLeft)
	d.mu.Unlock()

	release := input.DispatchMouseEvent(input.MouseReleased, float64(end.X), float64(end.Y)).
		WithButton(input.MouseButton(schemas.MouseButtonLeft)).
		WithClickCount(1).
		WithButtons(0)
	if err := d.exec.DispatchMouseEvent(opCtx, release); err != nil {
		return schemas.NewDriverError("drag", err)
	}
	return nil
}

func (d *Driver) Scroll(ctx context.Context, direction schemas.ScrollDirection, amount int) error {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	if amount <= 0 {
		amount = 1
	}

	var deltaY float64
	switch direction {
	case schemas.ScrollUp:
		deltaY = -wheelTick * float64(amount)
	case schemas.ScrollDown:
		deltaY = wheelTick * float64(amount)
	default:
		return schemas.NewDriverError("scroll", fmt.Errorf("unsupported scroll direction %q", direction))
	}

	pos := d.cursorOrOrigin()
	ev := input.DispatchMouseEvent(input.MouseWheel, float64(pos.X), float64(pos.Y)).
		WithDeltaX(0).
		WithDeltaY(deltaY).
		WithButtons(d.heldButtons())
	if err := d.exec.DispatchMouseEvent(opCtx, ev); err != nil {
		return schemas.NewDriverError("scroll", err)
	}
	return nil
}

// -- Keyboard --

func (d *Driver) Write(ctx context.Context, text string) error {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	if err := d.exec.ExecuteAction(opCtx, chromedp.KeyEvent(text)); err != nil {
		return schemas.NewDriverError("write", err)
	}
	return nil
}

func (d *Driver) Press(ctx context.Context, keys []string) error {
	opCtx, cancel := d.opContext(ctx)
	defer cancel()

	// Resolve the whole chord before touching the page so an unknown key
	// never leaves half a chord pressed.
	idents := make([]keyIdent, 0, len(keys))
	for _, name := range keys {
		ident, ok := lookupKey(name)
		if !ok {
			return schemas.NewDriverError("press", fmt.Errorf("unknown key %q", name))
		}
		idents = append(idents, ident)
	}

	mods := input.ModifierNone
	for _, ident := range idents {
		mods |= ident.Modifier
		if err := d.exec.DispatchKeyEvent(opCtx, keyDownEvent(ident, mods)); err != nil {
			return schemas.NewDriverError("press", err)
		}
	}
	for i := len(idents) - 1; i >= 0; i-- {
		mods &^= idents[i].Modifier
		if err := d.exec.DispatchKeyEvent(opCtx, keyUpEvent(idents[i], mods)); err != nil {
			return schemas.NewDriverError("press", err)
		}
	}
	return nil
}

func keyDownEvent(ident keyIdent, mods input.Modifier) *input.DispatchKeyEventParams {
	ev := input.DispatchKeyEvent(input.KeyDown).
		WithKey(ident.Key).
		WithCode(ident.Code).
		WithWindowsVirtualKeyCode(ident.KeyCode).
		WithNativeVirtualKeyCode(ident.KeyCode).
		WithModifiers(mods)
	// Text is suppressed under non-shift modifiers; shortcuts print nothing.
	if ident.Text != "" && mods&^input.ModifierShift == 0 {
		ev = ev.WithText(ident.Text).WithUnmodifiedText(ident.Text)
	}
	return ev
}

func keyUpEvent(ident keyIdent, mods input.Modifier) *input.DispatchKeyEventParams {
	return input.DispatchKeyEvent(input.KeyUp).
		WithKey(ident.Key).
		WithCode(ident.Code).
		WithWindowsVirtualKeyCode(ident.KeyCode).
		WithNativeVirtualKeyCode(ident.KeyCode).
		WithModifiers(mods)
}

// -- State --

func (d *Driver) CursorPosition(ctx context.Context) (*schemas.Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor == nil {
		return nil, nil
	}
	p := *d.cursor
	return &p, nil
}

func (d *Driver) RunShellCommand(ctx context.Context, command string) (*schemas.ShellOutput, error) {
	return nil, schemas.NewDriverError("shell", errors.New("the chromium backend has no shell"))
}

// StreamURL returns empty; a local browser window is its own live view.
func (d *Driver) StreamURL() string { return "" }

func (d *Driver) Close(ctx context.Context) error {
	finished := make(chan error, 1)
	go func() {
		// Cancel waits for the browser process to exit gracefully.
		finished <- chromedp.Cancel(d.browserCtx)
	}()

	var err error
	select {
	case err = <-finished:
	case <-ctx.Done():
		err = ctx.Err()
	}

	d.browserCancel()
	d.allocCancel()
	d.logger.Info("Chromium desktop closed")
	return err
}

// -- Internals --

func (d *Driver) dispatchMove(ctx context.Context, p schemas.Point) error {
	ev := input.DispatchMouseEvent(input.MouseMoved, float64(p.X), float64(p.Y)).
		WithButtons(d.heldButtons())
	if err := d.exec.DispatchMouseEvent(ctx, ev); err != nil {
		return err
	}
	d.mu.Lock()
	d.cursor = &schemas.Point{X: p.X, Y: p.Y}
	d.mu.Unlock()
	return nil
}

func (d *Driver) dispatchClickPair(ctx context.Context, p schemas.Point, button schemas.MouseButton, clickCount int64) error {
	bit := buttonBit(button)

	press := input.DispatchMouseEvent(input.MousePressed, float64(p.X), float64(p.Y)).
		WithButton(input.MouseButton(button)).
		WithClickCount(clickCount).
		WithButtons(bit)
	if err := d.exec.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}
	if err := d.exec.Sleep(ctx, clickHold); err != nil {
		return err
	}

	release := input.DispatchMouseEvent(input.MouseReleased, float64(p.X), float64(p.Y)).
		WithButton(input.MouseButton(button)).
		WithClickCount(clickCount).
		WithButtons(0)
	return d.exec.DispatchMouseEvent(ctx, release)
}

func (d *Driver) cursorOrOrigin() schemas.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursor == nil {
		return schemas.Point{}
	}
	return *d.cursor
}

func (d *Driver) heldButtons() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buttons
}

// buttonBit maps a button to its bit in the CDP buttons bitfield
// (1: left, 2: right, 4: middle).
func buttonBit(button schemas.MouseButton) int64 {
	switch button {
	case schemas.MouseButtonLeft:
		return 1
	case schemas.MouseButtonRight:
		return 2
	case schemas.MouseButtonMiddle:
		return 4
	default:
		return 0
	}
}
